package config

// loader.go - configuration loading from environment variables.
//
// Precedence order (highest wins):
//   1. CLI flags  (handled by cmd/root.go)
//   2. Environment variables  (this file)
//   3. Defaults   (defaults.go)

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// ── Environment variable mapping ─────────────────────────────────────
//
// Every supported env var uses the HUBLINK_ prefix.  Boolean values
// accept "1", "true", "yes" (case-insensitive).  Durations accept Go
// syntax ("750ms") or a bare number of milliseconds.

// LoadFromEnv overlays environment variables onto cfg.  Only non-empty,
// well-formed values override the existing value.  Call it BEFORE flag
// parsing so that flags take precedence.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("HUBLINK_SERVICE"); v != "" {
		cfg.Service = v
	}
	if v := os.Getenv("HUBLINK_HOST"); v != "" {
		cfg.Host = v
	}
	if v, ok := envInt("HUBLINK_PORT"); ok && v > 0 {
		cfg.Port = v
	}
	if v := os.Getenv("HUBLINK_SERVICE_TYPE"); v != "" {
		cfg.ServiceType = v
	}
	if v := os.Getenv("HUBLINK_DOMAIN"); v != "" {
		cfg.Domain = v
	}
	if envBool("HUBLINK_NO_DNS") {
		cfg.NoDNS = true
	}
	if v, ok := envDuration("HUBLINK_TIMEOUT"); ok {
		cfg.Timeout = v
	}

	// Supervision
	if v, ok := envInt("HUBLINK_RETRY_MAX"); ok && v >= 0 {
		cfg.RetryMax = v
	}
	if v, ok := envDuration("HUBLINK_RETRY_DELAY"); ok && v > 0 {
		cfg.RetryDelay = v
	}
	if v, ok := envInt("HUBLINK_CHUNK_SIZE"); ok && v > 0 {
		cfg.ChunkSize = v
	}

	// SSH gateway
	if v := os.Getenv("HUBLINK_TUNNEL"); v != "" {
		cfg.TunnelSpec = v
	}
	if v := os.Getenv("HUBLINK_SSH_KEY"); v != "" {
		cfg.SSHKeyPath = v
	}
	if envBool("HUBLINK_SSH_PASSWORD") {
		cfg.SSHPassword = true
	}
	if envBool("HUBLINK_SSH_AGENT") {
		cfg.UseSSHAgent = true
	}
	if envBool("HUBLINK_STRICT_HOSTKEY") {
		cfg.StrictHostKey = true
	}
	if v := os.Getenv("HUBLINK_KNOWN_HOSTS"); v != "" {
		cfg.KnownHostsPath = v
	}

	// Output
	if v, ok := envInt("HUBLINK_VERBOSE"); ok && v > 0 {
		cfg.Verbose = v
	}
	if v := os.Getenv("HUBLINK_LOG_FILE"); v != "" {
		cfg.LogFile = v
	}
	if v := os.Getenv("HUBLINK_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	if envBool("HUBLINK_TRACE") {
		cfg.LogTraffic = true
	}
}

// ── helpers ──────────────────────────────────────────────────────────

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envBool(key string) bool {
	v := strings.ToLower(os.Getenv(key))
	return v == "1" || v == "true" || v == "yes"
}

func envDuration(key string) (time.Duration, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Millisecond, true
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, false
	}
	return d, true
}
