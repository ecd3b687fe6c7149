// Package config defines the runtime configuration for hublink and
// provides helpers for parsing ports and gateway specifications.
package config

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"hublink/internal/discovery"
	ncerr "hublink/internal/errors"
	"hublink/util"
)

// Config holds every tuneable for a single hublink run.
type Config struct {
	// ── Destination ──────────────────────────────────────────────────
	Service     string // -s: discovered hub name; empty selects direct mode
	Host        string
	Port        int
	ServiceType string
	Domain      string
	NoDNS       bool
	LocalPort   int // source-port binding (0 = ephemeral)
	Timeout     time.Duration

	// ── Supervision ──────────────────────────────────────────────────
	RetryMax   int
	RetryDelay time.Duration
	ChunkSize  int

	// ── Modes ────────────────────────────────────────────────────────
	Browse         bool
	BrowseDuration time.Duration
	Probe          bool // with Browse: dial every resolved hub
	Announce       string   // instance name to advertise
	AnnounceText   []string // TXT records, key=value

	// ── SSH gateway ──────────────────────────────────────────────────
	TunnelSpec     string // raw user@host[:port] from -T
	TunnelEnabled  bool
	TunnelUser     string
	TunnelHost     string
	TunnelPort     int
	SSHKeyPath     string
	SSHPassword    bool // true → prompt interactively
	UseSSHAgent    bool
	StrictHostKey  bool
	KnownHostsPath string

	// ── Output ───────────────────────────────────────────────────────
	Verbose     int
	LogFile     string
	MetricsAddr string
	LogTraffic  bool
}

// Defaults returns a Config with every default applied.
func Defaults() *Config {
	cfg := &Config{RetryMax: DefaultRetryMax}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills zero-valued tuneables.  RetryMax is left alone:
// zero is a legitimate "no retries" setting once flags are parsed.
func (c *Config) ApplyDefaults() {
	if c.ServiceType == "" {
		c.ServiceType = DefaultServiceType
	}
	if c.Domain == "" {
		c.Domain = DefaultDomain
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.ChunkSize == 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.BrowseDuration == 0 {
		c.BrowseDuration = DefaultBrowseDuration
	}
	if c.TunnelPort == 0 {
		c.TunnelPort = DefaultSSHPort
	}
}

// ServiceMode reports whether the destination is a discovered name.
func (c *Config) ServiceMode() bool {
	return c.Service != "" && c.Service != discovery.NoSelection
}

// ── Port helpers ─────────────────────────────────────────────────────

// ParsePort accepts a decimal port in 1-65535.
func ParsePort(spec string) (int, error) {
	port, err := strconv.Atoi(strings.TrimSpace(spec))
	if err != nil {
		return 0, fmt.Errorf("invalid port %q", spec)
	}
	if !util.ValidPort(port) {
		return 0, fmt.Errorf("port %d out of range %d-%d", port, util.MinPort, util.MaxPort)
	}
	return port, nil
}

// ── Gateway-spec parser ──────────────────────────────────────────────

// tunnelRe matches [user@]host[:port].
var tunnelRe = regexp.MustCompile(`^(?:([^@]+)@)?([^:@]+)(?::(\d+))?$`)

// ParseTunnelSpec extracts user, host, and port from a string such as
// "pi@layout-gw.local:2222".  Port defaults to 22.
func ParseTunnelSpec(spec string) (user, host string, port int, err error) {
	m := tunnelRe.FindStringSubmatch(spec)
	if m == nil {
		return "", "", 0, fmt.Errorf("invalid gateway %q, expected [user@]host[:port]", spec)
	}
	user, host, port = m[1], m[2], DefaultSSHPort
	if m[3] != "" {
		port, err = strconv.Atoi(m[3])
		if err != nil || !util.ValidPort(port) {
			return "", "", 0, fmt.Errorf("invalid gateway port %q", m[3])
		}
	}
	return user, host, port, nil
}

// ── Validation ───────────────────────────────────────────────────────

// Validate checks that the configuration is internally consistent.
// Every failure is a *ConfigError carrying a hint where one helps.
func (c *Config) Validate() error {
	if c.Browse && c.Announce != "" {
		return &ncerr.ConfigError{
			Field:   "browse",
			Message: "cannot be combined with --announce",
			Hint:    "run the browser and the announcer as separate processes",
		}
	}
	if (c.Browse || c.Announce != "") && c.TunnelEnabled {
		return &ncerr.ConfigError{
			Field:   "tunnel",
			Value:   c.TunnelSpec,
			Message: "mDNS does not cross the SSH gateway",
			Hint:    "browse or announce from a host on the hub network",
		}
	}
	if c.ServiceType == "" && (c.Browse || c.Announce != "" || c.ServiceMode()) {
		return &ncerr.ConfigError{Field: "service-type", Message: "must not be empty"}
	}

	switch {
	case c.Browse:
		if c.BrowseDuration <= 0 {
			return &ncerr.ConfigError{
				Field:   "browse-time",
				Value:   c.BrowseDuration,
				Message: "must be positive",
			}
		}
	case c.Announce != "":
		if c.Announce == discovery.NoSelection {
			return &ncerr.ConfigError{
				Field:   "announce",
				Value:   c.Announce,
				Message: "reserved name",
				Hint:    "pick the name clients will pass to --service",
			}
		}
		if !util.ValidPort(c.Port) {
			return portErr(c.Port, "pass the hub's listening port with -p")
		}
	case c.ServiceMode():
		if c.Port != 0 && !util.ValidPort(c.Port) {
			return portErr(c.Port, "")
		}
	default:
		if c.Host == "" {
			return &ncerr.ConfigError{
				Field:   "host",
				Message: "required when no service is selected",
				Hint:    "pass <host> <port>, or -s <service> to use discovery",
			}
		}
		if !util.ValidPort(c.Port) {
			return portErr(c.Port, "")
		}
		if _, err := util.ResolveAddr(c.Host, c.Port, c.NoDNS && !c.TunnelEnabled); err != nil {
			return &ncerr.ConfigError{
				Field:   "no-dns",
				Value:   c.Host,
				Message: "host is not an IP address",
				Hint:    "drop -n or pass a numeric address",
			}
		}
	}

	if c.LocalPort != 0 && !util.ValidPort(c.LocalPort) {
		return ncerr.PortError("local-port", c.LocalPort)
	}
	if c.RetryMax < 0 {
		return &ncerr.ConfigError{Field: "retry-max", Value: c.RetryMax, Message: "must not be negative"}
	}
	if c.RetryDelay <= 0 {
		return &ncerr.ConfigError{Field: "retry-delay", Value: c.RetryDelay, Message: "must be positive"}
	}
	if c.ChunkSize <= 0 {
		return &ncerr.ConfigError{
			Field:   "chunk-size",
			Value:   c.ChunkSize,
			Message: "must be positive",
			Hint:    fmt.Sprintf("the default is %d", DefaultChunkSize),
		}
	}
	if c.TunnelEnabled && c.TunnelHost == "" {
		return &ncerr.ConfigError{Field: "tunnel", Message: "gateway host is required"}
	}
	for _, kv := range c.AnnounceText {
		if !strings.Contains(kv, "=") {
			return &ncerr.ConfigError{
				Field:   "txt",
				Value:   kv,
				Message: "expected key=value",
			}
		}
	}
	return nil
}

func portErr(port int, hint string) *ncerr.ConfigError {
	err := ncerr.PortError("port", port)
	if hint != "" {
		err.Hint = hint
	}
	return err
}
