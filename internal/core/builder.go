package core

import (
	"hublink/config"
	"hublink/internal/discovery"
	"hublink/internal/metrics"
	"hublink/internal/retry"
	"hublink/internal/supervisor"
	"hublink/internal/transport"
	"hublink/util"
)

// Build constructs the Mode selected by cfg.  cfg must already be
// validated.  m may be nil.
func Build(cfg *config.Config, logger *util.Logger, m *metrics.Collector) (Mode, error) {
	switch {
	case cfg.Browse:
		return buildBrowse(cfg, logger, m), nil
	case cfg.Announce != "":
		return buildAnnounce(cfg, logger), nil
	default:
		return buildConnect(cfg, logger, m), nil
	}
}

// ── mode builders ────────────────────────────────────────────────────

func buildConnect(cfg *config.Config, logger *util.Logger, m *metrics.Collector) Mode {
	dialer := buildDialer(cfg, logger)

	retryMax := cfg.RetryMax
	if retryMax == 0 {
		retryMax = -1
	}

	mode := &ConnectMode{
		Target: supervisor.Target{Service: cfg.Service, Host: cfg.Host, Port: cfg.Port},
		Supervisor: supervisor.Options{
			Dialer:     dialer,
			RetryMax:   retryMax,
			RetryDelay: cfg.RetryDelay,
			ChunkSize:  cfg.ChunkSize,
			Backoff:    dialBackoff(),
			Logger:     logger,
			Metrics:    m,
			LogTraffic: cfg.LogTraffic,
		},
		Logger: logger,
	}
	if cfg.ServiceMode() {
		opts := discoveryOptions(cfg, logger, m)
		mode.Discovery = &opts
	}
	return mode
}

func buildBrowse(cfg *config.Config, logger *util.Logger, m *metrics.Collector) Mode {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = config.DefaultProbeTimeout
	}
	return &BrowseMode{
		Discovery:    discoveryOptions(cfg, logger, m),
		Duration:     cfg.BrowseDuration,
		Probe:        cfg.Probe,
		ProbeTimeout: timeout,
		Dialer:       buildDialer(cfg, logger),
		Logger:       logger,
	}
}

func buildAnnounce(cfg *config.Config, logger *util.Logger) Mode {
	return &AnnounceMode{
		Options: discovery.AnnounceOptions{
			Instance:    cfg.Announce,
			ServiceType: cfg.ServiceType,
			Domain:      cfg.Domain,
			Port:        cfg.Port,
			Text:        cfg.AnnounceText,
			Logger:      logger,
		},
		Logger: logger,
	}
}

// ── shared helpers ───────────────────────────────────────────────────

// buildDialer creates the right transport.Dialer for the given config.
func buildDialer(cfg *config.Config, logger *util.Logger) transport.Dialer {
	if cfg.TunnelEnabled {
		return transport.NewSSHDialer(&transport.SSHConfig{
			User:          cfg.TunnelUser,
			Host:          cfg.TunnelHost,
			Port:          cfg.TunnelPort,
			KeyPath:       cfg.SSHKeyPath,
			PromptPass:    cfg.SSHPassword,
			UseAgent:      cfg.UseSSHAgent,
			StrictHostKey: cfg.StrictHostKey,
			KnownHosts:    cfg.KnownHostsPath,
			ConnTimeout:   config.DefaultConnTimeout,
		}, logger)
	}
	return &transport.TCPDialer{
		Timeout:   cfg.Timeout,
		LocalPort: cfg.LocalPort,
		KeepAlive: config.DefaultKeepAlive,
	}
}

func discoveryOptions(cfg *config.Config, logger *util.Logger, m *metrics.Collector) discovery.ClientOptions {
	return discovery.ClientOptions{
		ServiceType: cfg.ServiceType,
		Domain:      cfg.Domain,
		Backoff: &retry.Backoff{
			InitialDelay: config.DefaultDiscoveryBackoff,
			MaxDelay:     config.DefaultMaxDiscoveryBackoff,
			Multiplier:   2.0,
			Jitter:       true,
		},
		Logger:  logger,
		Metrics: m,
	}
}

// dialBackoff paces re-dials after retryable errors.  Each retry
// surfaces as "Waiting For Connection".
func dialBackoff() *retry.Backoff {
	return &retry.Backoff{
		InitialDelay: config.DefaultDialBackoff,
		MaxDelay:     config.DefaultMaxDialBackoff,
		Multiplier:   2.0,
		MaxAttempts:  config.DefaultDialAttempts,
		Jitter:       true,
	}
}
