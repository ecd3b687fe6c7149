// Package cmd wires up the CLI flags and dispatches to the core modes.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	flag "github.com/spf13/pflag"

	"hublink/config"
	"hublink/internal/core"
	"hublink/internal/metrics"
	"hublink/util"
)

// version is overridable at link time:
//
//	go build -ldflags "-X hublink/cmd.version=2.0.0"
var version = "1.0.0" //nolint:gochecknoglobals

// Execute parses args and runs the selected hublink mode.
func Execute(ctx context.Context, args []string) error {
	cfg := config.Defaults()
	config.LoadFromEnv(cfg)
	fs := flag.NewFlagSet("hublink", flag.ContinueOnError)

	// ── destination ──────────────────────────────────────────────
	fs.StringVarP(&cfg.Service, "service", "s", cfg.Service, "Connect to the hub advertised under this name")
	fs.StringVar(&cfg.ServiceType, "service-type", cfg.ServiceType, "DNS-SD service type to browse")
	fs.StringVar(&cfg.Domain, "domain", cfg.Domain, "DNS-SD browse domain")
	fs.IntVarP(&cfg.Port, "port", "p", cfg.Port, "Hub port (direct mode, or the port to announce)")
	fs.IntVar(&cfg.LocalPort, "local-port", cfg.LocalPort, "Bind this local source port")
	fs.BoolVarP(&cfg.NoDNS, "no-dns", "n", cfg.NoDNS, "Numeric-only, no DNS resolution")

	timeoutSec := int(cfg.Timeout / time.Second)
	fs.IntVarP(&timeoutSec, "timeout", "w", timeoutSec, "Connect timeout in seconds")

	// ── supervision ──────────────────────────────────────────────
	fs.IntVar(&cfg.RetryMax, "retry-max", cfg.RetryMax, "Extra lookups of a service name before giving up")
	fs.DurationVar(&cfg.RetryDelay, "retry-delay", cfg.RetryDelay, "Delay between service lookups")
	fs.IntVar(&cfg.ChunkSize, "chunk-size", cfg.ChunkSize, "Largest single receive in bytes")

	// ── modes ────────────────────────────────────────────────────
	fs.BoolVarP(&cfg.Browse, "browse", "b", false, "List advertised hubs and exit")
	fs.DurationVar(&cfg.BrowseDuration, "browse-time", cfg.BrowseDuration, "How long -b listens")
	fs.BoolVar(&cfg.Probe, "probe", false, "With -b, dial each hub and report whether it answers")
	fs.StringVar(&cfg.Announce, "announce", "", "Advertise a hub under this name (with -p)")
	fs.StringArrayVar(&cfg.AnnounceText, "txt", nil, "TXT record key=value for --announce (repeatable)")

	// ── SSH gateway ──────────────────────────────────────────────
	fs.StringVarP(&cfg.TunnelSpec, "tunnel", "T", cfg.TunnelSpec, "Reach the hub through SSH gateway [user@]host[:port]")
	fs.StringVar(&cfg.SSHKeyPath, "ssh-key", cfg.SSHKeyPath, "SSH private key file")
	fs.BoolVar(&cfg.SSHPassword, "ssh-password", cfg.SSHPassword, "Prompt for SSH password")
	fs.BoolVar(&cfg.UseSSHAgent, "ssh-agent", cfg.UseSSHAgent, "Use SSH agent")
	fs.BoolVar(&cfg.StrictHostKey, "strict-hostkey", cfg.StrictHostKey, "Verify SSH host keys")
	fs.StringVar(&cfg.KnownHostsPath, "known-hosts", cfg.KnownHostsPath, "Custom known_hosts path")

	// ── output ───────────────────────────────────────────────────
	fs.CountVarP(&cfg.Verbose, "verbose", "v", "Increase verbosity (repeatable)")
	fs.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "Write logs to a size-rotated file")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "Serve Prometheus metrics on this address")
	fs.BoolVar(&cfg.LogTraffic, "trace", cfg.LogTraffic, "Log every chunk sent and received (with -vvv)")

	var showVersion, showHelp, dryRun bool
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	fs.BoolVarP(&showHelp, "help", "h", false, "Show this help")
	fs.BoolVar(&dryRun, "dry-run", false, "Validate the configuration and exit")

	fs.Usage = func() { printUsage(fs) }

	// ── parse ────────────────────────────────────────────────────
	if err := fs.Parse(args); err != nil {
		return err
	}

	if showHelp || len(args) == 0 {
		printUsage(fs)
		return nil
	}
	if showVersion {
		fmt.Printf("hublink %s\n", version)
		return nil
	}

	if fs.Changed("timeout") || timeoutSec > 0 {
		cfg.Timeout = time.Duration(timeoutSec) * time.Second
	}

	// ── positional arguments ─────────────────────────────────────
	if err := parsePositional(cfg, fs.Args()); err != nil {
		return err
	}

	// ── gateway spec ─────────────────────────────────────────────
	if cfg.TunnelSpec != "" {
		user, host, port, err := config.ParseTunnelSpec(cfg.TunnelSpec)
		if err != nil {
			return fmt.Errorf("tunnel: %w", err)
		}
		cfg.TunnelEnabled = true
		cfg.TunnelUser = user
		cfg.TunnelHost = host
		cfg.TunnelPort = port
	}

	// ── validate ─────────────────────────────────────────────────
	if err := cfg.Validate(); err != nil {
		return err
	}
	if dryRun {
		printSummary(os.Stdout, cfg)
		return nil
	}

	// ── build components ─────────────────────────────────────────
	logger := util.NewLogger(cfg.Verbose)
	if cfg.LogFile != "" {
		out := util.RotatingOutput(cfg.LogFile)
		defer out.Close()
		logger.SetOutput(out)
		logger.SetTimestamps(true)
	}

	m := metrics.New()
	if cfg.MetricsAddr != "" {
		stop, err := serveMetrics(cfg.MetricsAddr, m, logger)
		if err != nil {
			return err
		}
		defer stop()
	}

	mode, err := core.Build(cfg, logger, m)
	if err != nil {
		return err
	}
	err = mode.Run(ctx)
	logger.Verbose("session summary: %s", m.JSON())
	return err
}

// ── helpers ──────────────────────────────────────────────────────────

// parsePositional accepts "<host> <port>" or "<host>" (port from -p).
// Browse and announce take no positionals.
func parsePositional(cfg *config.Config, remaining []string) error {
	if cfg.Browse || cfg.Announce != "" {
		if len(remaining) > 0 {
			return fmt.Errorf("unexpected arguments %q", remaining)
		}
		return nil
	}

	switch len(remaining) {
	case 0:
	case 1:
		cfg.Host = remaining[0]
	case 2:
		cfg.Host = remaining[0]
		port, err := config.ParsePort(remaining[1])
		if err != nil {
			return fmt.Errorf("port: %w", err)
		}
		cfg.Port = port
	default:
		return fmt.Errorf("too many arguments (use --help for usage)")
	}
	if cfg.Host != "" && cfg.ServiceMode() {
		return fmt.Errorf("give either -s <service> or <host> <port>, not both")
	}
	return nil
}

// serveMetrics exposes /metrics until the returned stop func runs.
func serveMetrics(addr string, m *metrics.Collector, logger *util.Logger) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(m))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server: %v", err)
		}
	}()
	logger.Verbose("serving metrics on http://%s/metrics", ln.Addr())

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(ctx) //nolint:errcheck
	}, nil
}

func printSummary(w io.Writer, cfg *config.Config) {
	switch {
	case cfg.Browse:
		fmt.Fprintf(w, "mode: browse %s in %s for %s\n", cfg.ServiceType, cfg.Domain, cfg.BrowseDuration)
	case cfg.Announce != "":
		fmt.Fprintf(w, "mode: announce %q as %s on port %d\n", cfg.Announce, cfg.ServiceType, cfg.Port)
	case cfg.ServiceMode():
		fmt.Fprintf(w, "mode: connect to service %q (%d retries, %s apart)\n",
			cfg.Service, cfg.RetryMax, cfg.RetryDelay)
	default:
		fmt.Fprintf(w, "mode: connect to %s\n", util.FormatAddr(cfg.Host, cfg.Port))
	}
	if cfg.TunnelEnabled {
		fmt.Fprintf(w, "gateway: %s@%s:%d\n", cfg.TunnelUser, cfg.TunnelHost, cfg.TunnelPort)
	}
}

func printUsage(fs *flag.FlagSet) {
	fmt.Fprintf(os.Stderr, `hublink - OpenLCB hub client v%s

Connects to a hub found by mDNS/DNS-SD, or to a fixed address, and
relays it to stdin/stdout.

Usage:
  hublink [options] <host> <port>             Connect directly
  hublink -s <service> [options]              Connect to a discovered hub
  hublink -b [--probe]                        List advertised hubs
  hublink --announce <name> -p <port>         Advertise a hub
  hublink -T user@gateway <host> <port>       Connect through SSH

Options:
`, version)
	fs.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
Examples:
  hublink 192.168.1.20 12021                  Direct connect
  hublink -s "JMRI Hub" -v                    Connect by name, show status
  hublink -b --browse-time 5s                 Browse for five seconds
  echo ":X19490365N;" | hublink -s Hub-1      Send a frame
`)
}
