package core

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"hublink/config"
	"hublink/internal/discovery"
	"hublink/internal/transport"
	"hublink/util"
)

// DialFunc establishes a network connection.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// ProbeResult records whether a discovered hub accepted a connection.
type ProbeResult struct {
	Endpoint discovery.Endpoint
	Open     bool
	Err      error
}

// BrowseMode watches for hubs for a fixed time and prints what it
// found, optionally dialling each one to check that it answers.
type BrowseMode struct {
	Discovery    discovery.ClientOptions
	Duration     time.Duration
	Probe        bool
	ProbeTimeout time.Duration
	Dialer       transport.Dialer
	Logger       *util.Logger

	// Stdout defaults to os.Stdout when nil.
	Stdout io.Writer
}

func (m *BrowseMode) stdout() io.Writer {
	if m.Stdout != nil {
		return m.Stdout
	}
	return os.Stdout
}

// Run browses for Duration (or until ctx is cancelled) and prints the
// resulting list.  A fatal discovery error is returned as is.
func (m *BrowseMode) Run(ctx context.Context) error {
	log := util.OrDiscard(m.Logger)
	if m.Dialer != nil {
		defer m.Dialer.Close()
	}

	duration := m.Duration
	if duration <= 0 {
		duration = config.DefaultBrowseDuration
	}

	reg := discovery.NewRegistry()
	client := discovery.NewClient(reg, m.Discovery)
	if err := client.Start(ctx); err != nil {
		return err
	}

	log.Verbose("browsing for %s for %s", m.Discovery.ServiceType, duration)
	timer := time.NewTimer(duration)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	case <-client.Done():
	}
	// Stopping clears the registry, so read it first.
	snap := reg.Snapshot()
	client.Stop()
	if err := client.Err(); err != nil {
		return fmt.Errorf("browse: %w", err)
	}

	eps := snap[1:]
	if len(eps) == 0 {
		log.Info("no hubs found for %s", m.Discovery.ServiceType)
		return nil
	}

	var results []ProbeResult
	if m.Probe && m.Dialer != nil {
		timeout := m.ProbeTimeout
		if timeout <= 0 {
			timeout = config.DefaultProbeTimeout
		}
		results = ProbeEndpoints(ctx, eps, timeout, m.Dialer.Dial)
	}
	return m.print(eps, results)
}

func (m *BrowseMode) print(eps []discovery.Endpoint, results []ProbeResult) error {
	tw := tabwriter.NewWriter(m.stdout(), 0, 4, 2, ' ', 0)
	for i, ep := range eps {
		target := ep.Target
		if target == "" {
			target = "(unresolved)"
		}
		line := ep.Name + "\t" + target
		if results != nil {
			line += "\t" + probeLabel(results[i])
		}
		if len(ep.Text) > 0 {
			line += "\t" + strings.Join(ep.Text, " ")
		}
		fmt.Fprintln(tw, line)
	}
	return tw.Flush()
}

func probeLabel(r ProbeResult) string {
	switch {
	case r.Open:
		return "open"
	case r.Err == nil:
		return "-"
	default:
		return "closed"
	}
}

// ProbeEndpoints dials every resolved endpoint concurrently and
// returns results in the same order as eps.  Unresolved endpoints are
// skipped and reported with neither Open nor Err set.
func ProbeEndpoints(ctx context.Context, eps []discovery.Endpoint, timeout time.Duration, dial DialFunc) []ProbeResult {
	results := make([]ProbeResult, len(eps))
	sem := make(chan struct{}, config.DefaultMaxConcurrentProbes)
	var wg sync.WaitGroup

	for i, ep := range eps {
		results[i].Endpoint = ep
		if !ep.Resolved() {
			continue
		}
		wg.Add(1)
		go func(idx int, ep discovery.Endpoint) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			probeCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			conn, err := dial(probeCtx, "tcp", ep.Target)
			if err != nil {
				results[idx].Err = err
				return
			}
			conn.Close()
			results[idx].Open = true
		}(i, ep)
	}

	wg.Wait()
	return results
}
