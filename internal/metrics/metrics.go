// Package metrics provides lightweight, lock-free counters and gauges
// for tracking runtime statistics of a hublink session.
//
// All methods are safe for concurrent use.  A nil *Collector is a
// valid no-op receiver, so callers never need to nil-check.
package metrics

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Collector tracks runtime metrics for a hublink session.
// A nil Collector is safe to use; all methods become no-ops.
type Collector struct {
	connectionsActive atomic.Int64
	connectionsTotal  atomic.Int64
	bytesIn           atomic.Int64
	bytesOut          atomic.Int64
	resolveRetries    atomic.Int64
	resolveFailures   atomic.Int64
	discoveryRestarts atomic.Int64
	endpoints         atomic.Int64
	errorsTotal       atomic.Int64

	mu           sync.RWMutex
	startTime    time.Time
	lastReady    time.Time
	lastError    time.Time
	lastErrorMsg string
}

// New creates a metrics collector with the start time set to now.
func New() *Collector {
	return &Collector{startTime: time.Now()}
}

// ── Connection metrics ───────────────────────────────────────────────

// ConnectionOpened increments both the active and total counters and
// records the time the connection became ready.
func (c *Collector) ConnectionOpened() {
	if c == nil {
		return
	}
	c.connectionsActive.Add(1)
	c.connectionsTotal.Add(1)
	c.mu.Lock()
	c.lastReady = time.Now()
	c.mu.Unlock()
}

// ConnectionClosed decrements the active connection counter.
func (c *Collector) ConnectionClosed() {
	if c == nil {
		return
	}
	c.connectionsActive.Add(-1)
}

// ActiveConnections returns the current number of open connections.
func (c *Collector) ActiveConnections() int64 {
	if c == nil {
		return 0
	}
	return c.connectionsActive.Load()
}

// TotalConnections returns the lifetime connection count.
func (c *Collector) TotalConnections() int64 {
	if c == nil {
		return 0
	}
	return c.connectionsTotal.Load()
}

// ── I/O metrics ──────────────────────────────────────────────────────

// BytesReceived records n bytes read from the hub.
func (c *Collector) BytesReceived(n int64) {
	if c == nil {
		return
	}
	c.bytesIn.Add(n)
}

// BytesSent records n bytes written to the hub.
func (c *Collector) BytesSent(n int64) {
	if c == nil {
		return
	}
	c.bytesOut.Add(n)
}

// TotalBytesIn returns total bytes received.
func (c *Collector) TotalBytesIn() int64 {
	if c == nil {
		return 0
	}
	return c.bytesIn.Load()
}

// TotalBytesOut returns total bytes sent.
func (c *Collector) TotalBytesOut() int64 {
	if c == nil {
		return 0
	}
	return c.bytesOut.Load()
}

// ── Resolution metrics ───────────────────────────────────────────────

// ResolveRetry records one scheduled retry of a service lookup.
func (c *Collector) ResolveRetry() {
	if c == nil {
		return
	}
	c.resolveRetries.Add(1)
}

// ResolveRetries returns the number of scheduled lookup retries.
func (c *Collector) ResolveRetries() int64 {
	if c == nil {
		return 0
	}
	return c.resolveRetries.Load()
}

// ResolveFailed records a lookup that exhausted its retry budget.
func (c *Collector) ResolveFailed() {
	if c == nil {
		return
	}
	c.resolveFailures.Add(1)
}

// ResolveFailures returns the number of exhausted lookups.
func (c *Collector) ResolveFailures() int64 {
	if c == nil {
		return 0
	}
	return c.resolveFailures.Load()
}

// ── Discovery metrics ────────────────────────────────────────────────

// DiscoveryRestart records a transparent restart of the browser.
func (c *Collector) DiscoveryRestart() {
	if c == nil {
		return
	}
	c.discoveryRestarts.Add(1)
}

// DiscoveryRestarts returns the total discovery restart count.
func (c *Collector) DiscoveryRestarts() int64 {
	if c == nil {
		return 0
	}
	return c.discoveryRestarts.Load()
}

// SetEndpoints records the number of discovered endpoints in the
// latest snapshot (sentinel excluded).
func (c *Collector) SetEndpoints(n int) {
	if c == nil {
		return
	}
	c.endpoints.Store(int64(n))
}

// Endpoints returns the size of the latest discovery snapshot.
func (c *Collector) Endpoints() int64 {
	if c == nil {
		return 0
	}
	return c.endpoints.Load()
}

// ── Error metrics ────────────────────────────────────────────────────

// RecordError increments the error counter and stores the message.
func (c *Collector) RecordError(msg string) {
	if c == nil {
		return
	}
	c.errorsTotal.Add(1)
	c.mu.Lock()
	c.lastError = time.Now()
	c.lastErrorMsg = msg
	c.mu.Unlock()
}

// ErrorCount returns the total number of errors recorded.
func (c *Collector) ErrorCount() int64 {
	if c == nil {
		return 0
	}
	return c.errorsTotal.Load()
}

// ── Snapshot ─────────────────────────────────────────────────────────

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	Uptime            string `json:"uptime"`
	ConnectionsActive int64  `json:"connections_active"`
	ConnectionsTotal  int64  `json:"connections_total"`
	BytesIn           int64  `json:"bytes_in"`
	BytesOut          int64  `json:"bytes_out"`
	ResolveRetries    int64  `json:"resolve_retries"`
	ResolveFailures   int64  `json:"resolve_failures"`
	DiscoveryRestarts int64  `json:"discovery_restarts"`
	Endpoints         int64  `json:"endpoints"`
	ErrorsTotal       int64  `json:"errors_total"`
	LastReady         string `json:"last_ready,omitempty"`
	LastError         string `json:"last_error,omitempty"`
	LastErrorMessage  string `json:"last_error_message,omitempty"`
}

// Snapshot returns a copy of all current metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Snapshot{
		Uptime:            time.Since(c.startTime).Truncate(time.Second).String(),
		ConnectionsActive: c.connectionsActive.Load(),
		ConnectionsTotal:  c.connectionsTotal.Load(),
		BytesIn:           c.bytesIn.Load(),
		BytesOut:          c.bytesOut.Load(),
		ResolveRetries:    c.resolveRetries.Load(),
		ResolveFailures:   c.resolveFailures.Load(),
		DiscoveryRestarts: c.discoveryRestarts.Load(),
		Endpoints:         c.endpoints.Load(),
		ErrorsTotal:       c.errorsTotal.Load(),
	}
	if !c.lastReady.IsZero() {
		s.LastReady = c.lastReady.Format(time.RFC3339)
	}
	if !c.lastError.IsZero() {
		s.LastError = c.lastError.Format(time.RFC3339)
		s.LastErrorMessage = c.lastErrorMsg
	}
	return s
}

// JSON returns the snapshot as an indented JSON string.
func (c *Collector) JSON() string {
	s := c.Snapshot()
	data, _ := json.MarshalIndent(s, "", "  ")
	return string(data)
}
