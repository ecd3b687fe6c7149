// Package supervisor keeps one logical stream connection to a hub.
//
// A [Supervisor] turns a [Target] into a running stream: direct
// targets are dialled at once, service targets are looked up in the
// discovery registry with a bounded number of delayed retries.  It
// republishes transport transitions as a [Status], fires the startup
// callback on the first Ready only, and delivers every caller
// notification on a single serial queue.
package supervisor

import (
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"hublink/internal/discovery"
	ncerr "hublink/internal/errors"
	"hublink/internal/metrics"
	"hublink/internal/retry"
	"hublink/internal/stream"
	"hublink/internal/transport"
	"hublink/util"
)

// ── Defaults ─────────────────────────────────────────────────────────

const (
	// DefaultRetryMax bounds service lookups after the first miss.
	DefaultRetryMax = 8
	// DefaultRetryDelay separates two service lookups.
	DefaultRetryDelay = 500 * time.Millisecond
	// NonUTF8Payload is sent in place of text that is not valid UTF-8.
	NonUTF8Payload = "<non UTF data>"
)

// Resolver maps a service name to a discovered endpoint.
// [discovery.Registry] implements it.
type Resolver interface {
	Lookup(name string) (discovery.Endpoint, bool)
}

// Options configures a [Supervisor].  Zero values pick the defaults.
type Options struct {
	Resolver   Resolver
	Dialer     transport.Dialer // default: plain TCP
	Network    string           // default "tcp"
	RetryMax   int              // default DefaultRetryMax; negative disables retries
	RetryDelay time.Duration    // default DefaultRetryDelay
	ChunkSize  int              // default 64 KiB
	Backoff    *retry.Backoff   // transport re-dial pacing while Waiting
	Logger     *util.Logger
	Metrics    *metrics.Collector
	LogTraffic bool

	// OnStatus observes every status change on the notification queue.
	OnStatus func(Status)
}

// Supervisor owns at most one [stream.Connection] at a time.  All
// methods are safe for concurrent use.  Caller callbacks never run
// while internal locks are held, and never run concurrently with each
// other.
type Supervisor struct {
	opts   Options
	log    *util.Logger
	notify *util.Serial

	mu        sync.Mutex
	loaded    bool
	target    Target
	onReceive func(string)
	onStartup func()
	started   bool
	conn      *stream.Connection
	counter   *retry.Counter
	gen       uint64
	timer     *time.Timer
	status    Status
	ready     bool
	lastErr   error
	closed    bool
}

// New creates an unloaded supervisor.
func New(opts Options) *Supervisor {
	if opts.Dialer == nil {
		opts.Dialer = &transport.TCPDialer{}
	}
	if opts.Network == "" {
		opts.Network = "tcp"
	}
	if opts.RetryMax == 0 {
		opts.RetryMax = DefaultRetryMax
	} else if opts.RetryMax < 0 {
		opts.RetryMax = 0
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	return &Supervisor{
		opts:    opts,
		log:     util.OrDiscard(opts.Logger),
		notify:  util.NewSerial(),
		counter: retry.NewCounter(opts.RetryMax),
		status:  initialStatus,
	}
}

// ── Configuration ────────────────────────────────────────────────────

// Load sets the target and callbacks.  It may succeed only once per
// supervisor; later calls return [ncerr.ErrAlreadyLoaded] and leave the
// first configuration in effect.  onReceive gets every received text
// fragment; onStartup runs once, on the first Ready.
func (s *Supervisor) Load(t Target, onReceive func(string), onStartup func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loaded {
		s.log.Warn("supervisor: already loaded with %s; ignoring %s", s.target, t)
		return ncerr.ErrAlreadyLoaded
	}
	if err := t.Validate(); err != nil {
		s.log.Warn("supervisor: rejected target %s: %v", t, err)
		return err
	}

	s.loaded = true
	s.target = t
	s.onReceive = onReceive
	s.onStartup = onStartup
	s.counter.Reset()
	s.log.Verbose("supervisor: loaded %s", t)
	return nil
}

// Retarget replaces the target used by the next connection attempt.
// A live connection is not touched; Stop and Start to apply it.  A
// pending service lookup picks the new target up on its next attempt.
func (s *Supervisor) Retarget(t Target) error {
	if err := t.Validate(); err != nil {
		s.log.Warn("supervisor: rejected target %s: %v", t, err)
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		s.log.Warn("supervisor: retarget before load")
		return ncerr.ErrNotLoaded
	}
	s.target = t
	s.counter.Reset()
	s.log.Verbose("supervisor: retargeted to %s", t)
	return nil
}

// ── Lifecycle ────────────────────────────────────────────────────────

// Start connects to the loaded target.  In service mode a miss in the
// resolver schedules a delayed retry and returns nil; once the budget
// is spent Start reports a wrapped [ncerr.ErrNoEndpoint] and the
// supervisor is left stopped.  After Close it returns
// [ncerr.ErrClosed].
func (s *Supervisor) Start() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.log.Warn("supervisor: start after close")
		return ncerr.ErrClosed
	}
	if !s.loaded {
		s.mu.Unlock()
		s.log.Warn("supervisor: start before load")
		return ncerr.ErrNotLoaded
	}
	if s.started {
		s.mu.Unlock()
		s.log.Warn("supervisor: start while already started")
		return ncerr.ErrAlreadyStarted
	}
	s.started = true
	sc, err := s.connectLocked()
	s.mu.Unlock()

	if sc != nil {
		sc.Start()
	}
	return err
}

// Stop cancels any pending lookup and tears the connection down.  The
// teardown publishes "Connection Dropped".
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	if !s.loaded {
		s.mu.Unlock()
		s.log.Warn("supervisor: stop before load")
		return ncerr.ErrNotLoaded
	}
	if !s.started {
		s.mu.Unlock()
		s.log.Warn("supervisor: stop while not started")
		return ncerr.ErrNotStarted
	}
	s.started = false
	s.cancelRetryLocked()
	sc := s.conn
	if sc == nil {
		s.ready = false
		s.publishLocked(Status{Kind: StatusDropped})
	}
	s.mu.Unlock()

	if sc != nil {
		sc.Stop()
	}
	return nil
}

// Close stops the supervisor if needed and shuts the notification
// queue down after it drains.  It must not be called from a callback.
func (s *Supervisor) Close() {
	s.mu.Lock()
	s.closed = true
	started := s.started
	s.mu.Unlock()

	if started {
		s.Stop() //nolint:errcheck
	}
	s.notify.Close()
	<-s.notify.Done()
}

// ── Data path ────────────────────────────────────────────────────────

// Send writes data to the hub.  It returns [ncerr.ErrNotStarted] when
// not started and [ncerr.ErrNotConnected] while a lookup is pending.
func (s *Supervisor) Send(data []byte) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		s.log.Warn("supervisor: send while not started")
		return ncerr.ErrNotStarted
	}
	sc := s.conn
	s.mu.Unlock()

	if sc == nil {
		return ncerr.ErrNotConnected
	}
	return sc.Send(data)
}

// SendString sends text as UTF-8.  Text that is not valid UTF-8 is
// replaced by [NonUTF8Payload].
func (s *Supervisor) SendString(text string) error {
	if !utf8.ValidString(text) {
		s.log.Verbose("supervisor: outgoing text is not UTF-8, sending placeholder")
		text = NonUTF8Payload
	}
	return s.Send([]byte(text))
}

// ── Accessors ────────────────────────────────────────────────────────

// Status returns the current status.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Started reports whether the supervisor is between Start and a stop.
func (s *Supervisor) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// Ready reports whether the current connection is established.
func (s *Supervisor) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// LastError returns the error that ended the most recent connection
// or lookup, or nil after a clean stop.
func (s *Supervisor) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Target returns the configured target.
func (s *Supervisor) Target() Target {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.target
}

// ── internals ────────────────────────────────────────────────────────

// connectLocked resolves the target and builds the stream.  The
// caller starts the returned stream after unlocking.
func (s *Supervisor) connectLocked() (*stream.Connection, error) {
	s.cancelRetryLocked()
	s.lastErr = nil

	t := s.target
	var addr, name string
	if t.ServiceMode() {
		var ep discovery.Endpoint
		ok := false
		if s.opts.Resolver != nil {
			ep, ok = s.opts.Resolver.Lookup(t.Service)
		}
		if !ok {
			return nil, s.scheduleRetryLocked(t.Service)
		}
		addr, name = ep.Target, t.Service
		s.log.Verbose("supervisor: %q resolved to %s", t.Service, addr)
	} else {
		addr, name = util.FormatAddr(t.Host, t.Port), t.Host
	}

	conn := transport.NewConn(s.opts.Dialer, s.opts.Network, addr, transport.ConnOptions{
		Backoff: s.opts.Backoff,
		Logger:  s.opts.Logger,
	})
	var sc *stream.Connection
	sc = stream.New(conn, stream.Handlers{
		Receive: func(text string) { s.handleReceive(sc, text) },
		State:   func(ev transport.StateEvent) { s.handleState(sc, name, ev) },
		Stop:    func(err error) { s.handleStop(sc, err) },
	}, stream.Options{
		ChunkSize:  s.opts.ChunkSize,
		Logger:     s.opts.Logger,
		Metrics:    s.opts.Metrics,
		LogTraffic: s.opts.LogTraffic,
	})
	s.conn = sc
	s.ready = false
	s.log.Info("connecting to %s", addr)
	return sc, nil
}

// scheduleRetryLocked arms one delayed lookup, or gives up when the
// budget is spent.
func (s *Supervisor) scheduleRetryLocked(name string) error {
	if !s.counter.Next() {
		err := fmt.Errorf("%w for %q", ncerr.ErrNoEndpoint, name)
		s.started = false
		s.lastErr = err
		s.publishLocked(Status{Kind: StatusFailed, Detail: err.Error()})
		s.opts.Metrics.ResolveFailed()
		s.log.Warn("supervisor: giving up on %q after %d retries", name, s.counter.Max())
		return err
	}

	n, max := s.counter.Count(), s.counter.Max()
	s.publishLocked(Status{
		Kind:   StatusWaiting,
		Detail: fmt.Sprintf("searching for %q (retry %d of %d)", name, n, max),
	})
	s.opts.Metrics.ResolveRetry()

	gen := s.gen
	s.timer = time.AfterFunc(s.opts.RetryDelay, func() { s.retryFired(gen) })
	return nil
}

// retryFired re-runs the stop+start sequence unless the retry was
// invalidated in the meantime.
func (s *Supervisor) retryFired(gen uint64) {
	s.mu.Lock()
	if gen != s.gen || !s.started || s.closed {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	old := s.conn
	s.conn = nil
	sc, _ := s.connectLocked()
	s.mu.Unlock()

	if old != nil {
		old.Stop()
	}
	if sc != nil {
		sc.Start()
	}
}

// cancelRetryLocked invalidates any armed retry.
func (s *Supervisor) cancelRetryLocked() {
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Supervisor) handleReceive(sc *stream.Connection, text string) {
	s.mu.Lock()
	if sc != s.conn {
		s.mu.Unlock()
		return
	}
	fn := s.onReceive
	s.mu.Unlock()

	if fn != nil {
		s.notify.Post(func() { fn(text) })
	}
}

func (s *Supervisor) handleState(sc *stream.Connection, name string, ev transport.StateEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sc != s.conn {
		return
	}

	var startup func()
	switch ev.State {
	case transport.StateReady:
		s.ready = true
		startup = s.onStartup
		s.onStartup = nil
	case transport.StateFailed:
		s.lastErr = ev.Err
	}
	s.publishLocked(statusFor(ev, name))

	if startup != nil {
		s.notify.Post(startup)
	}
}

// handleStop is the stream's termination callback.  A nil err is a
// clean stop or end of stream.
func (s *Supervisor) handleStop(sc *stream.Connection, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sc != s.conn {
		return
	}
	s.conn = nil
	s.ready = false
	s.started = false

	if err == nil {
		s.publishLocked(Status{Kind: StatusDropped})
		return
	}
	s.lastErr = err
	if s.status.Kind != StatusFailed {
		s.publishLocked(Status{Kind: StatusFailed, Detail: err.Error()})
	}
}

func (s *Supervisor) publishLocked(st Status) {
	s.status = st
	s.log.Verbose("status: %s", st)
	if fn := s.opts.OnStatus; fn != nil {
		s.notify.Post(func() { fn(st) })
	}
}
