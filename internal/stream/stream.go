// Package stream owns one transport connection: it runs the receive
// loop, exposes send, and reports termination exactly once.
//
// Received bytes are delivered as text fragments with no framing.  A
// fragment boundary carries no meaning; callers that need lines or
// messages must reassemble them.
package stream

import (
	"sync"

	ncerr "hublink/internal/errors"
	"hublink/internal/metrics"
	"hublink/internal/transport"
	"hublink/util"
)

// Handlers are the callbacks a [Connection] reports to.  Receive and
// State run on the transport's serial queue.  Stop runs on whichever
// goroutine triggered the teardown.
type Handlers struct {
	Receive func(text string)
	State   func(ev transport.StateEvent)
	Stop    func(err error)
}

// Options tunes a [Connection].
type Options struct {
	// ChunkSize caps a single receive (default 64 KiB).
	ChunkSize  int
	Logger     *util.Logger
	Metrics    *metrics.Collector
	LogTraffic bool
}

// Connection drives a single [transport.Conn] from Start to teardown.
// It is not reusable.
type Connection struct {
	conn    *transport.Conn
	receive func(string)
	state   func(transport.StateEvent)
	chunk   int
	log     *util.Logger
	metrics *metrics.Collector
	trace   bool

	dec decoder // transport queue only

	mu      sync.Mutex
	started bool
	stopped bool
	ready   bool
	onStop  func(error)
}

// New wraps conn.  Nothing happens until [Connection.Start].
func New(conn *transport.Conn, h Handlers, opts Options) *Connection {
	chunk := opts.ChunkSize
	if chunk <= 0 {
		chunk = util.DefaultChunkSize
	}
	return &Connection{
		conn:    conn,
		receive: h.Receive,
		state:   h.State,
		onStop:  h.Stop,
		chunk:   chunk,
		log:     util.OrDiscard(opts.Logger),
		metrics: opts.Metrics,
		trace:   opts.LogTraffic,
	}
}

// Address returns the transport target.
func (c *Connection) Address() string { return c.conn.Address() }

// Start attaches the state observer, issues the first receive and
// opens the transport.  Only the first call has any effect.
func (c *Connection) Start() {
	c.mu.Lock()
	if c.started || c.stopped {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.mu.Unlock()

	c.conn.OnStateChange(c.handleState)
	c.next()
	c.conn.Start()
}

// Send queues data on the transport.  A write failure tears the
// connection down the same way a read failure does; it is not retried.
func (c *Connection) Send(data []byte) error {
	c.mu.Lock()
	active := c.started && !c.stopped
	c.mu.Unlock()
	if !active {
		return ncerr.ErrNotConnected
	}

	n := len(data)
	err := c.conn.Send(data, func(err error) {
		if err != nil {
			c.log.Warn("send to %s failed: %v", c.conn.Address(), err)
			c.stop(err)
			return
		}
		c.metrics.BytesSent(int64(n))
	})
	if err != nil {
		return err
	}
	if c.trace {
		c.log.Debug("send %s: %q", c.conn.Address(), data)
	}
	return nil
}

// Stop tears the connection down and reports a clean stop.  It is
// idempotent and may be called from inside the Stop handler.
func (c *Connection) Stop() { c.stop(nil) }

// Stopped reports whether teardown has begun.
func (c *Connection) Stopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

// stop is the single teardown path: detach, cancel, then hand err to
// the Stop handler once.
func (c *Connection) stop(err error) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	fn := c.onStop
	c.onStop = nil
	wasReady := c.ready
	c.mu.Unlock()

	c.conn.OnStateChange(nil)
	c.conn.Cancel()

	if wasReady {
		c.metrics.ConnectionClosed()
	}
	if err != nil {
		c.metrics.RecordError(err.Error())
		c.log.Verbose("connection to %s ended: %v", c.conn.Address(), err)
	} else {
		c.log.Verbose("connection to %s closed", c.conn.Address())
	}
	if fn != nil {
		fn(err)
	}
}

func (c *Connection) next() {
	if err := c.conn.Receive(1, c.chunk, c.handleReceive); err != nil {
		c.stop(err)
	}
}

func (c *Connection) handleReceive(data []byte, complete bool, err error) {
	if len(data) > 0 {
		c.metrics.BytesReceived(int64(len(data)))
		if c.trace {
			c.log.Debug("recv %s: %q", c.conn.Address(), data)
		}
		c.deliver(c.dec.decode(data))
	}

	switch {
	case complete:
		c.deliver(c.dec.flush())
		c.stop(nil)
	case err != nil:
		c.stop(err)
	default:
		c.next()
	}
}

func (c *Connection) deliver(text string) {
	if text != "" && c.receive != nil {
		c.receive(text)
	}
}

func (c *Connection) handleState(ev transport.StateEvent) {
	c.log.Debug("connection to %s: %s", c.conn.Address(), ev)

	if ev.State == transport.StateReady {
		c.mu.Lock()
		first := !c.ready
		c.ready = true
		c.mu.Unlock()
		if first {
			c.metrics.ConnectionOpened()
		}
	}

	if c.state != nil {
		c.state(ev)
	}
	if ev.State == transport.StateFailed {
		c.stop(ev.Err)
	}
}
