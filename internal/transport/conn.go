package transport

import (
	"context"
	"io"
	"net"
	"sync"
	"time"

	ncerr "hublink/internal/errors"
	"hublink/internal/retry"
	"hublink/util"
)

// ReceiveFunc is called with each completed receive.  complete is true
// once the peer has closed its side; data may still be non-empty on a
// completing read.
type ReceiveFunc func(data []byte, complete bool, err error)

// SendFunc is called once a send has been written or has failed.
type SendFunc func(err error)

// ConnOptions configures a [Conn].
type ConnOptions struct {
	// Backoff paces re-dials after retryable dial errors.  Nil allows
	// a single attempt.
	Backoff *retry.Backoff
	Logger  *util.Logger
}

type recvReq struct {
	min, max int
	fn       ReceiveFunc
}

type sendReq struct {
	data []byte
	fn   SendFunc
}

// Conn is a single connection attempt to one address.  State changes
// and receive/send completions are delivered one at a time, in order,
// on the connection's own serial queue.  Once [Conn.Cancel] returns no
// further callbacks run, except the Cancelled transition itself.
//
// A Conn is not reusable: after Failed or Cancelled, create a new one.
// Call Cancel to release it even if Start was never called.
type Conn struct {
	dialer  Dialer
	network string
	address string
	backoff *retry.Backoff
	logger  *util.Logger

	events   *util.Serial
	ctx      context.Context
	cancel   context.CancelFunc
	ready    chan struct{}
	recvCh   chan recvReq
	sendWake chan struct{}

	mu        sync.Mutex
	state     State
	observer  func(StateEvent)
	nc        net.Conn
	started   bool
	cancelled bool
	recvBusy  bool
	eof       bool
	readErr   error
	sends     []sendReq
}

// NewConn prepares a connection to address.  Nothing is dialled until
// [Conn.Start].
func NewConn(d Dialer, network, address string, opts ConnOptions) *Conn {
	if network == "" {
		network = "tcp"
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Conn{
		dialer:   d,
		network:  network,
		address:  address,
		backoff:  opts.Backoff,
		logger:   util.OrDiscard(opts.Logger),
		events:   util.NewSerial(),
		ctx:      ctx,
		cancel:   cancel,
		ready:    make(chan struct{}),
		recvCh:   make(chan recvReq, 1),
		sendWake: make(chan struct{}, 1),
	}
}

// Address returns the dial target.
func (c *Conn) Address() string { return c.address }

// State returns the most recent state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OnStateChange installs the state observer.  Passing nil detaches it;
// transitions already queued are then dropped.
func (c *Conn) OnStateChange(fn func(StateEvent)) {
	c.mu.Lock()
	c.observer = fn
	c.mu.Unlock()
}

// Done is closed after Cancel once every queued callback has finished.
func (c *Conn) Done() <-chan struct{} { return c.events.Done() }

// Start posts Setup and begins dialling.  Calling Start more than
// once, or after Cancel, does nothing.
func (c *Conn) Start() {
	c.mu.Lock()
	if c.started || c.cancelled {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.postStateLocked(StateSetup, nil)
	c.mu.Unlock()

	go c.dial()
	go c.readLoop()
	go c.writeLoop()
}

// Receive requests between min and max bytes.  fn runs on the serial
// queue once at least min bytes arrived, the peer closed, or the read
// failed.  Only one receive may be outstanding.
func (c *Conn) Receive(min, max int, fn ReceiveFunc) error {
	if min < 1 {
		min = 1
	}
	if max < min {
		max = min
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancelled {
		return ncerr.ErrNotConnected
	}
	if c.recvBusy {
		return ncerr.ErrReceivePending
	}
	if c.eof || c.readErr != nil {
		eof, rerr := c.eof, c.readErr
		c.post(func() { fn(nil, eof, rerr) })
		return nil
	}
	c.recvBusy = true
	c.recvCh <- recvReq{min: min, max: max, fn: fn}
	return nil
}

// Send queues data for writing.  Sends issued before Ready are held
// and written in order once the connection is up.  fn may be nil.
func (c *Conn) Send(data []byte, fn SendFunc) error {
	buf := make([]byte, len(data))
	copy(buf, data)

	c.mu.Lock()
	if c.cancelled {
		c.mu.Unlock()
		return ncerr.ErrNotConnected
	}
	c.sends = append(c.sends, sendReq{data: buf, fn: fn})
	c.mu.Unlock()

	select {
	case c.sendWake <- struct{}{}:
	default:
	}
	return nil
}

// Cancel closes the connection and posts Cancelled.  Completions that
// have not run yet are dropped.  Cancel is idempotent.
func (c *Conn) Cancel() {
	c.mu.Lock()
	if c.cancelled {
		c.mu.Unlock()
		return
	}
	c.cancelled = true
	c.state = StateCancelled
	c.sends = nil
	nc := c.nc
	c.mu.Unlock()

	c.cancel()
	if nc != nil {
		nc.Close()
	}
	c.logger.Debug("transport %s: cancelled", c.address)

	ev := StateEvent{State: StateCancelled}
	c.events.Post(func() { c.deliverState(ev) })
	c.events.Close()
}

// ── internals ────────────────────────────────────────────────────────

func (c *Conn) dial() {
	c.setState(StatePreparing, nil)

	b := c.backoff
	if b == nil {
		b = &retry.Backoff{MaxAttempts: 1}
	}
	b = b.WithOnRetry(func(attempt int, err error, wait time.Duration) {
		c.logger.Verbose("dial %s: attempt %d failed, retrying in %s: %v",
			c.address, attempt, wait.Truncate(time.Millisecond), err)
		c.setState(StateWaiting, err)
	})

	var nc net.Conn
	err := b.Do(c.ctx, func(attempt int) error {
		if attempt > 1 {
			c.setState(StatePreparing, nil)
		}
		conn, err := c.dialer.Dial(c.ctx, c.network, c.address)
		if err != nil {
			ne := ncerr.Wrap("dial", c.address, err)
			ne.Retryable = ncerr.IsRetryable(err)
			if !ne.Retryable {
				return retry.Permanent(ne)
			}
			return ne
		}
		nc = conn
		return nil
	})
	if err != nil {
		if c.ctx.Err() != nil {
			return
		}
		c.logger.Debug("transport %s: failed: %v", c.address, err)
		c.setState(StateFailed, err)
		return
	}

	c.mu.Lock()
	if c.cancelled {
		c.mu.Unlock()
		nc.Close()
		return
	}
	c.nc = nc
	c.postStateLocked(StateReady, nil)
	c.mu.Unlock()

	// Ready is queued before any completion the loops can post.
	close(c.ready)
}

func (c *Conn) readLoop() {
	select {
	case <-c.ready:
	case <-c.ctx.Done():
		return
	}

	buf := util.GetBuf()
	defer util.PutBuf(buf)

	for {
		var req recvReq
		select {
		case req = <-c.recvCh:
		case <-c.ctx.Done():
			return
		}

		p := *buf
		if req.max > len(p) {
			p = make([]byte, req.max)
		}
		n, err := io.ReadAtLeast(c.nc, p[:req.max], req.min)
		data := make([]byte, n)
		copy(data, p[:n])

		complete := false
		switch util.ClassifyRead(err) {
		case util.ReadOK:
		case util.ReadComplete:
			complete, err = true, nil
		case util.ReadClosed:
			if c.ctx.Err() != nil {
				return
			}
			err = ncerr.Wrap("read", c.address, err)
		default:
			err = ncerr.Wrap("read", c.address, err)
		}

		c.mu.Lock()
		c.recvBusy = false
		c.eof = complete
		c.readErr = err
		c.mu.Unlock()

		c.post(func() { req.fn(data, complete, err) })
		if complete || err != nil {
			return
		}
	}
}

func (c *Conn) writeLoop() {
	select {
	case <-c.ready:
	case <-c.ctx.Done():
		return
	}

	for {
		c.mu.Lock()
		if len(c.sends) == 0 {
			c.mu.Unlock()
			select {
			case <-c.sendWake:
				continue
			case <-c.ctx.Done():
				return
			}
		}
		req := c.sends[0]
		c.sends[0] = sendReq{}
		c.sends = c.sends[1:]
		c.mu.Unlock()

		_, err := c.nc.Write(req.data)
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			err = ncerr.Wrap("write", c.address, err)
		}
		if req.fn != nil {
			c.post(func() { req.fn(err) })
		}
	}
}

// setState records and posts a transition unless cancelled or
// already in a terminal state.
func (c *Conn) setState(s State, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancelled || c.state.Terminal() {
		return
	}
	c.postStateLocked(s, err)
}

func (c *Conn) postStateLocked(s State, err error) {
	c.state = s
	ev := StateEvent{State: s, Err: err}
	c.events.Post(func() { c.deliverState(ev) })
}

func (c *Conn) deliverState(ev StateEvent) {
	c.mu.Lock()
	obs := c.observer
	cancelled := c.cancelled
	c.mu.Unlock()

	if cancelled && ev.State != StateCancelled {
		return
	}
	if obs != nil {
		obs(ev)
	}
}

// post queues fn, dropping it if the connection is cancelled by the
// time it would run.
func (c *Conn) post(fn func()) {
	c.events.Post(func() {
		c.mu.Lock()
		cancelled := c.cancelled
		c.mu.Unlock()
		if !cancelled {
			fn()
		}
	})
}
