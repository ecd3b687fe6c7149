package discovery

import (
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/libp2p/zeroconf/v2"

	ncerr "hublink/internal/errors"
	"hublink/internal/metrics"
	"hublink/internal/retry"
	"hublink/util"
)

// DefaultDomain is the mDNS browse domain.
const DefaultDomain = "local."

// DefaultPruneInterval is how often expired entries are dropped.
const DefaultPruneInterval = time.Second

// DefaultRestartBackoff paces transparent restarts after a transient
// browse failure.  MaxAttempts is zero: restarts never give up.
func DefaultRestartBackoff() *retry.Backoff {
	return &retry.Backoff{
		InitialDelay: 250 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// ClientOptions configures a [Client].
type ClientOptions struct {
	ServiceType string // e.g. "_openlcb-can._tcp"
	Domain      string // default "local."
	Browser     Browser
	Backoff     *retry.Backoff
	Logger      *util.Logger
	Metrics     *metrics.Collector

	// PruneInterval controls record expiry checks (default 1s).
	PruneInterval time.Duration

	// OnUpdate receives every published snapshot, including the final
	// clear.  It runs on the client goroutine.
	OnUpdate func([]Endpoint)
	// OnError receives the error that stopped discovery permanently.
	OnError func(error)
}

// Client watches one service type and keeps a [Registry] current.
// Transient browse failures restart the browse transparently; any
// other failure is reported through OnError and ends the client.
type Client struct {
	reg  *Registry
	opts ClientOptions
	log  *util.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// NewClient creates a discovery client publishing into reg.
func NewClient(reg *Registry, opts ClientOptions) *Client {
	if opts.Domain == "" {
		opts.Domain = DefaultDomain
	}
	if opts.Browser == nil {
		opts.Browser = ZeroconfBrowser{}
	}
	if opts.Backoff == nil {
		opts.Backoff = DefaultRestartBackoff()
	}
	if opts.PruneInterval <= 0 {
		opts.PruneInterval = DefaultPruneInterval
	}
	return &Client{reg: reg, opts: opts, log: util.OrDiscard(opts.Logger)}
}

// Start begins watching in the background.  It fails if the client is
// already running.  Cancelling ctx is equivalent to [Client.Stop].
func (c *Client) Start(ctx context.Context) error {
	if c.opts.ServiceType == "" {
		return &ncerr.ConfigError{Field: "service-type", Message: "required for discovery"}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done != nil {
		select {
		case <-c.done:
		default:
			return errors.New("discovery already running")
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.err = nil
	go c.watch(runCtx, c.done)
	return nil
}

// Stop cancels discovery and waits for it to clear the registry.
func (c *Client) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Done is closed when the client stops for any reason.  It is nil
// before the first Start.
func (c *Client) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// Err returns the fatal error that stopped the client, if any.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Client) watch(ctx context.Context, done chan struct{}) {
	defer close(done)

	b := c.opts.Backoff.WithOnRetry(func(attempt int, err error, wait time.Duration) {
		c.log.Verbose("discovery: restarting in %s after: %v", wait.Truncate(time.Millisecond), err)
		c.opts.Metrics.DiscoveryRestart()
	})

	err := b.Do(ctx, func(int) error {
		err := c.run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			err = ncerr.ErrDiscoveryDefunct
		}
		if ncerr.IsTransient(err) {
			return err
		}
		return retry.Permanent(err)
	})

	c.publish(nil)

	if err != nil && ctx.Err() == nil {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()

		c.log.Error("discovery stopped: %v", err)
		c.opts.Metrics.RecordError(err.Error())
		if c.opts.OnError != nil {
			c.opts.OnError(err)
		}
	}
}

type tracked struct {
	ep      Endpoint
	expires time.Time
}

// run performs one browse and mirrors its results into the registry.
// It returns when ctx is done or the browse ends.
func (c *Client) run(ctx context.Context) error {
	browseCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 16)
	errc := make(chan error, 1)
	go func() {
		errc <- c.opts.Browser.Browse(browseCtx, c.opts.ServiceType, c.opts.Domain, entries)
	}()
	c.log.Debug("discovery: browsing %s in %s", c.opts.ServiceType, c.opts.Domain)

	seen := make(map[string]*tracked)
	c.publish(seen)

	ticker := time.NewTicker(c.opts.PruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errc:
			return err
		case e := <-entries:
			if c.apply(seen, e, time.Now()) {
				c.publish(seen)
			}
		case now := <-ticker.C:
			if prune(seen, now) {
				c.publish(seen)
			}
		}
	}
}

// apply merges one entry and reports whether the snapshot changed.
func (c *Client) apply(seen map[string]*tracked, e *zeroconf.ServiceEntry, now time.Time) bool {
	if e == nil {
		return false
	}
	name := EndpointName(e.Instance, c.opts.ServiceType, c.opts.Domain)
	if name == "" || name == NoSelection {
		return false
	}

	old, ok := seen[name]
	if !e.Expiry.After(now) {
		if !ok {
			return false
		}
		delete(seen, name)
		c.log.Verbose("discovery: %s went away", name)
		return true
	}

	host, target := entryTarget(e)
	ep := Endpoint{
		Name:   name,
		Target: target,
		Host:   host,
		Port:   e.Port,
		Text:   append([]string(nil), e.Text...),
	}
	expires := e.Expiry

	if ok {
		old.expires = expires
		if sameEndpoint(old.ep, ep) {
			return false
		}
		ep.ID = old.ep.ID
		old.ep = ep
		c.log.Verbose("discovery: %s updated", ep)
		return true
	}

	ep.ID = uuid.New()
	seen[name] = &tracked{ep: ep, expires: expires}
	c.log.Verbose("discovery: found %s", ep)
	return true
}

// publish replaces the registry with seen, or clears it when seen is nil.
func (c *Client) publish(seen map[string]*tracked) {
	if seen == nil {
		c.reg.Clear()
	} else {
		eps := make([]Endpoint, 0, len(seen))
		for _, t := range seen {
			eps = append(eps, t.ep)
		}
		c.reg.Replace(eps)
	}
	c.opts.Metrics.SetEndpoints(c.reg.Len())
	if c.opts.OnUpdate != nil {
		c.opts.OnUpdate(c.reg.Snapshot())
	}
}

func prune(seen map[string]*tracked, now time.Time) bool {
	changed := false
	for name, t := range seen {
		if now.After(t.expires) {
			delete(seen, name)
			changed = true
		}
	}
	return changed
}

// entryTarget picks the first IPv4 address, else the first IPv6
// address, else the advertised host name.  Without a port or any
// address the entry stays unresolved.
func entryTarget(e *zeroconf.ServiceEntry) (host, target string) {
	switch {
	case len(e.AddrIPv4) > 0:
		host = e.AddrIPv4[0].String()
	case len(e.AddrIPv6) > 0:
		host = e.AddrIPv6[0].String()
	default:
		host = strings.TrimSuffix(e.HostName, ".")
	}
	if host == "" || !util.ValidPort(e.Port) {
		return host, ""
	}
	return host, net.JoinHostPort(host, strconv.Itoa(e.Port))
}

func sameEndpoint(a, b Endpoint) bool {
	if a.Target != b.Target || a.Host != b.Host || a.Port != b.Port || len(a.Text) != len(b.Text) {
		return false
	}
	for i := range a.Text {
		if a.Text[i] != b.Text[i] {
			return false
		}
	}
	return true
}
