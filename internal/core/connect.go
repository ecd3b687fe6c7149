package core

import (
	"context"
	"fmt"
	"io"
	"os"

	"hublink/internal/discovery"
	"hublink/internal/supervisor"
	"hublink/util"
)

// ConnectMode keeps one supervised connection to a hub and relays it
// to stdio: stdin is sent once the hub is connected, received text is
// written to stdout.  It ends when the connection drops or fails.
type ConnectMode struct {
	Target     supervisor.Target
	Supervisor supervisor.Options
	// Discovery is set in service mode; Run feeds the registry the
	// supervisor resolves against.
	Discovery *discovery.ClientOptions
	Logger    *util.Logger

	// Stdin/Stdout default to os.Stdin/os.Stdout when nil.
	// Override in tests for deterministic I/O.
	Stdin  io.Reader
	Stdout io.Writer
}

func (m *ConnectMode) stdin() io.Reader {
	if m.Stdin != nil {
		return m.Stdin
	}
	return os.Stdin
}

func (m *ConnectMode) stdout() io.Writer {
	if m.Stdout != nil {
		return m.Stdout
	}
	return os.Stdout
}

// Run supervises the connection until it stops or ctx is cancelled.
// A clean drop (peer close, cancellation) returns nil; a failure
// returns the error that ended the connection.
func (m *ConnectMode) Run(ctx context.Context) error {
	log := util.OrDiscard(m.Logger)
	opts := m.Supervisor
	if opts.Dialer != nil {
		defer opts.Dialer.Close()
	}

	var discoveryFailed chan error
	if m.Discovery != nil {
		dopts := *m.Discovery
		discoveryFailed = make(chan error, 1)
		onError := dopts.OnError
		dopts.OnError = func(err error) {
			if onError != nil {
				onError(err)
			}
			select {
			case discoveryFailed <- err:
			default:
			}
		}

		reg := discovery.NewRegistry()
		client := discovery.NewClient(reg, dopts)
		if err := client.Start(ctx); err != nil {
			return fmt.Errorf("discovery: %w", err)
		}
		defer client.Stop()
		opts.Resolver = reg
	}

	ended := make(chan supervisor.Status, 1)
	onStatus := opts.OnStatus
	opts.OnStatus = func(st supervisor.Status) {
		log.Info("%s", st)
		if onStatus != nil {
			onStatus(st)
		}
		if st.Kind == supervisor.StatusDropped || st.Kind == supervisor.StatusFailed {
			select {
			case ended <- st:
			default:
			}
		}
	}

	sup := supervisor.New(opts)
	defer sup.Close()

	out := m.stdout()
	connected := make(chan struct{})
	onReceive := func(text string) {
		if _, err := io.WriteString(out, text); err != nil {
			log.Warn("write stdout: %v", err)
		}
	}
	if err := sup.Load(m.Target, onReceive, func() { close(connected) }); err != nil {
		return err
	}
	if err := sup.Start(); err != nil {
		return err
	}

	go m.pump(ctx, sup, connected, log)

	for {
		select {
		case <-ctx.Done():
			if sup.Started() {
				sup.Stop() //nolint:errcheck
			}
			return nil
		case err := <-discoveryFailed:
			// A live connection outlives discovery; a pending lookup
			// cannot succeed any more.
			if sup.Ready() {
				log.Warn("discovery stopped, keeping the current connection: %v", err)
				discoveryFailed = nil
				continue
			}
			if sup.Started() {
				sup.Stop() //nolint:errcheck
			}
			return fmt.Errorf("discovery: %w", err)
		case st := <-ended:
			if st.Kind == supervisor.StatusFailed {
				if err := sup.LastError(); err != nil {
					return err
				}
				return fmt.Errorf("%s", st)
			}
			return nil
		}
	}
}

// pump copies stdin to the hub once the first connection is up.  Text
// sent before that would be refused, not queued.
func (m *ConnectMode) pump(ctx context.Context, sup *supervisor.Supervisor, connected <-chan struct{}, log *util.Logger) {
	select {
	case <-connected:
	case <-ctx.Done():
		return
	}

	in := m.stdin()
	buf := util.GetBuf()
	defer util.PutBuf(buf)
	for {
		n, err := in.Read(*buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, (*buf)[:n])
			if serr := sup.Send(data); serr != nil {
				log.Verbose("stdin: %v", serr)
				return
			}
		}
		if err != nil {
			if err != io.EOF {
				log.Warn("read stdin: %v", err)
			} else {
				log.Verbose("stdin closed")
			}
			return
		}
	}
}
