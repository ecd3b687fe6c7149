package supervisor

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"hublink/internal/discovery"
	ncerr "hublink/internal/errors"
	"hublink/internal/metrics"
)

// ── helpers ──────────────────────────────────────────────────────────

// serve runs handler for every connection accepted on a loopback
// listener and returns the listener address.
func serve(t *testing.T, handler func(net.Conn)) (string, int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go handler(c)
		}
	}()
	return ln.Addr().String(), ln.Addr().(*net.TCPAddr).Port
}

func echo(c net.Conn) {
	defer c.Close()
	io.Copy(c, c) //nolint:errcheck
}

func closedPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// countingResolver misses until an endpoint is set.
type countingResolver struct {
	mu    sync.Mutex
	calls int
	ep    *discovery.Endpoint
}

func (r *countingResolver) Lookup(name string) (discovery.Endpoint, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.ep != nil && r.ep.Name == name {
		return *r.ep, true
	}
	return discovery.Endpoint{}, false
}

func (r *countingResolver) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// recordingDialer refuses every dial and remembers the address.
type recordingDialer struct {
	mu    sync.Mutex
	addrs []string
}

func (d *recordingDialer) Dial(_ context.Context, _, address string) (net.Conn, error) {
	d.mu.Lock()
	d.addrs = append(d.addrs, address)
	d.mu.Unlock()
	return nil, errors.New("refused by test")
}

func (d *recordingDialer) Close() error { return nil }

func (d *recordingDialer) Addrs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.addrs...)
}

// brokenWriter reads like an idle connection but fails every write.
type brokenWriter struct {
	net.Conn
	err error
}

func (c *brokenWriter) Write([]byte) (int, error) { return 0, c.err }

// brokenWriteDialer hands out brokenWriter connections.
type brokenWriteDialer struct {
	err  error
	mu   sync.Mutex
	peer []net.Conn
}

func (d *brokenWriteDialer) Dial(context.Context, string, string) (net.Conn, error) {
	local, remote := net.Pipe()
	d.mu.Lock()
	d.peer = append(d.peer, remote)
	d.mu.Unlock()
	return &brokenWriter{Conn: local, err: d.err}, nil
}

func (d *brokenWriteDialer) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range d.peer {
		c.Close()
	}
	return nil
}

// statusLog records every published status.
type statusLog struct {
	mu   sync.Mutex
	seen []Status
}

func (l *statusLog) add(st Status) {
	l.mu.Lock()
	l.seen = append(l.seen, st)
	l.mu.Unlock()
}

func (l *statusLog) All() []Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Status(nil), l.seen...)
}

// textSink collects received text.
type textSink struct {
	mu sync.Mutex
	b  strings.Builder
}

func (s *textSink) add(text string) {
	s.mu.Lock()
	s.b.WriteString(text)
	s.mu.Unlock()
}

func (s *textSink) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

// ── misuse ───────────────────────────────────────────────────────────

func TestSupervisor_MisuseSentinels(t *testing.T) {
	res := &countingResolver{}
	s := New(Options{Resolver: res, RetryDelay: time.Hour})
	defer s.Close()

	if err := s.Start(); !errors.Is(err, ncerr.ErrNotLoaded) {
		t.Errorf("Start before Load = %v, want ErrNotLoaded", err)
	}
	if err := s.Stop(); !errors.Is(err, ncerr.ErrNotLoaded) {
		t.Errorf("Stop before Load = %v, want ErrNotLoaded", err)
	}
	if err := s.Retarget(Target{Service: "Hub-1"}); !errors.Is(err, ncerr.ErrNotLoaded) {
		t.Errorf("Retarget before Load = %v, want ErrNotLoaded", err)
	}
	if err := s.Send([]byte("x")); !errors.Is(err, ncerr.ErrNotStarted) {
		t.Errorf("Send before Start = %v, want ErrNotStarted", err)
	}

	if err := s.Load(Target{Service: "Hub-1"}, nil, nil); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := s.Stop(); !errors.Is(err, ncerr.ErrNotStarted) {
		t.Errorf("Stop before Start = %v, want ErrNotStarted", err)
	}

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Start(); !errors.Is(err, ncerr.ErrAlreadyStarted) {
		t.Errorf("second Start = %v, want ErrAlreadyStarted", err)
	}
	if err := s.Send([]byte("x")); !errors.Is(err, ncerr.ErrNotConnected) {
		t.Errorf("Send while searching = %v, want ErrNotConnected", err)
	}
	if got := s.Status().Kind; got != StatusWaiting {
		t.Errorf("status = %v, want %v", got, StatusWaiting)
	}
}

func TestSupervisor_DoubleLoad(t *testing.T) {
	s := New(Options{})
	defer s.Close()

	first := Target{Service: "Hub-1"}
	if err := s.Load(first, nil, nil); err != nil {
		t.Fatalf("Load: %v", err)
	}
	err := s.Load(Target{Host: "10.0.0.9", Port: 12021}, nil, nil)
	if !errors.Is(err, ncerr.ErrAlreadyLoaded) {
		t.Fatalf("second Load = %v, want ErrAlreadyLoaded", err)
	}
	if got := s.Target(); got != first {
		t.Errorf("target = %v, want %v", got, first)
	}
}

func TestSupervisor_InvalidPort(t *testing.T) {
	s := New(Options{})
	defer s.Close()

	for _, port := range []int{0, -1, 65536, 70000} {
		err := s.Load(Target{Host: "10.0.0.1", Port: port}, nil, nil)
		var ce *ncerr.ConfigError
		if !errors.As(err, &ce) {
			t.Errorf("port %d: got %v, want *ConfigError", port, err)
		}
	}
	if err := s.Load(Target{Host: "10.0.0.1", Port: 12021}, nil, nil); err != nil {
		t.Errorf("valid Load after rejects: %v", err)
	}
}

// ── resolution ───────────────────────────────────────────────────────

func TestSupervisor_DirectModeSkipsResolver(t *testing.T) {
	res := &countingResolver{}
	d := &recordingDialer{}

	for _, svc := range []string{"", discovery.NoSelection} {
		s := New(Options{Resolver: res, Dialer: d})
		if err := s.Load(Target{Service: svc, Host: "203.0.113.5", Port: 12021}, nil, nil); err != nil {
			t.Fatalf("Load: %v", err)
		}
		if err := s.Start(); err != nil {
			t.Fatalf("Start: %v", err)
		}
		eventually(t, "failure", func() bool { return !s.Started() })
		s.Close()
	}

	for _, got := range d.Addrs() {
		if got != "203.0.113.5:12021" {
			t.Errorf("dialled %q, want %q", got, "203.0.113.5:12021")
		}
	}
	if len(d.Addrs()) != 2 {
		t.Errorf("dials = %d, want 2", len(d.Addrs()))
	}
	if n := res.Calls(); n != 0 {
		t.Errorf("resolver consulted %d times in direct mode", n)
	}
}

func TestSupervisor_RetryBound(t *testing.T) {
	res := &countingResolver{}
	m := metrics.New()
	s := New(Options{Resolver: res, RetryDelay: 5 * time.Millisecond, Metrics: m})
	defer s.Close()

	if err := s.Load(Target{Service: "Hub-1"}, nil, nil); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start with retries left = %v, want nil", err)
	}
	eventually(t, "give up", func() bool { return !s.Started() })

	if n := res.Calls(); n != DefaultRetryMax+1 {
		t.Errorf("lookups = %d, want %d", n, DefaultRetryMax+1)
	}
	if n := m.ResolveRetries(); n != DefaultRetryMax {
		t.Errorf("retries = %d, want %d", n, DefaultRetryMax)
	}
	if n := m.ResolveFailures(); n != 1 {
		t.Errorf("failures = %d, want 1", n)
	}
	want := `Connection Failed: no endpoint found for "Hub-1"`
	if got := s.Status().String(); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if !errors.Is(s.LastError(), ncerr.ErrNoEndpoint) {
		t.Errorf("last error = %v, want ErrNoEndpoint", s.LastError())
	}
}

func TestSupervisor_NoRetriesFailsStart(t *testing.T) {
	res := &countingResolver{}
	s := New(Options{Resolver: res, RetryMax: -1})
	defer s.Close()

	if err := s.Load(Target{Service: "Hub-1"}, nil, nil); err != nil {
		t.Fatal(err)
	}
	err := s.Start()
	if !errors.Is(err, ncerr.ErrNoEndpoint) {
		t.Fatalf("Start = %v, want ErrNoEndpoint", err)
	}
	if s.Started() {
		t.Error("supervisor should be stopped after giving up")
	}
	if n := res.Calls(); n != 1 {
		t.Errorf("lookups = %d, want 1", n)
	}
}

func TestSupervisor_RegistryReplacedMidFlight(t *testing.T) {
	addr, _ := serve(t, echo)
	reg := discovery.NewRegistry()
	s := New(Options{Resolver: reg, RetryDelay: 20 * time.Millisecond})
	defer s.Close()

	if err := s.Load(Target{Service: "Hub-1"}, nil, nil); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	reg.Replace([]discovery.Endpoint{{Name: "Hub-1", Target: addr}})

	eventually(t, "ready", s.Ready)
	if got, want := s.Status().String(), "Connected to Hub-1"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestSupervisor_RetargetUsedByPendingLookup(t *testing.T) {
	addr, _ := serve(t, echo)
	res := &countingResolver{ep: &discovery.Endpoint{Name: "Hub-2", Target: addr}}
	s := New(Options{Resolver: res, RetryDelay: 20 * time.Millisecond})
	defer s.Close()

	if err := s.Load(Target{Service: "Hub-1"}, nil, nil); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	if err := s.Retarget(Target{Service: "Hub-2"}); err != nil {
		t.Fatalf("Retarget: %v", err)
	}
	eventually(t, "ready", s.Ready)
	if got, want := s.Status().String(), "Connected to Hub-2"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestSupervisor_StopAbandonsRetry(t *testing.T) {
	res := &countingResolver{}
	s := New(Options{Resolver: res, RetryDelay: 30 * time.Millisecond})
	defer s.Close()

	if err := s.Load(Target{Service: "Hub-1"}, nil, nil); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	if err := s.Stop(); err != nil {
		t.Fatal(err)
	}
	time.Sleep(120 * time.Millisecond)

	if n := res.Calls(); n != 1 {
		t.Errorf("lookups after Stop = %d, want 1", n)
	}
	if got := s.Status().Kind; got != StatusDropped {
		t.Errorf("status = %v, want %v", got, StatusDropped)
	}
	if s.Started() {
		t.Error("still started after Stop")
	}
}

// ── connection lifecycle ─────────────────────────────────────────────

func TestSupervisor_EchoHello(t *testing.T) {
	_, port := serve(t, echo)
	var sink textSink
	s := New(Options{})
	defer s.Close()

	err := s.Load(Target{Host: "127.0.0.1", Port: port}, sink.add, func() {
		if err := s.SendString("HELLO"); err != nil {
			t.Errorf("SendString: %v", err)
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	eventually(t, "echo", func() bool { return sink.String() == "HELLO" })

	if got, want := s.Status().String(), "Connected to 127.0.0.1"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestSupervisor_NonUTF8Payload(t *testing.T) {
	got := make(chan string, 1)
	_, port := serve(t, func(c net.Conn) {
		defer c.Close()
		buf := make([]byte, len(NonUTF8Payload))
		if _, err := io.ReadFull(c, buf); err == nil {
			got <- string(buf)
		}
	})
	s := New(Options{})
	defer s.Close()

	if err := s.Load(Target{Host: "127.0.0.1", Port: port}, nil, nil); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	if err := s.SendString(string([]byte{0xff, 0xfe, 0xfd})); err != nil {
		t.Fatalf("SendString: %v", err)
	}

	select {
	case text := <-got:
		if text != NonUTF8Payload {
			t.Errorf("got %q, want %q", text, NonUTF8Payload)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("hub received nothing")
	}
}

func TestSupervisor_StartupFiresOnce(t *testing.T) {
	_, port := serve(t, echo)
	var mu sync.Mutex
	startups := 0
	s := New(Options{})

	err := s.Load(Target{Host: "127.0.0.1", Port: port}, nil, func() {
		mu.Lock()
		startups++
		mu.Unlock()
	})
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		if err := s.Start(); err != nil {
			t.Fatalf("Start %d: %v", i, err)
		}
		eventually(t, "ready", s.Ready)
		if err := s.Stop(); err != nil {
			t.Fatalf("Stop %d: %v", i, err)
		}
		eventually(t, "dropped", func() bool { return s.Status().Kind == StatusDropped })
	}
	s.Close()

	mu.Lock()
	defer mu.Unlock()
	if startups != 1 {
		t.Errorf("startup callback ran %d times, want 1", startups)
	}
}

func TestSupervisor_StopTwice(t *testing.T) {
	_, port := serve(t, echo)
	s := New(Options{})
	defer s.Close()

	if err := s.Load(Target{Host: "127.0.0.1", Port: port}, nil, nil); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	eventually(t, "ready", s.Ready)

	if err := s.Stop(); err != nil {
		t.Fatalf("first Stop: %v", err)
	}
	if err := s.Stop(); !errors.Is(err, ncerr.ErrNotStarted) {
		t.Errorf("second Stop = %v, want ErrNotStarted", err)
	}
	if got := s.Status().Kind; got != StatusDropped {
		t.Errorf("status = %v, want %v", got, StatusDropped)
	}
	if s.LastError() != nil {
		t.Errorf("last error after clean stop = %v", s.LastError())
	}
}

func TestSupervisor_PeerCloseDrops(t *testing.T) {
	_, port := serve(t, func(c net.Conn) { c.Close() })
	s := New(Options{})
	defer s.Close()

	if err := s.Load(Target{Host: "127.0.0.1", Port: port}, nil, nil); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	eventually(t, "stop", func() bool { return !s.Started() })

	if s.LastError() != nil {
		t.Errorf("last error = %v, want nil", s.LastError())
	}
	if got := s.Status().Kind; got != StatusDropped {
		t.Errorf("status = %v, want %v", got, StatusDropped)
	}
}

func TestSupervisor_RefusedFails(t *testing.T) {
	port := closedPort(t)
	var mu sync.Mutex
	var seen []Status
	s := New(Options{OnStatus: func(st Status) {
		mu.Lock()
		seen = append(seen, st)
		mu.Unlock()
	}})

	if err := s.Load(Target{Host: "127.0.0.1", Port: port}, nil, nil); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	eventually(t, "failure", func() bool { return !s.Started() })
	s.Close()

	if s.LastError() == nil {
		t.Error("expected a last error")
	}
	if got := s.Status().Kind; got != StatusFailed {
		t.Errorf("status = %v, want %v", got, StatusFailed)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) == 0 || seen[len(seen)-1].Kind != StatusFailed {
		t.Errorf("status callbacks = %v, want trailing failure", seen)
	}
}

func TestSupervisor_RepeatedFailedStartPublishes(t *testing.T) {
	var log statusLog
	s := New(Options{Resolver: &countingResolver{}, RetryMax: -1, OnStatus: log.add})

	if err := s.Load(Target{Service: "Hub-1"}, nil, nil); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if err := s.Start(); !errors.Is(err, ncerr.ErrNoEndpoint) {
			t.Fatalf("Start #%d = %v, want ErrNoEndpoint", i+1, err)
		}
	}
	s.Close()

	want := `Connection Failed: no endpoint found for "Hub-1"`
	seen := log.All()
	if len(seen) != 2 {
		t.Fatalf("statuses = %v, want two failures", seen)
	}
	for i, st := range seen {
		if got := st.String(); got != want {
			t.Errorf("status %d: got %q, want %q", i, got, want)
		}
	}
}

func TestSupervisor_SendFailureTearsDown(t *testing.T) {
	writeErr := errors.New("boom write")
	d := &brokenWriteDialer{err: writeErr}
	defer d.Close()

	var log statusLog
	s := New(Options{Dialer: d, OnStatus: log.add})
	defer s.Close()

	if err := s.Load(Target{Host: "10.0.0.1", Port: 1}, nil, nil); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	eventually(t, "ready", s.Ready)

	if err := s.SendString("HELLO"); err != nil {
		t.Fatalf("SendString: %v", err)
	}
	eventually(t, "teardown", func() bool { return !s.Started() })

	if !errors.Is(s.LastError(), writeErr) {
		t.Errorf("last error = %v, want %v", s.LastError(), writeErr)
	}
	want := "Connection Failed: write 10.0.0.1:1: boom write"
	if got := s.Status().String(); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if s.Ready() {
		t.Error("still ready after a failed send")
	}

	s.notify.Flush()
	failures := 0
	for _, st := range log.All() {
		if st.Kind == StatusFailed {
			failures++
		}
	}
	if failures != 1 {
		t.Errorf("failure statuses = %d, want 1 (%v)", failures, log.All())
	}
	if err := s.Send([]byte("again")); !errors.Is(err, ncerr.ErrNotStarted) {
		t.Errorf("Send after teardown = %v, want ErrNotStarted", err)
	}
}

func TestSupervisor_StartAfterClose(t *testing.T) {
	d := &recordingDialer{}
	s := New(Options{Dialer: d})
	if err := s.Load(Target{Host: "127.0.0.1", Port: 12021}, nil, nil); err != nil {
		t.Fatal(err)
	}
	s.Close()

	if err := s.Start(); !errors.Is(err, ncerr.ErrClosed) {
		t.Errorf("Start after Close = %v, want ErrClosed", err)
	}
	if s.Started() {
		t.Error("started after Close")
	}
	time.Sleep(20 * time.Millisecond)
	if n := len(d.Addrs()); n != 0 {
		t.Errorf("dials after Close = %d, want 0", n)
	}
}
