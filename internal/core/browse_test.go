package core

import (
	"bytes"
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/libp2p/zeroconf/v2"

	"hublink/internal/discovery"
	"hublink/internal/transport"
)

func browseMode(b discovery.Browser, out *bytes.Buffer) *BrowseMode {
	return &BrowseMode{
		Discovery: discovery.ClientOptions{ServiceType: testService, Browser: b},
		Duration:  100 * time.Millisecond,
		Dialer:    &transport.TCPDialer{Timeout: time.Second},
		Stdout:    out,
	}
}

func TestBrowseMode_PrintsHubs(t *testing.T) {
	var out bytes.Buffer
	b := &fakeBrowser{entries: []*zeroconf.ServiceEntry{
		hubEntry("Hub-2", 12022),
		hubEntry("Hub-1", 12021),
		hubEntry("Lost", 0),
	}}

	if err := browseMode(b, &out).Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3:\n%s", len(lines), out.String())
	}
	wants := [][]string{
		{"Hub-1", "127.0.0.1:12021"},
		{"Hub-2", "127.0.0.1:12022"},
		{"Lost", "(unresolved)"},
	}
	for i, want := range wants {
		fields := strings.Fields(lines[i])
		if len(fields) < 2 || fields[0] != want[0] || fields[1] != want[1] {
			t.Errorf("line %d = %q, want %v", i, lines[i], want)
		}
	}
}

func TestBrowseMode_Empty(t *testing.T) {
	var out bytes.Buffer
	if err := browseMode(&fakeBrowser{}, &out).Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Len() != 0 {
		t.Errorf("output = %q, want nothing", out.String())
	}
}

func TestBrowseMode_FatalError(t *testing.T) {
	var out bytes.Buffer
	b := &fakeBrowser{err: errors.New("no multicast interface")}

	err := browseMode(b, &out).Run(context.Background())
	if err == nil {
		t.Fatal("expected an error")
	}
	if !strings.Contains(err.Error(), "no multicast interface") {
		t.Errorf("error %q should carry the cause", err)
	}
}

func TestBrowseMode_Probe(t *testing.T) {
	open := serveOnce(t, func(c net.Conn) { c.Close() })
	closed := closedPort(t)
	var out bytes.Buffer
	b := &fakeBrowser{entries: []*zeroconf.ServiceEntry{
		hubEntry("Hub-1", open),
		hubEntry("Hub-2", closed),
	}}

	mode := browseMode(b, &out)
	mode.Probe = true
	mode.ProbeTimeout = time.Second
	if err := mode.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	text := out.String()
	for _, want := range []string{"Hub-1", "open", "Hub-2", "closed"} {
		if !strings.Contains(text, want) {
			t.Errorf("output %q should contain %q", text, want)
		}
	}
}

func TestProbeEndpoints_OrderAndUnresolved(t *testing.T) {
	open := serveOnce(t, func(c net.Conn) { c.Close() })
	eps := []discovery.Endpoint{
		{Name: "closed", Target: net.JoinHostPort("127.0.0.1", strconv.Itoa(closedPort(t)))},
		{Name: "unresolved"},
		{Name: "open", Target: net.JoinHostPort("127.0.0.1", strconv.Itoa(open))},
	}

	d := &transport.TCPDialer{}
	results := ProbeEndpoints(context.Background(), eps, time.Second, d.Dial)

	if len(results) != len(eps) {
		t.Fatalf("got %d results, want %d", len(results), len(eps))
	}
	for i, r := range results {
		if r.Endpoint.Name != eps[i].Name {
			t.Errorf("result %d is %q, want %q", i, r.Endpoint.Name, eps[i].Name)
		}
	}
	if results[0].Open || results[0].Err == nil {
		t.Errorf("closed: got %+v", results[0])
	}
	if results[1].Open || results[1].Err != nil {
		t.Errorf("unresolved should not be dialled: got %+v", results[1])
	}
	if !results[2].Open {
		t.Errorf("open: got %+v", results[2])
	}
}
