package core

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/libp2p/zeroconf/v2"
)

const testService = "_openlcb-can._tcp"

// fakeBrowser delivers a fixed set of entries, or fails with err.
type fakeBrowser struct {
	entries []*zeroconf.ServiceEntry
	err     error
}

func (b *fakeBrowser) Browse(ctx context.Context, _, _ string, out chan<- *zeroconf.ServiceEntry) error {
	if b.err != nil {
		return b.err
	}
	for _, e := range b.entries {
		select {
		case out <- e:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	<-ctx.Done()
	return ctx.Err()
}

func hubEntry(instance string, port int) *zeroconf.ServiceEntry {
	e := &zeroconf.ServiceEntry{
		ServiceRecord: zeroconf.ServiceRecord{Instance: instance, Service: testService, Domain: "local."},
		Port:          port,
		Expiry:        time.Now().Add(2 * time.Minute),
	}
	if port != 0 {
		e.HostName = "hub.local."
		e.AddrIPv4 = []net.IP{net.ParseIP("127.0.0.1")}
	}
	return e
}

// serveOnce runs handler for the first accepted connection and returns
// the listening port.
func serveOnce(t *testing.T, handler func(net.Conn)) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		handler(c)
	}()
	return ln.Addr().(*net.TCPAddr).Port
}

func greet(text string) func(net.Conn) {
	return func(c net.Conn) {
		defer c.Close()
		io.WriteString(c, text) //nolint:errcheck
	}
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
