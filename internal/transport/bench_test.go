package transport

import (
	"bytes"
	"testing"
	"time"
)

// BenchmarkConn_Echo measures a full send/receive cycle through a
// Conn against a loopback echo server.
func BenchmarkConn_Echo(b *testing.B) {
	ln := echoServer(b)

	c := NewConn(&TCPDialer{Timeout: 2 * time.Second}, "tcp", ln.Addr().String(), ConnOptions{})
	defer c.Cancel()

	ready := make(chan struct{})
	c.OnStateChange(func(ev StateEvent) {
		if ev.State == StateReady {
			close(ready)
		}
	})
	c.Start()
	<-ready

	payload := bytes.Repeat([]byte("X"), 4096)
	got := make(chan int, 1)

	b.SetBytes(int64(len(payload)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.Send(payload, nil) //nolint:errcheck
		n := 0
		for n < len(payload) {
			c.Receive(1, len(payload)-n, func(data []byte, _ bool, _ error) { got <- len(data) }) //nolint:errcheck
			n += <-got
		}
	}
}
