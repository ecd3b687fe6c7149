package util

import (
	"errors"
	"io"
	"net"
)

// ReadOutcome classifies the error from a stream read.
type ReadOutcome int

const (
	// ReadOK means the read succeeded and more data may follow.
	ReadOK ReadOutcome = iota
	// ReadComplete means the peer closed its side cleanly.
	ReadComplete
	// ReadClosed means our own side was closed (cancellation).
	ReadClosed
	// ReadFailed is any other error.
	ReadFailed
)

// ClassifyRead maps a read error to an outcome.  EOF in any form is a
// clean end of stream; use of a closed connection is local teardown.
func ClassifyRead(err error) ReadOutcome {
	switch {
	case err == nil:
		return ReadOK
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return ReadComplete
	case isClosed(err):
		return ReadClosed
	default:
		return ReadFailed
	}
}

// isClosed returns true for errors produced by reading or writing a
// connection that we closed ourselves.
func isClosed(err error) bool {
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return errors.Is(opErr.Err, net.ErrClosed)
	}
	return false
}
