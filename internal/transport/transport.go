// Package transport provides the connectable, cancelable channel the
// stream layer runs over.  A [Dialer] handles the "how" of reaching a
// hub (plain TCP or through an SSH gateway); a [Conn] wraps one dial
// target and reports its lifecycle as serially delivered [State]
// transitions.
package transport

import (
	"context"
	"net"
)

// Dialer opens outbound network connections.  Implementations include
// a plain TCP dialer and an SSH-tunnelled dialer that routes traffic
// through a gateway.
type Dialer interface {
	// Dial establishes a connection to the given network address.
	Dial(ctx context.Context, network, address string) (net.Conn, error)

	// Close releases any long-lived resources held by the dialer
	// (e.g. an SSH session).  Stateless dialers return nil.
	Close() error
}
