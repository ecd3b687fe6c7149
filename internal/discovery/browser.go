package discovery

import (
	"context"

	"github.com/libp2p/zeroconf/v2"
)

// Browser is the mDNS browse primitive.  Browse reports service
// entries for service in domain until ctx is done or browsing fails.
// A nil return while ctx is still live means the browse ended on its
// own.  Implementations must not block sending on entries once ctx is
// done, and must not close entries.
type Browser interface {
	Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error
}

// ZeroconfBrowser browses with github.com/libp2p/zeroconf/v2.
type ZeroconfBrowser struct {
	Options []zeroconf.ClientOption
}

// Browse implements [Browser].
func (b ZeroconfBrowser) Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	inner := make(chan *zeroconf.ServiceEntry)
	errc := make(chan error, 1)
	go func() {
		errc <- zeroconf.Browse(ctx, service, domain, inner, b.Options...)
	}()

	// zeroconf may return before or after it closes inner; the browse
	// has ended only once both have happened.
	returned, closed := false, false
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errc:
			if err != nil {
				return err
			}
			returned, errc = true, nil
			if closed {
				return nil
			}
		case e, ok := <-inner:
			if !ok {
				closed, inner = true, nil
				if returned {
					return nil
				}
				continue
			}
			select {
			case entries <- e:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}
