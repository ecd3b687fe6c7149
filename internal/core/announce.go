package core

import (
	"context"

	"hublink/internal/discovery"
	"hublink/util"
)

// AnnounceMode advertises a hub over mDNS until ctx is cancelled.  It
// does not open the hub's port; the hub process itself does that.
type AnnounceMode struct {
	Options discovery.AnnounceOptions
	Logger  *util.Logger
}

// Run registers the instance and blocks until ctx is done.
func (m *AnnounceMode) Run(ctx context.Context) error {
	util.OrDiscard(m.Logger).Verbose("announcing %q on port %d", m.Options.Instance, m.Options.Port)
	return discovery.Announce(ctx, m.Options)
}
