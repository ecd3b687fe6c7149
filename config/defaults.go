package config

import "time"

// ── Default values ───────────────────────────────────────────────────
//
// All tuneable defaults live here so they are easy to audit and reuse
// across CLI flags and environment variable loading.

const (
	// DefaultServiceType is the DNS-SD type OpenLCB hubs advertise.
	DefaultServiceType = "_openlcb-can._tcp"

	// DefaultDomain is the mDNS browse domain.
	DefaultDomain = "local."

	// DefaultRetryMax is how many extra lookups a service name gets
	// before the supervisor gives up.
	DefaultRetryMax = 8

	// DefaultRetryDelay separates two lookups of the same name.
	DefaultRetryDelay = 500 * time.Millisecond

	// DefaultChunkSize caps a single receive.
	DefaultChunkSize = 64 * 1024

	// DefaultBrowseDuration is how long -b collects results.
	DefaultBrowseDuration = 3 * time.Second

	// DefaultProbeTimeout is the per-hub dial timeout for --probe.
	DefaultProbeTimeout = 3 * time.Second

	// DefaultMaxConcurrentProbes limits simultaneous probe dials.
	DefaultMaxConcurrentProbes = 16

	// DefaultSSHPort is the standard SSH port.
	DefaultSSHPort = 22

	// DefaultConnTimeout bounds the SSH handshake with the gateway.
	DefaultConnTimeout = 30 * time.Second

	// DefaultKeepAlive is the TCP keep-alive period for hub connections.
	DefaultKeepAlive = 15 * time.Second

	// DefaultDialAttempts bounds re-dials after retryable errors such
	// as a temporary DNS failure.
	DefaultDialAttempts = 5

	// DefaultDialBackoff is the first wait between re-dials.
	DefaultDialBackoff = 500 * time.Millisecond

	// DefaultMaxDialBackoff caps the wait between re-dials.
	DefaultMaxDialBackoff = 5 * time.Second

	// DefaultDiscoveryBackoff is the first wait before restarting a
	// defunct browse.
	DefaultDiscoveryBackoff = 250 * time.Millisecond

	// DefaultMaxDiscoveryBackoff caps the wait between browse restarts.
	DefaultMaxDiscoveryBackoff = 5 * time.Second
)
