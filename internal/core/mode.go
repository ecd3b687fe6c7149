// Package core is the orchestration layer.  It composes discovery, the
// connection supervisor and the transports into complete operational
// modes, and provides a builder that selects the mode from a Config.
//
// Architecture layers (bottom → top):
//
//	transport  →  stream  →  supervisor (+ discovery)  →  core  →  cmd (CLI)
package core

import "context"

// Mode is one complete operational mode of hublink (connect, browse or
// announce).  Each mode owns its full lifecycle and returns when ctx
// is cancelled or its work ends.
type Mode interface {
	Run(ctx context.Context) error
}
