// Package discovery finds hubs on the local network over mDNS/DNS-SD
// and keeps the latest result as an atomically replaced [Registry]
// snapshot.
package discovery

import (
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/google/uuid"
)

// NoSelection is the reserved endpoint name meaning "no service
// chosen; use a direct host and port".  It is always the first entry
// of every snapshot and never resolves.
const NoSelection = "<No Hub Selected>"

// Endpoint is one named, discoverable hub.
type Endpoint struct {
	ID     uuid.UUID
	Name   string
	Target string // host:port, empty when unresolved
	Host   string
	Port   int
	Text   []string
}

// Resolved reports whether the endpoint has a connectable target.
func (e Endpoint) Resolved() bool { return e.Target != "" }

func (e Endpoint) String() string {
	if e.Target == "" {
		return e.Name + " (unresolved)"
	}
	return fmt.Sprintf("%s (%s)", e.Name, e.Target)
}

var sentinel = Endpoint{Name: NoSelection}

// Registry holds the current endpoint snapshot.  Updates replace the
// whole list, so readers never observe a partial update and no lock is
// needed.  The zero value is ready to use.
type Registry struct {
	snap atomic.Pointer[[]Endpoint]
}

// NewRegistry returns a registry holding only the sentinel.
func NewRegistry() *Registry {
	r := &Registry{}
	r.Clear()
	return r
}

func (r *Registry) load() []Endpoint {
	if p := r.snap.Load(); p != nil {
		return *p
	}
	return []Endpoint{sentinel}
}

// Snapshot returns a copy of the current list, sentinel first.
func (r *Registry) Snapshot() []Endpoint {
	cur := r.load()
	out := make([]Endpoint, len(cur))
	copy(out, cur)
	return out
}

// Len returns the number of discovered endpoints, sentinel excluded.
func (r *Registry) Len() int { return len(r.load()) - 1 }

// Lookup returns the first endpoint named name that has a target.
func (r *Registry) Lookup(name string) (Endpoint, bool) {
	if name == "" || name == NoSelection {
		return Endpoint{}, false
	}
	for _, ep := range r.load() {
		if ep.Name == name && ep.Resolved() {
			return ep, true
		}
	}
	return Endpoint{}, false
}

// Replace installs eps as the new snapshot.  Entries are deduplicated
// by name (first occurrence wins), sorted by name and placed after the
// sentinel.  Entries with an empty or reserved name are dropped.
func (r *Registry) Replace(eps []Endpoint) {
	seen := make(map[string]bool, len(eps))
	list := make([]Endpoint, 0, len(eps)+1)
	for _, ep := range eps {
		if ep.Name == "" || ep.Name == NoSelection || seen[ep.Name] {
			continue
		}
		seen[ep.Name] = true
		list = append(list, ep)
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].Name < list[j].Name })

	snap := append([]Endpoint{sentinel}, list...)
	r.snap.Store(&snap)
}

// Clear resets the registry to just the sentinel.
func (r *Registry) Clear() {
	snap := []Endpoint{sentinel}
	r.snap.Store(&snap)
}
