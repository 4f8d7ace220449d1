// Package router dispatches incoming packets to per-capability,
// per-source-id queues.
package router

import (
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v4"

	"roc/internal/packet"
)

// Writer accepts a routed packet. Implementations are typically a
// session's validator or jitter buffer entry point.
type Writer interface {
	Write(p *packet.Packet) error
}

// Factory builds the Writer for a newly-seen RTP source-id on a route.
// It is called at most once per (route, source-id) pair.
type Factory func(sourceID uint32) Writer

type routeEntry struct {
	mask    packet.Flags
	factory Factory
}

type sessionKey struct {
	route    int
	sourceID uint32
}

// Router matches a packet's flags against a registered route list and
// forwards it to that route's per-source-id Writer. Routes are tried in
// registration order; the first whose mask is fully contained in the
// packet's flags wins. Two streams sharing a transport endpoint are
// demultiplexed into distinct sessions by RTP source-id; packets
// without an RTP view (bare FEC repair packets) are keyed under a
// single session per route, since a receiver always binds a repair
// flow's socket to one session already.
type Router struct {
	mu       sync.Mutex // guards routes only; sessions has its own striped locking
	routes   []routeEntry
	sessions *xsync.Map[sessionKey, Writer]
	dropped  atomic.Uint64
}

// New constructs an empty router.
func New() *Router {
	return &Router{sessions: xsync.NewMap[sessionKey, Writer]()}
}

// AddRoute registers a route. mask is the required-flag-mask: a packet
// matches when its flags contain every bit in mask.
func (r *Router) AddRoute(mask packet.Flags, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes = append(r.routes, routeEntry{mask: mask, factory: factory})
}

// Dispatch delivers p to the first matching route's writer for p's
// source-id, creating that writer lazily on the session's first
// packet. A packet matching no route is dropped silently and released,
// with Dropped bumped.
func (r *Router) Dispatch(p *packet.Packet) error {
	flags := p.Flags()

	r.mu.Lock()
	routes := r.routes
	r.mu.Unlock()

	for i, route := range routes {
		if !flags.Has(route.mask) {
			continue
		}
		key := sessionKey{route: i, sourceID: sourceIDOf(p)}
		w, ok := r.sessions.Load(key)
		if !ok {
			w = route.factory(key.sourceID)
			r.sessions.Store(key, w)
		}
		return w.Write(p)
	}
	r.dropped.Add(1)

	p.Release()
	return nil
}

func sourceIDOf(p *packet.Packet) uint32 {
	if p.Flags().Has(packet.FlagRTP) {
		return p.RTP().SourceID
	}
	return 0
}

// RemoveSession drops the cached writer for a route/source-id pair,
// e.g. once the session table has reaped that session.
func (r *Router) RemoveSession(route int, sourceID uint32) {
	r.sessions.Delete(sessionKey{route: route, sourceID: sourceID})
}

// Dropped reports how many packets matched no route.
func (r *Router) Dropped() uint64 {
	return r.dropped.Load()
}
