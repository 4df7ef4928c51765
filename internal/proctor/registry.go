package proctor

import (
	"sync"

	"github.com/google/uuid"
)

// Registry tracks the active session runtimes on this node. A reload or
// reconnect re-attaches to the existing runtime; a fresh resume after a
// node restart builds a new one from persisted state.
type Registry struct {
	mu       sync.RWMutex
	runtimes map[uuid.UUID]*Runtime
}

// NewRegistry creates an empty runtime registry.
func NewRegistry() *Registry {
	return &Registry{runtimes: make(map[uuid.UUID]*Runtime)}
}

// Get returns the runtime for the session, or nil.
func (g *Registry) Get(sessionID uuid.UUID) *Runtime {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.runtimes[sessionID]
}

// Attach stores a runtime unless one is already registered for the same
// session, in which case the existing runtime wins and is returned.
func (g *Registry) Attach(rt *Runtime) *Runtime {
	g.mu.Lock()
	defer g.mu.Unlock()
	if existing, ok := g.runtimes[rt.SessionID()]; ok {
		return existing
	}
	g.runtimes[rt.SessionID()] = rt
	return rt
}

// Remove drops the runtime for the session, if any.
func (g *Registry) Remove(sessionID uuid.UUID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.runtimes, sessionID)
}

// CloseAll stops every registered runtime. Called on shutdown.
func (g *Registry) CloseAll() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for id, rt := range g.runtimes {
		rt.Close()
		delete(g.runtimes, id)
	}
}
