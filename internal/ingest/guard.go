package ingest

import "sync"

// keyedGuard admits one holder per key and refuses the rest instead of
// queueing them.
type keyedGuard struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func newKeyedGuard() *keyedGuard {
	return &keyedGuard{held: make(map[string]struct{})}
}

func (g *keyedGuard) acquire(key string) (release func(), ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.held[key]; busy {
		return nil, false
	}
	g.held[key] = struct{}{}
	return func() {
		g.mu.Lock()
		delete(g.held, key)
		g.mu.Unlock()
	}, true
}
