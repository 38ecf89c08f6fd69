// Package idgen issues correlation ids used to group log lines and
// diagnostics belonging to a single request.
package idgen

import "sync"

// ID identifies one logical request. Valid ids are positive.
type ID = int64

// Generator hands out strictly increasing ids. It is safe for concurrent use.
type Generator struct {
	mu   sync.Mutex
	last ID
}

// Default is shared by every client that is not given its own generator, so
// ids stay unique across client instances within the process.
var Default = &Generator{}

// New returns a generator whose first id is 1.
func New() *Generator {
	return &Generator{}
}

// Next returns the next id.
func (g *Generator) Next() ID {
	g.mu.Lock()
	g.last++
	id := g.last
	g.mu.Unlock()
	return id
}

// Last returns the most recently issued id, or 0 if none was issued.
func (g *Generator) Last() ID {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.last
}
