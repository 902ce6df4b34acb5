package core

import (
	"fmt"
	"math"
	"slices"
	"sync"

	"github.com/signalsfoundry/mesh-metering-simulator/model"
)

// Edge is an undirected weighted link between two devices. A is always the
// lower address.
type Edge struct {
	A, B   model.Address
	Weight float64
}

// Graph is an undirected weighted graph keyed by device address. Weights are
// link-quality costs in [0, model.UnusableWeight].
//
// All reads of one planning run happen under a single read lock, so a
// planner never observes a half-applied update.
type Graph struct {
	mu      sync.RWMutex
	adj     map[model.Address]map[model.Address]float64
	version uint64
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{adj: make(map[model.Address]map[model.Address]float64)}
}

// Version changes on every mutation.
func (g *Graph) Version() uint64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.version
}

// AddVertex inserts a vertex; adding an existing vertex is a no-op.
func (g *Graph) AddVertex(a model.Address) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.adj[a]; ok {
		return
	}
	g.adj[a] = make(map[model.Address]float64)
	g.version++
}

// RemoveVertex deletes a vertex and every edge touching it.
func (g *Graph) RemoveVertex(a model.Address) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	nbrs, ok := g.adj[a]
	if !ok {
		return fmt.Errorf("remove %d: %w", a, ErrVertexNotFound)
	}
	for n := range nbrs {
		delete(g.adj[n], a)
	}
	delete(g.adj, a)
	g.version++
	return nil
}

// HasVertex reports whether a is part of the graph.
func (g *Graph) HasVertex(a model.Address) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.adj[a]
	return ok
}

// Vertices returns all addresses in ascending order.
func (g *Graph) Vertices() []model.Address {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]model.Address, 0, len(g.adj))
	for a := range g.adj {
		out = append(out, a)
	}
	slices.Sort(out)
	return out
}

// SetEdge adds or updates the edge between a and b, creating missing
// vertices.
func (g *Graph) SetEdge(a, b model.Address, w float64) error {
	if err := checkEdge(a, b, w); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, v := range []model.Address{a, b} {
		if _, ok := g.adj[v]; !ok {
			g.adj[v] = make(map[model.Address]float64)
		}
	}
	g.adj[a][b] = w
	g.adj[b][a] = w
	g.version++
	return nil
}

// UpdateEdge changes the weight of an existing edge. Unlike SetEdge it never
// creates links: feedback may only re-weight links that physically exist.
func (g *Graph) UpdateEdge(a, b model.Address, w float64) error {
	if err := checkEdge(a, b, w); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.adj[a][b]; !ok {
		return fmt.Errorf("update %d-%d: %w", a, b, ErrEdgeNotFound)
	}
	g.adj[a][b] = w
	g.adj[b][a] = w
	g.version++
	return nil
}

func checkEdge(a, b model.Address, w float64) error {
	if a == b {
		return fmt.Errorf("self loop on %d: %w", a, ErrInvalidWeight)
	}
	if math.IsNaN(w) || w < 0 || w > model.UnusableWeight {
		return fmt.Errorf("weight %v on %d-%d: %w", w, a, b, ErrInvalidWeight)
	}
	return nil
}

// HasEdge reports whether a and b are directly linked.
func (g *Graph) HasEdge(a, b model.Address) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.adj[a][b]
	return ok
}

// Weight returns the current cost of the edge between a and b.
func (g *Graph) Weight(a, b model.Address) (float64, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	w, ok := g.adj[a][b]
	if !ok {
		return 0, fmt.Errorf("weight %d-%d: %w", a, b, ErrEdgeNotFound)
	}
	return w, nil
}

// Neighbors returns the addresses directly linked to a, in ascending order.
func (g *Graph) Neighbors(a model.Address) ([]model.Address, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	nbrs, ok := g.adj[a]
	if !ok {
		return nil, fmt.Errorf("neighbors of %d: %w", a, ErrVertexNotFound)
	}
	return sortedKeys(nbrs), nil
}

// Edges returns every edge once, ordered by (A, B).
func (g *Graph) Edges() []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []Edge
	for a, nbrs := range g.adj {
		for b, w := range nbrs {
			if a < b {
				out = append(out, Edge{A: a, B: b, Weight: w})
			}
		}
	}
	slices.SortFunc(out, func(x, y Edge) int {
		if x.A != y.A {
			return int(x.A - y.A)
		}
		return int(x.B - y.B)
	})
	return out
}

// CountEdges counts edges whose weight satisfies pred.
func (g *Graph) CountEdges(pred func(w float64) bool) int {
	n := 0
	for _, e := range g.Edges() {
		if pred(e.Weight) {
			n++
		}
	}
	return n
}

// Clone returns a deep copy sharing no state with g.
func (g *Graph) Clone() *Graph {
	g.mu.RLock()
	defer g.mu.RUnlock()
	c := &Graph{adj: make(map[model.Address]map[model.Address]float64, len(g.adj))}
	for a, nbrs := range g.adj {
		m := make(map[model.Address]float64, len(nbrs))
		for b, w := range nbrs {
			m[b] = w
		}
		c.adj[a] = m
	}
	return c
}

func sortedKeys(m map[model.Address]float64) []model.Address {
	out := make([]model.Address, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
