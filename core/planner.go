package core

import (
	"container/heap"
	"fmt"
	"math"
	"slices"

	"github.com/signalsfoundry/mesh-metering-simulator/model"
)

// Route is a planned path. Hops starts at the source and ends at the target.
type Route struct {
	Hops []model.Address
	Cost float64
}

// Len is the number of links traversed.
func (r Route) Len() int {
	if len(r.Hops) == 0 {
		return 0
	}
	return len(r.Hops) - 1
}

// ShortestPath runs Dijkstra from one device to another. The unusable
// sentinel weight is an ordinary (high) cost. Ties on distance are broken by
// the lower address so the result only depends on the graph contents.
func (g *Graph) ShortestPath(from, to model.Address) (Route, error) {
	r, _, err := g.shortestPath(from, to)
	return r, err
}

func (g *Graph) shortestPath(from, to model.Address) (Route, uint64, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if _, ok := g.adj[from]; !ok {
		return Route{}, g.version, fmt.Errorf("path %d->%d: source: %w", from, to, ErrVertexNotFound)
	}
	if _, ok := g.adj[to]; !ok {
		return Route{}, g.version, fmt.Errorf("path %d->%d: target: %w", from, to, ErrVertexNotFound)
	}
	if from == to {
		return Route{Hops: []model.Address{from}}, g.version, nil
	}

	dist := map[model.Address]float64{from: 0}
	prev := make(map[model.Address]model.Address)
	done := make(map[model.Address]bool)

	pq := &distQueue{{addr: from, dist: 0}}
	for pq.Len() > 0 {
		cur := heap.Pop(pq).(distItem)
		if done[cur.addr] {
			continue
		}
		done[cur.addr] = true
		if cur.addr == to {
			break
		}
		for n, w := range g.adj[cur.addr] {
			if done[n] {
				continue
			}
			nd := cur.dist + w
			if old, seen := dist[n]; !seen || nd < old || (nd == old && cur.addr < prev[n]) {
				dist[n] = nd
				prev[n] = cur.addr
				heap.Push(pq, distItem{addr: n, dist: nd})
			}
		}
	}

	cost, ok := dist[to]
	if !ok || math.IsInf(cost, 1) {
		return Route{}, g.version, fmt.Errorf("path %d->%d: %w", from, to, ErrNoPathFound)
	}
	hops := []model.Address{to}
	for at := to; at != from; {
		at = prev[at]
		hops = append(hops, at)
	}
	slices.Reverse(hops)
	return Route{Hops: hops, Cost: cost}, g.version, nil
}

type distItem struct {
	addr model.Address
	dist float64
}

type distQueue []distItem

func (q distQueue) Len() int { return len(q) }
func (q distQueue) Less(i, j int) bool {
	if q[i].dist != q[j].dist {
		return q[i].dist < q[j].dist
	}
	return q[i].addr < q[j].addr
}
func (q distQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *distQueue) Push(x any)   { *q = append(*q, x.(distItem)) }
func (q *distQueue) Pop() any {
	old := *q
	it := old[len(old)-1]
	*q = old[:len(old)-1]
	return it
}
