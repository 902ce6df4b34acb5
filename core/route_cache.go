package core

import (
	"slices"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/signalsfoundry/mesh-metering-simulator/model"
)

// DefaultRouteCacheTTL bounds how long a planned route is kept around.
const DefaultRouteCacheTTL = time.Minute

type routeKey struct {
	from, to model.Address
	version  uint64
}

// Planner answers shortest-path queries on a graph, memoising results per
// graph version. Any mutation of the graph changes its version, so a cached
// route is always the route Dijkstra would return right now.
type Planner struct {
	graph *Graph
	cache *ttlcache.Cache[routeKey, Route]
}

// NewPlanner wraps g. A non-positive ttl disables caching.
func NewPlanner(g *Graph, ttl time.Duration) *Planner {
	p := &Planner{graph: g}
	if ttl > 0 {
		p.cache = ttlcache.New[routeKey, Route](
			ttlcache.WithTTL[routeKey, Route](ttl),
			ttlcache.WithCapacity[routeKey, Route](4096),
			ttlcache.WithDisableTouchOnHit[routeKey, Route](),
		)
	}
	return p
}

// Graph returns the graph being planned on.
func (p *Planner) Graph() *Graph { return p.graph }

// Plan returns the least-cost route from one device to another.
func (p *Planner) Plan(from, to model.Address) (Route, error) {
	if p.cache == nil {
		return p.graph.ShortestPath(from, to)
	}
	if item := p.cache.Get(routeKey{from: from, to: to, version: p.graph.Version()}); item != nil {
		r := item.Value()
		return Route{Hops: slices.Clone(r.Hops), Cost: r.Cost}, nil
	}
	r, version, err := p.graph.shortestPath(from, to)
	if err != nil {
		return Route{}, err
	}
	p.cache.Set(routeKey{from: from, to: to, version: version}, r, ttlcache.DefaultTTL)
	return Route{Hops: slices.Clone(r.Hops), Cost: r.Cost}, nil
}

// Purge drops routes planned on older graph versions.
func (p *Planner) Purge() {
	if p.cache == nil {
		return
	}
	current := p.graph.Version()
	for _, k := range p.cache.Keys() {
		if k.version != current {
			p.cache.Delete(k)
		}
	}
}

// CachedRoutes reports the number of memoised routes.
func (p *Planner) CachedRoutes() int {
	if p.cache == nil {
		return 0
	}
	return p.cache.Len()
}
