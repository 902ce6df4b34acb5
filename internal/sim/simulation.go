// Package sim wires complete simulations out of a configuration and a
// topology, and runs independent replicas in parallel.
package sim

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/signalsfoundry/mesh-metering-simulator/core"
	"github.com/signalsfoundry/mesh-metering-simulator/internal/config"
	"github.com/signalsfoundry/mesh-metering-simulator/internal/coordinator"
	"github.com/signalsfoundry/mesh-metering-simulator/internal/logging"
	"github.com/signalsfoundry/mesh-metering-simulator/internal/stats"
	"github.com/signalsfoundry/mesh-metering-simulator/kb"
	"github.com/signalsfoundry/mesh-metering-simulator/timectrl"
)

// MetricsRecorder receives cycle observations and the device count.
type MetricsRecorder interface {
	coordinator.Recorder
	SetDevices(n int)
}

// Simulation is one fully wired replica. Replicas share nothing mutable.
type Simulation struct {
	Replica     int
	Registry    *kb.KnowledgeBase
	Network     *core.Network
	Planner     *core.Planner
	Coordinator *coordinator.Coordinator
	Results     *stats.Results

	log logging.Logger
}

type options struct {
	log     logging.Logger
	metrics MetricsRecorder
	pacer   *timectrl.Pacer
	channel core.Channel
}

// Option customises Build.
type Option func(*options)

// WithLogger sets the base logger; replicas annotate it with their number.
func WithLogger(l logging.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithMetrics attaches a recorder, typically *observability.SimCollector.
func WithMetrics(m MetricsRecorder) Option {
	return func(o *options) { o.metrics = m }
}

// WithPacer spaces the replica's cycles.
func WithPacer(p *timectrl.Pacer) Option {
	return func(o *options) { o.pacer = p }
}

// WithChannel replaces the topology's BER channel, e.g. with a
// core.StaticChannel in tests.
func WithChannel(ch core.Channel) Option {
	return func(o *options) { o.channel = ch }
}

// Build wires replica number replica of the simulation described by cfg and
// topo. Each call creates fresh devices, graphs and channel state.
func Build(cfg config.Config, topo *core.Topology, replica int, opts ...Option) (*Simulation, error) {
	if topo == nil {
		return nil, fmt.Errorf("build replica %d: topology is required", replica)
	}
	o := options{log: logging.Noop()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logging.Noop()
	}
	log := o.log.With(logging.Int("replica", replica))

	registry := kb.NewKnowledgeBase()
	if o.metrics != nil {
		unsubscribe := registry.Subscribe(func(kb.Event) {
			o.metrics.SetDevices(registry.Len())
		})
		defer unsubscribe()
	}
	if err := registry.Populate(topo); err != nil {
		return nil, fmt.Errorf("build replica %d: %w", replica, err)
	}
	self, err := registry.Coordinator()
	if err != nil {
		return nil, fmt.Errorf("build replica %d: %w", replica, err)
	}

	channel := o.channel
	if channel == nil {
		channel = topo.Channel(cfg.ReplicaSeed(replica))
	}
	network, err := core.NewNetwork(topo.PhysicalGraph(), registry, channel)
	if err != nil {
		return nil, fmt.Errorf("build replica %d: %w", replica, err)
	}
	planner := core.NewPlanner(topo.BeliefGraph(), cfg.Simulation.RouteCacheTTL)
	results := stats.NewResults()

	copts := []coordinator.Option{
		coordinator.WithLogger(log),
		coordinator.WithResults(results),
		coordinator.WithPacer(o.pacer),
	}
	if o.metrics != nil {
		copts = append(copts, coordinator.WithRecorder(o.metrics))
	}
	coord, err := coordinator.New(self, network, planner, registry.Endpoints(), cfg.Coordinator(replica), copts...)
	if err != nil {
		return nil, fmt.Errorf("build replica %d: %w", replica, err)
	}

	return &Simulation{
		Replica:     replica,
		Registry:    registry,
		Network:     network,
		Planner:     planner,
		Coordinator: coord,
		Results:     results,
		log:         log,
	}, nil
}

// Run drives the replica's coordinator under a fresh run id.
func (s *Simulation) Run(ctx context.Context) error {
	ctx, log := logging.WithRunLogger(ctx, s.log)
	ctx = logging.ContextWithLogger(ctx, log)
	if err := s.Coordinator.Run(ctx); err != nil {
		return fmt.Errorf("replica %d: %w", s.Replica, err)
	}
	return nil
}

// Devices returns the replica's devices in address order.
func (s *Simulation) Devices() []*core.Device { return s.Registry.List() }

// Factory builds replica number replica.
type Factory func(replica int) (*Simulation, error)

// RunReplicas builds and runs n replicas concurrently. The first failure
// cancels the others. The merged results of every replica that finished are
// returned together with the replicas, in replica order.
func RunReplicas(ctx context.Context, n int, factory Factory) (stats.Snapshot, []*Simulation, error) {
	if n < 1 {
		return stats.Snapshot{}, nil, fmt.Errorf("run replicas: need at least one replica, got %d", n)
	}
	sims := make([]*Simulation, n)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			s, err := factory(i)
			if err != nil {
				return err
			}
			sims[i] = s
			return s.Run(gctx)
		})
	}
	err := g.Wait()

	total := stats.NewResults()
	for _, s := range sims {
		if s != nil {
			total.Merge(s.Results.Snapshot())
		}
	}
	return total.Snapshot(), sims, err
}
