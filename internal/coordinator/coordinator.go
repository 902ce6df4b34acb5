// Package coordinator drives the polling cycle of the mesh coordinator:
// select a target, plan a route, exchange request and response along it,
// and fold the resulting link-quality feedback into the topology graph.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/mesh-metering-simulator/core"
	"github.com/signalsfoundry/mesh-metering-simulator/internal/logging"
	"github.com/signalsfoundry/mesh-metering-simulator/internal/stats"
	"github.com/signalsfoundry/mesh-metering-simulator/model"
	"github.com/signalsfoundry/mesh-metering-simulator/timectrl"
)

const tracerName = "github.com/signalsfoundry/mesh-metering-simulator/internal/coordinator"

var (
	// ErrMissingCoordinatorInRoute means the planner produced a route that
	// does not start at the coordinator. The topology is broken; the run
	// must stop.
	ErrMissingCoordinatorInRoute = errors.New("route does not start at the coordinator")
	// ErrNoReachableTarget means a full rotation found no route at all.
	ErrNoReachableTarget = errors.New("no target reachable from the coordinator")
)

// FetchMode selects how the target rotation is ordered.
type FetchMode int

const (
	FetchSequential FetchMode = iota
	FetchRandom
)

// ParseFetchMode maps "sequential" and "random" to a FetchMode.
func ParseFetchMode(s string) (FetchMode, error) {
	switch s {
	case "", "sequential":
		return FetchSequential, nil
	case "random":
		return FetchRandom, nil
	default:
		return FetchSequential, fmt.Errorf("unknown destination fetch mode %q", s)
	}
}

// Config parameterises a coordinator.
type Config struct {
	RetransmissionLimit int
	// Lasting is the number of sent requests after which Run terminates.
	Lasting uint64
	Fetch   FetchMode
	Seed    uint64
	// DataFaultThreshold is the worst final-hop error estimate for which an
	// endpoint still produces a valid reading.
	DataFaultThreshold   float64
	RequestPayloadBytes  int
	ResponsePayloadBytes int
}

// DefaultConfig mirrors the defaults of the simulator configuration.
func DefaultConfig() Config {
	return Config{
		RetransmissionLimit:  core.DefaultRetransmissionLimit,
		Lasting:              1000,
		Fetch:                FetchSequential,
		DataFaultThreshold:   0.5,
		RequestPayloadBytes:  4,
		ResponsePayloadBytes: 20,
	}
}

// State is a step of the coordinator cycle.
type State int

const (
	StateSelectTarget State = iota
	StatePlanRoute
	StateTransmit
	StateAwaitOutcome
	StateApplyFeedback
	StateTerminate
)

func (s State) String() string {
	switch s {
	case StateSelectTarget:
		return "select_target"
	case StatePlanRoute:
		return "plan_route"
	case StateTransmit:
		return "transmit"
	case StateAwaitOutcome:
		return "await_outcome"
	case StateApplyFeedback:
		return "apply_feedback"
	case StateTerminate:
		return "terminate"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// CycleOutcome classifies a finished cycle.
type CycleOutcome int

const (
	CycleSuccess CycleOutcome = iota
	CycleDataFault
	CycleTimeout
	CycleNoPath
)

func (o CycleOutcome) String() string {
	switch o {
	case CycleSuccess:
		return "success"
	case CycleDataFault:
		return "data_fault"
	case CycleTimeout:
		return "timeout"
	case CycleNoPath:
		return "no_path"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// CycleResult describes one pass through the cycle.
type CycleResult struct {
	Target  model.Address
	Route   core.Route
	Outcome CycleOutcome
	// Response is set when a response reached the coordinator.
	Response *model.Message
	// FailedFrom and FailedTo name the hop that timed out.
	FailedFrom, FailedTo model.Address
	// GraphUpdated reports whether feedback changed the topology graph.
	GraphUpdated bool
	UpdatedLinks int
}

// RoutePlanner plans routes over the coordinator's topology graph.
// *core.Planner is the production implementation.
type RoutePlanner interface {
	Plan(from, to model.Address) (core.Route, error)
	// Purge drops plans made against older graph versions.
	Purge()
	Graph() *core.Graph
}

// Recorder receives cycle-level observations, e.g. for Prometheus.
type Recorder interface {
	CycleFinished(outcome string, routeLen int)
	HopDelivered(kind model.MessageKind, res core.HopResult)
	LinksUpdated(n int)
	SetUnusableLinks(n int)
}

type nopRecorder struct{}

func (nopRecorder) CycleFinished(string, int)                      {}
func (nopRecorder) HopDelivered(model.MessageKind, core.HopResult) {}
func (nopRecorder) LinksUpdated(int)                               {}
func (nopRecorder) SetUnusableLinks(int)                           {}

// Coordinator owns the topology graph and runs the polling cycle. It is
// single threaded: one cycle completes before the next starts.
type Coordinator struct {
	self    *core.Device
	net     core.Mediator
	planner RoutePlanner
	engine  *core.DeliveryEngine
	cfg     Config

	rotation []model.Address
	next     int
	state    State

	results *stats.Results
	log     logging.Logger
	rec     Recorder
	tracer  trace.Tracer
	pacer   *timectrl.Pacer
}

// Option customises a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the structured logger.
func WithLogger(l logging.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.log = l
		}
	}
}

// WithRecorder attaches a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(c *Coordinator) {
		if r != nil {
			c.rec = r
		}
	}
}

// WithTracer overrides the tracer taken from the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(c *Coordinator) {
		if t != nil {
			c.tracer = t
		}
	}
}

// WithPacer spaces cycles with a pacer.
func WithPacer(p *timectrl.Pacer) Option {
	return func(c *Coordinator) { c.pacer = p }
}

// WithResults shares a results aggregate with the caller.
func WithResults(r *stats.Results) Option {
	return func(c *Coordinator) {
		if r != nil {
			c.results = r
		}
	}
}

// New builds a coordinator for self polling endpoints.
func New(self *core.Device, net core.Mediator, planner RoutePlanner, endpoints []model.Address, cfg Config, opts ...Option) (*Coordinator, error) {
	if self == nil || !self.IsCoordinator() {
		return nil, fmt.Errorf("coordinator: device with coordinator role required")
	}
	if net == nil || planner == nil {
		return nil, fmt.Errorf("coordinator: network and planner are required")
	}
	rotation := make([]model.Address, 0, len(endpoints))
	for _, a := range endpoints {
		if a != self.Address() {
			rotation = append(rotation, a)
		}
	}
	if len(rotation) == 0 {
		return nil, fmt.Errorf("coordinator: no endpoints to poll")
	}
	slices.Sort(rotation)
	if cfg.Fetch == FetchRandom {
		rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed+1))
		rng.Shuffle(len(rotation), func(i, j int) {
			rotation[i], rotation[j] = rotation[j], rotation[i]
		})
	}

	c := &Coordinator{
		self:     self,
		net:      net,
		planner:  planner,
		engine:   core.NewDeliveryEngine(net, cfg.RetransmissionLimit),
		cfg:      cfg,
		rotation: rotation,
		state:    StateSelectTarget,
		results:  stats.NewResults(),
		log:      logging.Noop(),
		rec:      nopRecorder{},
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// State returns the current cycle state.
func (c *Coordinator) State() State { return c.state }

// Results exposes the run aggregates.
func (c *Coordinator) Results() *stats.Results { return c.results }

// Rotation returns the target order.
func (c *Coordinator) Rotation() []model.Address { return slices.Clone(c.rotation) }

// Graph is the coordinator's topology graph.
func (c *Coordinator) Graph() *core.Graph { return c.planner.Graph() }

// Run repeats the cycle until Lasting requests were sent, ctx is done, or a
// fatal error occurs. A logger stored on ctx replaces the configured one.
func (c *Coordinator) Run(ctx context.Context) error {
	if l := logging.LoggerFromContext(ctx); l != nil {
		c.log = l
	}
	c.log.Info(ctx, "simulation starts",
		logging.Int("coordinator", int(c.self.Address())),
		logging.Int("targets", len(c.rotation)),
		logging.Int("lasting", int(c.cfg.Lasting)),
	)
	skipped := 0
	for c.results.MessagesSent() < c.cfg.Lasting {
		if err := ctx.Err(); err != nil {
			c.state = StateTerminate
			return err
		}
		res, err := c.Cycle(ctx)
		if err != nil {
			c.state = StateTerminate
			c.log.Error(ctx, "simulation aborted", logging.Err(err))
			return err
		}
		if res.Outcome == CycleNoPath {
			skipped++
			if skipped >= len(c.rotation) {
				c.state = StateTerminate
				return ErrNoReachableTarget
			}
		} else {
			skipped = 0
		}
		if c.pacer != nil {
			if err := c.pacer.Advance(ctx); err != nil {
				c.state = StateTerminate
				return err
			}
		}
	}
	c.state = StateTerminate
	c.log.Info(ctx, "simulation finished", logging.String("results", c.results.String()))
	return nil
}

func (c *Coordinator) selectTarget() model.Address {
	if c.next >= len(c.rotation) {
		c.next = 0
	}
	t := c.rotation[c.next]
	c.next++
	return t
}

// Cycle runs one pass from SelectTarget to ApplyFeedback. NoPathFound and
// timeouts are reported in the result; an error means the run must stop.
func (c *Coordinator) Cycle(ctx context.Context) (CycleResult, error) {
	c.state = StateSelectTarget
	target := c.selectTarget()

	ctx, span := c.tracer.Start(ctx, "coordinator.cycle",
		trace.WithAttributes(attribute.Int("target", int(target))))
	defer span.End()

	res := CycleResult{Target: target}

	c.state = StatePlanRoute
	route, err := c.planner.Plan(c.self.Address(), target)
	if errors.Is(err, core.ErrNoPathFound) {
		c.log.Warn(ctx, "no path to target, skipping cycle", logging.Int("target", int(target)))
		res.Outcome = CycleNoPath
		c.results.RecordNoPath()
		c.finish(span, res)
		c.state = StateSelectTarget
		return res, nil
	}
	if err != nil {
		return c.fail(span, res, fmt.Errorf("plan route to %d: %w", target, err))
	}
	if len(route.Hops) < 2 || route.Hops[0] != c.self.Address() {
		return c.fail(span, res, fmt.Errorf("route %v to %d: %w", route.Hops, target, ErrMissingCoordinatorInRoute))
	}
	res.Route = route
	c.log.Debug(ctx, "route planned",
		logging.Int("target", int(target)),
		logging.Any("route", route.Hops),
		logging.Float("cost", route.Cost),
	)

	c.state = StateTransmit
	req, err := model.NewRequest(route.Hops, c.cfg.RequestPayloadBytes)
	if err != nil {
		return c.fail(span, res, err)
	}
	c.results.RecordSent(route.Len())

	c.state = StateAwaitOutcome
	ex, err := c.exchange(ctx, req)
	if err != nil {
		return c.fail(span, res, err)
	}

	c.state = StateApplyFeedback
	if ex.timedOut {
		res.Outcome = CycleTimeout
		res.FailedFrom, res.FailedTo = ex.failedFrom, ex.failedTo
		res.GraphUpdated, err = c.ApplyTimeout(ctx, target)
		if err != nil {
			return c.fail(span, res, err)
		}
	} else {
		res.Response = ex.response
		res.Outcome = CycleSuccess
		if ex.response.Data == 0 {
			res.Outcome = CycleDataFault
		}
		res.UpdatedLinks, err = c.ApplyResponse(ctx, ex.response)
		if err != nil {
			return c.fail(span, res, err)
		}
		res.GraphUpdated = res.UpdatedLinks > 0
	}

	c.finish(span, res)
	c.state = StateSelectTarget
	return res, nil
}

func (c *Coordinator) finish(span trace.Span, res CycleResult) {
	span.SetAttributes(
		attribute.String("outcome", res.Outcome.String()),
		attribute.Int("route_length", res.Route.Len()),
		attribute.Int("updated_links", res.UpdatedLinks),
	)
	c.rec.CycleFinished(res.Outcome.String(), res.Route.Len())
}

func (c *Coordinator) fail(span trace.Span, res CycleResult, err error) (CycleResult, error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	c.state = StateTerminate
	return res, err
}
