package observability

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"github.com/signalsfoundry/mesh-metering-simulator/core"
	"github.com/signalsfoundry/mesh-metering-simulator/model"
)

// SimCollector bundles the Prometheus metrics of a simulation run. It
// satisfies coordinator.Recorder. Counters aggregate over replicas; the
// gauges describe one replica's state and carry a replica label.
type SimCollector struct {
	gatherer prometheus.Gatherer
	replica  string

	Cycles        *prometheus.CounterVec
	HopAttempts   *prometheus.CounterVec
	HopTimeouts   *prometheus.CounterVec
	RouteLength   prometheus.Histogram
	LinkUpdates   prometheus.Counter
	UnusableLinks *prometheus.GaugeVec
	Devices       *prometheus.GaugeVec

	RPCRequests *prometheus.CounterVec
}

// NewSimCollector registers simulation metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
// Registering twice on the same registry returns the existing collectors, so
// parallel replicas can share one registry.
func NewSimCollector(reg prometheus.Registerer) (*SimCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	cycles, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meshsim_cycles_total",
		Help: "Coordinator cycles, labeled by outcome (success, data_fault, timeout, no_path).",
	}, []string{"outcome"}), "meshsim_cycles_total")
	if err != nil {
		return nil, err
	}

	attempts, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meshsim_hop_attempts_total",
		Help: "Transmission attempts on single hops, labeled by message kind.",
	}, []string{"kind"}), "meshsim_hop_attempts_total")
	if err != nil {
		return nil, err
	}

	hopTimeouts, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meshsim_hop_timeouts_total",
		Help: "Hops that exhausted their retransmissions, labeled by message kind.",
	}, []string{"kind"}), "meshsim_hop_timeouts_total")
	if err != nil {
		return nil, err
	}

	routeLength, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "meshsim_route_length_hops",
		Help:    "Length in links of the routes planned by the coordinator.",
		Buckets: prometheus.LinearBuckets(1, 1, 10),
	}), "meshsim_route_length_hops")
	if err != nil {
		return nil, err
	}

	updates, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "meshsim_link_updates_total",
		Help: "Topology graph edges re-weighted from link-quality reports.",
	}), "meshsim_link_updates_total")
	if err != nil {
		return nil, err
	}

	unusable, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "meshsim_unusable_links",
		Help: "Edges of the topology graph currently believed unusable, per replica.",
	}, []string{"replica"}), "meshsim_unusable_links")
	if err != nil {
		return nil, err
	}

	devices, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "meshsim_devices",
		Help: "Devices registered in the simulated mesh, per replica.",
	}, []string{"replica"}), "meshsim_devices")
	if err != nil {
		return nil, err
	}

	rpcs, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meshsim_rpc_requests_total",
		Help: "Handled gRPC requests, labeled by service, method, and gRPC status code.",
	}, []string{"service", "method", "code"}), "meshsim_rpc_requests_total")
	if err != nil {
		return nil, err
	}

	return &SimCollector{
		gatherer:      gatherer,
		replica:       "0",
		Cycles:        cycles,
		HopAttempts:   attempts,
		HopTimeouts:   hopTimeouts,
		RouteLength:   routeLength,
		LinkUpdates:   updates,
		UnusableLinks: unusable,
		Devices:       devices,
		RPCRequests:   rpcs,
	}, nil
}

// ForReplica returns a view of c whose gauges are labeled with replica. The
// view shares every collector with c.
func (c *SimCollector) ForReplica(replica int) *SimCollector {
	if c == nil {
		return nil
	}
	view := *c
	view.replica = strconv.Itoa(replica)
	return &view
}

// CycleFinished counts a finished cycle and, when a route was planned,
// observes its length.
func (c *SimCollector) CycleFinished(outcome string, routeLen int) {
	if c == nil {
		return
	}
	c.Cycles.WithLabelValues(outcome).Inc()
	if routeLen > 0 {
		c.RouteLength.Observe(float64(routeLen))
	}
}

func (c *SimCollector) HopDelivered(kind model.MessageKind, res core.HopResult) {
	if c == nil {
		return
	}
	c.HopAttempts.WithLabelValues(kind.String()).Add(float64(res.Attempts))
	if !res.Outcome.OK() {
		c.HopTimeouts.WithLabelValues(kind.String()).Inc()
	}
}

func (c *SimCollector) LinksUpdated(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.LinkUpdates.Add(float64(n))
}

// SetUnusableLinks sets the unusable-edge gauge of c's replica.
func (c *SimCollector) SetUnusableLinks(n int) {
	if c == nil {
		return
	}
	c.UnusableLinks.WithLabelValues(c.replica).Set(float64(n))
}

// SetDevices sets the registered device gauge of c's replica.
func (c *SimCollector) SetDevices(n int) {
	if c == nil {
		return
	}
	c.Devices.WithLabelValues(c.replica).Set(float64(n))
}

// Handler exposes a ready-to-use /metrics handler.
func (c *SimCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// UnaryServerInterceptor counts unary RPCs served by the health endpoint.
func (c *SimCollector) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		resp, err := handler(ctx, req)
		if c == nil || c.RPCRequests == nil {
			return resp, err
		}
		fullMethod := ""
		if info != nil {
			fullMethod = info.FullMethod
		}
		service, method := SplitMethod(fullMethod)
		c.RPCRequests.WithLabelValues(service, method, status.Code(err).String()).Inc()
		return resp, err
	}
}

// SplitMethod parses a fully-qualified gRPC method name into service and method
// components. It tolerates empty strings and partial paths, returning
// "unknown"/"unknown" when parsing fails.
func SplitMethod(fullMethod string) (string, string) {
	if fullMethod == "" {
		return "unknown", "unknown"
	}
	parts := strings.Split(strings.TrimPrefix(fullMethod, "/"), "/")
	if len(parts) < 2 {
		return "unknown", "unknown"
	}
	service, method := parts[len(parts)-2], parts[len(parts)-1]
	if dot := strings.LastIndex(service, "."); dot >= 0 && dot+1 < len(service) {
		service = service[dot+1:]
	}
	if service == "" {
		service = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	return service, method
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerHistogram(reg prometheus.Registerer, h prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(h); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return h, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}
