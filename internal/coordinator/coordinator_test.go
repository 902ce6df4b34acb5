package coordinator

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/mesh-metering-simulator/core"
	"github.com/signalsfoundry/mesh-metering-simulator/internal/stats"
	"github.com/signalsfoundry/mesh-metering-simulator/kb"
	"github.com/signalsfoundry/mesh-metering-simulator/model"
	"github.com/signalsfoundry/mesh-metering-simulator/timectrl"
)

type fixture struct {
	registry *kb.KnowledgeBase
	channel  *core.StaticChannel
	physical *core.Graph
	belief   *core.Graph
	net      *core.Network
	planner  *core.Planner
}

// newFixture wires n devices, address 0 being the coordinator, linked by
// links in both the physical and the believed topology.
func newFixture(t *testing.T, n int, links [][2]model.Address) *fixture {
	t.Helper()
	f := &fixture{
		registry: kb.NewKnowledgeBase(),
		channel:  core.NewStaticChannel(),
		physical: core.NewGraph(),
		belief:   core.NewGraph(),
	}
	for i := 0; i < n; i++ {
		role := model.RoleEndpoint
		if i == 0 {
			role = model.RoleCoordinator
		}
		require.NoError(t, f.registry.Add(core.NewDevice(model.Address(i), role)))
		f.physical.AddVertex(model.Address(i))
		f.belief.AddVertex(model.Address(i))
	}
	for _, l := range links {
		require.NoError(t, f.physical.SetEdge(l[0], l[1], 0))
		require.NoError(t, f.belief.SetEdge(l[0], l[1], 0))
	}
	net, err := core.NewNetwork(f.physical, f.registry, f.channel)
	require.NoError(t, err)
	f.net = net
	f.planner = core.NewPlanner(f.belief, core.DefaultRouteCacheTTL)
	return f
}

func linear(t *testing.T) *fixture {
	return newFixture(t, 4, [][2]model.Address{{0, 1}, {1, 2}, {2, 3}})
}

func (f *fixture) device(t *testing.T, a model.Address) *core.Device {
	t.Helper()
	d, err := f.registry.Device(a)
	require.NoError(t, err)
	return d
}

func (f *fixture) coordinator(t *testing.T, endpoints []model.Address, cfg Config, opts ...Option) *Coordinator {
	t.Helper()
	c, err := New(f.device(t, 0), f.net, f.planner, endpoints, cfg, opts...)
	require.NoError(t, err)
	return c
}

func TestCycleErrorFreeLinearRoute(t *testing.T) {
	f := linear(t)
	c := f.coordinator(t, []model.Address{3}, DefaultConfig())

	res, err := c.Cycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, CycleSuccess, res.Outcome)
	require.Equal(t, []model.Address{0, 1, 2, 3}, res.Route.Hops)
	require.Equal(t, 3, res.Route.Len())
	require.NotNil(t, res.Response)
	require.Positive(t, res.Response.Data)

	snap := c.Results().Snapshot()
	require.EqualValues(t, 1, snap.MessagesSent)
	require.EqualValues(t, 1, snap.Successes)
	require.EqualValues(t, 3, snap.PathLengthSum)
	require.EqualValues(t, 6, snap.HopTransmissions, "three hops out, three back")
	require.EqualValues(t, 6, snap.HopSuccesses)
	require.Zero(t, snap.Retransmissions)

	for _, a := range []model.Address{0, 1, 2} {
		require.Zero(t, f.device(t, a).Counters().Retransmissions, "device %d", a)
	}
	// 3 reports (2), 2 reports (1, 3), 1 reports (0, 2).
	require.Equal(t, 5, res.UpdatedLinks)
	require.Equal(t, StateSelectTarget, c.State())
}

func TestCycleTimeoutOnIntermediateHop(t *testing.T) {
	f := linear(t)
	f.channel.Set(1, 2, model.CorruptedSignal)
	cfg := DefaultConfig()
	c := f.coordinator(t, []model.Address{3}, cfg)
	want := f.belief.Clone()
	require.NoError(t, want.SetEdge(0, 3, model.UnusableWeight))

	res, err := c.Cycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, CycleTimeout, res.Outcome)
	require.Equal(t, model.Address(1), res.FailedFrom)
	require.Equal(t, model.Address(2), res.FailedTo)
	require.True(t, res.GraphUpdated)
	w, err := f.belief.Weight(0, 3)
	require.NoError(t, err, "timeout must add the coordinator-target edge")
	require.Equal(t, model.UnusableWeight, w)
	require.Empty(t, cmp.Diff(want.Edges(), f.belief.Edges()))

	// The sentinel edge is selectable but costlier than the relayed route.
	route, err := f.planner.Plan(0, 3)
	require.NoError(t, err)
	require.Equal(t, []model.Address{0, 1, 2, 3}, route.Hops)

	coord := f.device(t, 0)
	v, ok := coord.Table().Lookup(3)
	require.True(t, ok)
	require.Equal(t, model.UnusableWeight, v)
	require.EqualValues(t, 1, coord.Counters().Timeouts)

	sender := f.device(t, 1)
	require.EqualValues(t, 1, sender.Counters().Timeouts)
	require.EqualValues(t, cfg.RetransmissionLimit+1, sender.Counters().Retransmissions)
	v, ok = sender.Table().Lookup(2)
	require.True(t, ok)
	require.Equal(t, model.UnusableWeight, v)

	snap := c.Results().Snapshot()
	require.EqualValues(t, 1, snap.FaultsWithoutUpdate)
	require.EqualValues(t, 1, snap.HopTimeouts)
	require.Zero(t, snap.Successes)
}

func TestTimeoutPenalisesDirectEdgeUntilReported(t *testing.T) {
	f := newFixture(t, 4, [][2]model.Address{{0, 1}, {1, 3}, {0, 3}, {0, 2}})
	require.NoError(t, f.belief.SetEdge(0, 3, 0.9))
	f.channel.Set(1, 3, model.CorruptedSignal)
	c := f.coordinator(t, []model.Address{3}, DefaultConfig())

	res, err := c.Cycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, CycleTimeout, res.Outcome)
	require.True(t, res.GraphUpdated)
	w, err := f.belief.Weight(0, 3)
	require.NoError(t, err)
	require.Equal(t, model.UnusableWeight, w)

	for i := 0; i < 3; i++ {
		_, err := f.planner.Plan(0, 3)
		require.NoError(t, err)
		w, err = f.belief.Weight(0, 3)
		require.NoError(t, err)
		require.Equal(t, model.UnusableWeight, w, "planning must not heal the link")
	}

	req, err := model.NewRequest([]model.Address{0, 3}, 4)
	require.NoError(t, err)
	resp := req.Reply(1, 20)
	resp.AttachReport(model.LinkQualityReport{Owner: 3, Entries: map[model.Address]float64{0: 0.1}})
	n, err := c.ApplyResponse(context.Background(), resp)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	w, err = f.belief.Weight(0, 3)
	require.NoError(t, err)
	require.Equal(t, 0.1, w)
}

func TestApplyResponseTouchesOnlyReportedEdges(t *testing.T) {
	f := linear(t)
	c := f.coordinator(t, []model.Address{3}, DefaultConfig())
	want := f.belief.Clone()
	require.NoError(t, want.SetEdge(1, 2, 0.03))

	req, err := model.NewRequest([]model.Address{0, 1, 2, 3}, 4)
	require.NoError(t, err)
	resp := req.Reply(42, 20)
	resp.AttachReport(model.LinkQualityReport{Owner: 1, Entries: map[model.Address]float64{2: 0.03}})

	n, err := c.ApplyResponse(context.Background(), resp)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	if diff := cmp.Diff(want.Edges(), f.belief.Edges()); diff != "" {
		t.Fatalf("graph mismatch (-want +got):\n%s", diff)
	}
	require.EqualValues(t, 1, c.Results().Snapshot().Successes)
	require.EqualValues(t, 1, c.Results().Snapshot().UpdatedLinks)
}

func TestApplyResponseRejectsUnknownLink(t *testing.T) {
	f := linear(t)
	c := f.coordinator(t, []model.Address{3}, DefaultConfig())
	req, err := model.NewRequest([]model.Address{0, 1, 2, 3}, 4)
	require.NoError(t, err)
	resp := req.Reply(1, 20)
	resp.AttachReport(model.LinkQualityReport{Owner: 1, Entries: map[model.Address]float64{3: 0.2}})

	_, err = c.ApplyResponse(context.Background(), resp)
	require.ErrorIs(t, err, core.ErrEdgeNotFound)
}

func TestApplyResponseRejectsWholeReportOnBadEntry(t *testing.T) {
	f := linear(t)
	c := f.coordinator(t, []model.Address{3}, DefaultConfig())
	version := f.belief.Version()
	before := f.belief.Edges()

	req, err := model.NewRequest([]model.Address{0, 1, 2, 3}, 4)
	require.NoError(t, err)
	resp := req.Reply(7, 20)
	resp.AttachReport(model.LinkQualityReport{Owner: 1, Entries: map[model.Address]float64{0: 0.2, 2: 0.3}})
	resp.AttachReport(model.LinkQualityReport{Owner: 2, Entries: map[model.Address]float64{0: 0.4}})

	n, err := c.ApplyResponse(context.Background(), resp)
	require.ErrorIs(t, err, core.ErrEdgeNotFound)
	require.Zero(t, n)
	require.Equal(t, version, f.belief.Version())
	require.Empty(t, cmp.Diff(before, f.belief.Edges()))
	snap := c.Results().Snapshot()
	require.Zero(t, snap.UpdatedLinks)
	require.Zero(t, snap.Successes)

	bad := req.Reply(7, 20)
	bad.AttachReport(model.LinkQualityReport{Owner: 1, Entries: map[model.Address]float64{0: 0.2, 2: 3}})
	_, err = c.ApplyResponse(context.Background(), bad)
	require.ErrorIs(t, err, core.ErrInvalidWeight)
	require.Empty(t, cmp.Diff(before, f.belief.Edges()))
}

func TestCycleNoPathLeavesGraphUntouched(t *testing.T) {
	f := newFixture(t, 4, [][2]model.Address{{0, 1}, {1, 2}})
	c := f.coordinator(t, []model.Address{3}, DefaultConfig())
	version := f.belief.Version()
	before := f.belief.Edges()

	res, err := c.Cycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, CycleNoPath, res.Outcome)
	require.Equal(t, version, f.belief.Version())
	require.Empty(t, cmp.Diff(before, f.belief.Edges()))
	require.Zero(t, c.Results().MessagesSent())
	require.EqualValues(t, 1, c.Results().Snapshot().NoPathSkips)
}

func TestDataFaultAboveThreshold(t *testing.T) {
	f := linear(t)
	f.channel.Set(2, 3, 0.8)
	c := f.coordinator(t, []model.Address{3}, DefaultConfig())

	res, err := c.Cycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, CycleDataFault, res.Outcome)
	require.Zero(t, res.Response.Data)
	require.EqualValues(t, 1, c.Results().Snapshot().FaultsWithUpdate)
	w, err := f.belief.Weight(2, 3)
	require.NoError(t, err)
	require.Equal(t, 0.8, w)
}

func TestResponseTimeoutOnReturnPath(t *testing.T) {
	f := linear(t)
	ch := &directionalChannel{StaticChannel: f.channel, lossy: [2]model.Address{2, 1}}
	net, err := core.NewNetwork(f.physical, f.registry, ch)
	require.NoError(t, err)
	c, err := New(f.device(t, 0), net, f.planner, []model.Address{3}, DefaultConfig())
	require.NoError(t, err)

	res, err := c.Cycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, CycleTimeout, res.Outcome)
	require.Equal(t, model.Address(2), res.FailedFrom)
	require.Equal(t, model.Address(1), res.FailedTo)
	require.EqualValues(t, 1, f.device(t, 2).Counters().Timeouts)
	require.EqualValues(t, 1, f.device(t, 0).Counters().Timeouts)
}

// directionalChannel corrupts one direction of one link.
type directionalChannel struct {
	*core.StaticChannel
	lossy [2]model.Address
}

func (c *directionalChannel) Transmission(src, dst model.Address, msg *model.Message) float64 {
	if src == c.lossy[0] && dst == c.lossy[1] {
		return model.CorruptedSignal
	}
	return c.StaticChannel.Transmission(src, dst, msg)
}

type badPlanner struct{ *core.Planner }

func (p badPlanner) Plan(from, to model.Address) (core.Route, error) {
	return core.Route{Hops: []model.Address{1, from, to}}, nil
}

func TestRouteMustStartAtCoordinator(t *testing.T) {
	f := linear(t)
	c, err := New(f.device(t, 0), f.net, badPlanner{f.planner}, []model.Address{3}, DefaultConfig())
	require.NoError(t, err)

	_, err = c.Cycle(context.Background())
	require.ErrorIs(t, err, ErrMissingCoordinatorInRoute)
	require.Equal(t, StateTerminate, c.State())
	require.Zero(t, c.Results().MessagesSent())

	err = c.Run(context.Background())
	require.ErrorIs(t, err, ErrMissingCoordinatorInRoute)
}

func TestRunStopsAtLasting(t *testing.T) {
	f := linear(t)
	cfg := DefaultConfig()
	cfg.Lasting = 7
	pacer := timectrl.NewPacer(0, timectrl.Accelerated)
	results := stats.NewResults()
	c := f.coordinator(t, []model.Address{1, 2, 3}, cfg, WithPacer(pacer), WithResults(results))

	require.NoError(t, c.Run(context.Background()))
	require.EqualValues(t, 7, results.MessagesSent())
	require.EqualValues(t, 7, results.Snapshot().Successes)
	require.EqualValues(t, 7, pacer.Round())
	require.Equal(t, StateTerminate, c.State())
	// rotation 1,2,3,1,2,3,1
	require.EqualValues(t, 3, f.device(t, 1).NextReading()-1)
}

func TestRunWithoutReachableTarget(t *testing.T) {
	f := newFixture(t, 3, [][2]model.Address{{1, 2}})
	c := f.coordinator(t, []model.Address{1, 2}, DefaultConfig())

	err := c.Run(context.Background())
	require.True(t, errors.Is(err, ErrNoReachableTarget), "got %v", err)
	require.EqualValues(t, 2, c.Results().Snapshot().NoPathSkips)
}

func TestRunHonoursCancellation(t *testing.T) {
	f := linear(t)
	c := f.coordinator(t, []model.Address{1, 2, 3}, DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, c.Run(ctx), context.Canceled)
}

func TestRandomRotationIsSeeded(t *testing.T) {
	f := newFixture(t, 9, nil)
	endpoints := []model.Address{0, 1, 2, 3, 4, 5, 6, 7, 8}
	cfg := DefaultConfig()
	cfg.Fetch = FetchRandom
	cfg.Seed = 11

	a := f.coordinator(t, endpoints, cfg).Rotation()
	b := f.coordinator(t, endpoints, cfg).Rotation()
	require.Equal(t, a, b)
	require.ElementsMatch(t, endpoints[1:], a, "coordinator is never a target")

	cfg.Fetch = FetchSequential
	require.Equal(t, endpoints[1:], f.coordinator(t, endpoints, cfg).Rotation())
}

func TestNewRejectsEndpointAsCoordinator(t *testing.T) {
	f := linear(t)
	_, err := New(f.device(t, 1), f.net, f.planner, []model.Address{2}, DefaultConfig())
	require.Error(t, err)
	_, err = New(f.device(t, 0), f.net, f.planner, []model.Address{0}, DefaultConfig())
	require.Error(t, err)
}

func TestParseFetchMode(t *testing.T) {
	for in, want := range map[string]FetchMode{"": FetchSequential, "sequential": FetchSequential, "random": FetchRandom} {
		got, err := ParseFetchMode(in)
		if err != nil || got != want {
			t.Fatalf("ParseFetchMode(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseFetchMode("roundrobin"); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
}
