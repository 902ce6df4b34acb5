package coordinator

import (
	"context"
	"fmt"
	"math"

	"github.com/signalsfoundry/mesh-metering-simulator/core"
	"github.com/signalsfoundry/mesh-metering-simulator/internal/logging"
	"github.com/signalsfoundry/mesh-metering-simulator/model"
)

// ApplyTimeout folds a timed-out exchange with target into the coordinator's
// table and sets the graph edge between the coordinator and target to the
// sentinel, adding it when the two are not adjacent. It reports whether the
// graph changed.
func (c *Coordinator) ApplyTimeout(ctx context.Context, target model.Address) (bool, error) {
	c.self.Table().RecordObservation(target, model.UnusableWeight)
	c.self.TriggerTimeout()
	c.results.RecordTimeout()

	if err := c.Graph().SetEdge(c.self.Address(), target, model.UnusableWeight); err != nil {
		return false, fmt.Errorf("apply timeout for %d: %w", target, err)
	}
	c.log.Info(ctx, "exchange timed out", logging.Int("target", int(target)))
	c.afterGraphChange(true)
	return true, nil
}

// ApplyResponse re-weights every link named by the response's reports and
// classifies the response. It returns the number of updated links.
func (c *Coordinator) ApplyResponse(ctx context.Context, resp *model.Message) (int, error) {
	if resp == nil || resp.Kind != model.KindResponse {
		return 0, fmt.Errorf("apply response: not a response")
	}
	g := c.Graph()
	// A bad entry rejects the whole response before anything changes.
	for _, r := range resp.Reports {
		for peer, v := range r.Entries {
			if !g.HasEdge(r.Owner, peer) {
				return 0, fmt.Errorf("apply report of %d: link %d-%d: %w", r.Owner, r.Owner, peer, core.ErrEdgeNotFound)
			}
			if math.IsNaN(v) || v < model.MinQuality || v > model.UnusableWeight {
				return 0, fmt.Errorf("apply report of %d: value %v for %d: %w", r.Owner, v, peer, core.ErrInvalidWeight)
			}
		}
	}
	if resp.Data == 0 {
		c.results.RecordDataFault()
	} else {
		c.results.RecordSuccess()
	}

	n := 0
	for _, r := range resp.Reports {
		for peer, v := range r.Entries {
			if err := g.UpdateEdge(r.Owner, peer, v); err != nil {
				return n, fmt.Errorf("apply report of %d: %w", r.Owner, err)
			}
			n++
		}
	}
	c.results.RecordLinkUpdates(n)
	c.rec.LinksUpdated(n)
	c.log.Debug(ctx, "response collected",
		logging.Int("origin", int(resp.Origin)),
		logging.Int("data", resp.Data),
		logging.Int("updated_links", n),
	)
	c.afterGraphChange(n > 0)
	return n, nil
}

func (c *Coordinator) afterGraphChange(changed bool) {
	if !changed {
		return
	}
	c.planner.Purge()
	c.rec.SetUnusableLinks(c.Graph().CountEdges(func(w float64) bool { return w >= model.UnusableWeight }))
}
