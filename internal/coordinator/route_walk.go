// internal/coordinator/route_walk.go
package coordinator

import (
	"context"
	"fmt"

	"github.com/signalsfoundry/mesh-metering-simulator/core"
	"github.com/signalsfoundry/mesh-metering-simulator/internal/logging"
	"github.com/signalsfoundry/mesh-metering-simulator/model"
)

type walkResult struct {
	timedOut   bool
	failedFrom model.Address
	failedTo   model.Address
	// holder is the device that took the message off the route.
	holder *core.Device
	// last is the value accepted on the final hop.
	last float64
}

type exchangeResult struct {
	timedOut   bool
	failedFrom model.Address
	failedTo   model.Address
	response   *model.Message
}

// exchange walks req to its target and, when it is served, walks the
// response back. A timeout on either leg times out the exchange.
func (c *Coordinator) exchange(ctx context.Context, req *model.Message) (exchangeResult, error) {
	out, err := c.walk(ctx, req)
	if err != nil {
		return exchangeResult{}, err
	}
	if out.timedOut {
		return exchangeResult{timedOut: true, failedFrom: out.failedFrom, failedTo: out.failedTo}, nil
	}

	endpoint := out.holder
	data := endpoint.NextReading()
	if out.last > c.cfg.DataFaultThreshold {
		data = 0
	}
	resp := req.Reply(data, c.cfg.ResponsePayloadBytes)
	resp.AttachReport(endpoint.Report())

	back, err := c.walk(ctx, resp)
	if err != nil {
		return exchangeResult{}, err
	}
	if back.timedOut {
		return exchangeResult{timedOut: true, failedFrom: back.failedFrom, failedTo: back.failedTo}, nil
	}
	if back.holder.Address() != c.self.Address() {
		return exchangeResult{}, fmt.Errorf("response to %d collected by %d", c.self.Address(), back.holder.Address())
	}
	return exchangeResult{response: resp}, nil
}

// walk moves msg hop by hop until a device serves or collects it, or a hop
// times out. Devices forwarding a response attach their dirty reports.
func (c *Coordinator) walk(ctx context.Context, msg *model.Message) (walkResult, error) {
	for {
		sender, err := c.net.Device(msg.Source)
		if err != nil {
			return walkResult{}, fmt.Errorf("walk %s: %w", msg.Kind, err)
		}
		res, err := c.engine.DeliverHop(ctx, sender, msg)
		if err != nil {
			return walkResult{}, err
		}
		c.results.RecordHop(msg, res)
		c.rec.HopDelivered(msg.Kind, res)

		if !res.Outcome.OK() {
			sender.RecordLinkFailure(msg.Destination)
			if !sender.IsCoordinator() {
				sender.TriggerTimeout()
			}
			c.log.Debug(ctx, "hop timed out",
				logging.String("kind", msg.Kind.String()),
				logging.Int("from", int(msg.Source)),
				logging.Int("to", int(msg.Destination)),
				logging.Int("attempts", res.Attempts),
			)
			return walkResult{timedOut: true, failedFrom: msg.Source, failedTo: msg.Destination}, nil
		}

		holder, err := c.net.Device(res.Acceptor)
		if err != nil {
			return walkResult{}, fmt.Errorf("walk %s: %w", msg.Kind, err)
		}
		switch res.Disposition {
		case core.DispositionForward:
			if msg.Kind == model.KindResponse {
				msg.AttachReport(holder.Report())
			}
			msg.Advance()
		case core.DispositionServe, core.DispositionCollect:
			return walkResult{holder: holder, last: res.Outcome.Value}, nil
		default:
			return walkResult{}, fmt.Errorf("%s for %d dropped by %s %d", msg.Kind, msg.Target, holder.Role(), holder.Address())
		}
	}
}
