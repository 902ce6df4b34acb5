package core

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/mesh-metering-simulator/model"
)

// DefaultRetransmissionLimit is the number of retries after a first failed
// attempt.
const DefaultRetransmissionLimit = 2

// HopResult describes one DeliverHop call.
type HopResult struct {
	Outcome model.Outcome
	// Acceptor is the device that accepted the frame; only set on success.
	Acceptor    model.Address
	Disposition Disposition
	Attempts    int
	// Broadcasts counts acknowledgment handlers invoked across attempts.
	Broadcasts int
}

// DeliveryEngine moves a frame one hop along its route. A transmission is
// heard by every neighbour of the sender but only the addressed device's
// acknowledgment counts; failed attempts are retried a bounded number of
// times.
type DeliveryEngine struct {
	net                 Mediator
	retransmissionLimit int
}

// NewDeliveryEngine builds an engine. A negative limit is treated as zero.
func NewDeliveryEngine(net Mediator, retransmissionLimit int) *DeliveryEngine {
	if retransmissionLimit < 0 {
		retransmissionLimit = 0
	}
	return &DeliveryEngine{net: net, retransmissionLimit: retransmissionLimit}
}

// MaxAttempts is retransmissionLimit + 1.
func (e *DeliveryEngine) MaxAttempts() int { return e.retransmissionLimit + 1 }

// DeliverHop transmits msg from sender to msg.Destination. A TimedOut
// outcome is a normal result, not an error; errors are reserved for broken
// invariants such as an unknown device address.
//
// On acceptance the frame is handed to the acceptor, which decides what
// happens next. Continuing along the route is the caller's job.
func (e *DeliveryEngine) DeliverHop(ctx context.Context, sender *Device, msg *model.Message) (HopResult, error) {
	if sender == nil || msg == nil {
		return HopResult{}, fmt.Errorf("deliver hop: sender and message are required")
	}
	if msg.Source != sender.Address() {
		return HopResult{}, fmt.Errorf("deliver hop: message source %d is not sender %d", msg.Source, sender.Address())
	}
	neighbors, err := e.net.Neighbors(sender.Address())
	if err != nil {
		return HopResult{}, fmt.Errorf("deliver hop from %d: %w", sender.Address(), err)
	}
	receivers := make([]*Device, 0, len(neighbors))
	for _, addr := range neighbors {
		d, err := e.net.Device(addr)
		if err != nil {
			return HopResult{}, fmt.Errorf("deliver hop from %d: %w", sender.Address(), err)
		}
		receivers = append(receivers, d)
	}

	sender.markSent()
	span := trace.SpanFromContext(ctx)

	res := HopResult{Outcome: model.TimedOut()}
	var acceptor *Device
	for res.Attempts < e.MaxAttempts() {
		res.Attempts++
		for _, r := range receivers {
			sender.markBroadcast()
			res.Broadcasts++
			out := r.Acknowledge(msg, e.net)
			if out.OK() && acceptor == nil {
				acceptor = r
				res.Outcome = out
			}
		}
		if acceptor != nil {
			break
		}
		sender.markRetransmission()
	}

	span.AddEvent("hop", trace.WithAttributes(
		attribute.String("kind", msg.Kind.String()),
		attribute.Int("from", int(msg.Source)),
		attribute.Int("to", int(msg.Destination)),
		attribute.Int("attempts", res.Attempts),
		attribute.String("outcome", res.Outcome.Kind.String()),
	))

	if acceptor == nil {
		return res, nil
	}
	res.Acceptor = acceptor.Address()
	res.Disposition = acceptor.Receive(msg)
	return res, nil
}
