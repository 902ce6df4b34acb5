package core

import (
	"sync/atomic"

	"github.com/signalsfoundry/mesh-metering-simulator/model"
)

// Disposition is what a device does with a frame it accepted.
type Disposition int

const (
	// DispositionForward hands the frame on along its route.
	DispositionForward Disposition = iota
	// DispositionServe answers a request that reached its endpoint.
	DispositionServe
	// DispositionCollect consumes a response that reached the coordinator.
	DispositionCollect
	// DispositionDrop discards a frame the device's role cannot handle.
	DispositionDrop
)

func (d Disposition) String() string {
	switch d {
	case DispositionForward:
		return "forward"
	case DispositionServe:
		return "serve"
	case DispositionCollect:
		return "collect"
	default:
		return "drop"
	}
}

// DeviceCounters is a point-in-time copy of a device's counters.
type DeviceCounters struct {
	Sent              uint64
	Received          uint64
	Timeouts          uint64
	Broadcasts        uint64
	BroadcastTimeouts uint64
	NotForMe          uint64
	Retransmissions   uint64
}

// Device is one addressable node of the mesh. Devices never reach into each
// other; every interaction goes through the network mediator.
type Device struct {
	addr  model.Address
	role  model.Role
	table *LinkQualityTable

	sent              atomic.Uint64
	received          atomic.Uint64
	timeouts          atomic.Uint64
	broadcasts        atomic.Uint64
	broadcastTimeouts atomic.Uint64
	notForMe          atomic.Uint64
	retransmissions   atomic.Uint64
	readings          atomic.Int64
}

// NewDevice creates a device with an empty link-quality table.
func NewDevice(addr model.Address, role model.Role) *Device {
	return &Device{addr: addr, role: role, table: NewLinkQualityTable(addr)}
}

func (d *Device) Address() model.Address          { return d.addr }
func (d *Device) Role() model.Role                { return d.role }
func (d *Device) Table() *LinkQualityTable        { return d.table }
func (d *Device) IsCoordinator() bool             { return d.role == model.RoleCoordinator }
func (d *Device) Report() model.LinkQualityReport { return d.table.SnapshotDirtyReport() }

// Acknowledge is the handler run by every device that hears a transmission.
// Only the addressed device records the observation and accepts.
func (d *Device) Acknowledge(msg *model.Message, ch Channel) model.Outcome {
	value := ch.Transmission(msg.Source, msg.Destination, msg)
	if value == model.CorruptedSignal || !model.ValidQuality(value) {
		d.broadcastTimeouts.Add(1)
		return model.TimedOut()
	}
	if d.addr != msg.Destination {
		d.notForMe.Add(1)
		return model.NotForMe()
	}
	d.table.RecordObservation(msg.Source, value)
	return model.Accepted(value)
}

// Receive takes ownership of an accepted frame and decides, by role, what
// happens to it next.
func (d *Device) Receive(msg *model.Message) Disposition {
	d.received.Add(1)
	if msg.Target != d.addr {
		return DispositionForward
	}
	switch d.role {
	case model.RoleCoordinator:
		if msg.Kind == model.KindResponse {
			return DispositionCollect
		}
	case model.RoleEndpoint:
		if msg.Kind == model.KindRequest {
			return DispositionServe
		}
	}
	return DispositionDrop
}

// RecordLinkFailure marks the link to peer unusable after a failed hop.
func (d *Device) RecordLinkFailure(peer model.Address) {
	d.table.RecordObservation(peer, model.UnusableWeight)
}

// NextReading produces the endpoint's next metering value; always positive.
func (d *Device) NextReading() int {
	return int(d.readings.Add(1))
}

func (d *Device) markSent()           { d.sent.Add(1) }
func (d *Device) markBroadcast()      { d.broadcasts.Add(1) }
func (d *Device) markRetransmission() { d.retransmissions.Add(1) }

// TriggerTimeout counts an exchange or hop this device gave up on.
func (d *Device) TriggerTimeout() { d.timeouts.Add(1) }

// Counters returns a snapshot of the device counters.
func (d *Device) Counters() DeviceCounters {
	return DeviceCounters{
		Sent:              d.sent.Load(),
		Received:          d.received.Load(),
		Timeouts:          d.timeouts.Load(),
		Broadcasts:        d.broadcasts.Load(),
		BroadcastTimeouts: d.broadcastTimeouts.Load(),
		NotForMe:          d.notForMe.Load(),
		Retransmissions:   d.retransmissions.Load(),
	}
}
