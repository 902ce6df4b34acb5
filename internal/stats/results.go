// Package stats aggregates the per-run counters of a simulation.
package stats

import (
	"fmt"
	"sync"

	"github.com/signalsfoundry/mesh-metering-simulator/core"
	"github.com/signalsfoundry/mesh-metering-simulator/model"
)

// Results tracks in-memory counters for one or more simulation runs.
// All counters are concurrency-safe and can be incremented from multiple goroutines.
type Results struct {
	mu sync.Mutex
	s  Snapshot
}

// Snapshot is a copy of the counters. It's safe to read without holding the mutex.
type Snapshot struct {
	// Coordinator cycles
	MessagesSent        uint64
	Successes           uint64
	FaultsWithUpdate    uint64
	FaultsWithoutUpdate uint64
	NoPathSkips         uint64
	PathLengthSum       uint64
	UpdatedLinks        uint64

	// Hop deliveries
	HopTransmissions uint64
	HopSuccesses     uint64
	HopTimeouts      uint64
	Retransmissions  uint64

	// Frame accounting
	RequestTransmissions  uint64
	RequestBytes          uint64
	RequestPayloadBytes   uint64
	RequestBlocks         uint64
	ResponseTransmissions uint64
	ResponseBytes         uint64
	ResponsePayloadBytes  uint64
	ResponseBlocks        uint64
}

// NewResults creates a Results instance with all counters initialized to zero.
func NewResults() *Results {
	return &Results{}
}

// RecordSent counts a request leaving the coordinator over a route of
// pathLen links.
func (r *Results) RecordSent(pathLen int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.s.MessagesSent++
	r.s.PathLengthSum += uint64(pathLen)
}

// RecordSuccess counts a response carrying a valid reading.
func (r *Results) RecordSuccess() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.s.Successes++
}

// RecordDataFault counts a response that arrived without a valid reading.
func (r *Results) RecordDataFault() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.s.FaultsWithUpdate++
}

// RecordTimeout counts an exchange that timed out on some hop.
func (r *Results) RecordTimeout() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.s.FaultsWithoutUpdate++
}

// RecordNoPath counts a skipped cycle.
func (r *Results) RecordNoPath() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.s.NoPathSkips++
}

// RecordLinkUpdates counts graph edges re-weighted from reports.
func (r *Results) RecordLinkUpdates(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.s.UpdatedLinks += uint64(n)
}

// RecordHop accounts one DeliverHop call for msg.
func (r *Results) RecordHop(msg *model.Message, res core.HopResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.s.HopTransmissions++
	if res.Outcome.OK() {
		r.s.HopSuccesses++
		r.s.Retransmissions += uint64(res.Attempts - 1)
	} else {
		r.s.HopTimeouts++
		r.s.Retransmissions += uint64(res.Attempts)
	}
	size, payload, blocks := uint64(msg.Size()), uint64(msg.PayloadSize()), uint64(msg.Blocks())
	if msg.Kind == model.KindRequest {
		r.s.RequestTransmissions++
		r.s.RequestBytes += size
		r.s.RequestPayloadBytes += payload
		r.s.RequestBlocks += blocks
	} else {
		r.s.ResponseTransmissions++
		r.s.ResponseBytes += size
		r.s.ResponsePayloadBytes += payload
		r.s.ResponseBlocks += blocks
	}
}

// Merge adds another snapshot, e.g. from a parallel replica.
func (r *Results) Merge(o Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := &r.s
	s.MessagesSent += o.MessagesSent
	s.Successes += o.Successes
	s.FaultsWithUpdate += o.FaultsWithUpdate
	s.FaultsWithoutUpdate += o.FaultsWithoutUpdate
	s.NoPathSkips += o.NoPathSkips
	s.PathLengthSum += o.PathLengthSum
	s.UpdatedLinks += o.UpdatedLinks
	s.HopTransmissions += o.HopTransmissions
	s.HopSuccesses += o.HopSuccesses
	s.HopTimeouts += o.HopTimeouts
	s.Retransmissions += o.Retransmissions
	s.RequestTransmissions += o.RequestTransmissions
	s.RequestBytes += o.RequestBytes
	s.RequestPayloadBytes += o.RequestPayloadBytes
	s.RequestBlocks += o.RequestBlocks
	s.ResponseTransmissions += o.ResponseTransmissions
	s.ResponseBytes += o.ResponseBytes
	s.ResponsePayloadBytes += o.ResponsePayloadBytes
	s.ResponseBlocks += o.ResponseBlocks
}

// Snapshot returns a snapshot of the current counter values.
func (r *Results) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.s
}

// MessagesSent is the termination counter of the coordinator cycle.
func (r *Results) MessagesSent() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.s.MessagesSent
}

// AveragePathLength is the mean route length of sent requests.
func (s Snapshot) AveragePathLength() float64 {
	if s.MessagesSent == 0 {
		return 0
	}
	return float64(s.PathLengthSum) / float64(s.MessagesSent)
}

// SuccessRatio is the share of sent requests answered with a valid reading.
func (s Snapshot) SuccessRatio() float64 {
	if s.MessagesSent == 0 {
		return 0
	}
	return float64(s.Successes) / float64(s.MessagesSent)
}

// String returns a human-readable string representation of the results.
func (r *Results) String() string {
	snap := r.Snapshot()
	return fmt.Sprintf("results: sent=%d success=%d fault_update=%d fault_no_update=%d no_path=%d avg_path=%.2f updated_links=%d hops=%d retrans=%d",
		snap.MessagesSent,
		snap.Successes,
		snap.FaultsWithUpdate,
		snap.FaultsWithoutUpdate,
		snap.NoPathSkips,
		snap.AveragePathLength(),
		snap.UpdatedLinks,
		snap.HopTransmissions,
		snap.Retransmissions,
	)
}
