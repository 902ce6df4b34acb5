package core

import (
	"slices"
	"sync"

	"github.com/signalsfoundry/mesh-metering-simulator/model"
)

// LinkQualityTable is a device's local view of the links it has exchanged
// frames over. Each entry carries a dirty flag so that a device only ever
// announces a link when its value changed.
type LinkQualityTable struct {
	mu      sync.Mutex
	owner   model.Address
	entries map[model.Address]float64
	dirty   map[model.Address]bool
}

// NewLinkQualityTable returns an empty table owned by owner.
func NewLinkQualityTable(owner model.Address) *LinkQualityTable {
	return &LinkQualityTable{
		owner:   owner,
		entries: make(map[model.Address]float64),
		dirty:   make(map[model.Address]bool),
	}
}

// RecordObservation stores value for peer. The entry becomes dirty if it is
// new or its value changed; an unchanged value leaves the flag as it was.
func (t *LinkQualityTable) RecordObservation(peer model.Address, value float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	old, ok := t.entries[peer]
	if !ok || old != value {
		t.dirty[peer] = true
	}
	t.entries[peer] = value
}

// Lookup returns the last observed value for peer.
func (t *LinkQualityTable) Lookup(peer model.Address) (float64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.entries[peer]
	return v, ok
}

// Dirty reports whether peer has an unreported change.
func (t *LinkQualityTable) Dirty(peer model.Address) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dirty[peer]
}

// Peers lists the peers with an entry, in ascending order.
func (t *LinkQualityTable) Peers() []model.Address {
	t.mu.Lock()
	defer t.mu.Unlock()
	return sortedKeys(t.entries)
}

// SnapshotDirtyReport returns every dirty entry and clears the flags. The
// same change is therefore reported exactly once.
func (t *LinkQualityTable) SnapshotDirtyReport() model.LinkQualityReport {
	t.mu.Lock()
	defer t.mu.Unlock()
	r := model.LinkQualityReport{Owner: t.owner, Entries: make(map[model.Address]float64)}
	peers := make([]model.Address, 0, len(t.dirty))
	for p, d := range t.dirty {
		if d {
			peers = append(peers, p)
		}
	}
	slices.Sort(peers)
	for _, p := range peers {
		r.Entries[p] = t.entries[p]
		t.dirty[p] = false
	}
	return r
}
