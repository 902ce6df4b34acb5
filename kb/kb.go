package kb

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/signalsfoundry/mesh-metering-simulator/core"
	"github.com/signalsfoundry/mesh-metering-simulator/model"
)

// ErrNoCoordinator indicates a registry without a coordinator device.
var ErrNoCoordinator = errors.New("no coordinator registered")

// EventType indicates what kind of change happened in the KB.
type EventType int

const (
	EventDeviceAdded EventType = iota
)

// Event is emitted to subscribers when something interesting happens.
type Event struct {
	Type    EventType
	Address model.Address
	Role    model.Role
}

// KnowledgeBase is an in-memory, thread-safe registry of the mesh devices.
// It is the network's device lookup.
type KnowledgeBase struct {
	mu sync.RWMutex

	devices     map[model.Address]*core.Device
	coordinator *core.Device

	subs []func(Event)
}

// NewKnowledgeBase constructs an empty KB.
func NewKnowledgeBase() *KnowledgeBase {
	return &KnowledgeBase{
		devices: make(map[model.Address]*core.Device),
	}
}

// NewFromTopology registers one device per topology address.
func NewFromTopology(t *core.Topology) (*KnowledgeBase, error) {
	k := NewKnowledgeBase()
	if err := k.Populate(t); err != nil {
		return nil, err
	}
	return k, nil
}

// Populate adds one fresh device per topology address. Subscribers see an
// event per device.
func (kb *KnowledgeBase) Populate(t *core.Topology) error {
	for _, addr := range t.Devices {
		role := model.RoleEndpoint
		if addr == t.Coordinator {
			role = model.RoleCoordinator
		}
		if err := kb.Add(core.NewDevice(addr, role)); err != nil {
			return err
		}
	}
	return nil
}

// Add registers a device. Only one coordinator may be registered.
func (kb *KnowledgeBase) Add(d *core.Device) error {
	kb.mu.Lock()
	if _, exists := kb.devices[d.Address()]; exists {
		kb.mu.Unlock()
		return fmt.Errorf("device %d: %w", d.Address(), core.ErrDeviceExists)
	}
	if d.IsCoordinator() {
		if kb.coordinator != nil {
			kb.mu.Unlock()
			return fmt.Errorf("device %d: coordinator %d already registered", d.Address(), kb.coordinator.Address())
		}
		kb.coordinator = d
	}
	kb.devices[d.Address()] = d
	subs := append([]func(Event){}, kb.subs...)
	kb.mu.Unlock()

	ev := Event{Type: EventDeviceAdded, Address: d.Address(), Role: d.Role()}
	for _, sub := range subs {
		sub(ev)
	}
	return nil
}

// Device returns the device at addr.
func (kb *KnowledgeBase) Device(addr model.Address) (*core.Device, error) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	d, ok := kb.devices[addr]
	if !ok {
		return nil, fmt.Errorf("device %d: %w", addr, core.ErrDeviceNotFound)
	}
	return d, nil
}

// Coordinator returns the registered coordinator.
func (kb *KnowledgeBase) Coordinator() (*core.Device, error) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	if kb.coordinator == nil {
		return nil, ErrNoCoordinator
	}
	return kb.coordinator, nil
}

// List returns a snapshot of all devices ordered by address.
func (kb *KnowledgeBase) List() []*core.Device {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	res := make([]*core.Device, 0, len(kb.devices))
	for _, d := range kb.devices {
		res = append(res, d)
	}
	slices.SortFunc(res, func(a, b *core.Device) int {
		return int(a.Address() - b.Address())
	})
	return res
}

// Endpoints returns the addresses of all non-coordinator devices, ascending.
func (kb *KnowledgeBase) Endpoints() []model.Address {
	var out []model.Address
	for _, d := range kb.List() {
		if !d.IsCoordinator() {
			out = append(out, d.Address())
		}
	}
	return out
}

// Len is the number of registered devices.
func (kb *KnowledgeBase) Len() int {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return len(kb.devices)
}

// Subscribe registers a callback for KB events. It returns an unsubscribe function.
func (kb *KnowledgeBase) Subscribe(fn func(Event)) (unsubscribe func()) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	kb.subs = append(kb.subs, fn)
	idx := len(kb.subs) - 1

	return func() {
		kb.mu.Lock()
		defer kb.mu.Unlock()
		if idx < 0 || idx >= len(kb.subs) {
			return
		}
		kb.subs = append(kb.subs[:idx], kb.subs[idx+1:]...)
		idx = -1
	}
}
