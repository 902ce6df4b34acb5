package kb

import (
	"errors"
	"sync"
	"testing"

	"github.com/signalsfoundry/mesh-metering-simulator/core"
	"github.com/signalsfoundry/mesh-metering-simulator/model"
)

func TestAddAndGetDevice(t *testing.T) {
	store := NewKnowledgeBase()
	if err := store.Add(core.NewDevice(7, model.RoleEndpoint)); err != nil {
		t.Fatalf("Add error: %v", err)
	}
	got, err := store.Device(7)
	if err != nil {
		t.Fatalf("Device error: %v", err)
	}
	if got.Address() != 7 || got.Role() != model.RoleEndpoint {
		t.Fatalf("Device returned %d/%s, want 7/endpoint", got.Address(), got.Role())
	}
}

func TestAddDeviceDuplicate(t *testing.T) {
	store := NewKnowledgeBase()
	if err := store.Add(core.NewDevice(1, model.RoleEndpoint)); err != nil {
		t.Fatalf("first Add error: %v", err)
	}
	err := store.Add(core.NewDevice(1, model.RoleEndpoint))
	if !errors.Is(err, core.ErrDeviceExists) {
		t.Fatalf("duplicate Add error = %v, want ErrDeviceExists", err)
	}
}

func TestSingleCoordinator(t *testing.T) {
	store := NewKnowledgeBase()
	if _, err := store.Coordinator(); !errors.Is(err, ErrNoCoordinator) {
		t.Fatalf("Coordinator on empty KB = %v, want ErrNoCoordinator", err)
	}
	if err := store.Add(core.NewDevice(0, model.RoleCoordinator)); err != nil {
		t.Fatalf("Add coordinator: %v", err)
	}
	if err := store.Add(core.NewDevice(9, model.RoleCoordinator)); err == nil {
		t.Fatalf("expected second coordinator to be rejected")
	}
	c, err := store.Coordinator()
	if err != nil || c.Address() != 0 {
		t.Fatalf("Coordinator = %v, %v; want device 0", c, err)
	}
}

func TestUnknownDevice(t *testing.T) {
	store := NewKnowledgeBase()
	if _, err := store.Device(42); !errors.Is(err, core.ErrDeviceNotFound) {
		t.Fatalf("Device(42) error = %v, want ErrDeviceNotFound", err)
	}
}

func TestNewFromTopologyAssignsRoles(t *testing.T) {
	topo := &core.Topology{
		Coordinator: 0,
		Devices:     []model.Address{0, 1, 2, 3},
	}
	store, err := NewFromTopology(topo)
	if err != nil {
		t.Fatalf("NewFromTopology: %v", err)
	}
	if store.Len() != 4 {
		t.Fatalf("Len = %d, want 4", store.Len())
	}
	eps := store.Endpoints()
	if len(eps) != 3 || eps[0] != 1 || eps[2] != 3 {
		t.Fatalf("Endpoints = %v, want [1 2 3]", eps)
	}
	list := store.List()
	if !list[0].IsCoordinator() {
		t.Fatalf("device 0 should be the coordinator")
	}
}

func TestSubscribeAndUnsubscribe(t *testing.T) {
	store := NewKnowledgeBase()
	var (
		mu     sync.Mutex
		events []Event
	)
	unsub := store.Subscribe(func(e Event) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	})

	if err := store.Add(core.NewDevice(1, model.RoleEndpoint)); err != nil {
		t.Fatalf("Add: %v", err)
	}
	unsub()
	if err := store.Add(core.NewDevice(2, model.RoleEndpoint)); err != nil {
		t.Fatalf("Add: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 1 || events[0].Type != EventDeviceAdded || events[0].Address != 1 {
		t.Fatalf("events = %+v, want exactly one EventDeviceAdded for device 1", events)
	}
}

func TestConcurrentLookups(t *testing.T) {
	store := NewKnowledgeBase()
	for i := 0; i < 16; i++ {
		if err := store.Add(core.NewDevice(model.Address(i), model.RoleEndpoint)); err != nil {
			t.Fatalf("Add %d: %v", i, err)
		}
	}
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(addr model.Address) {
			defer wg.Done()
			if _, err := store.Device(addr); err != nil {
				t.Errorf("Device(%d): %v", addr, err)
			}
		}(model.Address(i))
	}
	wg.Wait()
}
