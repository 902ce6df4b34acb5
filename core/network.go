package core

import (
	"fmt"

	"github.com/signalsfoundry/mesh-metering-simulator/model"
)

// DeviceLookup resolves an address to its device.
type DeviceLookup interface {
	Device(addr model.Address) (*Device, error)
}

// Mediator is everything the delivery engine needs from the simulated
// network: who hears a sender, what the channel did to a frame, and which
// device lives at an address.
type Mediator interface {
	DeviceLookup
	Neighbors(addr model.Address) ([]model.Address, error)
	Channel
}

// Network is the ground truth of the simulation: physical adjacency plus the
// channel model. It is distinct from the coordinator's Topology Graph, whose
// weights are only beliefs.
type Network struct {
	links   *Graph
	devices DeviceLookup
	channel Channel
}

// NewNetwork wires physical adjacency, device registry and channel model.
func NewNetwork(links *Graph, devices DeviceLookup, channel Channel) (*Network, error) {
	if links == nil || devices == nil || channel == nil {
		return nil, fmt.Errorf("network: links, devices and channel are required")
	}
	return &Network{links: links, devices: devices, channel: channel}, nil
}

func (n *Network) Neighbors(addr model.Address) ([]model.Address, error) {
	return n.links.Neighbors(addr)
}

func (n *Network) Transmission(src, dst model.Address, msg *model.Message) float64 {
	return n.channel.Transmission(src, dst, msg)
}

func (n *Network) Device(addr model.Address) (*Device, error) {
	return n.devices.Device(addr)
}

func (n *Network) Channel() Channel { return n.channel }

// Links exposes the physical adjacency.
func (n *Network) Links() *Graph { return n.links }
