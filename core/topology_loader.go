// core/topology_loader.go
package core

import (
	"fmt"
	"io"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/mesh-metering-simulator/model"
)

// LinkSpec describes one physical link of a topology file.
type LinkSpec struct {
	A   model.Address `yaml:"a"`
	B   model.Address `yaml:"b"`
	BER float64       `yaml:"ber"`
	// Weight is the coordinator's initial belief about the link. Unset means
	// error free.
	Weight *float64 `yaml:"weight,omitempty"`
}

// Topology is a loaded mesh description. YAML and JSON files are both
// accepted since JSON is valid YAML.
type Topology struct {
	Coordinator model.Address   `yaml:"coordinator"`
	Devices     []model.Address `yaml:"devices,omitempty"`
	Links       []LinkSpec      `yaml:"links"`
}

// LoadTopology decodes and validates a topology from r.
func LoadTopology(r io.Reader) (*Topology, error) {
	var t Topology
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&t); err != nil {
		return nil, fmt.Errorf("LoadTopology: decode failed: %w", err)
	}
	t.normalize()
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("LoadTopology: %w", err)
	}
	return &t, nil
}

// LoadTopologyFile reads a topology from path.
func LoadTopologyFile(path string) (*Topology, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open topology %q: %w", path, err)
	}
	defer f.Close()
	return LoadTopology(f)
}

// normalize adds devices only mentioned by links and the coordinator, then
// sorts the device list.
func (t *Topology) normalize() {
	seen := make(map[model.Address]bool, len(t.Devices))
	for _, d := range t.Devices {
		seen[d] = true
	}
	add := func(a model.Address) {
		if !seen[a] {
			seen[a] = true
			t.Devices = append(t.Devices, a)
		}
	}
	add(t.Coordinator)
	for _, l := range t.Links {
		add(l.A)
		add(l.B)
	}
	slices.Sort(t.Devices)
	t.Devices = slices.Compact(t.Devices)
}

// Validate checks structural invariants of the topology.
func (t *Topology) Validate() error {
	if len(t.Devices) < 2 {
		return fmt.Errorf("topology needs the coordinator and at least one device")
	}
	seen := make(map[linkKey]bool, len(t.Links))
	for i, l := range t.Links {
		if l.A == l.B {
			return fmt.Errorf("link %d: self link on %d", i, l.A)
		}
		if l.BER < 0 || l.BER > 1 {
			return fmt.Errorf("link %d (%d-%d): ber %v outside [0,1]", i, l.A, l.B, l.BER)
		}
		if l.Weight != nil {
			if err := checkEdge(l.A, l.B, *l.Weight); err != nil {
				return fmt.Errorf("link %d: %w", i, err)
			}
		}
		k := keyOf(l.A, l.B)
		if seen[k] {
			return fmt.Errorf("link %d: duplicate link %d-%d", i, l.A, l.B)
		}
		seen[k] = true
	}
	return nil
}

// PhysicalGraph builds the ground-truth adjacency; weights hold the BER.
func (t *Topology) PhysicalGraph() *Graph {
	g := NewGraph()
	for _, d := range t.Devices {
		g.AddVertex(d)
	}
	for _, l := range t.Links {
		// Validate already bounded BER to [0,1].
		_ = g.SetEdge(l.A, l.B, l.BER)
	}
	return g
}

// BeliefGraph builds the coordinator's initial Topology Graph.
func (t *Topology) BeliefGraph() *Graph {
	g := NewGraph()
	for _, d := range t.Devices {
		g.AddVertex(d)
	}
	for _, l := range t.Links {
		w := model.MinQuality
		if l.Weight != nil {
			w = *l.Weight
		}
		_ = g.SetEdge(l.A, l.B, w)
	}
	return g
}

// Channel builds a BER channel model for the topology's links.
func (t *Topology) Channel(seed uint64) *BERChannel {
	c := NewBERChannel(seed)
	for _, l := range t.Links {
		c.SetBER(l.A, l.B, l.BER)
	}
	return c
}
