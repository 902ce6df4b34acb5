package model

import (
	"fmt"
	"slices"
	"strings"
)

// MessageKind discriminates requests issued by the coordinator from the
// responses returned by metering endpoints.
type MessageKind int

const (
	KindRequest MessageKind = iota
	KindResponse
)

func (k MessageKind) String() string {
	if k == KindResponse {
		return "response"
	}
	return "request"
}

// Frame layout used for size accounting. Every 16-byte payload block is
// protected by its own 2-byte CRC, as in wM-Bus frame format A.
const (
	HeaderBytes      = 10
	BlockBytes       = 16
	CRCBytes         = 2
	AddressBytes     = 2
	ReportEntryBytes = 3
)

// Message is a source-routed frame walking Route one hop at a time. Source
// and Destination always name the current hop; Origin and Target name the
// ends of the exchange.
type Message struct {
	Kind MessageKind

	Origin Address
	Target Address

	Source      Address
	Destination Address

	Route []Address
	// Hop is the index in Route of the device currently holding the message.
	Hop int

	PayloadBytes int

	// Data is the metering reading carried by a response; zero means the
	// endpoint could not produce a valid reading.
	Data int

	Reports []LinkQualityReport
}

// NewRequest builds a request walking route from its head to its tail.
func NewRequest(route []Address, payloadBytes int) (*Message, error) {
	if len(route) < 2 {
		return nil, fmt.Errorf("request route needs at least two hops, got %d", len(route))
	}
	m := &Message{
		Kind:         KindRequest,
		Origin:       route[0],
		Target:       route[len(route)-1],
		Route:        slices.Clone(route),
		PayloadBytes: payloadBytes,
	}
	m.resolveHop()
	return m, nil
}

// Reply builds the response to a request that reached its target. The
// response walks the request route in reverse.
func (m *Message) Reply(data, payloadBytes int) *Message {
	route := slices.Clone(m.Route)
	slices.Reverse(route)
	r := &Message{
		Kind:         KindResponse,
		Origin:       m.Target,
		Target:       m.Origin,
		Route:        route,
		PayloadBytes: payloadBytes,
		Data:         data,
	}
	r.resolveHop()
	return r
}

// AtTarget reports whether the current holder is the final destination.
func (m *Message) AtTarget() bool { return m.Hop >= len(m.Route)-1 }

// Advance moves the hop pointer to the next device on the route.
func (m *Message) Advance() {
	if m.AtTarget() {
		return
	}
	m.Hop++
	m.resolveHop()
}

func (m *Message) resolveHop() {
	m.Source = m.Route[m.Hop]
	if m.Hop+1 < len(m.Route) {
		m.Destination = m.Route[m.Hop+1]
	} else {
		m.Destination = m.Route[m.Hop]
	}
}

// AttachReport merges a device's report into the message. Reports from the
// same owner are folded together, later values winning.
func (m *Message) AttachReport(r LinkQualityReport) {
	if r.Empty() {
		return
	}
	for i := range m.Reports {
		if m.Reports[i].Owner == r.Owner {
			for peer, v := range r.Entries {
				m.Reports[i].Entries[peer] = v
			}
			return
		}
	}
	entries := make(map[Address]float64, len(r.Entries))
	for peer, v := range r.Entries {
		entries[peer] = v
	}
	m.Reports = append(m.Reports, LinkQualityReport{Owner: r.Owner, Entries: entries})
}

// ReportEntries counts the link entries carried by the message.
func (m *Message) ReportEntries() int {
	n := 0
	for _, r := range m.Reports {
		n += len(r.Entries)
	}
	return n
}

// PayloadSize is the application payload in bytes, without CRCs.
func (m *Message) PayloadSize() int {
	return len(m.Route)*AddressBytes + m.PayloadBytes + m.ReportEntries()*ReportEntryBytes
}

// Blocks is the number of CRC-protected blocks needed for the payload.
func (m *Message) Blocks() int {
	return (m.PayloadSize() + BlockBytes - 1) / BlockBytes
}

// Size is the full frame size in bytes.
func (m *Message) Size() int {
	return HeaderBytes + m.PayloadSize() + m.Blocks()*CRCBytes
}

// Bits is the full frame size in bits.
func (m *Message) Bits() int { return m.Size() * 8 }

func (m *Message) String() string {
	hops := make([]string, len(m.Route))
	for i, a := range m.Route {
		hops[i] = a.String()
	}
	return fmt.Sprintf("%s %d->%d hop %d->%d route [%s]",
		m.Kind, m.Origin, m.Target, m.Source, m.Destination, strings.Join(hops, " "))
}
