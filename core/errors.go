package core

import "errors"

var (
	// ErrVertexNotFound indicates an address that is not part of the graph.
	ErrVertexNotFound = errors.New("vertex not found")
	// ErrEdgeNotFound indicates two devices without a direct link.
	ErrEdgeNotFound = errors.New("edge not found")
	// ErrInvalidWeight indicates a negative, NaN or above-sentinel weight.
	ErrInvalidWeight = errors.New("invalid edge weight")
	// ErrNoPathFound is a normal planning outcome: the target is unreachable
	// on the current graph.
	ErrNoPathFound = errors.New("no path found")
	// ErrDeviceNotFound indicates a lookup for an address with no device.
	ErrDeviceNotFound = errors.New("device not found")
	// ErrDeviceExists indicates a duplicate device address.
	ErrDeviceExists = errors.New("device already exists")
)
