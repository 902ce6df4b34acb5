package model

import "fmt"

// Address is the unique integer identity of a device in the mesh.
type Address int

func (a Address) String() string { return fmt.Sprintf("%d", int(a)) }

// Role selects the behaviour a device exhibits when it receives a message.
type Role int

const (
	RoleEndpoint Role = iota
	RoleCoordinator
)

func (r Role) String() string {
	switch r {
	case RoleCoordinator:
		return "coordinator"
	case RoleEndpoint:
		return "endpoint"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}
