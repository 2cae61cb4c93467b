package llm

import (
	"fmt"

	"docrag/internal/logger"
	"docrag/internal/models"
)

// Role selects the answer style.
type Role int

const (
	RoleDefault Role = iota
	RoleTechnician
	RoleManager
)

// Roles lists every role in display order.
var Roles = []Role{RoleDefault, RoleTechnician, RoleManager}

// ID returns the registry id of the role.
func (r Role) ID() string {
	switch r {
	case RoleTechnician:
		return "technician"
	case RoleManager:
		return "manager"
	default:
		return "default"
	}
}

func (r Role) String() string { return r.ID() }

// MarshalText encodes the role as its registry id.
func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.ID()), nil
}

// UnmarshalText decodes a registry id. Unknown ids are rejected.
func (r *Role) UnmarshalText(text []byte) error {
	role, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = role
	return nil
}

// Instruction returns the answer-style instruction for the role.
func (r Role) Instruction() string {
	switch r {
	case RoleTechnician:
		return "Answer with technical precision and detail. " +
			"Where possible, give concrete steps, parameters or formulas."
	case RoleManager:
		return "Answer briefly and clearly, focusing on benefits, risks and decisions. " +
			"Avoid unnecessary technical detail."
	default:
		return "Answer neutrally, precisely and well structured. " +
			"Use technical terms only when they appear in the context."
	}
}

// ParseRole maps an id to a Role. Unknown ids return RoleDefault and ErrUnknownRole.
func ParseRole(id string) (Role, error) {
	for _, r := range Roles {
		if r.ID() == id {
			return r, nil
		}
	}
	return RoleDefault, fmt.Errorf("%w: %q", models.ErrUnknownRole, id)
}

// ResolveRole is ParseRole with the unknown-role case recovered locally.
func ResolveRole(id string) Role {
	r, err := ParseRole(id)
	if err != nil {
		logger.Warn("falling back to default role", "role", id)
	}
	return r
}
