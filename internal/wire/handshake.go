package wire

import (
	"encoding/json"
	"fmt"
)

// Role is the session role declared when a connection opens.
type Role string

const (
	RoleActor    Role = "actor"    // the monitored, sending side
	RoleObserver Role = "observer" // the watching side
)

// Valid reports whether r is one of the two known roles.
func (r Role) Valid() bool {
	return r == RoleActor || r == RoleObserver
}

// ParseRole accepts a role name.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q (want %q or %q)", s, RoleActor, RoleObserver)
	}
	return r, nil
}

// Handshake is the single message sent when a connection opens.
type Handshake struct {
	Role Role `json:"role"`
}

// EncodeHandshake returns the handshake document for role.
func EncodeHandshake(role Role) ([]byte, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("encode handshake: unknown role %q", role)
	}
	return json.Marshal(Handshake{Role: role})
}

// DecodeHandshake parses and validates a handshake document.
func DecodeHandshake(data []byte) (Handshake, error) {
	var h Handshake
	if err := json.Unmarshal(data, &h); err != nil {
		return Handshake{}, fmt.Errorf("decode handshake: %w", err)
	}
	if !h.Role.Valid() {
		return Handshake{}, fmt.Errorf("decode handshake: unknown role %q", h.Role)
	}
	return h, nil
}
