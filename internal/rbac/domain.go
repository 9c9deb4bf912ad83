package rbac

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Permission represents an atomic capability such as "edit-post".
type Permission struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	DisplayName string    `json:"display_name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// Role is a named set of permissions.
type Role struct {
	ID          int64        `json:"id"`
	Name        string       `json:"name"`
	DisplayName string       `json:"display_name"`
	Description string       `json:"description"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
	Permissions []Permission `json:"permissions,omitempty"`
}

// Assignment ties a permission to a role.
type Assignment struct {
	RoleID       int64
	PermissionID int64
	CreatedAt    time.Time
}

// UserRole links a user to a role.
type UserRole struct {
	UserID    int64
	RoleID    int64
	CreatedAt time.Time
}

// Graph is the snapshot of one user's roles and their permissions,
// read in a single statement so it never mixes pre and post states.
type Graph struct {
	UserID int64  `json:"user_id"`
	Roles  []Role `json:"roles"`
}

// RoleNames lists the role names in the order they were loaded.
func (g Graph) RoleNames() []string {
	names := make([]string, 0, len(g.Roles))
	for _, r := range g.Roles {
		names = append(names, r.Name)
	}
	return names
}

// Ref points at a role or permission either by name or by id.
// The zero value refers to nothing.
type Ref struct {
	id   int64
	name string
}

// ByName builds a name reference. Names match case-sensitively.
func ByName(name string) Ref {
	return Ref{name: name}
}

// ByID builds an identity reference.
func ByID(id int64) Ref {
	return Ref{id: id}
}

// Names converts plain names into references.
func Names(names ...string) []Ref {
	refs := make([]Ref, 0, len(names))
	for _, n := range names {
		refs = append(refs, ByName(n))
	}
	return refs
}

// ID returns the identity when the ref was built with ByID.
func (r Ref) ID() (int64, bool) {
	return r.id, r.id > 0
}

// Name returns the name when the ref was built with ByName.
func (r Ref) Name() (string, bool) {
	return r.name, r.id <= 0 && r.name != ""
}

// IsZero reports whether the ref points at nothing.
func (r Ref) IsZero() bool {
	return r.id <= 0 && r.name == ""
}

// Matches reports whether the ref designates an entity with the given id and name.
func (r Ref) Matches(id int64, name string) bool {
	if r.id > 0 {
		return r.id == id
	}
	return r.name != "" && r.name == name
}

func (r Ref) String() string {
	if r.id > 0 {
		return "#" + strconv.FormatInt(r.id, 10)
	}
	return strconv.Quote(r.name)
}

// MarshalJSON encodes a name ref as a string and an id ref as a number.
func (r Ref) MarshalJSON() ([]byte, error) {
	if r.id > 0 {
		return []byte(strconv.FormatInt(r.id, 10)), nil
	}
	return json.Marshal(r.name)
}

// UnmarshalJSON accepts either a JSON string (name) or a JSON number (id).
func (r *Ref) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var name string
		if err := json.Unmarshal(data, &name); err != nil {
			return err
		}
		*r = ByName(name)
		return nil
	}
	var id int64
	if err := json.Unmarshal(data, &id); err != nil {
		return fmt.Errorf("rbac: reference must be a name or an id: %w", err)
	}
	*r = ByID(id)
	return nil
}
