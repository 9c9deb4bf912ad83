package users

import (
	"fmt"
	"time"

	"github.com/odyssey-erp/passport/internal/shared"
)

var (
	// ErrNotFound is returned when no user matches.
	ErrNotFound = fmt.Errorf("users: %w", shared.ErrNotFound)
	// ErrDuplicateEmail is returned when the email is already registered.
	ErrDuplicateEmail = fmt.Errorf("users: email already registered: %w", shared.ErrConflict)
)

// User represents a user account for management.
type User struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Detail is a user together with the resolved authorization graph.
type Detail struct {
	User        User     `json:"user"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
	UserType    string   `json:"user_type"`
}

// ListFilters narrows user listings.
type ListFilters struct {
	Search  string
	Page    int
	PerPage int
}

// Page is one page of users.
type Page struct {
	Users      []User            `json:"users"`
	Pagination shared.Pagination `json:"pagination"`
}

// AssignRoleRequest names the role to attach, by name or id.
type AssignRoleRequest struct {
	Role string `json:"role" validate:"required,max=100"`
}
