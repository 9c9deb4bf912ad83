package auth

import "time"

// User represents an authenticated user account.
type User struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NewUser carries the fields of an account being registered.
type NewUser struct {
	Name         string
	Email        string
	PasswordHash string
}

// Session is the authenticated view returned by login, register and profile.
type Session struct {
	User        *User
	Roles       []string
	Permissions []string
	UserType    string
	Token       *Token
}
