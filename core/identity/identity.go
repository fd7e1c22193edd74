// Package identity provides the user and session types shared by the ebox services.
//
// Sessions are created by the upstream authentication provider and stored
// alongside users; this service only reads them. A session is usable while it
// is Active and its ExpiresAt lies in the future.
//
// # Roles
//
//   - customer: receives packages, sees own orders
//   - employee: member of a corporate account, sees own orders
//   - corporate: corporate account holder, sees every order of the corporation
//   - admin: handoff staff at a location, sees orders at that location
package identity

import (
	"errors"
	"time"
)

var (
	ErrSessionNotFound = errors.New("identity: session not found")
	ErrSessionInactive = errors.New("identity: session expired or inactive")
	ErrUserNotFound    = errors.New("identity: user not found")
)

// Role determines which orders a user may see.
type Role string

const (
	RoleCustomer  Role = "customer"
	RoleEmployee  Role = "employee"
	RoleCorporate Role = "corporate"
	RoleAdmin     Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleCustomer, RoleEmployee, RoleCorporate, RoleAdmin:
		return true
	}
	return false
}

// User represents an account holder.
type User struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	Role          Role      `json:"role"`
	CorporationID string    `json:"corporation_id,omitempty"`
	LocationID    string    `json:"location_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Session represents an authenticated session.
type Session struct {
	ID         string    `json:"id"`
	IdentityID string    `json:"identity_id"`
	ExpiresAt  time.Time `json:"expires_at"`
	IssuedAt   time.Time `json:"issued_at"`
	Active     bool      `json:"active"`
}

// Usable reports whether the session may authorize requests at now.
func (s *Session) Usable(now time.Time) bool {
	return s != nil && s.Active && now.Before(s.ExpiresAt)
}
