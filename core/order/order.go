// Package order defines the package order model and role-scoped visibility.
package order

import (
	"errors"
	"fmt"
	"time"

	"github.com/eboxsecure/ebox/core/identity"
)

var (
	ErrNotFound  = errors.New("order: not found")
	ErrInvalidID = errors.New("order: id must be a positive integer")
)

// Status of an order in the pickup lifecycle.
type Status string

const (
	StatusPending  Status = "pending"
	StatusReady    Status = "ready"
	StatusPickedUp Status = "picked_up"
)

// Order is a package held for pickup.
type Order struct {
	ID             int64     `json:"id"`
	OwnerID        string    `json:"owner_id"`
	CorporationID  string    `json:"corporation_id,omitempty"`
	LocationID     string    `json:"location_id,omitempty"`
	TrackingNumber string    `json:"tracking_number"`
	Status         Status    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ValidateID rejects zero and negative order ids.
func ValidateID(id int64) error {
	if id <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidID, id)
	}
	return nil
}

// Scope restricts an order listing to what a user may see.
// Exactly one of the fields is set.
type Scope struct {
	OwnerID       string
	CorporationID string
	LocationID    string
}

// ScopeFor derives the visibility scope of a user from its role.
func ScopeFor(u *identity.User) (Scope, error) {
	if u == nil {
		return Scope{}, errors.New("order: nil user")
	}
	switch u.Role {
	case identity.RoleCustomer, identity.RoleEmployee:
		return Scope{OwnerID: u.ID}, nil
	case identity.RoleCorporate:
		if u.CorporationID == "" {
			return Scope{}, fmt.Errorf("order: corporate user %s has no corporation", u.ID)
		}
		return Scope{CorporationID: u.CorporationID}, nil
	case identity.RoleAdmin:
		if u.LocationID == "" {
			return Scope{}, fmt.Errorf("order: admin user %s has no location", u.ID)
		}
		return Scope{LocationID: u.LocationID}, nil
	default:
		return Scope{}, fmt.Errorf("order: unknown role %q", u.Role)
	}
}

// Allows reports whether o falls inside the scope.
func (s Scope) Allows(o *Order) bool {
	switch {
	case o == nil:
		return false
	case s.OwnerID != "":
		return o.OwnerID == s.OwnerID
	case s.CorporationID != "":
		return o.CorporationID == s.CorporationID
	case s.LocationID != "":
		return o.LocationID == s.LocationID
	}
	return false
}
