// Package domain defines the storage contracts of the ebox services.
//
// The interfaces abstract persistence of users, sessions, orders and audit
// events so the pickup flow can run against any backend. The kgorm package
// provides the GORM implementation.
//
// # Interfaces
//
//   - Storage: Composite interface combining all storage operations
//   - UserStorage: user lookup and creation
//   - SessionStorage: session lifecycle operations
//   - OrderStorage: order lookup, creation, ownership transfer and scoped listing
package domain

import (
	"context"
	"time"

	"github.com/eboxsecure/ebox/core/audit"
	"github.com/eboxsecure/ebox/core/identity"
	"github.com/eboxsecure/ebox/core/order"
)

// Storage defines the interface for all persistence operations.
type Storage interface {
	UserStorage
	SessionStorage
	OrderStorage
	audit.AuditStore
	Ping(ctx context.Context) error
	// PurgeSessions deletes sessions that expired before the given time.
	PurgeSessions(ctx context.Context, expiredBefore time.Time) (int64, error)
}

type UserStorage interface {
	CreateUser(ctx context.Context, u *identity.User) error
	GetUser(ctx context.Context, id string) (*identity.User, error)
}

type SessionStorage interface {
	CreateSession(ctx context.Context, s *identity.Session) error
	GetSession(ctx context.Context, id string) (*identity.Session, error)
	DeleteSession(ctx context.Context, id string) error
}

type OrderStorage interface {
	CreateOrder(ctx context.Context, o *order.Order) error
	GetOrder(ctx context.Context, id int64) (*order.Order, error)
	TransferOrder(ctx context.Context, id int64, newOwnerID string) error
	ListOrders(ctx context.Context, scope order.Scope, page, limit int) ([]*order.Order, error)
}
