// Package session validates the sessions that authorize pickup requests.
//
// Sessions are owned by the upstream authentication provider and stored in
// the shared database; this service only reads them. The Manager delegates
// lookups to a Strategy; the default DatabaseStrategy reads them through
// domain.SessionStorage.
//
//	manager := session.NewManager(session.NewDatabaseStrategy(repo))
//	sess, err := manager.Validate(ctx, sessionID)
//
// The Manager satisfies the session store contract of the pickup package.
package session

import (
	"context"

	"github.com/eboxsecure/ebox/core/identity"
)

// Manager validates sessions through a Strategy.
type Manager struct {
	strategy Strategy
}

// NewManager creates a new session Manager with the given strategy.
func NewManager(strategy Strategy) *Manager {
	return &Manager{strategy: strategy}
}

func (m *Manager) Validate(ctx context.Context, sessionID string) (*identity.Session, error) {
	return m.strategy.Validate(ctx, sessionID)
}
