package session

import (
	"context"
	"time"

	"github.com/eboxsecure/ebox/core/domain"
	"github.com/eboxsecure/ebox/core/identity"
)

// Strategy defines the interface for session lookup strategies.
type Strategy interface {
	Validate(ctx context.Context, sessionID string) (*identity.Session, error)
}

// DatabaseStrategy implements Strategy on top of a SessionStorage.
type DatabaseStrategy struct {
	repo domain.SessionStorage
	now  func() time.Time
}

// DatabaseOption configures a DatabaseStrategy.
type DatabaseOption func(*DatabaseStrategy)

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) DatabaseOption {
	return func(s *DatabaseStrategy) { s.now = now }
}

func NewDatabaseStrategy(repo domain.SessionStorage, opts ...DatabaseOption) *DatabaseStrategy {
	s := &DatabaseStrategy{repo: repo, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Validate returns the session if it exists, is active and has not expired.
func (s *DatabaseStrategy) Validate(ctx context.Context, sessionID string) (*identity.Session, error) {
	if sessionID == "" {
		return nil, identity.ErrSessionNotFound
	}
	sess, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if !sess.Usable(s.now()) {
		return nil, identity.ErrSessionInactive
	}

	return sess, nil
}
