// Package pickup issues and verifies pickup authorization tokens.
//
// A pickup token lets a customer authorize someone else, usually a handoff
// screen at a location, to release one order. It is a compact JWE
// (alg "dir", enc "A128CBC-HS256") under a pre-shared 32 byte key, carrying
// the requesting session id and the order id. Tokens live for one hour and
// are never stored.
//
// Verification decrypts the token, checks the fixed subject, issuer and
// audience and the expiry, then re-checks live state: the session must still
// be valid and the order must still belong to the session's user. Every
// failure collapses to false at the public boundary; the reason is only
// logged, audited and counted.
//
//	key, err := pickup.DecodeSecret(cfg.PickupSecret)
//	svc := pickup.NewService(key, sessionManager, repo,
//	    pickup.WithLookupTimeout(5*time.Second),
//	)
//
//	token, err := svc.Issue(ctx, sess.ID, orderID)
//	ok := svc.Verify(ctx, token)
package pickup

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/eboxsecure/ebox/core/identity"
	"github.com/eboxsecure/ebox/core/order"
)

const (
	// TokenTTL is the validity window of a pickup token.
	TokenTTL = time.Hour

	// KeySize is the shared key length required by A128CBC-HS256.
	KeySize = 32

	Subject  = "eboxsecure-authorized-pickup"
	Issuer   = "eboxsecure-api"
	Audience = "ebox-client"
)

var (
	// ErrInvalidOrderID is returned by Issue for zero or negative order ids.
	ErrInvalidOrderID = order.ErrInvalidID
	ErrSecretMissing  = errors.New("secret is not configured")
)

// ConfigurationError reports a missing or unusable shared secret.
type ConfigurationError struct {
	Setting string
	Err     error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("pickup: configuration error: %s: %v", e.Setting, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// SecretSetting names the environment variable holding the shared key.
const SecretSetting = "PICKUP_SECRET"

// DecodeSecret decodes a base64 shared key (standard or URL alphabet,
// padded or not) and checks its length.
func DecodeSecret(encoded string) ([]byte, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return nil, &ConfigurationError{Setting: SecretSetting, Err: ErrSecretMissing}
	}

	var (
		key []byte
		err error
	)
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding,
	} {
		if key, err = enc.DecodeString(encoded); err == nil {
			break
		}
	}
	if err != nil {
		return nil, &ConfigurationError{Setting: SecretSetting, Err: fmt.Errorf("invalid base64: %w", err)}
	}
	if len(key) != KeySize {
		return nil, &ConfigurationError{
			Setting: SecretSetting,
			Err:     fmt.Errorf("key must be %d bytes, got %d", KeySize, len(key)),
		}
	}
	return key, nil
}

// SessionStore resolves a session id to a currently valid session.
type SessionStore interface {
	Validate(ctx context.Context, sessionID string) (*identity.Session, error)
}

// OrderStore resolves an order id to its current state.
type OrderStore interface {
	GetOrder(ctx context.Context, id int64) (*order.Order, error)
}

// Clock is the wall-clock source for issuance and expiry.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// SystemClock reads time.Now.
var SystemClock Clock = ClockFunc(time.Now)
