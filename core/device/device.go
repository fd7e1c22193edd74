// Package device authenticates the handoff devices that scan pickup tokens.
//
// A device carries a long-lived HS256 JWT naming the device and the location
// it is installed at. The verification endpoint only accepts pickup tokens
// from devices holding a valid credential.
package device

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	Audience = "ebox-handoff"
	Issuer   = "eboxsecure-api"
)

var (
	ErrKeyMissing   = errors.New("device: signing key is not configured")
	ErrInvalidToken = errors.New("device: invalid token")
)

// Claims represents the data stored in a device JWT.
type Claims struct {
	LocationID string `json:"loc"`
	jwt.RegisteredClaims
}

// Device is an authenticated handoff device.
type Device struct {
	ID         string
	LocationID string
	ExpiresAt  time.Time
}

// Authenticator mints and parses device credentials.
type Authenticator struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

func NewAuthenticator(key []byte, ttl time.Duration) (*Authenticator, error) {
	if len(key) == 0 {
		return nil, ErrKeyMissing
	}
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &Authenticator{key: key, ttl: ttl, now: time.Now}, nil
}

// SetClock overrides the time source used for issuance and validation.
func (a *Authenticator) SetClock(now func() time.Time) {
	a.now = now
}

// Issue returns a signed credential for the device.
func (a *Authenticator) Issue(deviceID, locationID string) (string, error) {
	if deviceID == "" || locationID == "" {
		return "", errors.New("device: device and location ids are required")
	}
	now := a.now()
	claims := Claims{
		LocationID: locationID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   deviceID,
			Issuer:    Issuer,
			Audience:  jwt.ClaimStrings{Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.key)
}

// Parse validates a credential and returns the device it names.
func (a *Authenticator) Parse(tokenString string) (*Device, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return a.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(Audience),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" || claims.LocationID == "" {
		return nil, ErrInvalidToken
	}

	return &Device{
		ID:         claims.Subject,
		LocationID: claims.LocationID,
		ExpiresAt:  claims.ExpiresAt.Time,
	}, nil
}
