package pickup

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

var (
	ErrMalformed      = errors.New("pickup: malformed token")
	ErrDecrypt        = errors.New("pickup: token decryption failed")
	ErrClaimsMismatch = errors.New("pickup: token claims mismatch")
	ErrExpired        = errors.New("pickup: token expired")
)

// maxTokenLength bounds the input accepted by Open.
const maxTokenLength = 4096

// Envelope is the subject/issuer/audience triple that separates pickup
// tokens from any other token sealed under the same key.
type Envelope struct {
	Subject  string
	Issuer   string
	Audience string
}

// DefaultEnvelope is the envelope of pickup tokens.
var DefaultEnvelope = Envelope{Subject: Subject, Issuer: Issuer, Audience: Audience}

// Claims is the decrypted content of a pickup token.
type Claims struct {
	SessionID string
	OrderID   int64
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type payload struct {
	SessionID string `json:"sessionId"`
	OrderID   int64  `json:"orderId"`
}

// Codec seals and opens pickup tokens as compact JWE strings.
type Codec struct {
	key      []byte
	envelope Envelope
}

// NewCodec returns a codec for the given key and envelope.
func NewCodec(key []byte, envelope Envelope) (*Codec, error) {
	if len(key) == 0 {
		return nil, &ConfigurationError{Setting: SecretSetting, Err: ErrSecretMissing}
	}
	if len(key) != KeySize {
		return nil, &ConfigurationError{
			Setting: SecretSetting,
			Err:     fmt.Errorf("key must be %d bytes, got %d", KeySize, len(key)),
		}
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &Codec{key: k, envelope: envelope}, nil
}

// Seal encrypts the claims. IssuedAt and ExpiresAt are taken from c as given.
func (c *Codec) Seal(cl Claims) (string, error) {
	enc, err := jose.NewEncrypter(
		jose.A128CBC_HS256,
		jose.Recipient{Algorithm: jose.DIRECT, Key: c.key},
		(&jose.EncrypterOptions{}).WithType("JWT"),
	)
	if err != nil {
		return "", fmt.Errorf("pickup: create encrypter: %w", err)
	}

	std := jwt.Claims{
		Subject:  c.envelope.Subject,
		Issuer:   c.envelope.Issuer,
		Audience: jwt.Audience{c.envelope.Audience},
		IssuedAt: jwt.NewNumericDate(cl.IssuedAt),
		Expiry:   jwt.NewNumericDate(cl.ExpiresAt),
		ID:       cl.TokenID,
	}

	raw, err := jwt.Encrypted(enc).
		Claims(std).
		Claims(payload{SessionID: cl.SessionID, OrderID: cl.OrderID}).
		Serialize()
	if err != nil {
		return "", fmt.Errorf("pickup: seal token: %w", err)
	}
	return raw, nil
}

// Open decrypts raw and validates its envelope and expiry at now.
// Errors wrap one of ErrMalformed, ErrDecrypt, ErrClaimsMismatch, ErrExpired.
func (c *Codec) Open(raw string, now time.Time) (*Claims, error) {
	if err := checkCompact(raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	tok, err := jwt.ParseEncrypted(raw,
		[]jose.KeyAlgorithm{jose.DIRECT},
		[]jose.ContentEncryption{jose.A128CBC_HS256},
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var (
		std jwt.Claims
		p   payload
	)
	if err := tok.Claims(c.key, &std, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}

	if std.Expiry == nil || std.IssuedAt == nil {
		return nil, fmt.Errorf("%w: missing exp or iat", ErrClaimsMismatch)
	}
	if len(std.Audience) != 1 {
		return nil, fmt.Errorf("%w: audience %v", ErrClaimsMismatch, std.Audience)
	}

	err = std.ValidateWithLeeway(jwt.Expected{
		Subject:     c.envelope.Subject,
		Issuer:      c.envelope.Issuer,
		AnyAudience: jwt.Audience{c.envelope.Audience},
		Time:        now,
	}, 0)
	switch {
	case errors.Is(err, jwt.ErrExpired):
		return nil, fmt.Errorf("%w: at %s", ErrExpired, std.Expiry.Time().UTC().Format(time.RFC3339))
	case err != nil:
		return nil, fmt.Errorf("%w: %v", ErrClaimsMismatch, err)
	}

	return &Claims{
		SessionID: p.SessionID,
		OrderID:   p.OrderID,
		TokenID:   std.ID,
		IssuedAt:  std.IssuedAt.Time(),
		ExpiresAt: std.Expiry.Time(),
	}, nil
}

// checkCompact requires the five segments of a direct-encryption compact
// JWE, each in canonical unpadded base64url. The JOSE parser decodes
// leniently, so without this a change to the unused trailing bits of a
// segment would still open.
func checkCompact(raw string) error {
	if len(raw) == 0 || len(raw) > maxTokenLength {
		return fmt.Errorf("length %d out of range", len(raw))
	}
	parts := strings.Split(raw, ".")
	if len(parts) != 5 {
		return fmt.Errorf("expected 5 segments, got %d", len(parts))
	}
	for i, part := range parts {
		// Direct encryption carries no encrypted key.
		if i == 1 {
			if part != "" {
				return errors.New("unexpected encrypted key")
			}
			continue
		}
		if part == "" {
			return fmt.Errorf("segment %d is empty", i)
		}
		if _, err := base64.RawURLEncoding.Strict().DecodeString(part); err != nil {
			return fmt.Errorf("segment %d: %w", i, err)
		}
	}
	return nil
}
