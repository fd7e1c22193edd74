package device

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestIssueAndParse(t *testing.T) {
	auth, err := NewAuthenticator([]byte("device-signing-key"), time.Hour)
	if err != nil {
		t.Fatalf("NewAuthenticator failed: %v", err)
	}

	token, err := auth.Issue("kiosk-7", "loc-berlin")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	dev, err := auth.Parse(token)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if dev.ID != "kiosk-7" || dev.LocationID != "loc-berlin" {
		t.Errorf("unexpected device: %+v", dev)
	}
}

func TestParseRejectsExpiredAndForeignTokens(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	auth, _ := NewAuthenticator([]byte("device-signing-key"), time.Hour)
	auth.SetClock(func() time.Time { return now })

	token, err := auth.Issue("kiosk-7", "loc-berlin")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	now = now.Add(2 * time.Hour)
	if _, err := auth.Parse(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected expired token to be rejected, got %v", err)
	}

	now = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	other, _ := NewAuthenticator([]byte("another-key"), time.Hour)
	other.SetClock(func() time.Time { return now })
	foreign, _ := other.Issue("kiosk-7", "loc-berlin")
	if _, err := auth.Parse(foreign); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected token signed with another key to be rejected, got %v", err)
	}

	// Same key, wrong audience.
	claims := Claims{
		LocationID: "loc-berlin",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "kiosk-7",
			Issuer:    Issuer,
			Audience:  jwt.ClaimStrings{"ebox-client"},
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}
	wrongAud, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("device-signing-key"))
	if _, err := auth.Parse(wrongAud); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected wrong audience to be rejected, got %v", err)
	}
}

func TestNewAuthenticatorRequiresKey(t *testing.T) {
	if _, err := NewAuthenticator(nil, time.Hour); !errors.Is(err, ErrKeyMissing) {
		t.Errorf("expected ErrKeyMissing, got %v", err)
	}
}
