package main

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/eboxsecure/ebox/core/device"
	"github.com/eboxsecure/ebox/core/pickup"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestKeygen(t *testing.T) {
	out, err := run(t, "keygen")
	if err != nil {
		t.Fatalf("keygen failed: %v", err)
	}
	key, err := pickup.DecodeSecret(strings.TrimSpace(out))
	if err != nil {
		t.Fatalf("generated secret does not decode: %v", err)
	}
	if len(key) != pickup.KeySize {
		t.Errorf("expected %d byte key, got %d", pickup.KeySize, len(key))
	}

	if _, err := generateSecret(strings.NewReader("short")); err == nil {
		t.Error("expected short entropy source to fail")
	}
}

func TestDeviceToken(t *testing.T) {
	out, err := run(t, "device-token", "kiosk-7", "--location", "loc-berlin", "--key", "device-signing-key", "--ttl", "1h")
	if err != nil {
		t.Fatalf("device-token failed: %v", err)
	}

	auth, _ := device.NewAuthenticator([]byte("device-signing-key"), time.Hour)
	dev, err := auth.Parse(strings.TrimSpace(out))
	if err != nil {
		t.Fatalf("minted credential does not parse: %v", err)
	}
	if dev.ID != "kiosk-7" || dev.LocationID != "loc-berlin" {
		t.Errorf("unexpected device %+v", dev)
	}

	if _, err := run(t, "device-token", "kiosk-7", "--key", "k"); err == nil {
		t.Error("expected missing --location to fail")
	}
}

func TestInspect(t *testing.T) {
	key := make([]byte, pickup.KeySize)
	rand.Read(key)
	secret, _ := generateSecret(bytes.NewReader(key))

	codec, err := pickup.NewCodec(key, pickup.DefaultEnvelope)
	if err != nil {
		t.Fatalf("NewCodec failed: %v", err)
	}
	now := time.Now()
	token, err := codec.Seal(pickup.Claims{
		SessionID: "sess-alice",
		OrderID:   42,
		TokenID:   "jti-1",
		IssuedAt:  now,
		ExpiresAt: now.Add(pickup.TokenTTL),
	})
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}

	out, err := run(t, "inspect", token, "--secret", secret)
	if err != nil {
		t.Fatalf("inspect failed: %v", err)
	}
	if !strings.Contains(out, "sess-alice") || !strings.Contains(out, "42") {
		t.Errorf("unexpected output: %s", out)
	}

	other, _ := generateSecret(rand.Reader)
	if _, err := inspectToken(token, other, now); err == nil {
		t.Error("expected token to fail under another secret")
	}
	if _, err := inspectToken(token, secret, now.Add(2*time.Hour)); err == nil {
		t.Error("expected expired token to fail")
	}
}

func TestRemoteCommands(t *testing.T) {
	var (
		gotPath string
		gotAuth string
		gotBody map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.RequestURI()
		gotAuth = r.Header.Get("Authorization")
		gotBody = nil
		json.NewDecoder(r.Body).Decode(&gotBody)

		switch r.URL.Path {
		case "/api/v1/pickup/token":
			if gotBody["orderId"] == float64(7) {
				w.WriteHeader(http.StatusNotFound)
				w.Write([]byte(`{"status":"Order not found","code":404}`))
				return
			}
			w.Write([]byte(`{"token":"abc"}`))
		case "/api/v1/pickup/verify":
			w.Write([]byte(`{"authorized":true}`))
		case "/ready":
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"not ready"}`))
		default:
			w.Write([]byte(`{"orders":[]}`))
		}
	}))
	defer srv.Close()

	out, err := run(t, "--url", srv.URL, "--token", "sess-alice", "issue", "42")
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	if gotPath != "/api/v1/pickup/token" || gotAuth != "Bearer sess-alice" || gotBody["orderId"] != float64(42) {
		t.Errorf("unexpected request %s %q %v", gotPath, gotAuth, gotBody)
	}
	if !strings.Contains(out, `"token": "abc"`) {
		t.Errorf("unexpected output: %s", out)
	}

	_, err = run(t, "--url", srv.URL, "--token", "sess-alice", "issue", "7")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != http.StatusNotFound || apiErr.Status != "Order not found" {
		t.Errorf("expected structured 404 error, got %v", err)
	}

	if _, err := run(t, "--url", srv.URL, "issue", "abc"); err == nil {
		t.Error("expected non-numeric order id to fail")
	}

	if _, err := run(t, "--url", srv.URL, "--token", "dev-cred", "verify", "tok"); err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if gotBody["pickupToken"] != "tok" || gotAuth != "Bearer dev-cred" {
		t.Errorf("unexpected verify request %q %v", gotAuth, gotBody)
	}

	if _, err := run(t, "--url", srv.URL, "orders", "--page", "2", "--limit", "5"); err != nil {
		t.Fatalf("orders failed: %v", err)
	}
	if gotPath != "/api/v1/orders?limit=5&page=2" {
		t.Errorf("unexpected orders path %s", gotPath)
	}

	_, err = run(t, "--url", srv.URL, "health", "ready")
	if !errors.As(err, &apiErr) || apiErr.Code != http.StatusServiceUnavailable || !strings.Contains(err.Error(), "not ready") {
		t.Errorf("expected 503 error, got %v", err)
	}
}
