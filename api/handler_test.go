package api

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/eboxsecure/ebox/core/device"
	"github.com/eboxsecure/ebox/core/identity"
	"github.com/eboxsecure/ebox/core/order"
	"github.com/eboxsecure/ebox/core/pickup"
	"github.com/eboxsecure/ebox/core/ratelimit"
	"github.com/eboxsecure/ebox/core/session"
	"github.com/eboxsecure/ebox/kgorm"
	"github.com/labstack/echo/v4"
)

type testEnv struct {
	e       *echo.Echo
	handler *Handler
	orders  map[string]int64
}

func newTestEnv(t *testing.T, key []byte, setup ...func(*Handler)) *testEnv {
	t.Helper()
	ctx := context.Background()

	storage, err := kgorm.NewStorage("sqlite", filepath.Join(t.TempDir(), "ebox_api.db"), nil)
	if err != nil {
		t.Fatalf("failed to setup repo: %v", err)
	}
	repo := storage.(*kgorm.Repository)
	t.Cleanup(func() {
		if sqlDB, err := repo.DB().DB(); err == nil {
			sqlDB.Close()
		}
	})

	users := []*identity.User{
		{ID: "alice", Email: "alice@example.com", Role: identity.RoleCustomer},
		{ID: "bob", Email: "bob@example.com", Role: identity.RoleEmployee, CorporationID: "corp-1"},
		{ID: "carol", Email: "carol@example.com", Role: identity.RoleCorporate, CorporationID: "corp-1"},
		{ID: "dave", Email: "dave@example.com", Role: identity.RoleAdmin, LocationID: "loc-1"},
	}
	for _, u := range users {
		if err := repo.CreateUser(ctx, u); err != nil {
			t.Fatalf("CreateUser failed: %v", err)
		}
		now := time.Now()
		if err := repo.CreateSession(ctx, &identity.Session{
			ID: "sess-" + u.ID, IdentityID: u.ID, IssuedAt: now, ExpiresAt: now.Add(time.Hour), Active: true,
		}); err != nil {
			t.Fatalf("CreateSession failed: %v", err)
		}
	}

	env := &testEnv{orders: map[string]int64{}}
	for name, o := range map[string]*order.Order{
		"alice": {OwnerID: "alice", LocationID: "loc-1"},
		"bob":   {OwnerID: "bob", CorporationID: "corp-1", LocationID: "loc-2"},
		"other": {OwnerID: "erin", CorporationID: "corp-1", LocationID: "loc-1"},
	} {
		if err := repo.CreateOrder(ctx, o); err != nil {
			t.Fatalf("CreateOrder failed: %v", err)
		}
		env.orders[name] = o.ID
	}

	sm := session.NewManager(session.NewDatabaseStrategy(repo))
	svc := pickup.NewService(key, sm, repo)

	env.handler = NewHandler(svc, sm, repo, repo)
	for _, fn := range setup {
		fn(env.handler)
	}
	env.e = echo.New()
	env.e.IPExtractor, err = NewIPExtractor(nil)
	if err != nil {
		t.Fatalf("NewIPExtractor failed: %v", err)
	}
	env.handler.RegisterRoutes(env.e.Group("/api/v1"))
	return env
}

func newKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, pickup.KeySize)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	return key
}

func (env *testEnv) do(method, path, auth string, body any) *httptest.ResponseRecorder {
	return env.doWith(method, path, auth, body, nil)
}

func (env *testEnv) doWith(method, path, auth string, body any, prepare func(*http.Request)) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if auth != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+auth)
	}
	if prepare != nil {
		prepare(req)
	}
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	return rec
}

func (env *testEnv) issue(t *testing.T, sid string, orderID int64) string {
	t.Helper()
	rec := env.do(http.MethodPost, "/api/v1/pickup/token", sid, map[string]int64{"orderId": orderID})
	if rec.Code != http.StatusOK {
		t.Fatalf("issue failed with code %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Token string `json:"token"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Token == "" {
		t.Fatal("expected a token in the response")
	}
	return resp.Token
}

func (env *testEnv) verify(t *testing.T, auth, token string) bool {
	t.Helper()
	rec := env.do(http.MethodPost, "/api/v1/pickup/verify", auth, map[string]string{"pickupToken": token})
	if rec.Code != http.StatusOK {
		t.Fatalf("verify failed with code %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Authorized bool `json:"authorized"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	return resp.Authorized
}

func TestPickupFlow(t *testing.T) {
	env := newTestEnv(t, newKey(t))

	token := env.issue(t, "sess-alice", env.orders["alice"])
	if !env.verify(t, "", token) {
		t.Error("expected issued token to be authorized")
	}
	if env.verify(t, "", token+"x") {
		t.Error("expected altered token to be rejected")
	}
	if env.verify(t, "", "") {
		t.Error("expected empty token to be rejected")
	}
}

func TestIssueErrors(t *testing.T) {
	env := newTestEnv(t, newKey(t))

	tests := []struct {
		name string
		auth string
		body any
		want int
	}{
		{"no session", "", map[string]int64{"orderId": env.orders["alice"]}, http.StatusUnauthorized},
		{"unknown session", "sess-nobody", map[string]int64{"orderId": env.orders["alice"]}, http.StatusUnauthorized},
		{"missing order id", "sess-alice", map[string]string{}, http.StatusBadRequest},
		{"zero order id", "sess-alice", map[string]int64{"orderId": 0}, http.StatusBadRequest},
		{"negative order id", "sess-alice", map[string]int64{"orderId": -5}, http.StatusBadRequest},
		{"unknown order", "sess-alice", map[string]int64{"orderId": 1}, http.StatusNotFound},
		{"someone else's order", "sess-alice", map[string]int64{"orderId": env.orders["bob"]}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(http.MethodPost, "/api/v1/pickup/token", tt.auth, tt.body)
			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestIssueWithoutSecret(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(http.MethodPost, "/api/v1/pickup/token", "sess-alice", map[string]int64{"orderId": env.orders["alice"]})
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if bytes.Contains(rec.Body.Bytes(), []byte(pickup.SecretSetting)) {
		t.Error("configuration details must not leak to clients")
	}
}

func TestIssueQR(t *testing.T) {
	env := newTestEnv(t, newKey(t))

	path := "/api/v1/pickup/token/qr?orderId=" + strconv.FormatInt(env.orders["alice"], 10)
	rec := env.do(http.MethodGet, path, "sess-alice", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get(echo.HeaderContentType); ct != "image/png" {
		t.Errorf("expected image/png, got %s", ct)
	}
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")) {
		t.Error("expected a PNG body")
	}

	if rec := env.do(http.MethodGet, "/api/v1/pickup/token/qr?orderId=abc", "sess-alice", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for non-numeric orderId, got %d", rec.Code)
	}
}

func TestVerifyRequiresDeviceWhenConfigured(t *testing.T) {
	env := newTestEnv(t, newKey(t))
	devices, err := device.NewAuthenticator([]byte("device-signing-key"), time.Hour)
	if err != nil {
		t.Fatalf("NewAuthenticator failed: %v", err)
	}
	env.handler.SetDeviceAuthenticator(devices)

	token := env.issue(t, "sess-alice", env.orders["alice"])

	rec := env.do(http.MethodPost, "/api/v1/pickup/verify", "", map[string]string{"pickupToken": token})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without device credential, got %d", rec.Code)
	}
	rec = env.do(http.MethodPost, "/api/v1/pickup/verify", "not-a-jwt", map[string]string{"pickupToken": token})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for invalid device credential, got %d", rec.Code)
	}

	cred, err := devices.Issue("kiosk-7", "loc-1")
	if err != nil {
		t.Fatalf("device Issue failed: %v", err)
	}
	if !env.verify(t, cred, token) {
		t.Error("expected authenticated device to verify the token")
	}
}

func TestListOrdersByRole(t *testing.T) {
	env := newTestEnv(t, newKey(t))

	tests := []struct {
		sid  string
		want []string
	}{
		{"sess-alice", []string{"alice"}},
		{"sess-bob", []string{"bob"}},
		{"sess-carol", []string{"bob", "other"}},
		{"sess-dave", []string{"alice", "other"}},
	}
	for _, tt := range tests {
		t.Run(tt.sid, func(t *testing.T) {
			rec := env.do(http.MethodGet, "/api/v1/orders", tt.sid, nil)
			if rec.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
			}
			var resp struct {
				Orders []order.Order `json:"orders"`
			}
			json.Unmarshal(rec.Body.Bytes(), &resp)

			got := map[int64]bool{}
			for _, o := range resp.Orders {
				got[o.ID] = true
			}
			if len(got) != len(tt.want) {
				t.Fatalf("expected %d orders, got %d", len(tt.want), len(got))
			}
			for _, name := range tt.want {
				if !got[env.orders[name]] {
					t.Errorf("expected order %q in listing", name)
				}
			}
		})
	}

	if rec := env.do(http.MethodGet, "/api/v1/orders", "", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without session, got %d", rec.Code)
	}
}

func TestVerifyRateLimit(t *testing.T) {
	devices, _ := device.NewAuthenticator([]byte("device-signing-key"), time.Hour)
	env := newTestEnv(t, newKey(t), func(h *Handler) {
		h.SetDeviceAuthenticator(devices)
		h.SetVerifyLimiter(ratelimit.NewMemoryRateLimiter(), 2, time.Minute)
	})

	kiosk7, _ := devices.Issue("kiosk-7", "loc-1")
	kiosk8, _ := devices.Issue("kiosk-8", "loc-1")
	body := map[string]string{"pickupToken": "garbage"}

	for i := 0; i < 2; i++ {
		if rec := env.do(http.MethodPost, "/api/v1/pickup/verify", kiosk7, body); rec.Code != http.StatusOK {
			t.Fatalf("attempt %d: expected 200, got %d", i+1, rec.Code)
		}
	}
	if rec := env.do(http.MethodPost, "/api/v1/pickup/verify", kiosk7, body); rec.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429 after the budget is spent, got %d", rec.Code)
	}
	if rec := env.do(http.MethodPost, "/api/v1/pickup/verify", kiosk8, body); rec.Code != http.StatusOK {
		t.Errorf("another device must keep its own budget, got %d", rec.Code)
	}
}

func TestVerifyRateLimitIgnoresForwardedHeaders(t *testing.T) {
	env := newTestEnv(t, newKey(t), func(h *Handler) {
		h.SetVerifyLimiter(ratelimit.NewMemoryRateLimiter(), 2, time.Minute)
	})
	body := map[string]string{"pickupToken": "garbage"}

	codes := make([]int, 0, 4)
	for i := 0; i < 4; i++ {
		ip := fmt.Sprintf("198.51.100.%d", i+1)
		rec := env.doWith(http.MethodPost, "/api/v1/pickup/verify", "", body, func(r *http.Request) {
			r.Header.Set(echo.HeaderXForwardedFor, ip)
			r.Header.Set(echo.HeaderXRealIP, ip)
		})
		codes = append(codes, rec.Code)
	}

	want := []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests, http.StatusTooManyRequests}
	for i := range want {
		if codes[i] != want[i] {
			t.Errorf("rotating forwarded headers must not reset the budget: got %v", codes)
			break
		}
	}
}

func TestVerifyRateLimitBehindTrustedProxy(t *testing.T) {
	env := newTestEnv(t, newKey(t), func(h *Handler) {
		h.SetVerifyLimiter(ratelimit.NewMemoryRateLimiter(), 1, time.Minute)
	})
	// httptest requests come from 192.0.2.1.
	extractor, err := NewIPExtractor([]string{"192.0.2.0/24"})
	if err != nil {
		t.Fatalf("NewIPExtractor failed: %v", err)
	}
	env.e.IPExtractor = extractor

	body := map[string]string{"pickupToken": "garbage"}
	from := func(ip string) int {
		return env.doWith(http.MethodPost, "/api/v1/pickup/verify", "", body, func(r *http.Request) {
			r.Header.Set(echo.HeaderXForwardedFor, ip)
		}).Code
	}

	if code := from("203.0.113.5"); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if code := from("203.0.113.5"); code != http.StatusTooManyRequests {
		t.Errorf("expected the same client to be limited, got %d", code)
	}
	if code := from("203.0.113.6"); code != http.StatusOK {
		t.Errorf("expected a different client behind the proxy to keep its budget, got %d", code)
	}
}

func TestNewIPExtractorRejectsBadCIDR(t *testing.T) {
	if _, err := NewIPExtractor([]string{"10.0.0.0/8", "not-a-cidr"}); err == nil {
		t.Error("expected an error for an invalid CIDR")
	}
}
