package compliance

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

type mockRetentionStore struct {
	auditCutoff   time.Time
	sessionCutoff time.Time
	sessionErr    error
}

func (m *mockRetentionStore) Purge(ctx context.Context, olderThan time.Time) (int64, error) {
	m.auditCutoff = olderThan
	return 3, nil
}

func (m *mockRetentionStore) PurgeSessions(ctx context.Context, expiredBefore time.Time) (int64, error) {
	m.sessionCutoff = expiredBefore
	return 0, m.sessionErr
}

func TestRunCleanup(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	store := &mockRetentionStore{sessionErr: errors.New("db down")}

	m := NewRetentionManager(store, &RetentionPolicy{AuditLog: 48 * time.Hour, SessionHistory: time.Hour})
	m.SetClock(func() time.Time { return now })

	var purged []string
	m.SetHooks(RetentionHooks{AfterPurge: func(ctx context.Context, dataType string, count int64, err error) {
		purged = append(purged, dataType)
	}})

	report := m.RunCleanup(context.Background())
	if report.AuditEventsDeleted != 3 {
		t.Errorf("expected 3 audit events deleted, got %d", report.AuditEventsDeleted)
	}
	if !store.auditCutoff.Equal(now.Add(-48*time.Hour)) || !store.sessionCutoff.Equal(now.Add(-time.Hour)) {
		t.Errorf("unexpected cutoffs %v %v", store.auditCutoff, store.sessionCutoff)
	}
	if len(report.Errors) != 1 {
		t.Errorf("expected session failure in report, got %v", report.Errors)
	}
	if len(purged) != 2 {
		t.Errorf("expected hooks for both data types, got %v", purged)
	}
}

func TestZeroWindowKeepsData(t *testing.T) {
	store := &mockRetentionStore{}
	m := NewRetentionManager(store, &RetentionPolicy{})
	m.RunCleanup(context.Background())
	if !store.auditCutoff.IsZero() || !store.sessionCutoff.IsZero() {
		t.Error("expected no purge with zero retention windows")
	}
}

func TestSecurityHeaders(t *testing.T) {
	e := echo.New()
	e.Use(echo.WrapMiddleware(SecurityHeadersMiddleware(&SecurityHeadersConfig{
		XFrameOptions: "DENY",
		CustomHeaders: map[string]string{"Cache-Control": "no-store"},
	})))
	e.GET("/", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Header().Get("X-Frame-Options") != "DENY" || rec.Header().Get("Cache-Control") != "no-store" {
		t.Errorf("missing headers: %v", rec.Header())
	}
	if _, ok := rec.Header()["Content-Security-Policy"]; ok {
		t.Error("empty headers must not be set")
	}
}
