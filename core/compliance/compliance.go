// Package compliance bounds how long pickup records are kept and hardens
// HTTP responses.
//
// # Data Retention
//
// The RetentionManager deletes audit events and expired sessions past their
// retention window:
//
//	policy := &compliance.RetentionPolicy{
//	    AuditLog:       365 * 24 * time.Hour,
//	    SessionHistory: 30 * 24 * time.Hour,
//	}
//	manager := compliance.NewRetentionManager(repo, policy)
//	go manager.Run(ctx, 24*time.Hour)
//
// # Security Headers
//
//	e.Use(echo.WrapMiddleware(compliance.SecurityHeadersMiddleware(nil)))
package compliance

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/eboxsecure/ebox/core/logger"
	"go.uber.org/zap"
)

// ---- Retention Policy ----

// RetentionPolicy defines data retention rules. A zero window keeps data forever.
type RetentionPolicy struct {
	// AuditLog is how long to keep audit events.
	AuditLog time.Duration

	// SessionHistory is how long to keep sessions after they expire.
	SessionHistory time.Duration
}

// DefaultRetentionPolicy keeps a year of audit events and a month of expired sessions.
func DefaultRetentionPolicy() *RetentionPolicy {
	return &RetentionPolicy{
		AuditLog:       365 * 24 * time.Hour,
		SessionHistory: 30 * 24 * time.Hour,
	}
}

// ---- Retention Manager ----

// RetentionStore interface for data cleanup.
type RetentionStore interface {
	// Purge deletes audit events older than the specified time.
	Purge(ctx context.Context, olderThan time.Time) (int64, error)

	// PurgeSessions deletes sessions that expired before the specified time.
	PurgeSessions(ctx context.Context, expiredBefore time.Time) (int64, error)
}

// RetentionHooks provides callbacks for retention operations.
type RetentionHooks struct {
	// AfterPurge is called after a purge operation completes.
	AfterPurge func(ctx context.Context, dataType string, count int64, err error)
}

// RetentionManager handles data retention and cleanup.
type RetentionManager struct {
	store  RetentionStore
	policy *RetentionPolicy
	hooks  RetentionHooks
	now    func() time.Time
	log    *zap.Logger
}

// NewRetentionManager creates a new retention manager.
func NewRetentionManager(store RetentionStore, policy *RetentionPolicy) *RetentionManager {
	if policy == nil {
		policy = DefaultRetentionPolicy()
	}
	return &RetentionManager{
		store:  store,
		policy: policy,
		now:    time.Now,
		log:    logger.Named(nil, "retention"),
	}
}

// SetHooks sets retention hooks.
func (m *RetentionManager) SetHooks(hooks RetentionHooks) {
	m.hooks = hooks
}

func (m *RetentionManager) SetClock(now func() time.Time) {
	m.now = now
}

// RunCleanup executes all retention cleanup operations. Failures of one data
// type do not stop the others; they are listed in the report.
func (m *RetentionManager) RunCleanup(ctx context.Context) *CleanupReport {
	now := m.now()
	report := &CleanupReport{StartTime: now}

	if m.policy.AuditLog > 0 {
		count, err := m.purge(ctx, "audit_events", func() (int64, error) {
			return m.store.Purge(ctx, now.Add(-m.policy.AuditLog))
		})
		report.AuditEventsDeleted = count
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("audit_events: %v", err))
		}
	}

	if m.policy.SessionHistory > 0 {
		count, err := m.purge(ctx, "sessions", func() (int64, error) {
			return m.store.PurgeSessions(ctx, now.Add(-m.policy.SessionHistory))
		})
		report.SessionsDeleted = count
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("sessions: %v", err))
		}
	}

	report.EndTime = m.now()
	return report
}

// Run cleans up once immediately and then every interval until ctx is done.
func (m *RetentionManager) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		report := m.RunCleanup(ctx)
		m.log.Info("retention cleanup finished",
			zap.Int64("audit_events_deleted", report.AuditEventsDeleted),
			zap.Int64("sessions_deleted", report.SessionsDeleted),
			zap.Strings("errors", report.Errors),
		)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (m *RetentionManager) purge(ctx context.Context, dataType string, purgeFunc func() (int64, error)) (int64, error) {
	count, err := purgeFunc()
	if err != nil {
		m.log.Error("retention purge failed", zap.String("data_type", dataType), zap.Error(err))
	}
	if m.hooks.AfterPurge != nil {
		m.hooks.AfterPurge(ctx, dataType, count, err)
	}
	return count, err
}

// CleanupReport summarizes a cleanup operation.
type CleanupReport struct {
	StartTime          time.Time `json:"start_time"`
	EndTime            time.Time `json:"end_time"`
	AuditEventsDeleted int64     `json:"audit_events_deleted"`
	SessionsDeleted    int64     `json:"sessions_deleted"`
	Errors             []string  `json:"errors,omitempty"`
}

// ---- Security Headers Middleware ----

// SecurityHeadersConfig configures security headers.
type SecurityHeadersConfig struct {
	ContentSecurityPolicy   string
	StrictTransportSecurity string
	XContentTypeOptions     string
	XFrameOptions           string
	ReferrerPolicy          string

	// Custom headers.
	CustomHeaders map[string]string
}

// DefaultSecurityHeadersConfig returns headers for an API that serves JSON and
// PNG only and is never framed.
func DefaultSecurityHeadersConfig() *SecurityHeadersConfig {
	return &SecurityHeadersConfig{
		ContentSecurityPolicy:   "default-src 'none'; frame-ancestors 'none'",
		StrictTransportSecurity: "max-age=31536000; includeSubDomains",
		XContentTypeOptions:     "nosniff",
		XFrameOptions:           "DENY",
		ReferrerPolicy:          "no-referrer",
	}
}

// SecurityHeadersMiddleware applies security headers to responses.
func SecurityHeadersMiddleware(config *SecurityHeadersConfig) func(next http.Handler) http.Handler {
	if config == nil {
		config = DefaultSecurityHeadersConfig()
	}

	headers := map[string]string{
		"Content-Security-Policy":   config.ContentSecurityPolicy,
		"Strict-Transport-Security": config.StrictTransportSecurity,
		"X-Content-Type-Options":    config.XContentTypeOptions,
		"X-Frame-Options":           config.XFrameOptions,
		"Referrer-Policy":           config.ReferrerPolicy,
	}
	for k, v := range config.CustomHeaders {
		headers[k] = v
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for key, value := range headers {
				if value != "" {
					w.Header().Set(key, value)
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
