package pickup

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/eboxsecure/ebox/core/audit"
	"github.com/eboxsecure/ebox/core/logger"
	"github.com/eboxsecure/ebox/core/order"
	"github.com/eboxsecure/ebox/core/telemetry"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// DefaultLookupTimeout bounds the session and order lookups of one verification.
const DefaultLookupTimeout = 5 * time.Second

// Service issues and verifies pickup tokens.
type Service struct {
	codec  *Codec
	cfgErr error

	sessions SessionStore
	orders   OrderStore
	replay   ReplayStore

	clock         Clock
	lookupTimeout time.Duration
	newID         func() string

	audit     *audit.Logger
	telemetry *telemetry.Provider
	log       *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

func WithClock(c Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithLookupTimeout bounds the combined session and order lookups.
// A non-positive value disables the bound.
func WithLookupTimeout(d time.Duration) Option {
	return func(s *Service) { s.lookupTimeout = d }
}

// WithReplayStore makes accepted tokens single-use.
func WithReplayStore(r ReplayStore) Option {
	return func(s *Service) { s.replay = r }
}

func WithAuditLogger(a *audit.Logger) Option {
	return func(s *Service) { s.audit = a }
}

func WithTelemetry(p *telemetry.Provider) Option {
	return func(s *Service) { s.telemetry = p }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.log = l }
}

// WithEnvelope overrides the subject/issuer/audience triple.
func WithEnvelope(e Envelope) Option {
	return func(s *Service) {
		if s.codec != nil {
			s.codec.envelope = e
		}
	}
}

// NewService creates a Service over the shared key. An empty or malformed key
// does not fail construction: Issue then returns a *ConfigurationError and
// Verify rejects every token. ConfigErr exposes the problem at startup.
func NewService(key []byte, sessions SessionStore, orders OrderStore, opts ...Option) *Service {
	s := &Service{
		sessions:      sessions,
		orders:        orders,
		clock:         SystemClock,
		lookupTimeout: DefaultLookupTimeout,
		newID:         func() string { return uuid.NewString() },
	}
	s.codec, s.cfgErr = NewCodec(key, DefaultEnvelope)
	for _, opt := range opts {
		opt(s)
	}
	s.log = logger.Named(s.log, "pickup")
	return s
}

// ConfigErr returns the configuration problem of the service, if any.
func (s *Service) ConfigErr() error {
	return s.cfgErr
}

// Issue returns a pickup token binding sessionID to orderID. The caller is
// trusted to have authenticated sessionID.
func (s *Service) Issue(ctx context.Context, sessionID string, orderID int64) (string, error) {
	if err := order.ValidateID(orderID); err != nil {
		return "", fmt.Errorf("pickup: %w", err)
	}

	ctx, span := s.telemetry.SpanIssue(ctx, sessionID, orderID)

	if s.codec == nil {
		s.log.Error("pickup token issuance failed: shared secret not configured",
			zap.Error(s.cfgErr),
			zap.Int64("order_id", orderID),
		)
		s.record(ctx, audit.NewEvent(audit.EventConfigError).
			Session(sessionID).
			Resource("order", strconv.FormatInt(orderID, 10)).
			Failure().
			Risk(audit.RiskCritical).
			Message(s.cfgErr.Error()))
		s.telemetry.RecordIssued(ctx, false)
		telemetry.EndSpan(span, s.cfgErr)
		return "", s.cfgErr
	}

	now := s.clock.Now()
	raw, err := s.codec.Seal(Claims{
		SessionID: sessionID,
		OrderID:   orderID,
		TokenID:   s.newID(),
		IssuedAt:  now,
		ExpiresAt: now.Add(TokenTTL),
	})
	s.telemetry.RecordIssued(ctx, err == nil)
	telemetry.EndSpan(span, err)
	if err != nil {
		s.log.Error("pickup token issuance failed", zap.Error(err), zap.Int64("order_id", orderID))
		return "", err
	}

	s.log.Info("pickup token issued",
		zap.String("session_id", sessionID),
		zap.Int64("order_id", orderID),
	)
	s.record(ctx, audit.NewEvent(audit.EventPickupIssued).
		Session(sessionID).
		Resource("order", strconv.FormatInt(orderID, 10)).
		Success())

	return raw, nil
}

// Verify reports whether token currently authorizes the pickup of its order.
// It never returns the reason for a rejection.
func (s *Service) Verify(ctx context.Context, token string) bool {
	return s.Check(ctx, token).Accepted
}

// Check verifies token and returns the detailed outcome. It has no side
// effects beyond logging, auditing and, when a replay store is set, marking
// the token as used.
func (s *Service) Check(ctx context.Context, token string) Result {
	start := time.Now()
	ctx, span := s.telemetry.SpanVerify(ctx)

	res := s.check(ctx, token)

	s.telemetry.RecordVerification(ctx, res.Accepted, string(res.Reason), time.Since(start))
	if span != nil {
		span.SetAttributes(attribute.String(telemetry.AttrReason, string(res.Reason)))
	}
	telemetry.EndSpan(span, res.Err)
	s.report(ctx, res)

	return res
}

// check runs the verification steps in order. A panicking store is reported
// as a lookup failure.
func (s *Service) check(ctx context.Context, token string) (res Result) {
	if s.codec == nil {
		return reject(ReasonConfiguration, s.cfgErr, nil)
	}

	var cl *Claims
	defer func() {
		if r := recover(); r != nil {
			res = reject(ReasonLookupFailed, fmt.Errorf("pickup: verification panicked: %v", r), cl)
		}
	}()

	cl, err := s.codec.Open(token, s.clock.Now())
	if err != nil {
		return reject(reasonFor(err), err, nil)
	}

	if cl.SessionID == "" || cl.OrderID <= 0 {
		return reject(ReasonInvalidPayload, errors.New("pickup: payload lacks session or order"), cl)
	}

	lctx := ctx
	if s.lookupTimeout > 0 {
		var cancel context.CancelFunc
		lctx, cancel = context.WithTimeout(ctx, s.lookupTimeout)
		defer cancel()
	}

	sess, err := s.sessions.Validate(lctx, cl.SessionID)
	if err != nil {
		return reject(ReasonSessionInvalid, err, cl)
	}
	if sess == nil {
		return reject(ReasonSessionInvalid, errors.New("pickup: session store returned no session"), cl)
	}

	o, err := s.orders.GetOrder(lctx, cl.OrderID)
	if err != nil {
		return reject(ReasonOrderNotFound, err, cl)
	}
	if o == nil {
		return reject(ReasonOrderNotFound, order.ErrNotFound, cl)
	}

	if o.OwnerID == "" || sess.IdentityID == "" || o.OwnerID != sess.IdentityID {
		return reject(ReasonOwnershipMismatch,
			fmt.Errorf("pickup: order %d is owned by %q, session belongs to %q", o.ID, o.OwnerID, sess.IdentityID), cl)
	}

	if s.replay != nil {
		if cl.TokenID == "" {
			return reject(ReasonInvalidPayload, errors.New("pickup: token has no id"), cl)
		}
		first, err := s.replay.Consume(ctx, cl.TokenID, cl.ExpiresAt)
		if err != nil {
			return reject(ReasonReplayUnavailable, err, cl)
		}
		if !first {
			return reject(ReasonReplayed, fmt.Errorf("pickup: token %s already used", cl.TokenID), cl)
		}
	}

	return accept(cl, sess.IdentityID)
}

func reasonFor(err error) Reason {
	switch {
	case errors.Is(err, ErrExpired):
		return ReasonExpired
	case errors.Is(err, ErrClaimsMismatch):
		return ReasonClaimsMismatch
	case errors.Is(err, ErrDecrypt):
		return ReasonDecryptFailed
	default:
		return ReasonMalformed
	}
}

type deviceKey struct{}

// ContextWithDevice tags ctx with the handoff device performing a
// verification so logs and audit events can name it.
func ContextWithDevice(ctx context.Context, deviceID string) context.Context {
	return context.WithValue(ctx, deviceKey{}, deviceID)
}

func deviceFrom(ctx context.Context) string {
	id, _ := ctx.Value(deviceKey{}).(string)
	return id
}

func (s *Service) report(ctx context.Context, res Result) {
	deviceID := deviceFrom(ctx)
	fields := []zap.Field{
		zap.String("session_id", res.SessionID),
		zap.Int64("order_id", res.OrderID),
	}
	if deviceID != "" {
		fields = append(fields, zap.String("device_id", deviceID))
	}

	if res.Accepted {
		s.log.Info("pickup token accepted", fields...)
		s.record(ctx, audit.NewEvent(audit.EventPickupAccepted).
			Session(res.SessionID).
			Subject(res.UserID).
			Device(deviceID).
			Resource("order", strconv.FormatInt(res.OrderID, 10)).
			Success())
		return
	}

	fields = append(fields, zap.String("reason", string(res.Reason)), zap.Error(res.Err))
	if res.Reason == ReasonConfiguration {
		s.log.Error("pickup token rejected: shared secret not configured", fields...)
	} else {
		s.log.Warn("pickup token rejected", fields...)
	}

	event := audit.NewEvent(audit.EventPickupRejected).
		Session(res.SessionID).
		Device(deviceID).
		Failure().
		Message(string(res.Reason)).
		Risk(riskFor(res.Reason))
	if res.OrderID > 0 {
		event.Resource("order", strconv.FormatInt(res.OrderID, 10))
	}
	s.record(ctx, event)
}

func riskFor(r Reason) audit.RiskLevel {
	switch r {
	case ReasonConfiguration:
		return audit.RiskCritical
	case ReasonDecryptFailed, ReasonClaimsMismatch, ReasonReplayed, ReasonLookupFailed:
		return audit.RiskHigh
	case ReasonOwnershipMismatch:
		return audit.RiskMedium
	default:
		return audit.RiskLow
	}
}

func (s *Service) record(ctx context.Context, b *audit.EventBuilder) {
	if s.audit == nil {
		return
	}
	event := b.At(s.clock.Now()).Build()
	if err := s.audit.Log(ctx, event); err != nil {
		s.log.Warn("failed to record audit event", zap.String("type", event.Type), zap.Error(err))
	}
}
