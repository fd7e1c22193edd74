package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Common span attribute keys
const (
	AttrSessionID = "ebox.session.id"
	AttrOrderID   = "ebox.order.id"
	AttrDeviceID  = "ebox.device.id"
	AttrReason    = "ebox.pickup.reason"
)

// SpanOptions provides configuration for span creation.
type SpanOptions struct {
	SessionID string
	OrderID   int64
	DeviceID  string
}

// StartSpan starts a new span with common ebox attributes.
func (p *Provider) StartSpan(ctx context.Context, name string, opts SpanOptions) (context.Context, trace.Span) {
	if p == nil {
		return ctx, nil
	}
	tracer := p.Tracer()

	attrs := []attribute.KeyValue{}

	if opts.SessionID != "" {
		attrs = append(attrs, attribute.String(AttrSessionID, opts.SessionID))
	}
	if opts.OrderID != 0 {
		attrs = append(attrs, attribute.Int64(AttrOrderID, opts.OrderID))
	}
	if opts.DeviceID != "" {
		attrs = append(attrs, attribute.String(AttrDeviceID, opts.DeviceID))
	}

	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// SpanIssue starts a span for pickup token issuance.
func (p *Provider) SpanIssue(ctx context.Context, sessionID string, orderID int64) (context.Context, trace.Span) {
	return p.StartSpan(ctx, "ebox.pickup.issue", SpanOptions{
		SessionID: sessionID,
		OrderID:   orderID,
	})
}

// SpanVerify starts a span for pickup token verification. The token itself
// is never attached.
func (p *Provider) SpanVerify(ctx context.Context) (context.Context, trace.Span) {
	return p.StartSpan(ctx, "ebox.pickup.verify", SpanOptions{})
}

// SetSpanError marks a span as having an error.
func SetSpanError(span trace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// AddSpanEvent adds an event to the span.
func AddSpanEvent(span trace.Span, name string, attrs ...attribute.KeyValue) {
	if span == nil {
		return
	}
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// EndSpan ends a span with optional error handling.
func EndSpan(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		SetSpanError(span, err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
