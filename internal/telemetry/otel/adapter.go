package otel

import (
	"context"
	"sort"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"multi-entity-auth/backend/internal/audit"
)

const instrumentationName = "multi-entity-auth/security-events"

// Emitter is the subset of otellog.Logger the event emitter uses.
type Emitter interface {
	Emit(ctx context.Context, rec otellog.Record)
}

// EventEmitter records auth security events as OTel log records.
type EventEmitter struct {
	logger Emitter
	now    func() time.Time
}

// NewEventEmitter returns an audit.Recorder backed by provider. A nil provider yields audit.Nop.
func NewEventEmitter(provider *sdklog.LoggerProvider) audit.Recorder {
	if provider == nil {
		return audit.Nop{}
	}
	return NewEventEmitterWithLogger(provider.Logger(instrumentationName))
}

// NewEventEmitterWithLogger wraps an existing logger.
func NewEventEmitterWithLogger(logger Emitter) *EventEmitter {
	return &EventEmitter{logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Record emits e with the action as body. Empty fields are omitted and
// metadata keys are emitted in sorted order.
func (e *EventEmitter) Record(ctx context.Context, ev audit.Event) {
	if e == nil || e.logger == nil || ev.Action == "" {
		return
	}
	rec := otellog.Record{}
	rec.SetTimestamp(e.now())
	rec.SetEventName("auth." + ev.Action)
	rec.SetSeverity(severityFor(ev.Action))
	rec.SetBody(otellog.StringValue(ev.Action))
	rec.AddAttributes(otellog.String("event_type", ev.Action))
	if ev.AuthEntity != "" {
		rec.AddAttributes(otellog.String("auth_entity", ev.AuthEntity))
	}
	if ev.IdentityID != "" {
		rec.AddAttributes(otellog.String("identity_id", ev.IdentityID))
	}
	if ev.SessionID != "" {
		rec.AddAttributes(otellog.String("session_id", ev.SessionID))
	}
	keys := make([]string, 0, len(ev.Metadata))
	for k := range ev.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		rec.AddAttributes(otellog.String("meta."+k, ev.Metadata[k]))
	}
	e.logger.Emit(ctx, rec)
}

func severityFor(action string) otellog.Severity {
	switch action {
	case audit.ActionLoginFailure, audit.ActionAccountLocked:
		return otellog.SeverityWarn
	default:
		return otellog.SeverityInfo
	}
}
