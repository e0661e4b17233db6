package otpauth

import (
	"context"
	"errors"
	"io"
	"log/slog"

	internalaudit "github.com/MrEthical07/otpauth/internal/audit"
	"github.com/MrEthical07/otpauth/internal/flows"
	"github.com/MrEthical07/otpauth/pool"
)

// AuditEvent is one authentication-relevant occurrence.
type AuditEvent = internalaudit.Event

// AuditSink receives audit events from the engine's dispatcher goroutine.
type AuditSink = internalaudit.Sink

type NoOpSink = internalaudit.NoOpSink

// ChannelSink buffers events in a channel; useful in tests.
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink = internalaudit.JSONWriterSink

// SlogSink logs events through a *slog.Logger.
type SlogSink = internalaudit.SlogSink

func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

func NewSlogSink(logger *slog.Logger) *SlogSink {
	return internalaudit.NewSlogSink(logger)
}

const (
	AuditEventAuthSuccess       = "auth_success"
	AuditEventAuthFailure       = "auth_failure"
	AuditEventOTPFallback       = "otp_fallback"
	AuditEventOTPTriggerFailure = "otp_trigger_failure"
	AuditEventLogout            = "logout"
	AuditEventRateLimitCleanup  = "rate_limit_cleanup"
)

// AuditErrorCode is the stable error vocabulary carried in AuditEvent.Error.
type AuditErrorCode string

const (
	auditErrOTPUnavailable   AuditErrorCode = "otp_unavailable"
	auditErrTriggerFailed    AuditErrorCode = "otp_trigger_failed"
	auditErrLoginRejected    AuditErrorCode = "login_rejected"
	auditErrLoginMalformed   AuditErrorCode = "login_response_malformed"
	auditErrStoreUnavailable AuditErrorCode = "store_unavailable"
	auditErrPanic            AuditErrorCode = "panic"
	auditErrTransport        AuditErrorCode = "transport"
	auditErrInternal         AuditErrorCode = "internal_error"
)

func auditErrorCode(err error) AuditErrorCode {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAuthenticationPanic):
		return auditErrPanic
	case errors.Is(err, ErrOTPTrigger):
		return auditErrTriggerFailed
	case errors.Is(err, flows.ErrLoginRejected):
		return auditErrLoginRejected
	case errors.Is(err, flows.ErrAccessTokenMissing), errors.Is(err, flows.ErrLoginBodyInvalid):
		return auditErrLoginMalformed
	case errors.Is(err, pool.ErrUnavailable), errors.Is(err, ErrStoreUnavailable):
		return auditErrStoreUnavailable
	case errors.Is(err, flows.ErrOTPNotFound), errors.Is(err, flows.ErrOTPMalformed), errors.Is(err, pool.ErrKeyNotFound):
		return auditErrOTPUnavailable
	case errors.Is(err, errTransport):
		return auditErrTransport
	default:
		return auditErrInternal
	}
}

type auditSubject struct {
	identity string
	clientID string
	deviceID string
}

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	subject auditSubject,
	phase string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: e.now().UTC(),
		EventType: eventType,
		Identity:  subject.identity,
		ClientID:  subject.clientID,
		DeviceID:  subject.deviceID,
		Phase:     phase,
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}
