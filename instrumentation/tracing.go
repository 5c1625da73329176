package instrumentation

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Common span attribute keys
//
// SECURITY WARNING: Never record actual credential values (client secrets, access tokens,
// refresh tokens, authorization codes, device codes, PKCE verifiers) in traces or metrics.
// Only record metadata such as grant types, secret types and validation results.
const (
	// Protocol attributes - SAFE to use for metadata only
	AttrClientID         = "oidc.client_id"         // Client identifier (non-secret)
	AttrSubjectID        = "oidc.subject_id"        // Subject identifier (non-secret)
	AttrScope            = "oidc.scope"             // Requested scopes
	AttrPKCEMethod       = "oidc.pkce.method"       // PKCE method used (S256, plain)
	AttrGrantType        = "oidc.grant_type"        // OAuth grant type
	AttrResponseType     = "oidc.response_type"     // OAuth response type
	AttrSecretType       = "oidc.secret.type"       // Parsed secret type
	AttrTokenKind        = "oidc.token.kind"        //nolint:gosec // "jwt" or "reference" - NOT the actual token
	AttrValidator        = "oidc.validator"         // Validator name
	AttrInteraction      = "oidc.interaction"       // Interaction decision
	AttrError            = "oidc.error"             // Protocol error code
	AttrErrorDescription = "oidc.error_description" // Protocol error description

	// Storage attributes
	AttrStorageOperation = "storage.operation"
	AttrStorageResult    = "storage.result"
	AttrStorageType      = "storage.type"

	// Security attributes
	AttrRateLimiterType     = "security.rate_limiter.type"
	AttrAuditEventType      = "security.audit.event_type"
	AttrEncryptionOperation = "security.encryption.operation"
)

// StartSpan starts a span on tracer. With a nil tracer it returns ctx
// unchanged and a non-recording span, so ending it never touches a parent span.
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if tracer == nil {
		return ctx, noop.Span{}
	}
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// RecordError records an error on a span with proper status codes (nil-safe)
func RecordError(span trace.Span, err error) {
	if span != nil && err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanSuccess marks a span as successful (nil-safe)
func SetSpanSuccess(span trace.Span) {
	if span != nil {
		span.SetStatus(codes.Ok, "")
	}
}

// SetSpanError sets an error status on a span (nil-safe)
func SetSpanError(span trace.Span, message string) {
	if span != nil {
		span.SetStatus(codes.Error, message)
	}
}

// SetSpanAttributes sets attributes on a span (nil-safe)
func SetSpanAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	if span != nil {
		span.SetAttributes(attrs...)
	}
}

// AddProtocolError marks span as failed with an OAuth error code and description (nil-safe)
func AddProtocolError(span trace.Span, code, description string) {
	SetSpanAttributes(span, attribute.String(AttrError, code))
	if description != "" {
		SetSpanAttributes(span, attribute.String(AttrErrorDescription, description))
	}
	SetSpanError(span, code)
}

// AddOAuthFlowAttributes adds common protocol attributes to a span (nil-safe)
func AddOAuthFlowAttributes(span trace.Span, clientID, subjectID, scope string) {
	if clientID != "" {
		SetSpanAttributes(span, attribute.String(AttrClientID, clientID))
	}
	if subjectID != "" {
		SetSpanAttributes(span, attribute.String(AttrSubjectID, subjectID))
	}
	if scope != "" {
		SetSpanAttributes(span, attribute.String(AttrScope, scope))
	}
}

// AddPKCEAttributes adds PKCE-related attributes to a span (nil-safe)
func AddPKCEAttributes(span trace.Span, method string) {
	if method != "" {
		SetSpanAttributes(span, attribute.String(AttrPKCEMethod, method))
	}
}

// AddStorageAttributes adds storage operation attributes to a span (nil-safe)
func AddStorageAttributes(span trace.Span, operation, storageType string) {
	SetSpanAttributes(span,
		attribute.String(AttrStorageOperation, operation),
		attribute.String(AttrStorageType, storageType),
	)
}
