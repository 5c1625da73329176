package security

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/giantswarm/oidc-core/instrumentation"
)

// Auditor handles security event logging with PII protection.
// Subject identifiers are hashed before they reach the log.
type Auditor struct {
	logger          *slog.Logger
	enabled         bool
	limiter         *RateLimiter
	instrumentation *instrumentation.Instrumentation
}

// NewAuditor creates a new security auditor
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		logger:  logger,
		enabled: enabled,
	}
}

// SetRateLimiter bounds how many events per client and event type are written.
// Suppressed events are still counted in metrics.
func (a *Auditor) SetRateLimiter(rl *RateLimiter) {
	a.limiter = rl
}

// SetInstrumentation enables audit event metrics
func (a *Auditor) SetInstrumentation(inst *instrumentation.Instrumentation) {
	a.instrumentation = inst
}

// Event represents a security audit event
type Event struct {
	ID        string
	Type      string
	SubjectID string
	ClientID  string
	Details   map[string]any
	Timestamp time.Time
}

// LogEvent logs a security event with hashed PII
func (a *Auditor) LogEvent(ctx context.Context, event Event) {
	if a == nil || !a.enabled {
		return
	}

	if a.instrumentation != nil {
		a.instrumentation.Metrics().RecordAuditEvent(ctx, event.Type)
	}

	if a.limiter != nil && !a.limiter.Allow(event.Type+":"+event.ClientID) {
		if a.instrumentation != nil {
			a.instrumentation.Metrics().RecordRateLimitExceeded(ctx, "security_log")
		}
		return
	}

	if event.ID == "" {
		event.ID = NewEventID()
	}
	event.Timestamp = time.Now()

	a.logger.InfoContext(ctx, "security_audit",
		"event_id", event.ID,
		"event_type", event.Type,
		"subject_id_hash", hashForLogging(event.SubjectID),
		"client_id", event.ClientID,
		"details", event.Details,
		"timestamp", event.Timestamp,
	)
}

// LogClientAuthFailure logs a failed client or API authentication
func (a *Auditor) LogClientAuthFailure(ctx context.Context, clientID, secretType string) {
	a.LogEvent(ctx, Event{
		Type:     EventClientAuthFailure,
		ClientID: clientID,
		Details: map[string]any{
			"secret_type": secretType,
		},
	})
}

// LogTokenRequestFailure logs a rejected token request
func (a *Auditor) LogTokenRequestFailure(ctx context.Context, clientID, grantType, errorCode string) {
	a.LogEvent(ctx, Event{
		Type:     EventTokenRequestRejected,
		ClientID: clientID,
		Details: map[string]any{
			"grant_type": grantType,
			"error":      errorCode,
		},
	})
}

// LogPKCEFailure logs a failed PKCE verification at code redemption
func (a *Auditor) LogPKCEFailure(ctx context.Context, subjectID, clientID, method string) {
	a.LogEvent(ctx, Event{
		Type:      EventPKCEValidationFailed,
		SubjectID: subjectID,
		ClientID:  clientID,
		Details: map[string]any{
			"method": method,
		},
	})
}

// LogAuthFailure logs a failed resource owner authentication
func (a *Auditor) LogAuthFailure(ctx context.Context, username, clientID, reason string) {
	a.LogEvent(ctx, Event{
		Type:      EventAuthFailure,
		SubjectID: username,
		ClientID:  clientID,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogConsentGranted logs a remembered consent decision
func (a *Auditor) LogConsentGranted(ctx context.Context, subjectID, clientID string, scopes []string) {
	a.LogEvent(ctx, Event{
		Type:      EventConsentGranted,
		SubjectID: subjectID,
		ClientID:  clientID,
		Details: map[string]any{
			"scopes": scopes,
		},
	})
}

// LogTokenRevoked logs when a token is revoked
func (a *Auditor) LogTokenRevoked(ctx context.Context, subjectID, clientID, tokenType string) {
	a.LogEvent(ctx, Event{
		Type:      EventTokenRevoked,
		SubjectID: subjectID,
		ClientID:  clientID,
		Details: map[string]any{
			"token_type": tokenType,
		},
	})
}

// LogInvalidRedirect logs an authorize request with an unregistered redirect URI
func (a *Auditor) LogInvalidRedirect(ctx context.Context, clientID, redirectURI string) {
	a.LogEvent(ctx, Event{
		Type:     EventInvalidRedirect,
		ClientID: clientID,
		Details: map[string]any{
			"redirect_uri": redirectURI,
		},
	})
}

// hashForLogging creates a SHA256 hash of sensitive data for logging
func hashForLogging(sensitive string) string {
	if sensitive == "" {
		return "<empty>"
	}
	hash := sha256.Sum256([]byte(sensitive))
	return hex.EncodeToString(hash[:])[:16]
}
