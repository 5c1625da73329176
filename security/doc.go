// Package security provides the security building blocks of the validation core:
// audit logging, rate limiting, clock-skew aware expiry checks and encryption at rest.
//
// # Audit Logging
//
// Auditor writes security events through log/slog. Subject identifiers are
// hashed with SHA-256 and truncated before logging; client ids are logged as is.
// An optional RateLimiter keyed by event type and client id suppresses floods of
// identical failures (for example a client hammering the token endpoint with a
// wrong secret). Suppressed events still increment oidc.audit.events.total.
//
//	limiter := security.NewRateLimiter(security.RateLimiterConfig{EventsPerSecond: 1, Burst: 5})
//	defer limiter.Stop()
//	auditor := security.NewAuditor(logger, true)
//	auditor.SetRateLimiter(limiter)
//
// # Expiry
//
// IsExpiredAt and IsNotYetValid apply a grace period for clock skew.
// DefaultClockSkewGracePeriod is 5 seconds.
//
// # Encryption at Rest
//
// Encryptor seals store payloads with AES-256-GCM. The redis store uses it for
// device authorizations and consents. A zero-length key disables encryption.
package security
