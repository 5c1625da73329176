package oidc

import (
	"log/slog"
	"time"

	"github.com/giantswarm/oidc-core/instrumentation"
	"github.com/giantswarm/oidc-core/security"
	"github.com/giantswarm/oidc-core/validation"
)

// Config holds the configuration of the validation core
type Config struct {
	// Issuer is the issuer identifier of this authorization server.
	// JWTs with a different iss claim are rejected.
	Issuer string

	// AccessTokenAudience is the audience expected in JWT access tokens.
	// Empty skips the audience check.
	AccessTokenAudience string

	// InputLengthRestrictions bounds the size of request parameters.
	// Default: validation.DefaultInputLengthRestrictions()
	InputLengthRestrictions validation.InputLengthRestrictions

	// DeviceFlowInterval is the minimum time between two device code polls.
	// Default: 5 seconds
	DeviceFlowInterval time.Duration

	// ClockSkew is the tolerance applied to token expiry and not-before checks.
	// Default: 5 minutes. A negative value disables the tolerance.
	ClockSkew time.Duration

	// RequirePKCE enforces PKCE for every client using the code flow
	// WARNING: Disabling this leaves PKCE to the per-client setting
	// Default: true (secure by default)
	RequirePKCE bool

	// AllowLoopbackDynamicPort lets native clients with a registered loopback
	// redirect URI use any port on it (RFC 8252)
	// Default: true
	AllowLoopbackDynamicPort bool

	// ClientAssertionAudiences are the aud values accepted in private_key_jwt
	// client assertions. Default: the issuer
	ClientAssertionAudiences []string

	// RequireLocalUser makes subjects from external identity providers
	// inactive unless a local user with the same subject id exists
	RequireLocalUser bool

	// EnableAuditLogging enables security audit logging.
	// Subject identifiers are hashed before they are logged.
	EnableAuditLogging bool

	// AuditRateLimit bounds audit events per client and event type.
	// Zero values disable the limiter.
	AuditRateLimit security.RateLimiterConfig

	// Clock is the time source (default: time.Now)
	Clock security.Clock

	// Logger for structured logging (optional, uses default if not provided)
	Logger *slog.Logger

	// Instrumentation enables tracing and metrics (optional)
	Instrumentation *instrumentation.Instrumentation
}

// applySecureDefaults applies secure-by-default configuration values.
// Booleans cannot distinguish "not set" from "set to false", so a config
// with all security switches off is treated as fresh and gets the secure
// values; anything else is respected and insecure choices are logged.
func applySecureDefaults(config *Config, logger *slog.Logger) *Config {
	if config.InputLengthRestrictions == (validation.InputLengthRestrictions{}) {
		config.InputLengthRestrictions = validation.DefaultInputLengthRestrictions()
	}
	if config.DeviceFlowInterval == 0 {
		config.DeviceFlowInterval = validation.DefaultDeviceFlowInterval
	}
	if config.ClockSkew == 0 {
		config.ClockSkew = validation.DefaultClockSkew
	}
	if config.Clock == nil {
		config.Clock = security.SystemClock
	}
	if len(config.ClientAssertionAudiences) == 0 && config.Issuer != "" {
		config.ClientAssertionAudiences = []string{config.Issuer}
	}

	isDefaultConfig := !config.RequirePKCE && !config.AllowLoopbackDynamicPort

	if isDefaultConfig {
		config.RequirePKCE = true
		config.AllowLoopbackDynamicPort = true
		return config
	}

	if !config.RequirePKCE {
		logger.Warn("SECURITY WARNING: PKCE is not enforced server wide",
			"risk", "Authorization code interception for clients without RequirePKCE",
			"recommendation", "Set RequirePKCE=true for OAuth 2.1 compliance",
			"learn_more", "https://datatracker.ietf.org/doc/html/draft-ietf-oauth-v2-1-10#section-7.6")
	}
	if config.ClockSkew > 10*time.Minute {
		logger.Warn("SECURITY NOTICE: Large clock skew tolerance",
			"clock_skew", config.ClockSkew,
			"risk", "Expired tokens remain usable for longer")
	}

	return config
}

// validationOptions derives the options shared by every validator
func (c *Config) validationOptions(auditor *security.Auditor, logger *slog.Logger) validation.Options {
	return validation.Options{
		Issuer:                  c.Issuer,
		AccessTokenAudience:     c.AccessTokenAudience,
		InputLengthRestrictions: c.InputLengthRestrictions,
		RequirePKCE:             c.RequirePKCE,
		DeviceFlowInterval:      c.DeviceFlowInterval,
		ClockSkew:               c.ClockSkew,
		Clock:                   c.Clock,
		Logger:                  logger,
		Auditor:                 auditor,
		Instrumentation:         c.Instrumentation,
	}
}
