package security

// Event type constants for security audit logging.
const (
	// Client authentication

	// EventClientAuthFailure is logged when a client or API resource fails secret validation
	EventClientAuthFailure = "client_auth_failure"

	// EventSecretExpired is logged when an expired secret is skipped during validation
	EventSecretExpired = "secret_expired"

	// EventJWTAssertionReplay is logged when a client assertion jti is presented twice
	EventJWTAssertionReplay = "jwt_assertion_replay"

	// Token endpoint

	// EventTokenRequestRejected is logged when a token request fails validation
	EventTokenRequestRejected = "token_request_rejected"

	// EventPKCEValidationFailed is logged when code_verifier validation fails
	EventPKCEValidationFailed = "pkce_validation_failed"

	// EventAuthFailure is logged when resource owner credentials are rejected
	EventAuthFailure = "auth_failure"

	// EventExtensionGrantFault is logged when an extension grant validator fails or panics
	EventExtensionGrantFault = "extension_grant_fault"

	// EventDeviceSlowDown is logged when a device polls faster than the configured interval
	EventDeviceSlowDown = "device_slow_down"

	// EventTokenRevoked is logged when a refresh or reference token is revoked
	EventTokenRevoked = "token_revoked" //nolint:gosec // G101: event type name, not a credential

	// Authorize endpoint

	// EventInvalidRedirect is logged when an unregistered redirect URI is used
	EventInvalidRedirect = "invalid_redirect"

	// EventConsentGranted is logged when a consent decision is remembered
	EventConsentGranted = "consent_granted"
)
