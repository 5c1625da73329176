package secrets

import (
	"context"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base64"
	"log/slog"
	"time"

	"github.com/giantswarm/oidc-core/instrumentation"
	"github.com/giantswarm/oidc-core/security"
	"github.com/giantswarm/oidc-core/storage"
)

// ValidationResult is the outcome of validating a parsed secret
type ValidationResult struct {
	Success bool

	// Confirmation is a JSON cnf value binding issued tokens to the credential (mutual TLS)
	Confirmation string
}

var failed = ValidationResult{}

// Validator verifies a parsed secret against the configured secrets
type Validator interface {
	// Handles reports whether the validator understands parsed secrets of the given type
	Handles(parsedType string) bool
	Validate(ctx context.Context, secrets []storage.Secret, parsed *ParsedSecret) ValidationResult
}

// HashedSharedSecretValidator compares a presented shared secret with stored
// base64 SHA-256 or SHA-512 digests. The digest algorithm is picked from the
// decoded length of the stored value.
type HashedSharedSecretValidator struct {
	Logger *slog.Logger
}

// Handles implements Validator
func (v *HashedSharedSecretValidator) Handles(parsedType string) bool {
	return parsedType == ParsedSecretTypeSharedSecret
}

// Validate implements Validator
func (v *HashedSharedSecretValidator) Validate(ctx context.Context, secrets []storage.Secret, parsed *ParsedSecret) ValidationResult {
	presented, ok := parsed.Credential.(string)
	if !ok || presented == "" {
		return failed
	}

	sha256Sum := sha256.Sum256([]byte(presented))
	sha512Sum := sha512.Sum512([]byte(presented))

	for _, secret := range secrets {
		if secret.Type != storage.SecretTypeSharedSecret {
			continue
		}

		stored, err := base64.StdEncoding.DecodeString(secret.Value)
		if err != nil {
			logger(v.Logger).DebugContext(ctx, "Stored shared secret is not base64", "client_id", parsed.ID)
			continue
		}

		var candidate []byte
		switch len(stored) {
		case sha256.Size:
			candidate = sha256Sum[:]
		case sha512.Size:
			candidate = sha512Sum[:]
		default:
			logger(v.Logger).DebugContext(ctx, "Stored shared secret has unexpected length", "client_id", parsed.ID)
			continue
		}

		if subtle.ConstantTimeCompare(stored, candidate) == 1 {
			return ValidationResult{Success: true}
		}
	}

	return failed
}

// PlainTextSharedSecretValidator compares shared secrets stored in clear text.
// Meant for development setups and API resource secrets in tests.
type PlainTextSharedSecretValidator struct{}

// Handles implements Validator
func (v *PlainTextSharedSecretValidator) Handles(parsedType string) bool {
	return parsedType == ParsedSecretTypeSharedSecret
}

// Validate implements Validator
func (v *PlainTextSharedSecretValidator) Validate(_ context.Context, secrets []storage.Secret, parsed *ParsedSecret) ValidationResult {
	presented, ok := parsed.Credential.(string)
	if !ok || presented == "" {
		return failed
	}

	for _, secret := range secrets {
		if secret.Type != storage.SecretTypeSharedSecret {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(secret.Value), []byte(presented)) == 1 {
			return ValidationResult{Success: true}
		}
	}
	return failed
}

// HashSecret returns the base64 SHA-256 digest of a shared secret, the form stored on clients
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// HashSecretSHA512 returns the base64 SHA-512 digest of a shared secret
func HashSecretSHA512(secret string) string {
	sum := sha512.Sum512([]byte(secret))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// ValidatorChain runs validators in order against the non-expired secrets
type ValidatorChain struct {
	validators []Validator
	clock      security.Clock
	logger     *slog.Logger

	instrumentation *instrumentation.Instrumentation
}

// NewValidatorChain creates a chain from validators in the given order
func NewValidatorChain(logger *slog.Logger, validators ...Validator) *ValidatorChain {
	if logger == nil {
		logger = slog.Default()
	}
	return &ValidatorChain{
		validators: validators,
		clock:      security.SystemClock,
		logger:     logger,
	}
}

// SetClock replaces the time source used to filter expired secrets
func (c *ValidatorChain) SetClock(clock security.Clock) {
	c.clock = clock
}

// SetInstrumentation enables failure metrics
func (c *ValidatorChain) SetInstrumentation(inst *instrumentation.Instrumentation) {
	c.instrumentation = inst
}

// Validate succeeds on the first validator that handles the parsed type and accepts it.
func (c *ValidatorChain) Validate(ctx context.Context, secrets []storage.Secret, parsed *ParsedSecret) ValidationResult {
	if parsed == nil {
		return failed
	}

	candidates := c.activeSecrets(ctx, secrets, parsed.ID)
	if len(candidates) == 0 {
		c.logger.DebugContext(ctx, "No active secrets configured", "client_id", parsed.ID)
		c.recordFailure(ctx, parsed.Type)
		return failed
	}

	for _, v := range c.validators {
		if !v.Handles(parsed.Type) {
			continue
		}
		if result := v.Validate(ctx, candidates, parsed); result.Success {
			return result
		}
	}

	c.logger.DebugContext(ctx, "Secret validation failed", "client_id", parsed.ID, "type", parsed.Type)
	c.recordFailure(ctx, parsed.Type)
	return failed
}

func (c *ValidatorChain) activeSecrets(ctx context.Context, secrets []storage.Secret, id string) []storage.Secret {
	now := c.clock()
	active := make([]storage.Secret, 0, len(secrets))
	for _, secret := range secrets {
		if secret.IsExpired(now) {
			c.logger.InfoContext(ctx, "Skipping expired secret",
				"client_id", id,
				"type", secret.Type,
				"description", secret.Description,
				"expired_at", secret.Expiration.Format(time.RFC3339))
			continue
		}
		active = append(active, secret)
	}
	return active
}

func (c *ValidatorChain) recordFailure(ctx context.Context, secretType string) {
	if c.instrumentation != nil {
		c.instrumentation.Metrics().RecordSecretValidationFailed(ctx, secretType)
	}
}
