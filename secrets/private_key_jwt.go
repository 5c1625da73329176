package secrets

import (
	"context"
	"crypto"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/giantswarm/oidc-core/security"
	"github.com/giantswarm/oidc-core/storage"
)

const (
	jtiKeyPrefix = "jti:"
	jwtIDClaim   = "jti"
)

var assertionSigningMethods = []string{
	"RS256", "RS384", "RS512",
	"PS256", "PS384", "PS512",
	"ES256", "ES384", "ES512",
	"EdDSA",
}

// PrivateKeyJWTValidator verifies client assertions signed with a key whose
// public half is configured as a PublicKeyPem secret (RFC 7523).
type PrivateKeyJWTValidator struct {
	// Audiences are the accepted aud values, usually the issuer and the token endpoint URL
	Audiences []string

	// ReplayCache remembers used jti values until the assertion expires. Nil disables replay protection.
	ReplayCache storage.ThrottleStore

	ClockSkew time.Duration
	Clock     security.Clock
	Logger    *slog.Logger
	Auditor   *security.Auditor
}

// Handles implements Validator
func (v *PrivateKeyJWTValidator) Handles(parsedType string) bool {
	return parsedType == ParsedSecretTypeJwtBearer
}

// Validate implements Validator
func (v *PrivateKeyJWTValidator) Validate(ctx context.Context, secrets []storage.Secret, parsed *ParsedSecret) ValidationResult {
	assertion, ok := parsed.Credential.(string)
	if !ok || assertion == "" {
		return failed
	}

	keys := v.publicKeys(ctx, secrets, parsed.ID)
	if len(keys) == 0 {
		return failed
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods(assertionSigningMethods),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(parsed.ID),
		jwt.WithSubject(parsed.ID),
		jwt.WithLeeway(v.ClockSkew),
		jwt.WithTimeFunc(v.now),
	)

	var claims jwt.MapClaims
	for _, key := range keys {
		candidate := jwt.MapClaims{}
		_, err := parser.ParseWithClaims(assertion, candidate, func(*jwt.Token) (any, error) {
			return key, nil
		})
		if err == nil {
			claims = candidate
			break
		}
	}
	if claims == nil {
		logger(v.Logger).DebugContext(ctx, "Client assertion verification failed", "client_id", parsed.ID)
		return failed
	}

	audiences, err := claims.GetAudience()
	if err != nil || !containsAny(audiences, v.Audiences) {
		logger(v.Logger).DebugContext(ctx, "Client assertion has invalid audience", "client_id", parsed.ID)
		return failed
	}

	jti, _ := claims[jwtIDClaim].(string)
	if jti == "" {
		logger(v.Logger).DebugContext(ctx, "Client assertion without jti", "client_id", parsed.ID)
		return failed
	}

	exp, _ := claims.GetExpirationTime()
	if !v.markUsed(ctx, parsed.ID, jti, exp.Time) {
		return failed
	}

	return ValidationResult{Success: true}
}

// markUsed records jti and reports false when it was seen before
func (v *PrivateKeyJWTValidator) markUsed(ctx context.Context, clientID, jti string, expiresAt time.Time) bool {
	if v.ReplayCache == nil {
		return true
	}

	key := jtiKeyPrefix + clientID + ":" + jti
	_, seen, err := v.ReplayCache.GetLastSeen(ctx, key)
	if err != nil {
		logger(v.Logger).ErrorContext(ctx, "Failed to read client assertion replay cache", "error", err)
		return false
	}
	if seen {
		logger(v.Logger).WarnContext(ctx, "Client assertion replayed", "client_id", clientID)
		v.Auditor.LogEvent(ctx, security.Event{
			Type:     security.EventJWTAssertionReplay,
			ClientID: clientID,
		})
		return false
	}

	now := v.now()
	ttl := expiresAt.Sub(now) + v.ClockSkew
	if ttl <= 0 {
		ttl = v.ClockSkew + time.Second
	}
	if err := v.ReplayCache.SetLastSeen(ctx, key, now, ttl); err != nil {
		logger(v.Logger).ErrorContext(ctx, "Failed to write client assertion replay cache", "error", err)
		return false
	}
	return true
}

func (v *PrivateKeyJWTValidator) now() time.Time {
	if v.Clock == nil {
		return time.Now()
	}
	return v.Clock()
}

func (v *PrivateKeyJWTValidator) publicKeys(ctx context.Context, secrets []storage.Secret, clientID string) []crypto.PublicKey {
	var keys []crypto.PublicKey
	for _, secret := range secrets {
		if secret.Type != storage.SecretTypePublicKeyPEM {
			continue
		}
		key, err := ParsePublicKeyPEM([]byte(secret.Value))
		if err != nil {
			logger(v.Logger).WarnContext(ctx, "Invalid public key secret", "client_id", clientID, "error", err)
			continue
		}
		keys = append(keys, key)
	}
	return keys
}

// ParsePublicKeyPEM parses an RSA, ECDSA or Ed25519 public key in PEM form
func ParsePublicKeyPEM(data []byte) (crypto.PublicKey, error) {
	if key, err := jwt.ParseRSAPublicKeyFromPEM(data); err == nil {
		return key, nil
	}
	if key, err := jwt.ParseECPublicKeyFromPEM(data); err == nil {
		return key, nil
	}
	return jwt.ParseEdPublicKeyFromPEM(data)
}

func containsAny(values, accepted []string) bool {
	for _, v := range values {
		for _, a := range accepted {
			if v == a {
				return true
			}
		}
	}
	return false
}
