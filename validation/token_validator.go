package validation

import (
	"context"
	"encoding/json"
	"math"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/giantswarm/oidc-core/instrumentation"
	"github.com/giantswarm/oidc-core/internal/util"
	"github.com/giantswarm/oidc-core/protocol"
	"github.com/giantswarm/oidc-core/security"
	"github.com/giantswarm/oidc-core/signing"
	"github.com/giantswarm/oidc-core/storage"
)

// Token kinds, as recorded in spans
const (
	TokenKindJWT       = "jwt"
	TokenKindReference = "reference"
)

// TokenValidationResult is the outcome of validating a presented token.
// Error is either invalid_token or insufficient_scope.
type TokenValidationResult struct {
	IsError          bool
	Error            string
	ErrorDescription string

	Claims map[string]any
	Client *storage.Client

	// JWT is the validated token when it was self-contained
	JWT string

	// ReferenceToken is the stored token when a handle was presented
	ReferenceToken *storage.ReferenceToken
}

func invalidToken(description string) TokenValidationResult {
	return TokenValidationResult{IsError: true, Error: protocol.ErrorInvalidToken, ErrorDescription: description}
}

// ProtocolError returns the error of a failed validation, nil otherwise
func (r TokenValidationResult) ProtocolError() *protocol.Error {
	if !r.IsError {
		return nil
	}
	return protocol.NewError(r.Error, r.ErrorDescription)
}

// Scopes returns the scope claim as a list
func (r TokenValidationResult) Scopes() []string {
	return stringsClaim(r.Claims, protocol.ClaimScope)
}

// TokenValidator validates access tokens and identity tokens. Tokens
// containing a dot are treated as JWTs, anything else as a reference handle.
type TokenValidator struct {
	signer     signing.Service
	references storage.ReferenceTokenStore
	clients    storage.ClientStore
	opts       Options
	telemetry  telemetry
}

// NewTokenValidator creates a token validator. references may be nil when
// only JWT access tokens are issued.
func NewTokenValidator(signer signing.Service, references storage.ReferenceTokenStore, clients storage.ClientStore, opts Options) *TokenValidator {
	opts = opts.withDefaults()
	return &TokenValidator{
		signer:     signer,
		references: references,
		clients:    clients,
		opts:       opts,
		telemetry:  newTelemetry(opts.Instrumentation),
	}
}

// ValidateAccessToken validates token. When expectedScope is not empty the
// token must carry it, otherwise insufficient_scope is returned.
func (v *TokenValidator) ValidateAccessToken(ctx context.Context, token, expectedScope string) TokenValidationResult {
	kind := tokenKind(token)
	ctx, span := v.telemetry.start(ctx, "access_token", attribute.String(instrumentation.AttrTokenKind, kind))
	start := time.Now()

	result := v.validateAccessToken(ctx, token, kind, expectedScope)
	v.telemetry.finish(ctx, span, "access_token", result.ProtocolError(), start)
	return result
}

func (v *TokenValidator) validateAccessToken(ctx context.Context, token, kind, expectedScope string) TokenValidationResult {
	if token == "" {
		return invalidToken("Token is missing")
	}

	var result TokenValidationResult
	switch kind {
	case TokenKindJWT:
		if len(token) > v.opts.InputLengthRestrictions.JWT {
			v.opts.Logger.InfoContext(ctx, "JWT too long", "length", len(token))
			return invalidToken("Token too long")
		}
		result = v.validateJWT(ctx, token, v.opts.AccessTokenAudience, true)
	default:
		if len(token) > v.opts.InputLengthRestrictions.TokenHandle {
			v.opts.Logger.InfoContext(ctx, "Token handle too long", "length", len(token))
			return invalidToken("Token too long")
		}
		result = v.validateReference(ctx, token)
	}
	if result.IsError {
		return result
	}

	if expectedScope != "" && !slices.Contains(result.Scopes(), expectedScope) {
		v.opts.Logger.InfoContext(ctx, "Token lacks required scope", "scope", expectedScope)
		return TokenValidationResult{IsError: true, Error: protocol.ErrorInsufficientScope, ErrorDescription: "Missing scope: " + expectedScope}
	}
	return result
}

// ValidateIdentityToken validates an identity token issued to clientID. With
// an empty clientID the single audience of the token is used. Lifetime checks
// can be skipped for end-session requests, which may present expired tokens.
func (v *TokenValidator) ValidateIdentityToken(ctx context.Context, token, clientID string, validateLifetime bool) TokenValidationResult {
	ctx, span := v.telemetry.start(ctx, "identity_token", attribute.String(instrumentation.AttrTokenKind, TokenKindJWT))
	start := time.Now()

	result := v.validateIdentityToken(ctx, token, clientID, validateLifetime)
	v.telemetry.finish(ctx, span, "identity_token", result.ProtocolError(), start)
	return result
}

func (v *TokenValidator) validateIdentityToken(ctx context.Context, token, clientID string, validateLifetime bool) TokenValidationResult {
	if token == "" {
		return invalidToken("Token is missing")
	}
	if len(token) > v.opts.InputLengthRestrictions.JWT {
		return invalidToken("Token too long")
	}
	if tokenKind(token) != TokenKindJWT {
		return invalidToken("Malformed token")
	}

	if clientID == "" {
		claims, err := v.signer.Verify(ctx, token)
		if err != nil {
			v.opts.Logger.InfoContext(ctx, "Identity token signature invalid", "error", err)
			return invalidToken("Invalid signature")
		}
		audiences := stringsClaim(claims, protocol.ClaimAudience)
		if len(audiences) != 1 {
			return invalidToken("No single audience")
		}
		clientID = audiences[0]
	}

	result := v.validateJWT(ctx, token, clientID, validateLifetime)
	if result.IsError {
		return result
	}
	if claimString(result.Claims, protocol.ClaimSubject) == "" {
		return invalidToken("Subject missing")
	}
	return result
}

// validateJWT verifies signature, issuer, audience, lifetime and the client
func (v *TokenValidator) validateJWT(ctx context.Context, token, audience string, validateLifetime bool) TokenValidationResult {
	claims, err := v.signer.Verify(ctx, token)
	if err != nil {
		v.opts.Logger.InfoContext(ctx, "JWT verification failed", "error", err)
		return invalidToken("Invalid signature")
	}

	if v.opts.Issuer != "" && claimString(claims, protocol.ClaimIssuer) != v.opts.Issuer {
		v.opts.Logger.InfoContext(ctx, "JWT issuer mismatch", "issuer", util.SafeTruncate(claimString(claims, protocol.ClaimIssuer), 100))
		return invalidToken("Invalid issuer")
	}

	if audience != "" && !slices.Contains(stringsClaim(claims, protocol.ClaimAudience), audience) {
		v.opts.Logger.InfoContext(ctx, "JWT audience mismatch", "expected", audience)
		return invalidToken("Invalid audience")
	}

	if validateLifetime {
		now := v.opts.Clock()
		exp, ok := timeClaim(claims, protocol.ClaimExpiration)
		if !ok {
			return invalidToken("Token has no expiration")
		}
		if security.IsExpiredAt(exp, now, v.opts.ClockSkew) {
			v.opts.Logger.DebugContext(ctx, "JWT expired", "exp", exp)
			return invalidToken("Token expired")
		}
		if nbf, ok := timeClaim(claims, protocol.ClaimNotBefore); ok && security.IsNotYetValid(nbf, now, v.opts.ClockSkew) {
			return invalidToken("Token not yet valid")
		}
	}

	result := TokenValidationResult{Claims: claims, JWT: token}

	clientID := claimString(claims, protocol.ClaimClientID)
	if clientID == "" {
		// identity tokens name the client only in the audience
		if audiences := stringsClaim(claims, protocol.ClaimAudience); len(audiences) == 1 {
			clientID = audiences[0]
		}
	}
	if clientID != "" {
		client, perr := v.enabledClient(ctx, clientID)
		if perr != nil {
			return *perr
		}
		result.Client = client
	}
	return result
}

func (v *TokenValidator) validateReference(ctx context.Context, handle string) TokenValidationResult {
	if v.references == nil {
		return invalidToken("Reference tokens not supported")
	}

	stored, err := v.references.GetReferenceToken(ctx, handle)
	if err != nil {
		if !storage.IsNotFound(err) {
			v.opts.Logger.ErrorContext(ctx, "Failed to load reference token", "error", err)
		}
		return invalidToken("Invalid reference token")
	}

	if security.IsExpiredAt(stored.ExpiresAt(), v.opts.Clock(), 0) {
		v.opts.Logger.DebugContext(ctx, "Reference token expired", "handle_prefix", util.SafeTruncate(handle, 8))
		if err := v.references.RemoveReferenceToken(ctx, handle); err != nil {
			v.opts.Logger.WarnContext(ctx, "Failed to remove expired reference token", "error", err)
		}
		return invalidToken("Token expired")
	}

	client, perr := v.enabledClient(ctx, stored.ClientID)
	if perr != nil {
		return *perr
	}

	return TokenValidationResult{
		Claims:         referenceClaims(stored),
		Client:         client,
		ReferenceToken: stored,
	}
}

func (v *TokenValidator) enabledClient(ctx context.Context, clientID string) (*storage.Client, *TokenValidationResult) {
	client, err := storage.FindEnabledClient(ctx, v.clients, clientID)
	if err != nil {
		if !storage.IsNotFound(err) {
			v.opts.Logger.ErrorContext(ctx, "Failed to load client", "client_id", clientID, "error", err)
		} else {
			v.opts.Logger.InfoContext(ctx, "Token client unknown or disabled", "client_id", clientID)
		}
		result := invalidToken("Invalid client")
		return nil, &result
	}
	return client, nil
}

func tokenKind(token string) string {
	if strings.Contains(token, ".") {
		return TokenKindJWT
	}
	return TokenKindReference
}

// referenceClaims renders a stored token the way a JWT access token would look
func referenceClaims(t *storage.ReferenceToken) map[string]any {
	claims := make(map[string]any, len(t.Claims)+8)
	for k, val := range t.Claims {
		claims[k] = val
	}
	claims[protocol.ClaimClientID] = t.ClientID
	claims[protocol.ClaimIssuedAt] = t.CreationTime.Unix()
	claims[protocol.ClaimExpiration] = t.ExpiresAt().Unix()
	if t.Issuer != "" {
		claims[protocol.ClaimIssuer] = t.Issuer
	}
	if len(t.Audiences) > 0 {
		claims[protocol.ClaimAudience] = slices.Clone(t.Audiences)
	}
	if t.SubjectID != "" {
		claims[protocol.ClaimSubject] = t.SubjectID
	}
	if t.SessionID != "" {
		claims[protocol.ClaimSessionID] = t.SessionID
	}
	if len(t.Scopes) > 0 {
		claims[protocol.ClaimScope] = slices.Clone(t.Scopes)
	}
	return claims
}

func claimString(claims map[string]any, name string) string {
	s, _ := claims[name].(string)
	return s
}

// stringsClaim reads a claim that is either a single string, a space
// separated string (scope) or an array of strings
func stringsClaim(claims map[string]any, name string) []string {
	switch val := claims[name].(type) {
	case string:
		if name == protocol.ClaimScope {
			return util.ParseScopes(val)
		}
		return []string{val}
	case []string:
		return val
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// timeClaim reads a NumericDate claim
func timeClaim(claims map[string]any, name string) (time.Time, bool) {
	var seconds float64
	switch val := claims[name].(type) {
	case float64:
		seconds = val
	case int64:
		seconds = float64(val)
	case int:
		seconds = float64(val)
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return time.Time{}, false
		}
		seconds = f
	default:
		return time.Time{}, false
	}
	whole, frac := math.Modf(seconds)
	return time.Unix(int64(whole), int64(frac*1e9)), true
}
