package validation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/giantswarm/oidc-core/internal/util"
	"github.com/giantswarm/oidc-core/protocol"
	"github.com/giantswarm/oidc-core/secrets"
	"github.com/giantswarm/oidc-core/security"
	"github.com/giantswarm/oidc-core/storage"
)

// RevocationRequestValidator validates token revocation requests (RFC 7009)
type RevocationRequestValidator struct {
	clients   *secrets.ClientAuthenticator
	opts      Options
	telemetry telemetry
}

// NewRevocationRequestValidator creates a revocation request validator
func NewRevocationRequestValidator(clients *secrets.ClientAuthenticator, opts Options) *RevocationRequestValidator {
	opts = opts.withDefaults()
	return &RevocationRequestValidator{
		clients:   clients,
		opts:      opts,
		telemetry: newTelemetry(opts.Instrumentation),
	}
}

// Validate authenticates the client and checks the token parameters
func (v *RevocationRequestValidator) Validate(ctx context.Context, params url.Values, src secrets.Source) Result[ValidatedRevocationRequest] {
	ctx, span := v.telemetry.start(ctx, "revocation")
	start := time.Now()

	result := v.validate(ctx, params, src)
	v.telemetry.finish(ctx, span, "revocation", result.Error, start)
	return result
}

func (v *RevocationRequestValidator) validate(ctx context.Context, params url.Values, src secrets.Source) Result[ValidatedRevocationRequest] {
	if params == nil {
		return Invalid[ValidatedRevocationRequest](protocol.ErrorInvalidRequest, "Empty request")
	}
	if src.Form == nil {
		src.Form = params
	}

	auth, perr := v.clients.Authenticate(ctx, src)
	if perr != nil {
		return Fail[ValidatedRevocationRequest](perr)
	}

	token := params.Get(protocol.ParamToken)
	if token == "" {
		return Invalid[ValidatedRevocationRequest](protocol.ErrorInvalidRequest, "Missing token")
	}

	hint := params.Get(protocol.ParamTokenTypeHint)
	switch hint {
	case "", protocol.TokenTypeHintAccessToken, protocol.TokenTypeHintRefreshToken:
	default:
		v.opts.Logger.InfoContext(ctx, "Unsupported token_type_hint", "hint", util.SafeTruncate(hint, 50))
		return Invalid[ValidatedRevocationRequest](protocol.ErrorUnsupportedTokenType, "")
	}

	return Valid(ValidatedRevocationRequest{
		Client:        auth.Client,
		Token:         token,
		TokenTypeHint: hint,
	})
}

// TokenRevoker removes refresh tokens and reference access tokens
type TokenRevoker struct {
	refreshTokens storage.RefreshTokenStore
	references    storage.ReferenceTokenStore
	auditor       *security.Auditor
	logger        *slog.Logger
}

// NewTokenRevoker creates a token revoker. Either store may be nil.
func NewTokenRevoker(refreshTokens storage.RefreshTokenStore, references storage.ReferenceTokenStore, logger *slog.Logger) *TokenRevoker {
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenRevoker{refreshTokens: refreshTokens, references: references, logger: logger}
}

// SetAuditor enables audit events for revoked tokens
func (r *TokenRevoker) SetAuditor(auditor *security.Auditor) {
	r.auditor = auditor
}

// RevokeToken removes the token of a validated revocation request. Unknown
// tokens and tokens of other clients are ignored, as the response must not
// reveal whether a token existed. Self-contained JWTs cannot be revoked.
func (r *TokenRevoker) RevokeToken(ctx context.Context, request *ValidatedRevocationRequest) error {
	if tokenKind(request.Token) == TokenKindJWT {
		r.logger.DebugContext(ctx, "Ignoring revocation of a self-contained token", "client_id", request.Client.ClientID)
		return nil
	}

	order := []func(context.Context, *ValidatedRevocationRequest) (bool, error){r.revokeRefreshToken, r.revokeReferenceToken}
	if request.TokenTypeHint == protocol.TokenTypeHintAccessToken {
		order[0], order[1] = order[1], order[0]
	}

	for _, revoke := range order {
		found, err := revoke(ctx, request)
		if err != nil {
			return err
		}
		if found {
			return nil
		}
	}
	return nil
}

func (r *TokenRevoker) revokeRefreshToken(ctx context.Context, request *ValidatedRevocationRequest) (bool, error) {
	if r.refreshTokens == nil {
		return false, nil
	}

	token, err := r.refreshTokens.GetRefreshToken(ctx, request.Token)
	if err != nil {
		if errors.Is(err, storage.ErrRefreshTokenNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to load refresh token: %w", err)
	}
	if token.ClientID != request.Client.ClientID {
		r.logger.WarnContext(ctx, "Client tried to revoke a refresh token of another client", "client_id", request.Client.ClientID)
		return true, nil
	}

	if err := r.refreshTokens.RemoveRefreshToken(ctx, request.Token); err != nil {
		return true, fmt.Errorf("failed to remove refresh token: %w", err)
	}

	subject := ""
	if token.Subject != nil {
		subject = token.Subject.ID
	}
	// Access tokens obtained with the refresh token go with it
	if r.references != nil && subject != "" {
		if err := r.references.RemoveReferenceTokens(ctx, subject, token.ClientID); err != nil {
			return true, fmt.Errorf("failed to remove reference tokens: %w", err)
		}
	}

	r.auditor.LogTokenRevoked(ctx, subject, token.ClientID, protocol.TokenTypeHintRefreshToken)
	return true, nil
}

func (r *TokenRevoker) revokeReferenceToken(ctx context.Context, request *ValidatedRevocationRequest) (bool, error) {
	if r.references == nil {
		return false, nil
	}

	token, err := r.references.GetReferenceToken(ctx, request.Token)
	if err != nil {
		if errors.Is(err, storage.ErrReferenceTokenNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to load reference token: %w", err)
	}
	if token.ClientID != request.Client.ClientID {
		r.logger.WarnContext(ctx, "Client tried to revoke an access token of another client", "client_id", request.Client.ClientID)
		return true, nil
	}

	if err := r.references.RemoveReferenceToken(ctx, request.Token); err != nil {
		return true, fmt.Errorf("failed to remove reference token: %w", err)
	}
	r.auditor.LogTokenRevoked(ctx, token.SubjectID, token.ClientID, protocol.TokenTypeHintAccessToken)
	return true, nil
}
