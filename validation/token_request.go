package validation

import (
	"context"
	"net/url"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/giantswarm/oidc-core/instrumentation"
	"github.com/giantswarm/oidc-core/internal/util"
	"github.com/giantswarm/oidc-core/protocol"
	"github.com/giantswarm/oidc-core/secrets"
	"github.com/giantswarm/oidc-core/storage"
)

// TokenRequestCollaborators are the stores and services the token request
// validator works with. Passwords and Grants may be nil, which disables the
// password grant and extension grants respectively.
type TokenRequestCollaborators struct {
	Clients       *secrets.ClientAuthenticator
	Resources     *ResourceValidator
	Codes         storage.AuthorizationCodeStore
	RefreshTokens storage.RefreshTokenStore
	DeviceCodes   *DeviceCodeValidator
	Profile       ProfileService
	Passwords     ResourceOwnerPasswordValidator
	Grants        *GrantRegistry
}

// TokenRequestValidator validates token endpoint requests: it authenticates
// the client, dispatches on grant_type and resolves the granted scopes.
type TokenRequestValidator struct {
	deps      TokenRequestCollaborators
	opts      Options
	telemetry telemetry
}

// NewTokenRequestValidator creates a token request validator
func NewTokenRequestValidator(deps TokenRequestCollaborators, opts Options) *TokenRequestValidator {
	opts = opts.withDefaults()
	return &TokenRequestValidator{
		deps:      deps,
		opts:      opts,
		telemetry: newTelemetry(opts.Instrumentation),
	}
}

// Validate validates a token request. src carries the client credentials; its
// Form defaults to params.
func (v *TokenRequestValidator) Validate(ctx context.Context, params url.Values, src secrets.Source) Result[ValidatedTokenRequest] {
	grantType := params.Get(protocol.ParamGrantType)
	ctx, span := v.telemetry.start(ctx, "token_request",
		attribute.String(instrumentation.AttrGrantType, util.SafeTruncate(grantType, v.opts.InputLengthRestrictions.GrantType)))
	start := time.Now()

	result := v.validate(ctx, params, src)

	if result.IsError() {
		clientID := ""
		if src.Form != nil {
			clientID = util.SafeTruncate(src.Form.Get(protocol.ParamClientID), v.opts.InputLengthRestrictions.ClientID)
		}
		v.opts.Auditor.LogTokenRequestFailure(ctx, clientID, grantType, result.Error.Code)
	} else {
		instrumentation.AddOAuthFlowAttributes(span, result.Request.Client.ClientID,
			subjectID(result.Request.Subject), util.JoinScopes(result.Request.RequestedScopes))
	}
	v.telemetry.finish(ctx, span, "token_request", result.Error, start)
	return result
}

func (v *TokenRequestValidator) validate(ctx context.Context, params url.Values, src secrets.Source) Result[ValidatedTokenRequest] {
	if params == nil {
		return Invalid[ValidatedTokenRequest](protocol.ErrorInvalidRequest, "Empty request")
	}
	if src.Form == nil {
		src.Form = params
	}

	auth, perr := v.deps.Clients.Authenticate(ctx, src)
	if perr != nil {
		return Fail[ValidatedTokenRequest](perr)
	}
	if auth.Client.ProtocolType != protocol.ProtocolTypeOIDC {
		v.opts.Logger.InfoContext(ctx, "Client uses a different protocol", "client_id", auth.Client.ClientID)
		return Invalid[ValidatedTokenRequest](protocol.ErrorInvalidClient, "Invalid protocol")
	}

	request := ValidatedTokenRequest{ValidatedRequest: ValidatedRequest{Raw: params}}.WithClient(auth)

	grantType := params.Get(protocol.ParamGrantType)
	if grantType == "" {
		return Invalid[ValidatedTokenRequest](protocol.ErrorUnsupportedGrantType, "Grant type is missing")
	}
	if len(grantType) > v.opts.InputLengthRestrictions.GrantType {
		return Invalid[ValidatedTokenRequest](protocol.ErrorUnsupportedGrantType, "Grant type is too long")
	}
	request.GrantType = grantType

	switch grantType {
	case protocol.GrantTypeAuthorizationCode:
		return v.validateAuthorizationCode(ctx, request)
	case protocol.GrantTypeClientCredentials:
		return v.validateClientCredentials(ctx, request)
	case protocol.GrantTypePassword:
		return v.validatePassword(ctx, request)
	case protocol.GrantTypeRefreshToken:
		return v.validateRefreshToken(ctx, request)
	case protocol.GrantTypeDeviceCode:
		return v.validateDeviceCode(ctx, request)
	}

	if v.deps.Grants.Has(grantType) {
		return v.validateExtensionGrant(ctx, request)
	}

	v.opts.Logger.InfoContext(ctx, "Unsupported grant type", "grant_type", grantType)
	return Invalid[ValidatedTokenRequest](protocol.ErrorUnsupportedGrantType, "")
}

// resolveScopes validates scopes for the request's client and binds the
// result. Any invalid scope fails the whole request.
func (v *TokenRequestValidator) resolveScopes(ctx context.Context, request ValidatedTokenRequest, scopes []string) Result[ValidatedTokenRequest] {
	resources, perr, err := v.deps.Resources.Validate(ctx, request.Client, scopes)
	if err != nil {
		v.opts.Logger.ErrorContext(ctx, "Resource validation failed", "error", err)
		return Invalid[ValidatedTokenRequest](protocol.ErrorServerError, "")
	}
	if perr != nil {
		return Fail[ValidatedTokenRequest](perr)
	}
	return Valid(request.WithResources(resources.ScopeValues(), resources))
}

// requestedScopes parses the scope parameter, falling back to the client's
// allowed scopes when it is absent
func (v *TokenRequestValidator) requestedScopes(request ValidatedTokenRequest) ([]string, bool, *protocol.Error) {
	scope := request.Raw.Get(protocol.ParamScope)
	if len(scope) > v.opts.InputLengthRestrictions.Scope {
		return nil, false, protocol.NewError(protocol.ErrorInvalidScope, "Scope parameter exceeds max allowed length")
	}
	scopes := util.ParseScopes(scope)
	if len(scopes) == 0 {
		return defaultClientScopes(request.Client), true, nil
	}
	return scopes, false, nil
}

// checkActive asks the profile service whether subject may still get tokens
func (v *TokenRequestValidator) checkActive(ctx context.Context, request ValidatedTokenRequest, subject *storage.Subject, caller string) *protocol.Error {
	if v.deps.Profile == nil {
		return nil
	}
	active, err := v.deps.Profile.IsActive(ctx, subject, request.Client, caller)
	if err != nil {
		v.opts.Logger.ErrorContext(ctx, "Profile service failed", "caller", caller, "error", err)
		return protocol.NewError(protocol.ErrorInvalidGrant, "")
	}
	if !active {
		v.opts.Logger.InfoContext(ctx, "Subject is not active", "caller", caller, "subject_id", subject.ID)
		return protocol.NewError(protocol.ErrorInvalidGrant, "")
	}
	return nil
}
