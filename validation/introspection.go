package validation

import (
	"context"
	"net/url"
	"slices"
	"time"

	"github.com/giantswarm/oidc-core/protocol"
	"github.com/giantswarm/oidc-core/secrets"
	"github.com/giantswarm/oidc-core/storage"
)

// ValidatedIntrospectionRequest is an introspection request of an
// authenticated API resource. An invalid token is not an error: it yields
// IsActive false.
type ValidatedIntrospectionRequest struct {
	Raw           url.Values
	Api           *storage.ApiResource
	Token         string
	TokenTypeHint string

	IsActive bool
	Claims   map[string]any
}

// IntrospectionRequestValidator validates token introspection requests (RFC 7662)
type IntrospectionRequestValidator struct {
	apis      *secrets.ApiAuthenticator
	tokens    *TokenValidator
	opts      Options
	telemetry telemetry
}

// NewIntrospectionRequestValidator creates an introspection request validator
func NewIntrospectionRequestValidator(apis *secrets.ApiAuthenticator, tokens *TokenValidator, opts Options) *IntrospectionRequestValidator {
	opts = opts.withDefaults()
	return &IntrospectionRequestValidator{
		apis:      apis,
		tokens:    tokens,
		opts:      opts,
		telemetry: newTelemetry(opts.Instrumentation),
	}
}

// Validate authenticates the calling API and validates the presented token
func (v *IntrospectionRequestValidator) Validate(ctx context.Context, params url.Values, src secrets.Source) Result[ValidatedIntrospectionRequest] {
	ctx, span := v.telemetry.start(ctx, "introspection")
	start := time.Now()

	result := v.validate(ctx, params, src)
	v.telemetry.finish(ctx, span, "introspection", result.Error, start)
	return result
}

func (v *IntrospectionRequestValidator) validate(ctx context.Context, params url.Values, src secrets.Source) Result[ValidatedIntrospectionRequest] {
	if params == nil {
		return Invalid[ValidatedIntrospectionRequest](protocol.ErrorInvalidRequest, "Empty request")
	}
	if src.Form == nil {
		src.Form = params
	}

	auth, perr := v.apis.Authenticate(ctx, src)
	if perr != nil {
		return Fail[ValidatedIntrospectionRequest](perr)
	}

	token := params.Get(protocol.ParamToken)
	if token == "" {
		return Invalid[ValidatedIntrospectionRequest](protocol.ErrorInvalidRequest, "Missing token")
	}

	request := ValidatedIntrospectionRequest{
		Raw:           params,
		Api:           auth.Resource,
		Token:         token,
		TokenTypeHint: params.Get(protocol.ParamTokenTypeHint),
	}

	tokenResult := v.tokens.ValidateAccessToken(ctx, token, "")
	if tokenResult.IsError {
		v.opts.Logger.DebugContext(ctx, "Introspected token is not active", "api", auth.Resource.Name, "error", tokenResult.Error)
		return Valid(request)
	}

	if !isTokenForApi(tokenResult, auth.Resource) {
		v.opts.Logger.InfoContext(ctx, "API is not an audience of the introspected token", "api", auth.Resource.Name)
		return Valid(request)
	}

	request.IsActive = true
	request.Claims = tokenResult.Claims
	return Valid(request)
}

// isTokenForApi reports whether the token names api as audience or carries one of its scopes
func isTokenForApi(token TokenValidationResult, api *storage.ApiResource) bool {
	if slices.Contains(stringsClaim(token.Claims, protocol.ClaimAudience), api.Name) {
		return true
	}
	for _, scope := range token.Scopes() {
		if slices.Contains(api.Scopes, scope) {
			return true
		}
	}
	return false
}
