package validation

import (
	"context"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/giantswarm/oidc-core/instrumentation"
	"github.com/giantswarm/oidc-core/internal/util"
	"github.com/giantswarm/oidc-core/protocol"
	"github.com/giantswarm/oidc-core/storage"
)

var supportedPrompts = []string{
	protocol.PromptNone,
	protocol.PromptLogin,
	protocol.PromptConsent,
	protocol.PromptSelectAccount,
}

// AuthorizeRequestValidator validates authorize endpoint requests against the
// client configuration and the resource catalog.
//
// Errors found before the redirect URI is validated must not be sent to the
// redirect URI. Callers can tell the two apart by checking whether the
// redirect_uri parameter is a registered URI of the client.
type AuthorizeRequestValidator struct {
	clients   storage.ClientStore
	resources *ResourceValidator
	redirects RedirectURIValidator
	opts      Options
	telemetry telemetry
}

// NewAuthorizeRequestValidator creates an authorize request validator
func NewAuthorizeRequestValidator(clients storage.ClientStore, resources *ResourceValidator, redirects RedirectURIValidator, opts Options) *AuthorizeRequestValidator {
	opts = opts.withDefaults()
	if redirects == nil {
		redirects = &StrictRedirectURIValidator{AllowLoopbackDynamicPort: true}
	}
	return &AuthorizeRequestValidator{
		clients:   clients,
		resources: resources,
		redirects: redirects,
		opts:      opts,
		telemetry: newTelemetry(opts.Instrumentation),
	}
}

// Validate validates params. subject is the currently signed-in user, nil when anonymous.
func (v *AuthorizeRequestValidator) Validate(ctx context.Context, params url.Values, subject *storage.Subject) Result[ValidatedAuthorizeRequest] {
	ctx, span := v.telemetry.start(ctx, "authorize_request")
	start := time.Now()

	result := v.validate(ctx, params, subject)
	if result.Request != nil {
		instrumentation.AddOAuthFlowAttributes(span, result.Request.Client.ClientID, subjectID(subject),
			util.JoinScopes(result.Request.RequestedScopes))
		instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrResponseType, result.Request.ResponseType))
	}
	v.telemetry.finish(ctx, span, "authorize_request", result.Error, start)
	return result
}

func (v *AuthorizeRequestValidator) validate(ctx context.Context, params url.Values, subject *storage.Subject) Result[ValidatedAuthorizeRequest] {
	limits := v.opts.InputLengthRestrictions
	logger := v.opts.Logger

	if params == nil {
		return Invalid[ValidatedAuthorizeRequest](protocol.ErrorInvalidRequest, "Empty request")
	}

	request := ValidatedAuthorizeRequest{
		ValidatedRequest: ValidatedRequest{
			Raw:     params,
			Subject: subject,
		},
	}
	if subject != nil {
		request.SessionID = subject.SessionID
	}

	// client
	clientID := params.Get(protocol.ParamClientID)
	if clientID == "" || len(clientID) > limits.ClientID {
		return Invalid[ValidatedAuthorizeRequest](protocol.ErrorInvalidRequest, "Invalid client_id")
	}

	redirectURI := params.Get(protocol.ParamRedirectURI)
	if redirectURI == "" || len(redirectURI) > limits.RedirectURI || !isWellFormedRedirectURI(redirectURI) {
		return Invalid[ValidatedAuthorizeRequest](protocol.ErrorInvalidRequest, "Invalid redirect_uri")
	}

	client, err := storage.FindEnabledClient(ctx, v.clients, clientID)
	if err != nil {
		if !storage.IsNotFound(err) {
			logger.ErrorContext(ctx, "Failed to load client", "client_id", clientID, "error", err)
		}
		return Invalid[ValidatedAuthorizeRequest](protocol.ErrorUnauthorizedClient, "Unknown client or client not enabled")
	}
	if client.ProtocolType != protocol.ProtocolTypeOIDC {
		return Invalid[ValidatedAuthorizeRequest](protocol.ErrorUnauthorizedClient, "Invalid protocol")
	}
	request.Client = client

	if !v.redirects.IsRedirectURIValid(ctx, redirectURI, client) {
		logger.InfoContext(ctx, "Invalid redirect_uri", "client_id", clientID)
		v.opts.Auditor.LogInvalidRedirect(ctx, clientID, redirectURI)
		return Invalid[ValidatedAuthorizeRequest](protocol.ErrorUnauthorizedClient, "Invalid redirect_uri")
	}
	request.RedirectURI = redirectURI

	// From here on errors may be returned to the redirect URI
	request.State = params.Get(protocol.ParamState)
	if len(request.State) > limits.State {
		return Invalid[ValidatedAuthorizeRequest](protocol.ErrorInvalidRequest, "state too long")
	}

	// response_type and response_mode
	responseType := protocol.NormalizeResponseType(params.Get(protocol.ParamResponseType))
	if responseType == "" {
		return Invalid[ValidatedAuthorizeRequest](protocol.ErrorUnsupportedResponseType, "Missing response_type")
	}
	grantType, ok := protocol.GrantTypeForResponseType(responseType)
	if !ok {
		return Invalid[ValidatedAuthorizeRequest](protocol.ErrorUnsupportedResponseType, "Response type not supported")
	}
	if !client.AllowsGrantType(grantType) {
		return Invalid[ValidatedAuthorizeRequest](protocol.ErrorUnauthorizedClient, "Invalid grant type for client")
	}
	if protocol.ResponseTypeIncludesAccessToken(responseType) && !client.AllowAccessTokensViaBrowser {
		return Invalid[ValidatedAuthorizeRequest](protocol.ErrorUnauthorizedClient, "Client not configured to receive access tokens via browser")
	}
	request.ResponseType = responseType
	request.GrantType = grantType

	responseMode, perr := validateResponseMode(params.Get(protocol.ParamResponseMode), responseType)
	if perr != nil {
		return Fail[ValidatedAuthorizeRequest](perr)
	}
	request.ResponseMode = responseMode

	// PKCE
	if grantType == protocol.GrantTypeAuthorizationCode || grantType == protocol.GrantTypeHybrid {
		method, perr := validateCodeChallenge(
			params.Get(protocol.ParamCodeChallenge),
			params.Get(protocol.ParamCodeChallengeMethod),
			client.RequirePKCE || v.opts.RequirePKCE, client.AllowPlainTextPKCE, limits)
		if perr != nil {
			return Fail[ValidatedAuthorizeRequest](perr)
		}
		request.CodeChallenge = params.Get(protocol.ParamCodeChallenge)
		request.CodeChallengeMethod = method
	}

	// scope
	scope := params.Get(protocol.ParamScope)
	if scope == "" {
		return Invalid[ValidatedAuthorizeRequest](protocol.ErrorInvalidScope, "Missing scope")
	}
	if len(scope) > limits.Scope {
		return Invalid[ValidatedAuthorizeRequest](protocol.ErrorInvalidScope, "Scope too long")
	}
	scopes := util.ParseScopes(scope)
	request.IsOpenIDRequest = slices.Contains(scopes, protocol.ScopeOpenID)

	if protocol.ResponseTypeIncludesIDToken(responseType) && !request.IsOpenIDRequest {
		return Invalid[ValidatedAuthorizeRequest](protocol.ErrorInvalidRequest, "Missing openid scope")
	}

	resources, perr, err := v.resources.Validate(ctx, client, scopes)
	if err != nil {
		logger.ErrorContext(ctx, "Resource validation failed", "error", err)
		return Invalid[ValidatedAuthorizeRequest](protocol.ErrorServerError, "")
	}
	if perr != nil {
		return Fail[ValidatedAuthorizeRequest](perr)
	}
	if len(resources.IdentityResources) > 0 && !request.IsOpenIDRequest {
		return Invalid[ValidatedAuthorizeRequest](protocol.ErrorInvalidScope, "Identity related scope requests, but no openid scope")
	}
	request.IsApiResourceRequest = len(resources.ApiScopes) > 0
	if responseType == protocol.ResponseTypeIDToken && request.IsApiResourceRequest {
		return Invalid[ValidatedAuthorizeRequest](protocol.ErrorInvalidScope, "Requests for id_token response type must not include resource scopes")
	}
	if resources.OfflineAccess && grantType == protocol.GrantTypeImplicit {
		return Invalid[ValidatedAuthorizeRequest](protocol.ErrorInvalidScope, "offline_access is not allowed for the implicit flow")
	}
	request = request.WithResources(resources)

	// nonce
	request.Nonce = params.Get(protocol.ParamNonce)
	if len(request.Nonce) > limits.Nonce {
		return Invalid[ValidatedAuthorizeRequest](protocol.ErrorInvalidRequest, "Invalid nonce")
	}
	if request.Nonce == "" && protocol.ResponseTypeIncludesIDToken(responseType) &&
		(grantType == protocol.GrantTypeImplicit || grantType == protocol.GrantTypeHybrid) {
		return Invalid[ValidatedAuthorizeRequest](protocol.ErrorInvalidRequest, "Nonce required for implicit and hybrid flow with openid scope")
	}

	// prompt
	prompts, perr := parsePrompts(params.Get(protocol.ParamPrompt))
	if perr != nil {
		return Fail[ValidatedAuthorizeRequest](perr)
	}
	request.PromptModes = prompts

	// max_age
	if raw := params.Get(protocol.ParamMaxAge); raw != "" {
		seconds, err := strconv.Atoi(raw)
		if err != nil || seconds < 0 {
			return Invalid[ValidatedAuthorizeRequest](protocol.ErrorInvalidRequest, "Invalid max_age")
		}
		maxAge := time.Duration(seconds) * time.Second
		request.MaxAge = &maxAge
	}

	// hints
	request.UILocales = params.Get(protocol.ParamUILocales)
	if len(request.UILocales) > limits.UILocale {
		return Invalid[ValidatedAuthorizeRequest](protocol.ErrorInvalidRequest, "Invalid ui_locales")
	}
	request.LoginHint = params.Get(protocol.ParamLoginHint)
	if len(request.LoginHint) > limits.LoginHint {
		return Invalid[ValidatedAuthorizeRequest](protocol.ErrorInvalidRequest, "Invalid login_hint")
	}
	acr := params.Get(protocol.ParamACRValues)
	if len(acr) > limits.AcrValues {
		return Invalid[ValidatedAuthorizeRequest](protocol.ErrorInvalidRequest, "Invalid acr_values")
	}
	request.AcrValues = strings.Fields(acr)

	return Valid(request)
}

func validateResponseMode(mode, responseType string) (string, *protocol.Error) {
	if mode == "" {
		if responseType == protocol.ResponseTypeCode {
			return protocol.ResponseModeQuery, nil
		}
		return protocol.ResponseModeFragment, nil
	}

	switch mode {
	case protocol.ResponseModeFragment, protocol.ResponseModeFormPost:
		return mode, nil
	case protocol.ResponseModeQuery:
		// Tokens must never travel in the query string
		if responseType != protocol.ResponseTypeCode {
			return "", protocol.NewError(protocol.ErrorInvalidRequest, "Invalid response_mode for response_type")
		}
		return mode, nil
	default:
		return "", protocol.NewError(protocol.ErrorInvalidRequest, "Unsupported response_mode")
	}
}

// parsePrompts splits the prompt parameter. Unknown values are ignored;
// none may not be combined with any other value.
func parsePrompts(raw string) ([]string, *protocol.Error) {
	var prompts []string
	for _, p := range strings.Fields(raw) {
		if slices.Contains(supportedPrompts, p) && !slices.Contains(prompts, p) {
			prompts = append(prompts, p)
		}
	}
	if slices.Contains(prompts, protocol.PromptNone) && len(prompts) > 1 {
		return nil, protocol.NewError(protocol.ErrorInvalidRequest, "prompt none cannot be combined with other values")
	}
	return prompts, nil
}

func subjectID(subject *storage.Subject) string {
	if subject == nil {
		return ""
	}
	return subject.ID
}
