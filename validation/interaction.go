package validation

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/giantswarm/oidc-core/instrumentation"
	"github.com/giantswarm/oidc-core/protocol"
)

// Interaction decisions, as recorded in metrics and spans
const (
	DecisionProceed  = "proceed"
	DecisionLogin    = "login"
	DecisionConsent  = "consent"
	DecisionRedirect = "redirect"
	DecisionError    = "error"
)

// ErrInvalidInteractionResponse is returned by InteractionResponse.Validate
var ErrInvalidInteractionResponse = errors.New("invalid interaction response")

// InteractionResponse tells the authorize endpoint what to do next. At most
// one of the flags is set; none set means the request can be completed.
// Use the constructors to build one.
type InteractionResponse struct {
	IsLogin    bool
	IsConsent  bool
	IsRedirect bool
	IsError    bool

	Error            string
	ErrorDescription string
	RedirectURL      string
}

// ProceedInteraction lets the request complete without user interaction
func ProceedInteraction() InteractionResponse {
	return InteractionResponse{}
}

// LoginInteraction asks the user to sign in
func LoginInteraction() InteractionResponse {
	return InteractionResponse{IsLogin: true}
}

// ConsentInteraction asks the user to consent
func ConsentInteraction() InteractionResponse {
	return InteractionResponse{IsConsent: true}
}

// RedirectInteraction sends the user agent to redirectURL
func RedirectInteraction(redirectURL string) InteractionResponse {
	return InteractionResponse{IsRedirect: true, RedirectURL: redirectURL}
}

// ErrorInteraction ends the request with a protocol error
func ErrorInteraction(code, description string) InteractionResponse {
	return InteractionResponse{IsError: true, Error: code, ErrorDescription: description}
}

// Validate checks that at most one decision is set and that the error and
// redirect fields match their flags.
func (r InteractionResponse) Validate() error {
	set := 0
	for _, flag := range []bool{r.IsLogin, r.IsConsent, r.IsRedirect, r.IsError} {
		if flag {
			set++
		}
	}
	switch {
	case set > 1:
		return fmt.Errorf("%w: more than one decision set", ErrInvalidInteractionResponse)
	case r.IsError != (r.Error != ""):
		return fmt.Errorf("%w: error code does not match error flag", ErrInvalidInteractionResponse)
	case r.IsRedirect != (r.RedirectURL != ""):
		return fmt.Errorf("%w: redirect url does not match redirect flag", ErrInvalidInteractionResponse)
	}
	return nil
}

// Decision names the response for logs and metrics
func (r InteractionResponse) Decision() string {
	switch {
	case r.IsError:
		return DecisionError
	case r.IsLogin:
		return DecisionLogin
	case r.IsConsent:
		return DecisionConsent
	case r.IsRedirect:
		return DecisionRedirect
	default:
		return DecisionProceed
	}
}

// ProtocolError returns the error of an error response, nil otherwise
func (r InteractionResponse) ProtocolError() *protocol.Error {
	if !r.IsError {
		return nil
	}
	return protocol.NewError(r.Error, r.ErrorDescription)
}

// LoginRedirectFunc may replace the login page with a redirect, for example
// to the single identity provider a client is restricted to. An empty URL
// keeps the login page.
type LoginRedirectFunc func(ctx context.Context, request *ValidatedAuthorizeRequest) (string, error)

// InteractionResponseGenerator decides whether an authorize request needs
// login or consent before it can be completed
type InteractionResponseGenerator struct {
	consent       ConsentService
	loginRedirect LoginRedirectFunc
	opts          Options
	telemetry     telemetry
}

// NewInteractionResponseGenerator creates an interaction response generator
func NewInteractionResponseGenerator(consent ConsentService, opts Options) *InteractionResponseGenerator {
	opts = opts.withDefaults()
	return &InteractionResponseGenerator{
		consent:   consent,
		opts:      opts,
		telemetry: newTelemetry(opts.Instrumentation),
	}
}

// SetLoginRedirect installs a hook consulted whenever login is required
func (g *InteractionResponseGenerator) SetLoginRedirect(fn LoginRedirectFunc) {
	g.loginRedirect = fn
}

// ProcessInteraction runs the login decision and, when no login is needed,
// the consent decision. consent is the user's answer if the consent page was
// already shown, nil otherwise. The returned request reflects handled prompts
// and narrowed scopes.
func (g *InteractionResponseGenerator) ProcessInteraction(ctx context.Context, request ValidatedAuthorizeRequest, consent *ConsentResponse) (ValidatedAuthorizeRequest, InteractionResponse, error) {
	ctx, span := g.telemetry.start(ctx, "interaction")
	start := time.Now()

	updated, response, err := g.processInteraction(ctx, request, consent)
	if err == nil {
		err = response.Validate()
	}
	if err != nil {
		instrumentation.RecordError(span, err)
		span.End()
		return request, InteractionResponse{}, err
	}

	instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrInteraction, response.Decision()))
	if m := g.telemetry.metrics(); m != nil {
		m.RecordInteractionDecision(ctx, response.Decision())
	}
	g.telemetry.finish(ctx, span, "interaction", response.ProtocolError(), start)
	return updated, response, nil
}

func (g *InteractionResponseGenerator) processInteraction(ctx context.Context, request ValidatedAuthorizeRequest, consent *ConsentResponse) (ValidatedAuthorizeRequest, InteractionResponse, error) {
	updated, response, err := g.ProcessLogin(ctx, request)
	if err != nil {
		return request, InteractionResponse{}, err
	}

	if response.IsRedirect && request.HasPrompt(protocol.PromptNone) {
		g.opts.Logger.InfoContext(ctx, "Login redirect suppressed by prompt=none", "client_id", request.Client.ClientID)
		return request, ErrorInteraction(protocol.ErrorInteractionRequired, ""), nil
	}
	if response.Decision() != DecisionProceed {
		return updated, response, nil
	}

	return g.ProcessConsent(ctx, updated, consent)
}

// ProcessLogin decides whether the user has to sign in (again). Under
// prompt=none a required login becomes a login_required error unless the
// login redirect hook supplied a redirect.
func (g *InteractionResponseGenerator) ProcessLogin(ctx context.Context, request ValidatedAuthorizeRequest) (ValidatedAuthorizeRequest, InteractionResponse, error) {
	reason := g.loginReason(&request)
	if reason == "" {
		return request, ProceedInteraction(), nil
	}

	logger := g.opts.Logger.With("client_id", request.Client.ClientID, "reason", reason)

	// The forced prompt is handled by this login and must not loop
	updated := request.WithoutPrompts(protocol.PromptLogin, protocol.PromptSelectAccount)

	if g.loginRedirect != nil {
		redirectURL, err := g.loginRedirect(ctx, &updated)
		if err != nil {
			return request, InteractionResponse{}, fmt.Errorf("login redirect failed: %w", err)
		}
		if redirectURL != "" {
			logger.DebugContext(ctx, "Redirecting for login")
			return updated, RedirectInteraction(redirectURL), nil
		}
	}

	if request.HasPrompt(protocol.PromptNone) {
		logger.InfoContext(ctx, "Login required but prompt=none requested")
		return request, ErrorInteraction(protocol.ErrorLoginRequired, ""), nil
	}

	logger.DebugContext(ctx, "Showing login")
	return updated, LoginInteraction(), nil
}

// loginReason returns why a login is required, empty when it is not
func (g *InteractionResponseGenerator) loginReason(request *ValidatedAuthorizeRequest) string {
	if request.HasPrompt(protocol.PromptLogin) || request.HasPrompt(protocol.PromptSelectAccount) {
		return "prompt"
	}

	subject := request.Subject
	if !subject.IsAuthenticated() {
		return "anonymous"
	}

	client := request.Client
	idp := subject.IdentityProvider

	if idp == protocol.LocalIdentityProvider && !client.EnableLocalLogin {
		return "local login disabled"
	}
	if len(client.IdentityProviderRestrictions) > 0 && !slices.Contains(client.IdentityProviderRestrictions, idp) {
		return "identity provider not allowed"
	}
	if requested := request.IdP(); requested != "" && requested != idp {
		return "different identity provider requested"
	}

	now := g.opts.Clock()
	if request.MaxAge != nil && now.After(subject.AuthTime.Add(*request.MaxAge)) {
		return "max_age exceeded"
	}
	if client.UserSSOLifetime > 0 && now.After(subject.AuthTime.Add(client.UserSSOLifetime)) {
		return "sso lifetime exceeded"
	}

	return ""
}

// ProcessConsent decides whether consent has to be shown and, when consent
// carries the user's answer, narrows the request to the consented scopes.
func (g *InteractionResponseGenerator) ProcessConsent(ctx context.Context, request ValidatedAuthorizeRequest, consent *ConsentResponse) (ValidatedAuthorizeRequest, InteractionResponse, error) {
	if !request.Subject.IsAuthenticated() {
		return request, InteractionResponse{}, errors.New("consent requires an authenticated subject")
	}

	logger := g.opts.Logger.With("client_id", request.Client.ClientID)

	required := request.HasPrompt(protocol.PromptConsent)
	if !required {
		var err error
		required, err = g.consent.RequiresConsent(ctx, request.Subject, request.Client, request.RequestedScopes)
		if err != nil {
			return request, InteractionResponse{}, fmt.Errorf("consent check failed: %w", err)
		}
	}

	if !required {
		return request, ProceedInteraction(), nil
	}

	if request.HasPrompt(protocol.PromptNone) {
		logger.InfoContext(ctx, "Consent required but prompt=none requested")
		return request, ErrorInteraction(protocol.ErrorConsentRequired, ""), nil
	}

	if consent == nil {
		logger.DebugContext(ctx, "Showing consent")
		return request, ConsentInteraction(), nil
	}

	if !consent.Granted {
		logger.InfoContext(ctx, "User denied consent")
		return request, ErrorInteraction(protocol.ErrorAccessDenied, consent.Description), nil
	}

	if len(consent.ScopesValuesConsented) == 0 {
		logger.InfoContext(ctx, "User consented to no scopes")
		return request, ErrorInteraction(protocol.ErrorAccessDenied, "No scopes consented"), nil
	}

	for _, scope := range request.Resources.RequiredScopes() {
		if !slices.Contains(consent.ScopesValuesConsented, scope) {
			logger.InfoContext(ctx, "Required scope not consented", "scope", scope)
			return request, ErrorInteraction(protocol.ErrorAccessDenied, "Required scope not consented: "+scope), nil
		}
	}

	narrowed := request.WithResources(request.Resources.Filter(consent.ScopesValuesConsented)).
		WithoutPrompts(protocol.PromptConsent)
	if len(narrowed.RequestedScopes) == 0 {
		return request, ErrorInteraction(protocol.ErrorAccessDenied, "No requested scope consented"), nil
	}

	if consent.RememberConsent {
		if err := g.consent.UpdateConsent(ctx, request.Subject, request.Client, narrowed.RequestedScopes); err != nil {
			return request, InteractionResponse{}, fmt.Errorf("failed to remember consent: %w", err)
		}
	}

	return narrowed, ProceedInteraction(), nil
}
