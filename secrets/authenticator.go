package secrets

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/oidc-core/instrumentation"
	"github.com/giantswarm/oidc-core/protocol"
	"github.com/giantswarm/oidc-core/security"
	"github.com/giantswarm/oidc-core/storage"
)

const (
	descInvalidClient = "Invalid client credentials"
	descNoClientID    = "No client id found"
)

// ClientAuthResult is a successfully authenticated client
type ClientAuthResult struct {
	Client       *storage.Client
	Secret       *ParsedSecret
	Confirmation string
}

// ClientAuthenticator authenticates clients at the token, revocation and
// device authorization endpoints.
type ClientAuthenticator struct {
	parsers    *ParserChain
	validators *ValidatorChain
	clients    storage.ClientStore
	auditor    *security.Auditor
	logger     *slog.Logger

	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer
}

// NewClientAuthenticator creates a client authenticator
func NewClientAuthenticator(clients storage.ClientStore, parsers *ParserChain, validators *ValidatorChain, logger *slog.Logger) *ClientAuthenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &ClientAuthenticator{
		parsers:    parsers,
		validators: validators,
		clients:    clients,
		logger:     logger,
	}
}

// SetAuditor enables security audit events for failed authentications
func (a *ClientAuthenticator) SetAuditor(auditor *security.Auditor) {
	a.auditor = auditor
}

// SetInstrumentation enables tracing and metrics
func (a *ClientAuthenticator) SetInstrumentation(inst *instrumentation.Instrumentation) {
	a.instrumentation = inst
	if inst != nil {
		a.tracer = inst.Tracer("secrets")
	}
}

// Authenticate parses the credential, loads the enabled client and validates
// the credential against its secrets. A credential without secret is only
// accepted for clients that do not require one. Every failure is reported as
// invalid_client without further detail.
func (a *ClientAuthenticator) Authenticate(ctx context.Context, src Source) (*ClientAuthResult, *protocol.Error) {
	ctx, span := instrumentation.StartSpan(ctx, a.tracer, "secrets.authenticate_client")
	defer span.End()
	start := time.Now()

	result, perr := a.authenticate(ctx, src)

	code := ""
	if perr != nil {
		code = perr.Code
		instrumentation.AddProtocolError(span, perr.Code, perr.Description)
	} else {
		instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrClientID, result.Client.ClientID))
		instrumentation.SetSpanSuccess(span)
	}
	if a.instrumentation != nil {
		a.instrumentation.Metrics().RecordValidation(ctx, "client_authentication", code,
			float64(time.Since(start).Microseconds())/1000)
	}
	return result, perr
}

func (a *ClientAuthenticator) authenticate(ctx context.Context, src Source) (*ClientAuthResult, *protocol.Error) {
	parsed := a.parsers.Parse(ctx, src)
	if parsed == nil {
		a.logger.DebugContext(ctx, "No client id found")
		return nil, protocol.NewError(protocol.ErrorInvalidClient, descNoClientID)
	}

	client, err := storage.FindEnabledClient(ctx, a.clients, parsed.ID)
	if err != nil {
		if storage.IsNotFound(err) {
			a.logger.InfoContext(ctx, "Unknown or disabled client", "client_id", parsed.ID)
		} else {
			a.logger.ErrorContext(ctx, "Failed to load client", "client_id", parsed.ID, "error", err)
		}
		a.auditor.LogClientAuthFailure(ctx, parsed.ID, parsed.Type)
		return nil, protocol.NewError(protocol.ErrorInvalidClient, descInvalidClient)
	}

	if parsed.Type == ParsedSecretTypeNoSecret {
		if client.RequireClientSecret {
			a.logger.InfoContext(ctx, "Client requires a secret but none was presented", "client_id", client.ClientID)
			a.auditor.LogClientAuthFailure(ctx, client.ClientID, parsed.Type)
			return nil, protocol.NewError(protocol.ErrorInvalidClient, descInvalidClient)
		}
		return &ClientAuthResult{Client: client, Secret: parsed}, nil
	}

	validation := a.validators.Validate(ctx, client.ClientSecrets, parsed)
	if !validation.Success {
		a.logger.InfoContext(ctx, "Client secret validation failed", "client_id", client.ClientID)
		a.auditor.LogClientAuthFailure(ctx, client.ClientID, parsed.Type)
		return nil, protocol.NewError(protocol.ErrorInvalidClient, descInvalidClient)
	}

	return &ClientAuthResult{Client: client, Secret: parsed, Confirmation: validation.Confirmation}, nil
}

// ApiAuthResult is a successfully authenticated API resource
type ApiAuthResult struct {
	Resource *storage.ApiResource
	Secret   *ParsedSecret
}

// ApiAuthenticator authenticates API resources calling the introspection endpoint
type ApiAuthenticator struct {
	parsers    *ParserChain
	validators *ValidatorChain
	resources  storage.ResourceStore
	auditor    *security.Auditor
	logger     *slog.Logger
}

// NewApiAuthenticator creates an API resource authenticator
func NewApiAuthenticator(resources storage.ResourceStore, parsers *ParserChain, validators *ValidatorChain, logger *slog.Logger) *ApiAuthenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &ApiAuthenticator{
		parsers:    parsers,
		validators: validators,
		resources:  resources,
		logger:     logger,
	}
}

// SetAuditor enables security audit events for failed authentications
func (a *ApiAuthenticator) SetAuditor(auditor *security.Auditor) {
	a.auditor = auditor
}

// Authenticate validates the credential of an API resource. API resources always need a secret.
func (a *ApiAuthenticator) Authenticate(ctx context.Context, src Source) (*ApiAuthResult, *protocol.Error) {
	parsed := a.parsers.Parse(ctx, src)
	if parsed == nil || parsed.Type == ParsedSecretTypeNoSecret {
		return nil, protocol.NewError(protocol.ErrorInvalidClient, descInvalidClient)
	}

	apis, err := a.resources.FindApiResourcesByName(ctx, []string{parsed.ID})
	if err != nil {
		a.logger.ErrorContext(ctx, "Failed to load API resource", "api", parsed.ID, "error", err)
		return nil, protocol.NewError(protocol.ErrorInvalidClient, descInvalidClient)
	}

	var api *storage.ApiResource
	for i := range apis {
		if apis[i].Name == parsed.ID && apis[i].Enabled {
			api = &apis[i]
			break
		}
	}
	if api == nil || len(api.Secrets) == 0 {
		a.logger.InfoContext(ctx, "Unknown, disabled or secretless API resource", "api", parsed.ID)
		a.auditor.LogClientAuthFailure(ctx, parsed.ID, parsed.Type)
		return nil, protocol.NewError(protocol.ErrorInvalidClient, descInvalidClient)
	}

	if !a.validators.Validate(ctx, api.Secrets, parsed).Success {
		a.auditor.LogClientAuthFailure(ctx, parsed.ID, parsed.Type)
		return nil, protocol.NewError(protocol.ErrorInvalidClient, descInvalidClient)
	}

	return &ApiAuthResult{Resource: api, Secret: parsed}, nil
}
