package oidc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/giantswarm/oidc-core/protocol"
	"github.com/giantswarm/oidc-core/secrets"
	"github.com/giantswarm/oidc-core/security"
	"github.com/giantswarm/oidc-core/signing"
	"github.com/giantswarm/oidc-core/storage"
	"github.com/giantswarm/oidc-core/storage/memory"
	"github.com/giantswarm/oidc-core/validation"
)

// Stores bundles the persistence the validators read from and write to.
// DeviceFlow and Throttle are optional; without them the device flow is
// disabled. Users is optional; without it the password grant is disabled
// and every authenticated subject counts as active.
type Stores struct {
	Clients         storage.ClientStore
	Resources       storage.ResourceStore
	Codes           storage.AuthorizationCodeStore
	RefreshTokens   storage.RefreshTokenStore
	ReferenceTokens storage.ReferenceTokenStore
	Consents        storage.ConsentStore
	DeviceFlow      storage.DeviceFlowStore
	Throttle        storage.ThrottleStore
	Users           storage.UserStore
}

// MemoryStores uses store for every concern
func MemoryStores(store *memory.Store) Stores {
	return Stores{
		Clients:         store,
		Resources:       store,
		Codes:           store,
		RefreshTokens:   store,
		ReferenceTokens: store,
		Consents:        store,
		DeviceFlow:      store,
		Throttle:        store,
		Users:           store,
	}
}

func (s Stores) validate() error {
	var errs []error
	required := []struct {
		name string
		nil  bool
	}{
		{"Clients", s.Clients == nil},
		{"Resources", s.Resources == nil},
		{"Codes", s.Codes == nil},
		{"RefreshTokens", s.RefreshTokens == nil},
		{"ReferenceTokens", s.ReferenceTokens == nil},
		{"Consents", s.Consents == nil},
	}
	for _, r := range required {
		if r.nil {
			errs = append(errs, fmt.Errorf("%s store is required", r.name))
		}
	}
	if (s.DeviceFlow == nil) != (s.Throttle == nil) {
		errs = append(errs, errors.New("DeviceFlow and Throttle stores must be configured together"))
	}
	return errors.Join(errs...)
}

// Extensions replaces or adds pluggable decisions. Nil fields keep the
// built-in behavior.
type Extensions struct {
	// Grants are validators for extension grant types
	Grants []validation.ExtensionGrantValidator

	// Passwords replaces the user store backed password validator
	Passwords validation.ResourceOwnerPasswordValidator

	// Profile replaces the user store backed profile service
	Profile validation.ProfileService

	// Consent replaces the consent store backed consent service
	Consent validation.ConsentService

	// RedirectURIs replaces the strict redirect URI matcher
	RedirectURIs validation.RedirectURIValidator
}

// Server wires the protocol validators over a set of stores. It makes
// decisions only: issuing tokens and rendering responses is left to the host.
type Server struct {
	Authorize           *validation.AuthorizeRequestValidator
	Interaction         *validation.InteractionResponseGenerator
	TokenRequest        *validation.TokenRequestValidator
	Tokens              *validation.TokenValidator
	Introspection       *validation.IntrospectionRequestValidator
	Revocation          *validation.RevocationRequestValidator
	Revoker             *validation.TokenRevoker
	DeviceAuthorization *validation.DeviceAuthorizationRequestValidator
	Grants              *validation.GrantRegistry

	clients     *secrets.ClientAuthenticator
	apis        *secrets.ApiAuthenticator
	auditor     *security.Auditor
	rateLimiter *security.RateLimiter
	logger      *slog.Logger
	config      *Config
}

// NewServer validates stores, applies secure defaults to config and builds
// every validator. config may be nil.
func NewServer(stores Stores, signer signing.Service, config *Config, ext Extensions) (*Server, error) {
	if err := stores.validate(); err != nil {
		return nil, err
	}
	if signer == nil {
		return nil, errors.New("signer is required")
	}

	if config == nil {
		config = &Config{}
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	config = applySecureDefaults(config, logger)

	s := &Server{
		logger: logger,
		config: config,
	}

	if config.EnableAuditLogging {
		s.auditor = security.NewAuditor(logger, true)
		s.auditor.SetInstrumentation(config.Instrumentation)
		if config.AuditRateLimit.EventsPerSecond > 0 {
			rl := config.AuditRateLimit
			if rl.Logger == nil {
				rl.Logger = logger
			}
			s.rateLimiter = security.NewRateLimiter(rl)
			s.auditor.SetRateLimiter(s.rateLimiter)
		}
	}

	opts := config.validationOptions(s.auditor, logger)

	s.clients = s.newClientAuthenticator(stores)
	s.apis = secrets.NewApiAuthenticator(stores.Resources,
		secrets.DefaultParserChain(secrets.DefaultLimits(), logger),
		secrets.NewValidatorChain(logger, &secrets.HashedSharedSecretValidator{Logger: logger}),
		logger)
	s.apis.SetAuditor(s.auditor)

	grants, err := validation.NewGrantRegistry(logger, ext.Grants...)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to register extension grants: %w", err)
	}
	grants.SetAuditor(s.auditor)
	s.Grants = grants

	resources := validation.NewResourceValidator(stores.Resources, logger)

	profile := ext.Profile
	passwords := ext.Passwords
	if stores.Users != nil {
		if profile == nil {
			profile = &validation.UserStoreProfileService{Users: stores.Users, RequireLocalUser: config.RequireLocalUser}
		}
		if passwords == nil {
			passwords = &validation.UserStorePasswordValidator{
				Users:   stores.Users,
				Clock:   config.Clock,
				Logger:  logger,
				Auditor: s.auditor,
			}
		}
	}

	var deviceCodes *validation.DeviceCodeValidator
	if stores.DeviceFlow != nil {
		throttler := validation.NewDistributedDeviceFlowThrottler(stores.Throttle, config.DeviceFlowInterval, config.Clock)
		deviceCodes = validation.NewDeviceCodeValidator(stores.DeviceFlow, throttler, profile, opts)
		s.DeviceAuthorization = validation.NewDeviceAuthorizationRequestValidator(s.clients, resources, opts)
	}

	redirects := ext.RedirectURIs
	if redirects == nil {
		redirects = &validation.StrictRedirectURIValidator{AllowLoopbackDynamicPort: config.AllowLoopbackDynamicPort}
	}
	consent := ext.Consent
	if consent == nil {
		consent = validation.NewConsentService(stores.Consents, logger)
	}

	s.Authorize = validation.NewAuthorizeRequestValidator(stores.Clients, resources, redirects, opts)
	s.Interaction = validation.NewInteractionResponseGenerator(consent, opts)
	s.TokenRequest = validation.NewTokenRequestValidator(validation.TokenRequestCollaborators{
		Clients:       s.clients,
		Resources:     resources,
		Codes:         stores.Codes,
		RefreshTokens: stores.RefreshTokens,
		DeviceCodes:   deviceCodes,
		Profile:       profile,
		Passwords:     passwords,
		Grants:        grants,
	}, opts)
	s.Tokens = validation.NewTokenValidator(signer, stores.ReferenceTokens, stores.Clients, opts)
	s.Introspection = validation.NewIntrospectionRequestValidator(s.apis, s.Tokens, opts)
	s.Revocation = validation.NewRevocationRequestValidator(s.clients, opts)
	s.Revoker = validation.NewTokenRevoker(stores.RefreshTokens, stores.ReferenceTokens, logger)
	s.Revoker.SetAuditor(s.auditor)

	logger.Info("Validation core initialized",
		"issuer", config.Issuer,
		"require_pkce", config.RequirePKCE,
		"device_flow", deviceCodes != nil,
		"password_grant", passwords != nil,
		"grant_types", grants.SupportedGrantTypes())

	return s, nil
}

// newClientAuthenticator accepts shared secrets, private_key_jwt assertions
// and mutual TLS certificates. Assertion jti values are remembered in the
// throttle store when one is configured.
func (s *Server) newClientAuthenticator(stores Stores) *secrets.ClientAuthenticator {
	cfg := s.config
	validators := secrets.NewValidatorChain(s.logger,
		&secrets.HashedSharedSecretValidator{Logger: s.logger},
		&secrets.PrivateKeyJWTValidator{
			Audiences:   cfg.ClientAssertionAudiences,
			ReplayCache: stores.Throttle,
			ClockSkew:   cfg.ClockSkew,
			Clock:       cfg.Clock,
			Logger:      s.logger,
			Auditor:     s.auditor,
		},
		&secrets.X509ThumbprintValidator{},
		&secrets.X509NameValidator{},
	)
	validators.SetInstrumentation(cfg.Instrumentation)

	clients := secrets.NewClientAuthenticator(stores.Clients,
		secrets.DefaultParserChain(secrets.DefaultLimits(), s.logger), validators, s.logger)
	clients.SetAuditor(s.auditor)
	clients.SetInstrumentation(cfg.Instrumentation)
	return clients
}

// Close stops background work started by NewServer
func (s *Server) Close() {
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}
}

// Config returns the effective configuration after defaults were applied
func (s *Server) Config() Config {
	return *s.config
}

// SetLoginRedirect installs a hook consulted whenever login is required
func (s *Server) SetLoginRedirect(fn validation.LoginRedirectFunc) {
	s.Interaction.SetLoginRedirect(fn)
}

// ValidateAuthorizeRequest validates an authorize request for subject, which
// is nil for anonymous users
func (s *Server) ValidateAuthorizeRequest(ctx context.Context, params url.Values, subject *storage.Subject) validation.Result[validation.ValidatedAuthorizeRequest] {
	return s.Authorize.Validate(ctx, params, subject)
}

// ProcessInteraction decides whether a validated authorize request needs login
// or consent before it can be completed
func (s *Server) ProcessInteraction(ctx context.Context, request validation.ValidatedAuthorizeRequest, consent *validation.ConsentResponse) (validation.ValidatedAuthorizeRequest, validation.InteractionResponse, error) {
	return s.Interaction.ProcessInteraction(ctx, request, consent)
}

// ValidateTokenRequest validates a token endpoint request
func (s *Server) ValidateTokenRequest(ctx context.Context, params url.Values, src secrets.Source) validation.Result[validation.ValidatedTokenRequest] {
	return s.TokenRequest.Validate(ctx, params, src)
}

// ValidateAccessToken validates a JWT or reference access token. A non-empty
// expectedScope must be granted by the token.
func (s *Server) ValidateAccessToken(ctx context.Context, token, expectedScope string) validation.TokenValidationResult {
	return s.Tokens.ValidateAccessToken(ctx, token, expectedScope)
}

// ValidateIdentityToken validates an identity token issued to clientID
func (s *Server) ValidateIdentityToken(ctx context.Context, token, clientID string, validateLifetime bool) validation.TokenValidationResult {
	return s.Tokens.ValidateIdentityToken(ctx, token, clientID, validateLifetime)
}

// ValidateIntrospectionRequest authenticates the calling API and reports
// whether the presented token is active
func (s *Server) ValidateIntrospectionRequest(ctx context.Context, params url.Values, src secrets.Source) validation.Result[validation.ValidatedIntrospectionRequest] {
	return s.Introspection.Validate(ctx, params, src)
}

// ValidateDeviceAuthorizationRequest validates a device authorization
// request. It answers unsupported_grant_type when no device flow store is
// configured.
func (s *Server) ValidateDeviceAuthorizationRequest(ctx context.Context, params url.Values, src secrets.Source) validation.Result[validation.ValidatedDeviceAuthorizationRequest] {
	if s.DeviceAuthorization == nil {
		return validation.Invalid[validation.ValidatedDeviceAuthorizationRequest](protocol.ErrorUnsupportedGrantType, "device flow is not enabled")
	}
	return s.DeviceAuthorization.Validate(ctx, params, src)
}

// Revoke validates a revocation request and revokes the token it names.
// Unknown tokens and tokens of other clients are not an error (RFC 7009
// section 2.2); a store failure is.
func (s *Server) Revoke(ctx context.Context, params url.Values, src secrets.Source) (*protocol.Error, error) {
	result := s.Revocation.Validate(ctx, params, src)
	if result.IsError() {
		return result.Error, nil
	}
	if err := s.Revoker.RevokeToken(ctx, result.Request); err != nil {
		s.logger.ErrorContext(ctx, "Token revocation failed", "client_id", result.Request.Client.ClientID, "error", err)
		return protocol.NewError(protocol.ErrorServerError, ""), err
	}
	return nil, nil
}
