// Package protocol holds the OAuth 2.0 and OpenID Connect vocabulary shared by
// every other package: parameter names, grant and response types, prompt modes
// and the error codes returned at the protocol boundary.
package protocol

// OAuth 2.0 / OIDC error codes (RFC 6749, RFC 6750, RFC 7009, RFC 8628, OIDC Core)
const (
	ErrorInvalidRequest           = "invalid_request"
	ErrorInvalidClient            = "invalid_client"
	ErrorInvalidGrant             = "invalid_grant"
	ErrorUnauthorizedClient       = "unauthorized_client"
	ErrorUnsupportedGrantType     = "unsupported_grant_type"
	ErrorUnsupportedResponseType  = "unsupported_response_type"
	ErrorUnsupportedTokenType     = "unsupported_token_type"
	ErrorInvalidScope             = "invalid_scope"
	ErrorAccessDenied             = "access_denied"
	ErrorLoginRequired            = "login_required"
	ErrorInteractionRequired      = "interaction_required"
	ErrorConsentRequired          = "consent_required"
	ErrorAccountSelectionRequired = "account_selection_required"
	ErrorInvalidToken             = "invalid_token"
	ErrorInsufficientScope        = "insufficient_scope"
	ErrorSlowDown                 = "slow_down"
	ErrorExpiredToken             = "expired_token"
	ErrorAuthorizationPending     = "authorization_pending"
	ErrorServerError              = "server_error"
)

// Grant types
const (
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypeClientCredentials = "client_credentials"
	GrantTypePassword          = "password"
	GrantTypeRefreshToken      = "refresh_token"
	GrantTypeDeviceCode        = "urn:ietf:params:oauth:grant-type:device_code"
	GrantTypeImplicit          = "implicit"
	GrantTypeHybrid            = "hybrid"
)

// Response types
const (
	ResponseTypeCode             = "code"
	ResponseTypeToken            = "token"
	ResponseTypeIDToken          = "id_token"
	ResponseTypeIDTokenToken     = "id_token token"
	ResponseTypeCodeIDToken      = "code id_token"
	ResponseTypeCodeToken        = "code token"
	ResponseTypeCodeIDTokenToken = "code id_token token"
)

// Response modes
const (
	ResponseModeQuery    = "query"
	ResponseModeFragment = "fragment"
	ResponseModeFormPost = "form_post"
)

// Prompt modes
const (
	PromptNone          = "none"
	PromptLogin         = "login"
	PromptConsent       = "consent"
	PromptSelectAccount = "select_account"
)

// PKCE code challenge methods (RFC 7636)
const (
	CodeChallengeMethodPlain  = "plain"
	CodeChallengeMethodSHA256 = "S256"
)

// Token type hints (RFC 7009)
const (
	TokenTypeHintAccessToken  = "access_token"
	TokenTypeHintRefreshToken = "refresh_token"
)

// Well known scopes
const (
	ScopeOpenID        = "openid"
	ScopeProfile       = "profile"
	ScopeEmail         = "email"
	ScopeOfflineAccess = "offline_access"
)

// ProtocolTypeOIDC is the only client protocol type this core accepts.
const ProtocolTypeOIDC = "oidc"

// Request parameter names
const (
	ParamClientID            = "client_id"
	ParamClientSecret        = "client_secret"
	ParamClientAssertion     = "client_assertion"
	ParamClientAssertionType = "client_assertion_type"
	ParamGrantType           = "grant_type"
	ParamScope               = "scope"
	ParamRedirectURI         = "redirect_uri"
	ParamResponseType        = "response_type"
	ParamResponseMode        = "response_mode"
	ParamState               = "state"
	ParamNonce               = "nonce"
	ParamPrompt              = "prompt"
	ParamMaxAge              = "max_age"
	ParamLoginHint           = "login_hint"
	ParamACRValues           = "acr_values"
	ParamUILocales           = "ui_locales"
	ParamCode                = "code"
	ParamCodeVerifier        = "code_verifier"
	ParamCodeChallenge       = "code_challenge"
	ParamCodeChallengeMethod = "code_challenge_method"
	ParamUsername            = "username"
	ParamPassword            = "password"
	ParamRefreshToken        = "refresh_token"
	ParamDeviceCode          = "device_code"
	ParamToken               = "token"
	ParamTokenTypeHint       = "token_type_hint"
)

// ClientAssertionTypeJWTBearer is the client_assertion_type for private_key_jwt (RFC 7523)
const ClientAssertionTypeJWTBearer = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"

// Claim names
const (
	ClaimSubject          = "sub"
	ClaimIssuer           = "iss"
	ClaimAudience         = "aud"
	ClaimExpiration       = "exp"
	ClaimNotBefore        = "nbf"
	ClaimIssuedAt         = "iat"
	ClaimJwtID            = "jti"
	ClaimClientID         = "client_id"
	ClaimScope            = "scope"
	ClaimSessionID        = "sid"
	ClaimAuthTime         = "auth_time"
	ClaimIdentityProvider = "idp"
	ClaimAuthMethods      = "amr"
	ClaimConfirmation     = "cnf"
)

// KnownACRPrefixes for acr_values handled by the core
const (
	ACRPrefixIdentityProvider = "idp:"
	ACRPrefixTenant           = "tenant:"
)

// LocalIdentityProvider is the identity provider name for local logins.
const LocalIdentityProvider = "local"
