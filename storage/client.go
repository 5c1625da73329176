package storage

import (
	"context"
	"errors"
	"time"
)

// Stored secret types
const (
	// SecretTypeSharedSecret is a base64 encoded SHA-256 or SHA-512 digest of a shared secret
	SecretTypeSharedSecret = "SharedSecret"

	// SecretTypeX509Thumbprint is the hex SHA-1 thumbprint of a client certificate
	SecretTypeX509Thumbprint = "X509Thumbprint"

	// SecretTypeX509Name is the subject distinguished name of a client certificate
	SecretTypeX509Name = "X509Name"

	// SecretTypePublicKeyPEM is a PEM encoded public key used to verify client assertions
	SecretTypePublicKeyPEM = "PublicKeyPem"
)

// AccessTokenType selects between self-contained and reference access tokens
type AccessTokenType int

const (
	// AccessTokenTypeJWT issues signed, self-contained access tokens
	AccessTokenTypeJWT AccessTokenType = iota

	// AccessTokenTypeReference issues opaque handles resolved via ReferenceTokenStore
	AccessTokenTypeReference
)

// String returns the configuration name of the access token type
func (t AccessTokenType) String() string {
	if t == AccessTokenTypeReference {
		return "reference"
	}
	return "jwt"
}

// Secret is a credential configured on a client or an API resource
type Secret struct {
	Type        string
	Value       string
	Description string
	Expiration  *time.Time // nil means the secret never expires
}

// IsExpired reports whether the secret expired before now
func (s Secret) IsExpired(now time.Time) bool {
	return s.Expiration != nil && s.Expiration.Before(now)
}

// Client is the configuration of a registered OAuth/OIDC client. It is owned by
// the ClientStore and treated as immutable for the duration of a request.
type Client struct {
	ClientID     string
	ClientName   string
	Enabled      bool
	ProtocolType string // "oidc"

	ClientSecrets       []Secret
	RequireClientSecret bool

	AllowedGrantTypes  []string
	AllowedScopes      []string
	AllowOfflineAccess bool
	RedirectURIs       []string

	RequirePKCE                 bool
	AllowPlainTextPKCE          bool
	AllowAccessTokensViaBrowser bool

	RequireConsent       bool
	AllowRememberConsent bool
	ConsentLifetime      time.Duration // zero means remembered consent never expires

	IdentityProviderRestrictions []string
	UserSSOLifetime              time.Duration // zero means no limit

	// EnableLocalLogin must be set for local sessions to satisfy an
	// authorization request. When false every locally authenticated user
	// is sent back to login. config.Load defaults it to true.
	EnableLocalLogin bool

	AccessTokenType              AccessTokenType
	AccessTokenLifetime          time.Duration
	IdentityTokenLifetime        time.Duration
	AuthorizationCodeLifetime    time.Duration
	AbsoluteRefreshTokenLifetime time.Duration // zero means no absolute limit
	SlidingRefreshTokenLifetime  time.Duration // zero means no sliding limit
	DeviceCodeLifetime           time.Duration

	CreatedAt time.Time
}

// AllowsGrantType reports whether the client may use the given grant type
func (c *Client) AllowsGrantType(grantType string) bool {
	return containsString(c.AllowedGrantTypes, grantType)
}

// AllowsScope reports whether the client may request the given scope
func (c *Client) AllowsScope(scope string) bool {
	return containsString(c.AllowedScopes, scope)
}

// AllowsRedirectURI reports whether redirectURI is registered for the client (exact match)
func (c *Client) AllowsRedirectURI(redirectURI string) bool {
	return containsString(c.RedirectURIs, redirectURI)
}

// IsPublic reports whether the client authenticates without a secret
func (c *Client) IsPublic() bool {
	return !c.RequireClientSecret
}

// ClientStore retrieves client configuration.
// All methods accept context.Context for tracing and cancellation.
type ClientStore interface {
	// FindClientByID returns the client or ErrClientNotFound
	FindClientByID(ctx context.Context, clientID string) (*Client, error)
}

// FindEnabledClient returns the client only if it exists and is enabled.
// A disabled client is reported as ErrClientNotFound so callers cannot tell the two apart.
func FindEnabledClient(ctx context.Context, store ClientStore, clientID string) (*Client, error) {
	client, err := store.FindClientByID(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if client == nil || !client.Enabled {
		return nil, ErrClientNotFound
	}
	return client, nil
}

// IsNotFound reports whether err is one of the not-found sentinels
func IsNotFound(err error) bool {
	return errors.Is(err, ErrClientNotFound) ||
		errors.Is(err, ErrAuthorizationCodeNotFound) ||
		errors.Is(err, ErrRefreshTokenNotFound) ||
		errors.Is(err, ErrReferenceTokenNotFound) ||
		errors.Is(err, ErrDeviceCodeNotFound) ||
		errors.Is(err, ErrConsentNotFound) ||
		errors.Is(err, ErrUserNotFound)
}

func containsString(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}
