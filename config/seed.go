package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/giantswarm/oidc-core/protocol"
	"github.com/giantswarm/oidc-core/secrets"
	"github.com/giantswarm/oidc-core/storage"
)

// Seed is the content of a seed file
type Seed struct {
	Settings          Settings           `yaml:"settings"`
	IdentityResources []IdentityResource `yaml:"identity_resources"`
	ApiScopes         []ApiScope         `yaml:"api_scopes"`
	ApiResources      []ApiResource      `yaml:"api_resources"`
	Clients           []Client           `yaml:"clients"`
	Users             []User             `yaml:"users"`
}

// Settings are the server-wide options of a seed file. Zero values leave
// the defaults of the core in place.
type Settings struct {
	Issuer              string        `yaml:"issuer"`
	AccessTokenAudience string        `yaml:"access_token_audience"`
	DeviceFlowInterval  time.Duration `yaml:"device_flow_interval"`
	ClockSkew           time.Duration `yaml:"clock_skew"`
	RequirePKCE         *bool         `yaml:"require_pkce"`
	AuditLogging        bool          `yaml:"audit_logging"`
}

// Secret is a client or API resource secret
type Secret struct {
	Type        string     `yaml:"type"`
	Value       string     `yaml:"value"`
	Hashed      bool       `yaml:"hashed"`
	Description string     `yaml:"description"`
	Expiration  *time.Time `yaml:"expiration"`
}

// IdentityResource is an identity resource entry
type IdentityResource struct {
	Name        string   `yaml:"name"`
	DisplayName string   `yaml:"display_name"`
	Enabled     *bool    `yaml:"enabled"`
	Required    bool     `yaml:"required"`
	Emphasize   bool     `yaml:"emphasize"`
	UserClaims  []string `yaml:"user_claims"`
}

// ApiScope is an API scope entry
type ApiScope struct {
	Name        string   `yaml:"name"`
	DisplayName string   `yaml:"display_name"`
	Enabled     *bool    `yaml:"enabled"`
	Required    bool     `yaml:"required"`
	Emphasize   bool     `yaml:"emphasize"`
	UserClaims  []string `yaml:"user_claims"`
}

// ApiResource is an API resource entry
type ApiResource struct {
	Name        string   `yaml:"name"`
	DisplayName string   `yaml:"display_name"`
	Enabled     *bool    `yaml:"enabled"`
	Scopes      []string `yaml:"scopes"`
	Secrets     []Secret `yaml:"secrets"`
	UserClaims  []string `yaml:"user_claims"`
}

// Client is a client entry. RequireClientSecret defaults to true when
// secrets are configured.
type Client struct {
	ClientID     string   `yaml:"client_id"`
	ClientName   string   `yaml:"client_name"`
	Enabled      *bool    `yaml:"enabled"`
	ProtocolType string   `yaml:"protocol_type"`
	Secrets      []Secret `yaml:"secrets"`

	RequireClientSecret *bool `yaml:"require_client_secret"`

	AllowedGrantTypes  []string `yaml:"allowed_grant_types"`
	AllowedScopes      []string `yaml:"allowed_scopes"`
	AllowOfflineAccess bool     `yaml:"allow_offline_access"`
	RedirectURIs       []string `yaml:"redirect_uris"`

	RequirePKCE                 bool `yaml:"require_pkce"`
	AllowPlainTextPKCE          bool `yaml:"allow_plain_text_pkce"`
	AllowAccessTokensViaBrowser bool `yaml:"allow_access_tokens_via_browser"`

	RequireConsent       bool          `yaml:"require_consent"`
	AllowRememberConsent bool          `yaml:"allow_remember_consent"`
	ConsentLifetime      time.Duration `yaml:"consent_lifetime"`

	IdentityProviderRestrictions []string      `yaml:"identity_provider_restrictions"`
	EnableLocalLogin             *bool         `yaml:"enable_local_login"`
	UserSSOLifetime              time.Duration `yaml:"user_sso_lifetime"`

	AccessTokenType              string        `yaml:"access_token_type"`
	AccessTokenLifetime          time.Duration `yaml:"access_token_lifetime"`
	IdentityTokenLifetime        time.Duration `yaml:"identity_token_lifetime"`
	AuthorizationCodeLifetime    time.Duration `yaml:"authorization_code_lifetime"`
	AbsoluteRefreshTokenLifetime time.Duration `yaml:"absolute_refresh_token_lifetime"`
	SlidingRefreshTokenLifetime  time.Duration `yaml:"sliding_refresh_token_lifetime"`
	DeviceCodeLifetime           time.Duration `yaml:"device_code_lifetime"`
}

// User is a local user entry. Passwords are given in plain text.
type User struct {
	SubjectID string         `yaml:"subject_id"`
	Username  string         `yaml:"username"`
	Password  string         `yaml:"password"`
	Active    *bool          `yaml:"active"`
	Claims    map[string]any `yaml:"claims"`
}

// Client lifetimes applied when a seed leaves them empty
const (
	DefaultAccessTokenLifetime       = time.Hour
	DefaultIdentityTokenLifetime     = 5 * time.Minute
	DefaultAuthorizationCodeLifetime = 5 * time.Minute
	DefaultDeviceCodeLifetime        = 5 * time.Minute
)

// Load reads and validates the seed file at path
func Load(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	seed, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return seed, nil
}

// Parse decodes and validates a seed document. Unknown keys are rejected.
func Parse(data []byte) (*Seed, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var seed Seed
	if err := dec.Decode(&seed); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse seed: %w", err)
	}
	if err := seed.Validate(); err != nil {
		return nil, err
	}
	return &seed, nil
}

// Validate checks names for uniqueness and references between entries
func (s *Seed) Validate() error {
	var errs []error

	scopes := make(map[string]bool)
	for _, ir := range s.IdentityResources {
		if ir.Name == "" {
			errs = append(errs, errors.New("identity resource without name"))
			continue
		}
		if scopes[ir.Name] {
			errs = append(errs, fmt.Errorf("duplicate scope %q", ir.Name))
		}
		scopes[ir.Name] = true
	}

	apiScopes := make(map[string]bool)
	for _, as := range s.ApiScopes {
		if as.Name == "" {
			errs = append(errs, errors.New("api scope without name"))
			continue
		}
		if scopes[as.Name] {
			errs = append(errs, fmt.Errorf("duplicate scope %q", as.Name))
		}
		scopes[as.Name] = true
		apiScopes[as.Name] = true
	}

	apis := make(map[string]bool)
	for _, api := range s.ApiResources {
		if api.Name == "" {
			errs = append(errs, errors.New("api resource without name"))
			continue
		}
		if apis[api.Name] {
			errs = append(errs, fmt.Errorf("duplicate api resource %q", api.Name))
		}
		apis[api.Name] = true
		for _, scope := range api.Scopes {
			if !apiScopes[scope] {
				errs = append(errs, fmt.Errorf("api resource %q references unknown api scope %q", api.Name, scope))
			}
		}
		errs = append(errs, validateSecrets("api resource "+api.Name, api.Secrets)...)
	}

	clients := make(map[string]bool)
	for _, c := range s.Clients {
		if c.ClientID == "" {
			errs = append(errs, errors.New("client without client_id"))
			continue
		}
		if clients[c.ClientID] {
			errs = append(errs, fmt.Errorf("duplicate client %q", c.ClientID))
		}
		clients[c.ClientID] = true

		for _, scope := range c.AllowedScopes {
			if !scopes[scope] && scope != protocol.ScopeOfflineAccess {
				errs = append(errs, fmt.Errorf("client %q allows unknown scope %q", c.ClientID, scope))
			}
		}
		switch c.AccessTokenType {
		case "", "jwt", "reference":
		default:
			errs = append(errs, fmt.Errorf("client %q has unknown access_token_type %q", c.ClientID, c.AccessTokenType))
		}
		errs = append(errs, validateSecrets("client "+c.ClientID, c.Secrets)...)
	}

	users := make(map[string]bool)
	for _, u := range s.Users {
		if u.SubjectID == "" || u.Username == "" {
			errs = append(errs, errors.New("user requires subject_id and username"))
			continue
		}
		if users[u.Username] {
			errs = append(errs, fmt.Errorf("duplicate user %q", u.Username))
		}
		users[u.Username] = true
	}

	return errors.Join(errs...)
}

func validateSecrets(owner string, list []Secret) []error {
	var errs []error
	for i, secret := range list {
		if secret.Value == "" {
			errs = append(errs, fmt.Errorf("%s: secret %d has no value", owner, i))
		}
		switch secret.Type {
		case "", storage.SecretTypeSharedSecret, storage.SecretTypeX509Thumbprint, storage.SecretTypeX509Name, storage.SecretTypePublicKeyPEM:
		default:
			errs = append(errs, fmt.Errorf("%s: secret %d has unknown type %q", owner, i, secret.Type))
		}
	}
	return errs
}

// Target receives seeded entities. *memory.Store implements it.
type Target interface {
	SaveClient(client *storage.Client) error
	SaveIdentityResource(resource storage.IdentityResource) error
	SaveApiScope(scope storage.ApiScope) error
	SaveApiResource(resource storage.ApiResource) error
	AddUser(subjectID, username, password string, claims map[string]any) error
	SetUserActive(subjectID string, active bool) error
}

// Apply writes every entry of the seed to target
func (s *Seed) Apply(target Target) error {
	for _, ir := range s.IdentityResources {
		if err := target.SaveIdentityResource(ir.toStorage()); err != nil {
			return fmt.Errorf("failed to save identity resource %q: %w", ir.Name, err)
		}
	}
	for _, as := range s.ApiScopes {
		if err := target.SaveApiScope(as.toStorage()); err != nil {
			return fmt.Errorf("failed to save api scope %q: %w", as.Name, err)
		}
	}
	for _, api := range s.ApiResources {
		if err := target.SaveApiResource(api.toStorage()); err != nil {
			return fmt.Errorf("failed to save api resource %q: %w", api.Name, err)
		}
	}
	for _, c := range s.Clients {
		if err := target.SaveClient(c.ToStorage()); err != nil {
			return fmt.Errorf("failed to save client %q: %w", c.ClientID, err)
		}
	}
	for _, u := range s.Users {
		if err := target.AddUser(u.SubjectID, u.Username, u.Password, u.Claims); err != nil {
			return fmt.Errorf("failed to add user %q: %w", u.Username, err)
		}
		if u.Active != nil && !*u.Active {
			if err := target.SetUserActive(u.SubjectID, false); err != nil {
				return fmt.Errorf("failed to deactivate user %q: %w", u.Username, err)
			}
		}
	}
	return nil
}

func boolOr(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}

func durationOr(d, def time.Duration) time.Duration {
	if d == 0 {
		return def
	}
	return d
}

func (s Secret) toStorage() storage.Secret {
	secretType := s.Type
	if secretType == "" {
		secretType = storage.SecretTypeSharedSecret
	}
	value := s.Value
	if secretType == storage.SecretTypeSharedSecret && !s.Hashed {
		value = secrets.HashSecret(value)
	}
	return storage.Secret{
		Type:        secretType,
		Value:       value,
		Description: s.Description,
		Expiration:  s.Expiration,
	}
}

func toStorageSecrets(list []Secret) []storage.Secret {
	if len(list) == 0 {
		return nil
	}
	out := make([]storage.Secret, 0, len(list))
	for _, s := range list {
		out = append(out, s.toStorage())
	}
	return out
}

func (r IdentityResource) toStorage() storage.IdentityResource {
	return storage.IdentityResource{
		Name:        r.Name,
		DisplayName: r.DisplayName,
		Enabled:     boolOr(r.Enabled, true),
		Required:    r.Required,
		Emphasize:   r.Emphasize,
		UserClaims:  r.UserClaims,
	}
}

func (s ApiScope) toStorage() storage.ApiScope {
	return storage.ApiScope{
		Name:        s.Name,
		DisplayName: s.DisplayName,
		Enabled:     boolOr(s.Enabled, true),
		Required:    s.Required,
		Emphasize:   s.Emphasize,
		UserClaims:  s.UserClaims,
	}
}

func (r ApiResource) toStorage() storage.ApiResource {
	return storage.ApiResource{
		Name:        r.Name,
		DisplayName: r.DisplayName,
		Enabled:     boolOr(r.Enabled, true),
		Scopes:      r.Scopes,
		Secrets:     toStorageSecrets(r.Secrets),
		UserClaims:  r.UserClaims,
	}
}

// ToStorage converts the entry into a client with defaults applied
func (c Client) ToStorage() *storage.Client {
	protocolType := c.ProtocolType
	if protocolType == "" {
		protocolType = protocol.ProtocolTypeOIDC
	}
	tokenType := storage.AccessTokenTypeJWT
	if c.AccessTokenType == "reference" {
		tokenType = storage.AccessTokenTypeReference
	}

	return &storage.Client{
		ClientID:     c.ClientID,
		ClientName:   c.ClientName,
		Enabled:      boolOr(c.Enabled, true),
		ProtocolType: protocolType,

		ClientSecrets:       toStorageSecrets(c.Secrets),
		RequireClientSecret: boolOr(c.RequireClientSecret, len(c.Secrets) > 0),

		AllowedGrantTypes:  c.AllowedGrantTypes,
		AllowedScopes:      c.AllowedScopes,
		AllowOfflineAccess: c.AllowOfflineAccess,
		RedirectURIs:       c.RedirectURIs,

		RequirePKCE:                 c.RequirePKCE,
		AllowPlainTextPKCE:          c.AllowPlainTextPKCE,
		AllowAccessTokensViaBrowser: c.AllowAccessTokensViaBrowser,

		RequireConsent:       c.RequireConsent,
		AllowRememberConsent: c.AllowRememberConsent,
		ConsentLifetime:      c.ConsentLifetime,

		IdentityProviderRestrictions: c.IdentityProviderRestrictions,
		EnableLocalLogin:             boolOr(c.EnableLocalLogin, true),
		UserSSOLifetime:              c.UserSSOLifetime,

		AccessTokenType:              tokenType,
		AccessTokenLifetime:          durationOr(c.AccessTokenLifetime, DefaultAccessTokenLifetime),
		IdentityTokenLifetime:        durationOr(c.IdentityTokenLifetime, DefaultIdentityTokenLifetime),
		AuthorizationCodeLifetime:    durationOr(c.AuthorizationCodeLifetime, DefaultAuthorizationCodeLifetime),
		AbsoluteRefreshTokenLifetime: c.AbsoluteRefreshTokenLifetime,
		SlidingRefreshTokenLifetime:  c.SlidingRefreshTokenLifetime,
		DeviceCodeLifetime:           durationOr(c.DeviceCodeLifetime, DefaultDeviceCodeLifetime),
	}
}
