package testutil

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/url"
	"sync"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/giantswarm/oidc-core/protocol"
	"github.com/giantswarm/oidc-core/secrets"
	"github.com/giantswarm/oidc-core/storage"
	"github.com/giantswarm/oidc-core/storage/memory"
)

// Fixture identifiers
const (
	Issuer = "https://idp.example.com"

	ClientSecret = "secret"
	RedirectURI  = "https://client.example.com/callback"

	CodeClientID     = "codeclient"
	ImplicitClientID = "implicitclient"
	ROClientID       = "roclient"
	CCClientID       = "ccclient"
	DeviceClientID   = "deviceclient"
	DisabledClientID = "disabledclient"
	SAMLClientID     = "samlclient"

	ApiName   = "api1"
	ApiSecret = "apisecret"

	BobSubjectID   = "88421113"
	BobUsername    = "bob"
	BobPassword    = "bob"
	AliceSubjectID = "818727"
	AliceUsername  = "alice"
	AlicePassword  = "alice"
)

// MockTime provides a controllable time source for deterministic testing
type MockTime struct {
	mu  sync.Mutex
	now time.Time
}

// NewMockTime creates a new mock time provider
func NewMockTime(t time.Time) *MockTime {
	return &MockTime{now: t}
}

// Now returns the current mock time
func (m *MockTime) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the mock time forward by the given duration
func (m *MockTime) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

// Set sets the mock time to a specific value
func (m *MockTime) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t
}

// GenerateRandomString generates a random base64url string of the given length
func GenerateRandomString(length int) string {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("failed to generate random string: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(b)[:length]
}

// GeneratePKCEPair generates a valid S256 PKCE challenge and verifier pair.
func GeneratePKCEPair() (challenge, verifier string) {
	verifier = oauth2.GenerateVerifier()
	return oauth2.S256ChallengeFromVerifier(verifier), verifier
}

// Secret returns a shared secret as stored on clients and API resources
func Secret(value string) storage.Secret {
	return storage.Secret{Type: storage.SecretTypeSharedSecret, Value: secrets.HashSecret(value)}
}

// Clients returns the fixture clients
func Clients() []*storage.Client {
	return []*storage.Client{
		{
			ClientID:             CodeClientID,
			ClientName:           "Code Client",
			Enabled:              true,
			ProtocolType:         protocol.ProtocolTypeOIDC,
			ClientSecrets:        []storage.Secret{Secret(ClientSecret)},
			RequireClientSecret:  true,
			AllowedGrantTypes:    []string{protocol.GrantTypeAuthorizationCode},
			AllowedScopes:        []string{protocol.ScopeOpenID, protocol.ScopeProfile, protocol.ScopeEmail, "read", "write"},
			AllowOfflineAccess:   true,
			RedirectURIs:         []string{RedirectURI, "http://127.0.0.1/native"},
			RequirePKCE:          true,
			RequireConsent:       true,
			AllowRememberConsent: true,
			EnableLocalLogin:     true,

			AccessTokenLifetime:       time.Hour,
			AuthorizationCodeLifetime: 5 * time.Minute,
		},
		{
			ClientID:                    ImplicitClientID,
			Enabled:                     true,
			ProtocolType:                protocol.ProtocolTypeOIDC,
			AllowedGrantTypes:           []string{protocol.GrantTypeImplicit},
			AllowedScopes:               []string{protocol.ScopeOpenID, protocol.ScopeProfile, "read"},
			RedirectURIs:                []string{RedirectURI},
			AllowAccessTokensViaBrowser: true,
			EnableLocalLogin:            true,
		},
		{
			ClientID:            ROClientID,
			Enabled:             true,
			ProtocolType:        protocol.ProtocolTypeOIDC,
			ClientSecrets:       []storage.Secret{Secret(ClientSecret)},
			RequireClientSecret: true,
			AllowedGrantTypes:   []string{protocol.GrantTypePassword},
			AllowedScopes:       []string{protocol.ScopeOpenID, "read", "write"},
			AllowOfflineAccess:  true,
			EnableLocalLogin:    true,
		},
		{
			ClientID:            CCClientID,
			Enabled:             true,
			ProtocolType:        protocol.ProtocolTypeOIDC,
			ClientSecrets:       []storage.Secret{Secret(ClientSecret)},
			RequireClientSecret: true,
			AllowedGrantTypes:   []string{protocol.GrantTypeClientCredentials},
			AllowedScopes:       []string{protocol.ScopeOpenID, "read", "write"},
		},
		{
			ClientID:           DeviceClientID,
			Enabled:            true,
			ProtocolType:       protocol.ProtocolTypeOIDC,
			AllowedGrantTypes:  []string{protocol.GrantTypeDeviceCode},
			AllowedScopes:      []string{protocol.ScopeOpenID, protocol.ScopeProfile, "read"},
			AllowOfflineAccess: true,
			DeviceCodeLifetime: 5 * time.Minute,
		},
		{
			ClientID:          DisabledClientID,
			Enabled:           false,
			ProtocolType:      protocol.ProtocolTypeOIDC,
			AllowedGrantTypes: []string{protocol.GrantTypeClientCredentials},
			AllowedScopes:     []string{"read"},
		},
		{
			ClientID:          SAMLClientID,
			Enabled:           true,
			ProtocolType:      "saml2p",
			AllowedGrantTypes: []string{protocol.GrantTypeClientCredentials},
			AllowedScopes:     []string{"read"},
		},
	}
}

// NewStore returns a memory store seeded with the fixture clients,
// resources and the users bob and alice.
func NewStore(t testing.TB) *memory.Store {
	t.Helper()

	store := memory.New()
	t.Cleanup(store.Stop)

	for _, client := range Clients() {
		if err := store.SaveClient(client); err != nil {
			t.Fatalf("SaveClient(%s) error = %v", client.ClientID, err)
		}
	}

	identity := []storage.IdentityResource{
		{Name: protocol.ScopeOpenID, Enabled: true, Required: true, UserClaims: []string{"sub"}},
		{Name: protocol.ScopeProfile, Enabled: true, UserClaims: []string{"name", "family_name"}},
		{Name: protocol.ScopeEmail, Enabled: true, UserClaims: []string{"email"}},
	}
	for _, ir := range identity {
		if err := store.SaveIdentityResource(ir); err != nil {
			t.Fatalf("SaveIdentityResource(%s) error = %v", ir.Name, err)
		}
	}

	for _, s := range []storage.ApiScope{
		{Name: "read", Enabled: true},
		{Name: "write", Enabled: true},
		{Name: "disabled", Enabled: false},
	} {
		if err := store.SaveApiScope(s); err != nil {
			t.Fatalf("SaveApiScope(%s) error = %v", s.Name, err)
		}
	}

	err := store.SaveApiResource(storage.ApiResource{
		Name:    ApiName,
		Enabled: true,
		Scopes:  []string{"read", "write"},
		Secrets: []storage.Secret{Secret(ApiSecret)},
	})
	if err != nil {
		t.Fatalf("SaveApiResource() error = %v", err)
	}

	if err := store.AddUser(BobSubjectID, BobUsername, BobPassword, map[string]any{"name": "Bob Smith"}); err != nil {
		t.Fatalf("AddUser(bob) error = %v", err)
	}
	if err := store.AddUser(AliceSubjectID, AliceUsername, AlicePassword, map[string]any{"name": "Alice Smith"}); err != nil {
		t.Fatalf("AddUser(alice) error = %v", err)
	}

	return store
}

// ClientAuthenticator returns an authenticator over store with the default parsers and shared secret validation
func ClientAuthenticator(store *memory.Store) *secrets.ClientAuthenticator {
	return secrets.NewClientAuthenticator(store,
		secrets.DefaultParserChain(secrets.DefaultLimits(), nil),
		secrets.NewValidatorChain(nil, &secrets.HashedSharedSecretValidator{}),
		nil)
}

// ApiAuthenticator returns an API resource authenticator over store
func ApiAuthenticator(store *memory.Store) *secrets.ApiAuthenticator {
	return secrets.NewApiAuthenticator(store,
		secrets.DefaultParserChain(secrets.DefaultLimits(), nil),
		secrets.NewValidatorChain(nil, &secrets.HashedSharedSecretValidator{}),
		nil)
}

// PostSource returns a credential source carrying client_id and client_secret in the form
func PostSource(clientID, secret string) secrets.Source {
	form := url.Values{protocol.ParamClientID: {clientID}}
	if secret != "" {
		form.Set(protocol.ParamClientSecret, secret)
	}
	return secrets.Source{Form: form}
}

// BasicSource returns a credential source with an HTTP Basic authorization header
func BasicSource(clientID, secret string) secrets.Source {
	creds := url.QueryEscape(clientID) + ":" + url.QueryEscape(secret)
	return secrets.Source{Authorization: "Basic " + base64.StdEncoding.EncodeToString([]byte(creds))}
}

// Bob returns bob's subject as signed in through the local login
func Bob(authTime time.Time) *storage.Subject {
	return &storage.Subject{
		ID:               BobSubjectID,
		SessionID:        "session-bob",
		IdentityProvider: protocol.LocalIdentityProvider,
		AuthTime:         authTime,
		AuthMethods:      []string{"pwd"},
	}
}
