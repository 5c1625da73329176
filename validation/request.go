package validation

import (
	"net/url"
	"slices"
	"time"

	"github.com/giantswarm/oidc-core/protocol"
	"github.com/giantswarm/oidc-core/secrets"
	"github.com/giantswarm/oidc-core/storage"
)

// ValidatedResources is the resolved scope set of a request
type ValidatedResources struct {
	storage.Resources

	// Scopes are the scope values in request order
	Scopes []string
}

// ScopeValues returns the validated scope values
func (r *ValidatedResources) ScopeValues() []string {
	if r == nil {
		return nil
	}
	return slices.Clone(r.Scopes)
}

// Filter returns a copy restricted to the given scope values. API resources
// that no longer expose any remaining API scope are dropped.
func (r *ValidatedResources) Filter(scopes []string) *ValidatedResources {
	if r == nil {
		return nil
	}

	out := &ValidatedResources{}
	for _, scope := range r.Scopes {
		if slices.Contains(scopes, scope) {
			out.Scopes = append(out.Scopes, scope)
		}
	}

	for _, ir := range r.IdentityResources {
		if slices.Contains(scopes, ir.Name) {
			out.IdentityResources = append(out.IdentityResources, ir)
		}
	}
	for _, s := range r.ApiScopes {
		if slices.Contains(scopes, s.Name) {
			out.ApiScopes = append(out.ApiScopes, s)
		}
	}
	for _, api := range r.ApiResources {
		for _, s := range out.ApiScopes {
			if slices.Contains(api.Scopes, s.Name) {
				out.ApiResources = append(out.ApiResources, api)
				break
			}
		}
	}
	out.OfflineAccess = r.OfflineAccess && slices.Contains(scopes, protocol.ScopeOfflineAccess)

	return out
}

// RequiredScopes returns the names of identity resources and API scopes that cannot be deselected
func (r *ValidatedResources) RequiredScopes() []string {
	if r == nil {
		return nil
	}
	var required []string
	for _, ir := range r.IdentityResources {
		if ir.Required {
			required = append(required, ir.Name)
		}
	}
	for _, s := range r.ApiScopes {
		if s.Required {
			required = append(required, s.Name)
		}
	}
	return required
}

// ValidatedRequest holds what every validated request carries
type ValidatedRequest struct {
	Raw url.Values

	Client       *storage.Client
	Secret       *secrets.ParsedSecret
	Confirmation string

	Subject   *storage.Subject
	SessionID string

	RequestedScopes []string
	Resources       *ValidatedResources
}

// ValidatedTokenRequest is a token endpoint request that passed validation
type ValidatedTokenRequest struct {
	ValidatedRequest

	GrantType string

	AuthorizationCodeHandle string
	AuthorizationCode       *storage.AuthorizationCode
	CodeVerifier            string

	RefreshTokenHandle string
	RefreshToken       *storage.RefreshToken

	DeviceCodeHandle string
	DeviceCode       *storage.DeviceCode

	UserName string

	// CustomResponse holds extra response parameters produced by grant validators
	CustomResponse map[string]any
}

// WithClient returns a copy bound to an authenticated client
func (r ValidatedTokenRequest) WithClient(auth *secrets.ClientAuthResult) ValidatedTokenRequest {
	r.Client = auth.Client
	r.Secret = auth.Secret
	r.Confirmation = auth.Confirmation
	return r
}

// WithSubject returns a copy bound to subject
func (r ValidatedTokenRequest) WithSubject(subject *storage.Subject) ValidatedTokenRequest {
	r.Subject = subject
	if subject != nil {
		r.SessionID = subject.SessionID
	}
	return r
}

// WithResources returns a copy with the resolved scopes
func (r ValidatedTokenRequest) WithResources(requested []string, resources *ValidatedResources) ValidatedTokenRequest {
	r.RequestedScopes = slices.Clone(requested)
	r.Resources = resources
	return r
}

// ValidatedAuthorizeRequest is an authorize endpoint request that passed validation
type ValidatedAuthorizeRequest struct {
	ValidatedRequest

	ResponseType string
	ResponseMode string
	GrantType    string
	RedirectURI  string
	State        string
	Nonce        string

	PromptModes []string
	MaxAge      *time.Duration
	LoginHint   string
	AcrValues   []string
	UILocales   string

	CodeChallenge       string
	CodeChallengeMethod string

	IsOpenIDRequest      bool
	IsApiResourceRequest bool
}

// HasPrompt reports whether prompt was requested
func (r *ValidatedAuthorizeRequest) HasPrompt(prompt string) bool {
	return slices.Contains(r.PromptModes, prompt)
}

// WithoutPrompts returns a copy with the given prompt modes removed. The
// interaction generator uses it once a forced login or consent was handled.
func (r ValidatedAuthorizeRequest) WithoutPrompts(prompts ...string) ValidatedAuthorizeRequest {
	var kept []string
	for _, p := range r.PromptModes {
		if !slices.Contains(prompts, p) {
			kept = append(kept, p)
		}
	}
	r.PromptModes = kept
	return r
}

// WithResources returns a copy with the resolved scopes
func (r ValidatedAuthorizeRequest) WithResources(resources *ValidatedResources) ValidatedAuthorizeRequest {
	r.Resources = resources
	r.RequestedScopes = resources.ScopeValues()
	return r
}

// IdP returns the identity provider requested with an idp: acr value
func (r *ValidatedAuthorizeRequest) IdP() string {
	return acrValue(r.AcrValues, protocol.ACRPrefixIdentityProvider)
}

// Tenant returns the tenant requested with a tenant: acr value
func (r *ValidatedAuthorizeRequest) Tenant() string {
	return acrValue(r.AcrValues, protocol.ACRPrefixTenant)
}

func acrValue(values []string, prefix string) string {
	for _, v := range values {
		if len(v) > len(prefix) && v[:len(prefix)] == prefix {
			return v[len(prefix):]
		}
	}
	return ""
}

// ValidatedDeviceAuthorizationRequest is a device authorization request that passed validation
type ValidatedDeviceAuthorizationRequest struct {
	ValidatedRequest

	IsOpenIDRequest bool
}

// ValidatedRevocationRequest is a revocation request that passed validation
type ValidatedRevocationRequest struct {
	Client        *storage.Client
	Token         string
	TokenTypeHint string
}
