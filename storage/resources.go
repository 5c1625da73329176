package storage

import "context"

// IdentityResource is a named group of user claims requested through a scope (e.g. "openid", "profile")
type IdentityResource struct {
	Name        string
	DisplayName string
	Enabled     bool
	Required    bool
	Emphasize   bool
	UserClaims  []string
}

// ApiScope is a scope granting access to an API
type ApiScope struct {
	Name        string
	DisplayName string
	Enabled     bool
	Required    bool
	Emphasize   bool
	UserClaims  []string
}

// ApiResource is a protected API. Its Scopes reference ApiScope names and its
// Secrets authenticate the API at the introspection endpoint.
type ApiResource struct {
	Name        string
	DisplayName string
	Enabled     bool
	Scopes      []string
	Secrets     []Secret
	UserClaims  []string
}

// Resources is the set of resources a request (or a store lookup) resolved to
type Resources struct {
	IdentityResources []IdentityResource
	ApiResources      []ApiResource
	ApiScopes         []ApiScope
	OfflineAccess     bool
}

// FindIdentityResource returns the identity resource with the given name
func (r *Resources) FindIdentityResource(name string) (IdentityResource, bool) {
	for _, ir := range r.IdentityResources {
		if ir.Name == name {
			return ir, true
		}
	}
	return IdentityResource{}, false
}

// FindApiScope returns the API scope with the given name
func (r *Resources) FindApiScope(name string) (ApiScope, bool) {
	for _, s := range r.ApiScopes {
		if s.Name == name {
			return s, true
		}
	}
	return ApiScope{}, false
}

// ApiResourcesForScope returns the API resources that expose the given scope
func (r *Resources) ApiResourcesForScope(scope string) []ApiResource {
	var result []ApiResource
	for _, api := range r.ApiResources {
		if containsString(api.Scopes, scope) {
			result = append(result, api)
		}
	}
	return result
}

// ResourceStore resolves scope names to resources.
// All methods accept context.Context for tracing and cancellation.
type ResourceStore interface {
	// FindResourcesByScopeNames returns the identity resources and API scopes
	// named in scopeNames, plus every API resource exposing one of those API scopes.
	// Unknown names are silently absent from the result.
	FindResourcesByScopeNames(ctx context.Context, scopeNames []string) (*Resources, error)

	// FindApiResourcesByName returns the API resources with the given names
	FindApiResourcesByName(ctx context.Context, names []string) ([]ApiResource, error)
}
