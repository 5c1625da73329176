package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/giantswarm/oidc-core/storage"
)

// SaveIdentityResource adds or replaces an identity resource
func (s *Store) SaveIdentityResource(resource storage.IdentityResource) error {
	if resource.Name == "" {
		return fmt.Errorf("identity resource name cannot be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identityResources[resource.Name] = &resource
	return nil
}

// SaveApiScope adds or replaces an API scope
func (s *Store) SaveApiScope(scope storage.ApiScope) error {
	if scope.Name == "" {
		return fmt.Errorf("api scope name cannot be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apiScopes[scope.Name] = &scope
	return nil
}

// SaveApiResource adds or replaces an API resource
func (s *Store) SaveApiResource(resource storage.ApiResource) error {
	if resource.Name == "" {
		return fmt.Errorf("api resource name cannot be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apiResources[resource.Name] = &resource
	return nil
}

// FindResourcesByScopeNames returns the identity resources and API scopes named in
// scopeNames and the API resources exposing them. Unknown names are skipped.
func (s *Store) FindResourcesByScopeNames(ctx context.Context, scopeNames []string) (result *storage.Resources, err error) {
	ctx, span := s.startStorageSpan(ctx, "find_resources_by_scope_names")
	defer span.End()

	startTime := time.Now()
	defer func() {
		s.recordStorageOperation(ctx, span, "find_resources_by_scope_names", err, startTime)
	}()

	s.mu.RLock()
	defer s.mu.RUnlock()

	result = &storage.Resources{}
	apiSeen := make(map[string]bool)

	for _, name := range scopeNames {
		if ir, ok := s.identityResources[name]; ok {
			result.IdentityResources = append(result.IdentityResources, *ir)
		}
		scope, ok := s.apiScopes[name]
		if !ok {
			continue
		}
		result.ApiScopes = append(result.ApiScopes, *scope)
		for _, api := range s.apiResources {
			if apiSeen[api.Name] {
				continue
			}
			for _, sc := range api.Scopes {
				if sc == name {
					result.ApiResources = append(result.ApiResources, *api)
					apiSeen[api.Name] = true
					break
				}
			}
		}
	}

	return result, nil
}

// FindApiResourcesByName returns the API resources with the given names
func (s *Store) FindApiResourcesByName(ctx context.Context, names []string) ([]storage.ApiResource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []storage.ApiResource
	for _, name := range names {
		if api, ok := s.apiResources[name]; ok {
			result = append(result, *api)
		}
	}
	return result, nil
}
