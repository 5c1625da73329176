package validation

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/giantswarm/oidc-core/protocol"
	"github.com/giantswarm/oidc-core/storage"
)

// ResourceValidator resolves requested scopes against the resource catalog
// and the client's allowed scopes. Any unknown, disabled or disallowed scope
// fails the whole request.
type ResourceValidator struct {
	store  storage.ResourceStore
	logger *slog.Logger
}

// NewResourceValidator creates a resource validator
func NewResourceValidator(store storage.ResourceStore, logger *slog.Logger) *ResourceValidator {
	if logger == nil {
		logger = slog.Default()
	}
	return &ResourceValidator{store: store, logger: logger}
}

// Validate resolves scopes for client. A returned Go error means the store failed.
func (v *ResourceValidator) Validate(ctx context.Context, client *storage.Client, scopes []string) (*ValidatedResources, *protocol.Error, error) {
	if len(scopes) == 0 {
		return nil, protocol.NewError(protocol.ErrorInvalidScope, "No scopes requested"), nil
	}

	found, err := v.store.FindResourcesByScopeNames(ctx, scopes)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load resources: %w", err)
	}

	result := &ValidatedResources{}
	for _, scope := range scopes {
		if scope == protocol.ScopeOfflineAccess {
			if !client.AllowOfflineAccess {
				v.logger.InfoContext(ctx, "Client not allowed offline_access", "client_id", client.ClientID)
				return nil, protocol.NewError(protocol.ErrorInvalidScope, "offline_access is not allowed for this client"), nil
			}
			result.OfflineAccess = true
			result.Scopes = append(result.Scopes, scope)
			continue
		}

		ir, isIdentity := found.FindIdentityResource(scope)
		api, isAPI := found.FindApiScope(scope)

		switch {
		case isIdentity && !ir.Enabled, isAPI && !api.Enabled:
			v.logger.InfoContext(ctx, "Scope is disabled", "scope", scope)
			return nil, protocol.NewError(protocol.ErrorInvalidScope, "Invalid scope: "+scope), nil
		case !isIdentity && !isAPI:
			v.logger.InfoContext(ctx, "Unknown scope requested", "scope", scope)
			return nil, protocol.NewError(protocol.ErrorInvalidScope, "Invalid scope: "+scope), nil
		}

		if !client.AllowsScope(scope) {
			v.logger.InfoContext(ctx, "Client not allowed to request scope", "client_id", client.ClientID, "scope", scope)
			return nil, protocol.NewError(protocol.ErrorInvalidScope, "Invalid scope: "+scope), nil
		}

		if isIdentity {
			result.IdentityResources = append(result.IdentityResources, ir)
		}
		if isAPI {
			result.ApiScopes = append(result.ApiScopes, api)
			for _, r := range found.ApiResourcesForScope(scope) {
				if r.Enabled && !slices.ContainsFunc(result.ApiResources, func(x storage.ApiResource) bool { return x.Name == r.Name }) {
					result.ApiResources = append(result.ApiResources, r)
				}
			}
		}
		result.Scopes = append(result.Scopes, scope)
	}

	return result, nil, nil
}

// IsIdentityScope reports whether scope names an identity resource of resources
func IsIdentityScope(resources *ValidatedResources, scope string) bool {
	if resources == nil {
		return false
	}
	_, ok := resources.FindIdentityResource(scope)
	return ok
}
