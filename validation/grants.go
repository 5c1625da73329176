package validation

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"

	"github.com/giantswarm/oidc-core/protocol"
	"github.com/giantswarm/oidc-core/security"
	"github.com/giantswarm/oidc-core/storage"
)

// builtInGrantTypes are validated by TokenRequestValidator itself
var builtInGrantTypes = []string{
	protocol.GrantTypeAuthorizationCode,
	protocol.GrantTypeClientCredentials,
	protocol.GrantTypePassword,
	protocol.GrantTypeRefreshToken,
	protocol.GrantTypeDeviceCode,
}

// GrantValidationResult is returned by pluggable grant validators
type GrantValidationResult struct {
	// Subject is the authenticated principal. Nil for grants without a user.
	Subject *storage.Subject

	Error *protocol.Error

	// CustomResponse holds extra parameters for the token response
	CustomResponse map[string]any
}

// IsError reports whether the grant was rejected
func (r GrantValidationResult) IsError() bool {
	return r.Error != nil
}

// GrantSuccess creates a successful grant result
func GrantSuccess(subject *storage.Subject) GrantValidationResult {
	return GrantValidationResult{Subject: subject}
}

// GrantFailure creates a failed grant result. An empty code defaults to invalid_grant.
func GrantFailure(code, description string) GrantValidationResult {
	if code == "" {
		code = protocol.ErrorInvalidGrant
	}
	return GrantValidationResult{Error: protocol.NewError(code, description)}
}

// ExtensionGrantValidator validates a custom grant type
type ExtensionGrantValidator interface {
	// GrantType is the exact grant_type value handled by the validator
	GrantType() string

	// Validate decides the grant. The request already carries the
	// authenticated client and the raw parameters.
	Validate(ctx context.Context, request *ValidatedTokenRequest) (GrantValidationResult, error)
}

// GrantRegistry holds the extension grant validators keyed by grant type
type GrantRegistry struct {
	validators map[string]ExtensionGrantValidator
	logger     *slog.Logger
	auditor    *security.Auditor
}

// NewGrantRegistry registers validators. Duplicate grant types and names of
// built-in grants are rejected.
func NewGrantRegistry(logger *slog.Logger, validators ...ExtensionGrantValidator) (*GrantRegistry, error) {
	if logger == nil {
		logger = slog.Default()
	}

	r := &GrantRegistry{
		validators: make(map[string]ExtensionGrantValidator, len(validators)),
		logger:     logger,
	}

	for _, v := range validators {
		grantType := v.GrantType()
		if grantType == "" {
			return nil, fmt.Errorf("extension grant validator without grant type")
		}
		if slices.Contains(builtInGrantTypes, grantType) {
			return nil, fmt.Errorf("grant type %q is built in", grantType)
		}
		if _, exists := r.validators[grantType]; exists {
			return nil, fmt.Errorf("duplicate extension grant validator for %q", grantType)
		}
		r.validators[grantType] = v
	}

	return r, nil
}

// SetAuditor enables audit events for faulting extension validators
func (r *GrantRegistry) SetAuditor(auditor *security.Auditor) {
	r.auditor = auditor
}

// IsBuiltIn reports whether grantType is handled by the token request validator
func IsBuiltIn(grantType string) bool {
	return slices.Contains(builtInGrantTypes, grantType)
}

// Has reports whether an extension validator is registered for grantType
func (r *GrantRegistry) Has(grantType string) bool {
	if r == nil {
		return false
	}
	_, ok := r.validators[grantType]
	return ok
}

// IsSupported reports whether grantType is built in or registered
func (r *GrantRegistry) IsSupported(grantType string) bool {
	return IsBuiltIn(grantType) || r.Has(grantType)
}

// SupportedGrantTypes lists built-in and registered grant types
func (r *GrantRegistry) SupportedGrantTypes() []string {
	types := slices.Clone(builtInGrantTypes)
	if r == nil {
		return types
	}
	extensions := make([]string, 0, len(r.validators))
	for grantType := range r.validators {
		extensions = append(extensions, grantType)
	}
	sort.Strings(extensions)
	return append(types, extensions...)
}

// Validate runs the extension validator for the request's grant type. Errors
// and panics of the validator are logged and reported as invalid_grant.
func (r *GrantRegistry) Validate(ctx context.Context, request *ValidatedTokenRequest) (result GrantValidationResult) {
	if r == nil {
		return GrantFailure(protocol.ErrorUnsupportedGrantType, "")
	}
	v, ok := r.validators[request.GrantType]
	if !ok {
		return GrantFailure(protocol.ErrorUnsupportedGrantType, "")
	}

	clientID := ""
	if request.Client != nil {
		clientID = request.Client.ClientID
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.ErrorContext(ctx, "Extension grant validator panicked",
				"grant_type", request.GrantType,
				"client_id", clientID,
				"panic", fmt.Sprint(rec))
			r.fault(ctx, request.GrantType, clientID)
			result = GrantFailure(protocol.ErrorInvalidGrant, "")
		}
	}()

	var err error
	result, err = v.Validate(ctx, request)
	if err != nil {
		r.logger.ErrorContext(ctx, "Extension grant validator failed",
			"grant_type", request.GrantType,
			"client_id", clientID,
			"error", err)
		r.fault(ctx, request.GrantType, clientID)
		return GrantFailure(protocol.ErrorInvalidGrant, "")
	}

	return result
}

func (r *GrantRegistry) fault(ctx context.Context, grantType, clientID string) {
	r.auditor.LogEvent(ctx, security.Event{
		Type:     security.EventExtensionGrantFault,
		ClientID: clientID,
		Details:  map[string]any{"grant_type": grantType},
	})
}
