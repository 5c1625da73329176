package oidc

import (
	"maps"
	"slices"
	"strings"

	"github.com/giantswarm/oidc-core/protocol"
	"github.com/giantswarm/oidc-core/validation"
)

// ErrorResponse represents an OAuth error response
type ErrorResponse struct {
	// Error is the error code
	Error string `json:"error"`

	// ErrorDescription provides additional information
	ErrorDescription string `json:"error_description,omitempty"`

	// ErrorURI points to error documentation
	ErrorURI string `json:"error_uri,omitempty"`
}

// NewErrorResponse renders a validation error. A nil error yields nil.
func NewErrorResponse(perr *protocol.Error) *ErrorResponse {
	if perr == nil {
		return nil
	}
	return &ErrorResponse{Error: perr.Code, ErrorDescription: perr.Description}
}

// AuthorizationServerMetadata represents OAuth 2.0 Authorization Server Metadata (RFC 8414)
type AuthorizationServerMetadata struct {
	// Issuer is the authorization server's issuer identifier URL
	Issuer string `json:"issuer"`

	AuthorizationEndpoint       string `json:"authorization_endpoint,omitempty"`
	TokenEndpoint               string `json:"token_endpoint,omitempty"`
	JwksURI                     string `json:"jwks_uri,omitempty"`
	RevocationEndpoint          string `json:"revocation_endpoint,omitempty"`
	IntrospectionEndpoint       string `json:"introspection_endpoint,omitempty"`
	DeviceAuthorizationEndpoint string `json:"device_authorization_endpoint,omitempty"`

	// ResponseTypesSupported lists the OAuth response types supported
	ResponseTypesSupported []string `json:"response_types_supported"`

	// ResponseModesSupported lists the response modes supported
	ResponseModesSupported []string `json:"response_modes_supported,omitempty"`

	// GrantTypesSupported lists built-in and registered extension grant types
	GrantTypesSupported []string `json:"grant_types_supported,omitempty"`

	// TokenEndpointAuthMethodsSupported lists the client authentication methods supported at the token endpoint
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported,omitempty"`

	// CodeChallengeMethodsSupported lists the PKCE code challenge methods supported
	CodeChallengeMethodsSupported []string `json:"code_challenge_methods_supported,omitempty"`

	// PromptValuesSupported lists the prompt values understood (OpenID Connect Prompt Create 1.0)
	PromptValuesSupported []string `json:"prompt_values_supported,omitempty"`
}

// Endpoints are the URLs a host serves the protocol endpoints at. Empty
// endpoints are omitted from the metadata.
type Endpoints struct {
	Authorization       string
	Token               string
	Jwks                string
	Revocation          string
	Introspection       string
	DeviceAuthorization string
}

// Metadata describes what the validators accept at endpoints
func (s *Server) Metadata(endpoints Endpoints) AuthorizationServerMetadata {
	meta := AuthorizationServerMetadata{
		Issuer:                s.config.Issuer,
		AuthorizationEndpoint: endpoints.Authorization,
		TokenEndpoint:         endpoints.Token,
		JwksURI:               endpoints.Jwks,
		RevocationEndpoint:    endpoints.Revocation,
		IntrospectionEndpoint: endpoints.Introspection,
		ResponseTypesSupported: []string{
			protocol.ResponseTypeCode,
			protocol.ResponseTypeToken,
			protocol.ResponseTypeIDToken,
			protocol.ResponseTypeIDTokenToken,
			protocol.ResponseTypeCodeIDToken,
			protocol.ResponseTypeCodeToken,
			protocol.ResponseTypeCodeIDTokenToken,
		},
		ResponseModesSupported: []string{protocol.ResponseModeQuery, protocol.ResponseModeFragment, protocol.ResponseModeFormPost},
		TokenEndpointAuthMethodsSupported: []string{
			"client_secret_basic",
			"client_secret_post",
			"private_key_jwt",
			"tls_client_auth",
			"self_signed_tls_client_auth",
		},
		CodeChallengeMethodsSupported: []string{protocol.CodeChallengeMethodSHA256},
		PromptValuesSupported:         []string{protocol.PromptNone, protocol.PromptLogin, protocol.PromptConsent, protocol.PromptSelectAccount},
	}

	grants := s.Grants.SupportedGrantTypes()
	if s.DeviceAuthorization == nil {
		grants = slices.DeleteFunc(grants, func(g string) bool { return g == protocol.GrantTypeDeviceCode })
	} else {
		meta.DeviceAuthorizationEndpoint = endpoints.DeviceAuthorization
	}
	meta.GrantTypesSupported = grants

	if !s.config.RequirePKCE {
		meta.CodeChallengeMethodsSupported = append(meta.CodeChallengeMethodsSupported, protocol.CodeChallengeMethodPlain)
	}

	return meta
}

// NewIntrospectionResponse renders the result of a validated introspection
// request (RFC 7662 section 2.2). Inactive tokens reveal nothing but
// "active": false. A scope claim held as a list is joined into the
// space-delimited form the response requires.
func NewIntrospectionResponse(request *validation.ValidatedIntrospectionRequest) map[string]any {
	if request == nil || !request.IsActive {
		return map[string]any{"active": false}
	}

	response := make(map[string]any, len(request.Claims)+1)
	maps.Copy(response, request.Claims)
	response["active"] = true

	switch scope := request.Claims[protocol.ClaimScope].(type) {
	case []string:
		response[protocol.ClaimScope] = strings.Join(scope, " ")
	case []any:
		values := make([]string, 0, len(scope))
		for _, v := range scope {
			if s, ok := v.(string); ok {
				values = append(values, s)
			}
		}
		response[protocol.ClaimScope] = strings.Join(values, " ")
	}

	return response
}
