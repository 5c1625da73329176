package validation

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/oidc-core/internal/testutil"
	"github.com/giantswarm/oidc-core/protocol"
)

func newAuthorizeValidator(env *testEnv) *AuthorizeRequestValidator {
	return NewAuthorizeRequestValidator(env.store, env.resources, nil, env.opts)
}

func codeRequest(challenge string) url.Values {
	return values(
		protocol.ParamClientID, testutil.CodeClientID,
		protocol.ParamRedirectURI, testutil.RedirectURI,
		protocol.ParamResponseType, protocol.ResponseTypeCode,
		protocol.ParamScope, "openid read",
		protocol.ParamCodeChallenge, challenge,
		protocol.ParamCodeChallengeMethod, protocol.CodeChallengeMethodSHA256,
		protocol.ParamState, "xyz",
	)
}

func implicitRequest(responseType, scope string) url.Values {
	return values(
		protocol.ParamClientID, testutil.ImplicitClientID,
		protocol.ParamRedirectURI, testutil.RedirectURI,
		protocol.ParamResponseType, responseType,
		protocol.ParamScope, scope,
		protocol.ParamNonce, "n-0S6_WzA2Mj",
	)
}

func TestAuthorizeRequestValidator_CodeFlow(t *testing.T) {
	env := newTestEnv(t)
	v := newAuthorizeValidator(env)
	challenge, _ := testutil.GeneratePKCEPair()
	subject := testutil.Bob(testNow)

	result := v.Validate(context.Background(), codeRequest(challenge), subject)
	require.False(t, result.IsError(), "unexpected error: %v", result.Error)

	req := result.Request
	assert.Equal(t, testutil.CodeClientID, req.Client.ClientID)
	assert.Equal(t, protocol.ResponseTypeCode, req.ResponseType)
	assert.Equal(t, protocol.GrantTypeAuthorizationCode, req.GrantType)
	assert.Equal(t, protocol.ResponseModeQuery, req.ResponseMode)
	assert.Equal(t, protocol.CodeChallengeMethodSHA256, req.CodeChallengeMethod)
	assert.Equal(t, "xyz", req.State)
	assert.True(t, req.IsOpenIDRequest)
	assert.True(t, req.IsApiResourceRequest)
	assert.Equal(t, []string{"openid", "read"}, req.RequestedScopes)
	assert.Len(t, req.Resources.IdentityResources, 1)
	assert.Len(t, req.Resources.ApiScopes, 1)
	assert.Equal(t, subject, req.Subject)
	assert.Equal(t, "session-bob", req.SessionID)
}

func TestAuthorizeRequestValidator_Errors(t *testing.T) {
	challenge, _ := testutil.GeneratePKCEPair()

	tests := []struct {
		name     string
		params   url.Values
		mutate   func(url.Values)
		wantCode string
	}{
		{name: "missing client_id", params: codeRequest(challenge), mutate: func(v url.Values) { v.Del(protocol.ParamClientID) }, wantCode: protocol.ErrorInvalidRequest},
		{name: "unknown client", params: codeRequest(challenge), mutate: func(v url.Values) { v.Set(protocol.ParamClientID, "nobody") }, wantCode: protocol.ErrorUnauthorizedClient},
		{name: "disabled client", params: codeRequest(challenge), mutate: func(v url.Values) { v.Set(protocol.ParamClientID, testutil.DisabledClientID) }, wantCode: protocol.ErrorUnauthorizedClient},
		{name: "non oidc client", params: codeRequest(challenge), mutate: func(v url.Values) { v.Set(protocol.ParamClientID, testutil.SAMLClientID) }, wantCode: protocol.ErrorUnauthorizedClient},
		{name: "missing redirect_uri", params: codeRequest(challenge), mutate: func(v url.Values) { v.Del(protocol.ParamRedirectURI) }, wantCode: protocol.ErrorInvalidRequest},
		{name: "relative redirect_uri", params: codeRequest(challenge), mutate: func(v url.Values) { v.Set(protocol.ParamRedirectURI, "/callback") }, wantCode: protocol.ErrorInvalidRequest},
		{name: "unregistered redirect_uri", params: codeRequest(challenge), mutate: func(v url.Values) { v.Set(protocol.ParamRedirectURI, "https://evil.example.com/cb") }, wantCode: protocol.ErrorUnauthorizedClient},
		{name: "state too long", params: codeRequest(challenge), mutate: func(v url.Values) { v.Set(protocol.ParamState, strings.Repeat("s", 2001)) }, wantCode: protocol.ErrorInvalidRequest},
		{name: "missing response_type", params: codeRequest(challenge), mutate: func(v url.Values) { v.Del(protocol.ParamResponseType) }, wantCode: protocol.ErrorUnsupportedResponseType},
		{name: "unknown response_type", params: codeRequest(challenge), mutate: func(v url.Values) { v.Set(protocol.ParamResponseType, "code foo") }, wantCode: protocol.ErrorUnsupportedResponseType},
		{name: "grant not allowed", params: codeRequest(challenge), mutate: func(v url.Values) { v.Set(protocol.ParamResponseType, "token") }, wantCode: protocol.ErrorUnauthorizedClient},
		{name: "unsupported response_mode", params: codeRequest(challenge), mutate: func(v url.Values) { v.Set(protocol.ParamResponseMode, "jwt") }, wantCode: protocol.ErrorInvalidRequest},
		{name: "missing code_challenge", params: codeRequest(challenge), mutate: func(v url.Values) { v.Del(protocol.ParamCodeChallenge) }, wantCode: protocol.ErrorInvalidRequest},
		{name: "plain pkce not allowed", params: codeRequest(challenge), mutate: func(v url.Values) { v.Set(protocol.ParamCodeChallengeMethod, "plain") }, wantCode: protocol.ErrorInvalidRequest},
		{name: "missing scope", params: codeRequest(challenge), mutate: func(v url.Values) { v.Del(protocol.ParamScope) }, wantCode: protocol.ErrorInvalidScope},
		{name: "unknown scope", params: codeRequest(challenge), mutate: func(v url.Values) { v.Set(protocol.ParamScope, "openid unknown") }, wantCode: protocol.ErrorInvalidScope},
		{name: "disabled scope", params: codeRequest(challenge), mutate: func(v url.Values) { v.Set(protocol.ParamScope, "disabled") }, wantCode: protocol.ErrorInvalidScope},
		{name: "identity scope without openid", params: codeRequest(challenge), mutate: func(v url.Values) { v.Set(protocol.ParamScope, "profile read") }, wantCode: protocol.ErrorInvalidScope},
		{name: "prompt none combined", params: codeRequest(challenge), mutate: func(v url.Values) { v.Set(protocol.ParamPrompt, "none login") }, wantCode: protocol.ErrorInvalidRequest},
		{name: "negative max_age", params: codeRequest(challenge), mutate: func(v url.Values) { v.Set(protocol.ParamMaxAge, "-1") }, wantCode: protocol.ErrorInvalidRequest},
		{name: "non numeric max_age", params: codeRequest(challenge), mutate: func(v url.Values) { v.Set(protocol.ParamMaxAge, "soon") }, wantCode: protocol.ErrorInvalidRequest},
		{name: "login_hint too long", params: codeRequest(challenge), mutate: func(v url.Values) { v.Set(protocol.ParamLoginHint, strings.Repeat("h", 101)) }, wantCode: protocol.ErrorInvalidRequest},
		{name: "implicit without nonce", params: implicitRequest("id_token token", "openid read"), mutate: func(v url.Values) { v.Del(protocol.ParamNonce) }, wantCode: protocol.ErrorInvalidRequest},
		{name: "implicit tokens in query", params: implicitRequest("id_token token", "openid read"), mutate: func(v url.Values) { v.Set(protocol.ParamResponseMode, "query") }, wantCode: protocol.ErrorInvalidRequest},
		{name: "id_token without openid", params: implicitRequest("id_token", "read"), wantCode: protocol.ErrorInvalidRequest},
		{name: "id_token with api scope", params: implicitRequest("id_token", "openid read"), wantCode: protocol.ErrorInvalidScope},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			params := tt.params
			if tt.mutate != nil {
				tt.mutate(params)
			}

			result := newAuthorizeValidator(env).Validate(context.Background(), params, nil)
			require.True(t, result.IsError(), "expected %s", tt.wantCode)
			assert.Nil(t, result.Request)
			assert.Equal(t, tt.wantCode, result.Error.Code)
		})
	}
}

func TestAuthorizeRequestValidator_Optional(t *testing.T) {
	env := newTestEnv(t)
	v := newAuthorizeValidator(env)

	t.Run("implicit defaults to fragment", func(t *testing.T) {
		result := v.Validate(context.Background(), implicitRequest("token id_token", "openid profile read"), nil)
		require.False(t, result.IsError(), "unexpected error: %v", result.Error)
		assert.Equal(t, protocol.ResponseTypeIDTokenToken, result.Request.ResponseType)
		assert.Equal(t, protocol.ResponseModeFragment, result.Request.ResponseMode)
		assert.Equal(t, protocol.GrantTypeImplicit, result.Request.GrantType)
		assert.Empty(t, result.Request.CodeChallenge)
	})

	t.Run("prompt max_age and hints", func(t *testing.T) {
		params := implicitRequest("id_token", "openid profile")
		params.Set(protocol.ParamPrompt, "none bogus")
		params.Set(protocol.ParamMaxAge, "300")
		params.Set(protocol.ParamACRValues, "idp:google tenant:acme")
		params.Set(protocol.ParamLoginHint, "bob@example.com")
		params.Set(protocol.ParamUILocales, "de-CH en")

		result := v.Validate(context.Background(), params, nil)
		require.False(t, result.IsError(), "unexpected error: %v", result.Error)

		req := result.Request
		assert.Equal(t, []string{protocol.PromptNone}, req.PromptModes)
		require.NotNil(t, req.MaxAge)
		assert.Equal(t, 5*time.Minute, *req.MaxAge)
		assert.Equal(t, "google", req.IdP())
		assert.Equal(t, "acme", req.Tenant())
		assert.Equal(t, "bob@example.com", req.LoginHint)
		assert.Equal(t, "de-CH en", req.UILocales)
		assert.False(t, req.IsApiResourceRequest)
	})

	t.Run("loopback redirect with dynamic port", func(t *testing.T) {
		challenge, _ := testutil.GeneratePKCEPair()
		params := codeRequest(challenge)
		params.Set(protocol.ParamRedirectURI, "http://127.0.0.1:49152/native")

		result := v.Validate(context.Background(), params, nil)
		require.False(t, result.IsError(), "unexpected error: %v", result.Error)
		assert.Equal(t, "http://127.0.0.1:49152/native", result.Request.RedirectURI)
	})

	t.Run("empty request", func(t *testing.T) {
		result := v.Validate(context.Background(), nil, nil)
		require.True(t, result.IsError())
		assert.Equal(t, protocol.ErrorInvalidRequest, result.Error.Code)
	})
}
