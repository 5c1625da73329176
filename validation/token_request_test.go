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
	"github.com/giantswarm/oidc-core/storage"
)

const delegationGrant = "urn:example:grant-type:delegation"

func tokenCollaborators(env *testEnv) TokenRequestCollaborators {
	return TokenRequestCollaborators{
		Clients:       testutil.ClientAuthenticator(env.store),
		Resources:     env.resources,
		Codes:         env.store,
		RefreshTokens: env.store,
		DeviceCodes:   newDeviceCodeValidator(env),
		Profile:       &UserStoreProfileService{Users: env.store},
		Passwords:     &UserStorePasswordValidator{Users: env.store, Clock: env.clock.Now, Logger: discardLogger()},
	}
}

func newTokenRequestValidator(env *testEnv) *TokenRequestValidator {
	return NewTokenRequestValidator(tokenCollaborators(env), env.opts)
}

func validateToken(v *TokenRequestValidator, params url.Values, clientID, secret string) Result[ValidatedTokenRequest] {
	return v.Validate(context.Background(), params, testutil.BasicSource(clientID, secret))
}

func apiScopeNames(resources *ValidatedResources) []string {
	var names []string
	for _, s := range resources.ApiScopes {
		names = append(names, s.Name)
	}
	return names
}

func TestTokenRequestValidator_Password(t *testing.T) {
	env := newTestEnv(t)
	v := newTokenRequestValidator(env)

	t.Run("resolves exactly the requested scopes", func(t *testing.T) {
		result := validateToken(v, values(
			protocol.ParamGrantType, protocol.GrantTypePassword,
			protocol.ParamUsername, testutil.BobUsername,
			protocol.ParamPassword, testutil.BobPassword,
			protocol.ParamScope, "read write",
		), testutil.ROClientID, testutil.ClientSecret)

		require.False(t, result.IsError(), "unexpected error: %v", result.Error)
		assert.Equal(t, []string{"read", "write"}, result.Request.RequestedScopes)
		assert.Equal(t, []string{"read", "write"}, apiScopeNames(result.Request.Resources))
		assert.Empty(t, result.Request.Resources.IdentityResources)
		assert.Equal(t, testutil.BobSubjectID, result.Request.Subject.ID)
		assert.Equal(t, testutil.BobUsername, result.Request.UserName)
		assert.Equal(t, testNow, result.Request.Subject.AuthTime)
	})

	t.Run("defaults to the client's scopes", func(t *testing.T) {
		result := validateToken(v, values(
			protocol.ParamGrantType, protocol.GrantTypePassword,
			protocol.ParamUsername, testutil.AliceUsername,
			protocol.ParamPassword, testutil.AlicePassword,
		), testutil.ROClientID, testutil.ClientSecret)

		require.False(t, result.IsError(), "unexpected error: %v", result.Error)
		assert.Equal(t, []string{"openid", "read", "write", "offline_access"}, result.Request.RequestedScopes)
		assert.True(t, result.Request.Resources.OfflineAccess)
	})

	tests := []struct {
		name     string
		clientID string
		username string
		password string
		scope    string
		wantCode string
		wantDesc string
	}{
		{name: "unknown scope", clientID: testutil.ROClientID, username: "bob", password: "bob", scope: "unknown", wantCode: protocol.ErrorInvalidScope},
		{name: "disabled scope", clientID: testutil.ROClientID, username: "bob", password: "bob", scope: "disabled", wantCode: protocol.ErrorInvalidScope},
		{name: "scope not allowed", clientID: testutil.ROClientID, username: "bob", password: "bob", scope: "profile", wantCode: protocol.ErrorInvalidScope},
		{
			name: "wrong password", clientID: testutil.ROClientID, username: "bob", password: "wrong", scope: "read",
			wantCode: protocol.ErrorInvalidGrant, wantDesc: DescInvalidUsernameOrPassword,
		},
		{
			name: "unknown user", clientID: testutil.ROClientID, username: "mallory", password: "bob", scope: "read",
			wantCode: protocol.ErrorInvalidGrant, wantDesc: DescInvalidUsernameOrPassword,
		},
		{name: "missing username", clientID: testutil.ROClientID, password: "bob", scope: "read", wantCode: protocol.ErrorInvalidGrant},
		{name: "grant not allowed", clientID: testutil.CCClientID, username: "bob", password: "bob", scope: "read", wantCode: protocol.ErrorUnauthorizedClient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := validateToken(v, values(
				protocol.ParamGrantType, protocol.GrantTypePassword,
				protocol.ParamUsername, tt.username,
				protocol.ParamPassword, tt.password,
				protocol.ParamScope, tt.scope,
			), tt.clientID, testutil.ClientSecret)

			require.True(t, result.IsError())
			assert.Equal(t, tt.wantCode, result.Error.Code)
			if tt.wantDesc != "" {
				assert.Equal(t, tt.wantDesc, result.Error.Description)
			}
		})
	}

	t.Run("inactive user", func(t *testing.T) {
		env := newTestEnv(t)
		require.NoError(t, env.store.SetUserActive(testutil.BobSubjectID, false))

		result := validateToken(newTokenRequestValidator(env), values(
			protocol.ParamGrantType, protocol.GrantTypePassword,
			protocol.ParamUsername, testutil.BobUsername,
			protocol.ParamPassword, testutil.BobPassword,
			protocol.ParamScope, "read",
		), testutil.ROClientID, testutil.ClientSecret)

		require.True(t, result.IsError())
		assert.Equal(t, protocol.ErrorInvalidGrant, result.Error.Code)
	})

	t.Run("no password validator", func(t *testing.T) {
		deps := tokenCollaborators(env)
		deps.Passwords = nil

		result := validateToken(NewTokenRequestValidator(deps, env.opts), values(
			protocol.ParamGrantType, protocol.GrantTypePassword,
			protocol.ParamUsername, testutil.BobUsername,
			protocol.ParamPassword, testutil.BobPassword,
		), testutil.ROClientID, testutil.ClientSecret)

		require.True(t, result.IsError())
		assert.Equal(t, protocol.ErrorUnsupportedGrantType, result.Error.Code)
	})
}

type panickingPasswordValidator struct{}

func (panickingPasswordValidator) ValidatePassword(context.Context, string, string, *ValidatedTokenRequest) (GrantValidationResult, error) {
	panic("boom")
}

func TestTokenRequestValidator_PasswordValidatorPanics(t *testing.T) {
	env := newTestEnv(t)
	deps := tokenCollaborators(env)
	deps.Passwords = panickingPasswordValidator{}

	result := validateToken(NewTokenRequestValidator(deps, env.opts), values(
		protocol.ParamGrantType, protocol.GrantTypePassword,
		protocol.ParamUsername, testutil.BobUsername,
		protocol.ParamPassword, testutil.BobPassword,
	), testutil.ROClientID, testutil.ClientSecret)

	require.True(t, result.IsError())
	assert.Equal(t, protocol.ErrorInvalidGrant, result.Error.Code)
}

func TestTokenRequestValidator_AuthorizationCode(t *testing.T) {
	challenge, verifier := testutil.GeneratePKCEPair()

	storeCode := func(t *testing.T, env *testEnv, handle string, mutate func(*storage.AuthorizationCode)) {
		t.Helper()
		code := &storage.AuthorizationCode{
			Code:                handle,
			ClientID:            testutil.CodeClientID,
			Subject:             testutil.Bob(testNow),
			RedirectURI:         testutil.RedirectURI,
			RequestedScopes:     []string{"openid", "profile", "read"},
			CodeChallenge:       challenge,
			CodeChallengeMethod: protocol.CodeChallengeMethodSHA256,
			IsOpenID:            true,
			CreationTime:        testNow,
			Lifetime:            5 * time.Minute,
		}
		if mutate != nil {
			mutate(code)
		}
		require.NoError(t, env.store.StoreAuthorizationCode(context.Background(), code))
	}

	redeem := func(v *TokenRequestValidator, handle, redirectURI, codeVerifier string) Result[ValidatedTokenRequest] {
		return validateToken(v, values(
			protocol.ParamGrantType, protocol.GrantTypeAuthorizationCode,
			protocol.ParamCode, handle,
			protocol.ParamRedirectURI, redirectURI,
			protocol.ParamCodeVerifier, codeVerifier,
		), testutil.CodeClientID, testutil.ClientSecret)
	}

	t.Run("redeems once", func(t *testing.T) {
		env := newTestEnv(t)
		v := newTokenRequestValidator(env)
		storeCode(t, env, "code-1", nil)

		result := redeem(v, "code-1", testutil.RedirectURI, verifier)
		require.False(t, result.IsError(), "unexpected error: %v", result.Error)
		assert.Equal(t, testutil.BobSubjectID, result.Request.Subject.ID)
		assert.Equal(t, "session-bob", result.Request.SessionID)
		assert.Equal(t, []string{"openid", "profile", "read"}, result.Request.RequestedScopes)
		assert.Equal(t, verifier, result.Request.CodeVerifier)
		assert.Equal(t, "code-1", result.Request.AuthorizationCodeHandle)

		replay := redeem(v, "code-1", testutil.RedirectURI, verifier)
		require.True(t, replay.IsError())
		assert.Equal(t, protocol.ErrorInvalidGrant, replay.Error.Code)
	})

	tests := []struct {
		name        string
		mutate      func(*storage.AuthorizationCode)
		redirectURI string
		verifier    string
		wantCode    string
	}{
		{name: "wrong verifier", redirectURI: testutil.RedirectURI, verifier: strings.Repeat("a", 43), wantCode: protocol.ErrorInvalidGrant},
		{name: "missing verifier", redirectURI: testutil.RedirectURI, wantCode: protocol.ErrorInvalidGrant},
		{name: "redirect mismatch", redirectURI: "https://client.example.com/other", verifier: verifier, wantCode: protocol.ErrorInvalidGrant},
		{
			name:        "expired",
			mutate:      func(c *storage.AuthorizationCode) { c.CreationTime = testNow.Add(-10 * time.Minute) },
			redirectURI: testutil.RedirectURI, verifier: verifier, wantCode: protocol.ErrorInvalidGrant,
		},
		{
			name:        "other client",
			mutate:      func(c *storage.AuthorizationCode) { c.ClientID = testutil.ImplicitClientID },
			redirectURI: testutil.RedirectURI, verifier: verifier, wantCode: protocol.ErrorInvalidGrant,
		},
		{
			name:        "no challenge stored",
			mutate:      func(c *storage.AuthorizationCode) { c.CodeChallenge, c.CodeChallengeMethod = "", "" },
			redirectURI: testutil.RedirectURI, verifier: verifier, wantCode: protocol.ErrorInvalidGrant,
		},
		{
			name:        "no scopes",
			mutate:      func(c *storage.AuthorizationCode) { c.RequestedScopes = nil },
			redirectURI: testutil.RedirectURI, verifier: verifier, wantCode: protocol.ErrorInvalidRequest,
		},
		{
			name:        "anonymous subject",
			mutate:      func(c *storage.AuthorizationCode) { c.Subject = nil },
			redirectURI: testutil.RedirectURI, verifier: verifier, wantCode: protocol.ErrorInvalidGrant,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			v := newTokenRequestValidator(env)
			storeCode(t, env, "code-x", tt.mutate)

			result := redeem(v, "code-x", tt.redirectURI, tt.verifier)
			require.True(t, result.IsError())
			assert.Equal(t, tt.wantCode, result.Error.Code)

			_, err := env.store.GetAuthorizationCode(context.Background(), "code-x")
			assert.ErrorIs(t, err, storage.ErrAuthorizationCodeNotFound, "a failed redemption still consumes the code")
		})
	}

	t.Run("grant not allowed", func(t *testing.T) {
		env := newTestEnv(t)
		result := validateToken(newTokenRequestValidator(env), values(
			protocol.ParamGrantType, protocol.GrantTypeAuthorizationCode,
			protocol.ParamCode, "whatever",
		), testutil.ROClientID, testutil.ClientSecret)

		require.True(t, result.IsError())
		assert.Equal(t, protocol.ErrorUnauthorizedClient, result.Error.Code)
	})
}

func TestTokenRequestValidator_ClientCredentials(t *testing.T) {
	env := newTestEnv(t)
	v := newTokenRequestValidator(env)

	tests := []struct {
		name       string
		clientID   string
		secret     string
		scope      string
		wantCode   string
		wantScopes []string
	}{
		{name: "explicit scope", clientID: testutil.CCClientID, secret: testutil.ClientSecret, scope: "read", wantScopes: []string{"read"}},
		{name: "default drops identity scopes", clientID: testutil.CCClientID, secret: testutil.ClientSecret, wantScopes: []string{"read", "write"}},
		{name: "explicit identity scope", clientID: testutil.CCClientID, secret: testutil.ClientSecret, scope: "openid read", wantCode: protocol.ErrorInvalidScope},
		{name: "offline access", clientID: testutil.CCClientID, secret: testutil.ClientSecret, scope: "read offline_access", wantCode: protocol.ErrorInvalidScope},
		{name: "wrong secret", clientID: testutil.CCClientID, secret: "nope", scope: "read", wantCode: protocol.ErrorInvalidClient},
		{name: "disabled client", clientID: testutil.DisabledClientID, secret: testutil.ClientSecret, scope: "read", wantCode: protocol.ErrorInvalidClient},
		{name: "other protocol", clientID: testutil.SAMLClientID, scope: "read", wantCode: protocol.ErrorInvalidClient},
		{name: "grant not allowed", clientID: testutil.ROClientID, secret: testutil.ClientSecret, scope: "read", wantCode: protocol.ErrorUnauthorizedClient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := values(protocol.ParamGrantType, protocol.GrantTypeClientCredentials, protocol.ParamScope, tt.scope)
			result := v.Validate(context.Background(), params, testutil.PostSource(tt.clientID, tt.secret))

			if tt.wantCode != "" {
				require.True(t, result.IsError())
				assert.Equal(t, tt.wantCode, result.Error.Code)
				return
			}
			require.False(t, result.IsError(), "unexpected error: %v", result.Error)
			assert.Equal(t, tt.wantScopes, result.Request.RequestedScopes)
			assert.Nil(t, result.Request.Subject)
		})
	}
}

func TestTokenRequestValidator_RefreshToken(t *testing.T) {
	storeToken := func(t *testing.T, env *testEnv, handle string, mutate func(*storage.RefreshToken)) {
		t.Helper()
		token := &storage.RefreshToken{
			Handle:       handle,
			ClientID:     testutil.CodeClientID,
			Subject:      testutil.Bob(testNow),
			Scopes:       []string{"openid", "read", "offline_access"},
			CreationTime: testNow.Add(-time.Hour),
			Lifetime:     30 * 24 * time.Hour,
		}
		if mutate != nil {
			mutate(token)
		}
		require.NoError(t, env.store.StoreRefreshToken(context.Background(), token))
	}

	tests := []struct {
		name       string
		mutate     func(*storage.RefreshToken)
		clientID   string
		scope      string
		handle     string
		wantCode   string
		wantScopes []string
		wantGone   bool
	}{
		{name: "original scopes", wantScopes: []string{"openid", "read", "offline_access"}},
		{name: "narrowed scopes", scope: "openid read", wantScopes: []string{"openid", "read"}},
		{name: "widened scopes", scope: "openid write", wantCode: protocol.ErrorInvalidScope},
		{name: "missing token", handle: "-", wantCode: protocol.ErrorInvalidRequest},
		{name: "unknown token", handle: "does-not-exist", wantCode: protocol.ErrorInvalidGrant},
		{
			name:     "expired",
			mutate:   func(rt *storage.RefreshToken) { rt.Lifetime = 30 * time.Minute },
			wantCode: protocol.ErrorInvalidGrant,
			wantGone: true,
		},
		{
			name:     "other client",
			mutate:   func(rt *storage.RefreshToken) { rt.ClientID = testutil.ROClientID },
			wantCode: protocol.ErrorInvalidGrant,
		},
		{name: "client without offline access", clientID: testutil.CCClientID, wantCode: protocol.ErrorInvalidGrant},
		{
			name:     "inactive subject",
			mutate:   func(rt *storage.RefreshToken) { rt.Subject = &storage.Subject{ID: "ghost", IdentityProvider: protocol.LocalIdentityProvider} },
			wantCode: protocol.ErrorInvalidGrant,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			storeToken(t, env, "rt-1", tt.mutate)

			handle := tt.handle
			switch handle {
			case "":
				handle = "rt-1"
			case "-":
				handle = ""
			}
			clientID := tt.clientID
			if clientID == "" {
				clientID = testutil.CodeClientID
			}

			result := validateToken(newTokenRequestValidator(env), values(
				protocol.ParamGrantType, protocol.GrantTypeRefreshToken,
				protocol.ParamRefreshToken, handle,
				protocol.ParamScope, tt.scope,
			), clientID, testutil.ClientSecret)

			if tt.wantCode != "" {
				require.True(t, result.IsError())
				assert.Equal(t, tt.wantCode, result.Error.Code)
			} else {
				require.False(t, result.IsError(), "unexpected error: %v", result.Error)
				assert.Equal(t, tt.wantScopes, result.Request.RequestedScopes)
				assert.Equal(t, testutil.BobSubjectID, result.Request.Subject.ID)
				assert.Equal(t, "rt-1", result.Request.RefreshTokenHandle)
			}

			_, err := env.store.GetRefreshToken(context.Background(), "rt-1")
			if tt.wantGone {
				assert.ErrorIs(t, err, storage.ErrRefreshTokenNotFound)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	t.Run("sliding lifetime", func(t *testing.T) {
		env := newTestEnv(t)
		require.NoError(t, env.store.SaveClient(&storage.Client{
			ClientID:                    "slidingclient",
			Enabled:                     true,
			ProtocolType:                protocol.ProtocolTypeOIDC,
			AllowedGrantTypes:           []string{protocol.GrantTypeAuthorizationCode},
			AllowedScopes:               []string{"openid", "read"},
			AllowOfflineAccess:          true,
			SlidingRefreshTokenLifetime: 30 * time.Minute,
		}))

		consumed := testNow.Add(-10 * time.Minute)
		storeToken(t, env, "rt-fresh", func(rt *storage.RefreshToken) {
			rt.ClientID = "slidingclient"
			rt.ConsumedTime = &consumed
		})
		storeToken(t, env, "rt-stale", func(rt *storage.RefreshToken) { rt.ClientID = "slidingclient" })

		v := newTokenRequestValidator(env)
		refresh := func(handle string) Result[ValidatedTokenRequest] {
			params := values(protocol.ParamGrantType, protocol.GrantTypeRefreshToken, protocol.ParamRefreshToken, handle)
			return v.Validate(context.Background(), params, testutil.PostSource("slidingclient", ""))
		}

		assert.False(t, refresh("rt-fresh").IsError(), "used within the sliding window")

		stale := refresh("rt-stale")
		require.True(t, stale.IsError(), "unused for longer than the sliding window")
		assert.Equal(t, protocol.ErrorInvalidGrant, stale.Error.Code)
	})
}

func TestTokenRequestValidator_DeviceCode(t *testing.T) {
	env := newTestEnv(t)
	v := newTokenRequestValidator(env)
	storeDeviceCode(t, env, "dc-token", &storage.DeviceCode{
		IsAuthorized:     true,
		AuthorizedScopes: []string{"openid", "read", "offline_access"},
		Subject:          testutil.Bob(testNow),
	})

	poll := func(clientID, deviceCode string) Result[ValidatedTokenRequest] {
		params := values(protocol.ParamGrantType, protocol.GrantTypeDeviceCode, protocol.ParamDeviceCode, deviceCode)
		return v.Validate(context.Background(), params, testutil.PostSource(clientID, ""))
	}

	missing := poll(testutil.DeviceClientID, "")
	require.True(t, missing.IsError())
	assert.Equal(t, protocol.ErrorInvalidRequest, missing.Error.Code)

	notAllowed := poll(testutil.ImplicitClientID, "dc-token")
	require.True(t, notAllowed.IsError())
	assert.Equal(t, protocol.ErrorUnauthorizedClient, notAllowed.Error.Code)

	result := poll(testutil.DeviceClientID, "dc-token")
	require.False(t, result.IsError(), "unexpected error: %v", result.Error)
	assert.Equal(t, []string{"openid", "read", "offline_access"}, result.Request.RequestedScopes)
	assert.Equal(t, testutil.BobSubjectID, result.Request.Subject.ID)

	env.clock.Advance(time.Minute)
	again := poll(testutil.DeviceClientID, "dc-token")
	require.True(t, again.IsError())
	assert.Equal(t, protocol.ErrorInvalidGrant, again.Error.Code)
}

func TestTokenRequestValidator_ExtensionGrant(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.store.SaveClient(&storage.Client{
		ClientID:          "delegationclient",
		Enabled:           true,
		ProtocolType:      protocol.ProtocolTypeOIDC,
		AllowedGrantTypes: []string{delegationGrant},
		AllowedScopes:     []string{"read"},
	}))

	grants, err := NewGrantRegistry(discardLogger(), &fakeGrant{
		grantType: delegationGrant,
		validate: func(_ context.Context, request *ValidatedTokenRequest) (GrantValidationResult, error) {
			switch request.Raw.Get("token") {
			case "bob":
				result := GrantSuccess(testutil.Bob(testNow))
				result.CustomResponse = map[string]any{"delegated": true}
				return result, nil
			case "ghost":
				return GrantSuccess(&storage.Subject{ID: "ghost", IdentityProvider: protocol.LocalIdentityProvider}), nil
			}
			return GrantFailure("", "bad token"), nil
		},
	})
	require.NoError(t, err)

	deps := tokenCollaborators(env)
	deps.Grants = grants
	v := NewTokenRequestValidator(deps, env.opts)

	run := func(clientID, token string) Result[ValidatedTokenRequest] {
		params := values(protocol.ParamGrantType, delegationGrant, "token", token)
		return v.Validate(context.Background(), params, testutil.PostSource(clientID, ""))
	}

	result := run("delegationclient", "bob")
	require.False(t, result.IsError(), "unexpected error: %v", result.Error)
	assert.Equal(t, testutil.BobSubjectID, result.Request.Subject.ID)
	assert.Equal(t, []string{"read"}, result.Request.RequestedScopes)
	assert.Equal(t, map[string]any{"delegated": true}, result.Request.CustomResponse)

	rejected := run("delegationclient", "forged")
	require.True(t, rejected.IsError())
	assert.Equal(t, protocol.ErrorInvalidGrant, rejected.Error.Code)
	assert.Equal(t, "bad token", rejected.Error.Description)

	inactive := run("delegationclient", "ghost")
	require.True(t, inactive.IsError())
	assert.Equal(t, protocol.ErrorInvalidGrant, inactive.Error.Code)

	notAllowed := run(testutil.DeviceClientID, "bob")
	require.True(t, notAllowed.IsError())
	assert.Equal(t, protocol.ErrorUnauthorizedClient, notAllowed.Error.Code)
}

func TestTokenRequestValidator_GrantType(t *testing.T) {
	env := newTestEnv(t)
	v := newTokenRequestValidator(env)

	tests := []struct {
		name   string
		params url.Values
		want   string
	}{
		{name: "nil params", want: protocol.ErrorInvalidRequest},
		{name: "missing", params: values(protocol.ParamScope, "read"), want: protocol.ErrorUnsupportedGrantType},
		{name: "unknown", params: values(protocol.ParamGrantType, "urn:example:unknown"), want: protocol.ErrorUnsupportedGrantType},
		{name: "implicit", params: values(protocol.ParamGrantType, protocol.GrantTypeImplicit), want: protocol.ErrorUnsupportedGrantType},
		{name: "too long", params: values(protocol.ParamGrantType, testutil.GenerateRandomString(200)), want: protocol.ErrorUnsupportedGrantType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := v.Validate(context.Background(), tt.params, testutil.BasicSource(testutil.CCClientID, testutil.ClientSecret))
			require.True(t, result.IsError())
			assert.Equal(t, tt.want, result.Error.Code)
		})
	}
}
