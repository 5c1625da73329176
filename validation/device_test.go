package validation

import (
	"context"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/oidc-core/internal/testutil"
	"github.com/giantswarm/oidc-core/protocol"
	"github.com/giantswarm/oidc-core/storage"
)

const testInterval = 5 * time.Second

func newDeviceCodeValidator(env *testEnv) *DeviceCodeValidator {
	throttler := NewDistributedDeviceFlowThrottler(env.store, testInterval, env.clock.Now)
	profile := &UserStoreProfileService{Users: env.store}
	return NewDeviceCodeValidator(env.store, throttler, profile, env.opts)
}

func deviceTokenRequest(t *testing.T, env *testEnv, clientID string) ValidatedTokenRequest {
	t.Helper()
	client, err := env.store.FindClientByID(context.Background(), clientID)
	require.NoError(t, err)
	return ValidatedTokenRequest{
		ValidatedRequest: ValidatedRequest{Raw: url.Values{}, Client: client},
		GrantType:        protocol.GrantTypeDeviceCode,
	}
}

func storeDeviceCode(t *testing.T, env *testEnv, deviceCode string, data *storage.DeviceCode) {
	t.Helper()
	if data.ClientID == "" {
		data.ClientID = testutil.DeviceClientID
	}
	if data.CreationTime.IsZero() {
		data.CreationTime = env.clock.Now()
	}
	if data.Lifetime == 0 {
		data.Lifetime = 5 * time.Minute
	}
	require.NoError(t, env.store.StoreDeviceAuthorization(context.Background(), deviceCode, "user-"+deviceCode, data))
}

func TestDeviceCodeValidator_States(t *testing.T) {
	bob := testutil.Bob(testNow)

	tests := []struct {
		name      string
		stored    *storage.DeviceCode
		clientID  string
		poll      string
		wantCode  string
		wantGone  bool
	}{
		{name: "unknown", poll: "missing", wantCode: protocol.ErrorInvalidGrant},
		{
			name:     "expired",
			stored:   &storage.DeviceCode{CreationTime: testNow.Add(-10 * time.Minute), Lifetime: 5 * time.Minute},
			wantCode: protocol.ErrorExpiredToken,
			wantGone: true,
		},
		{name: "other client", stored: &storage.DeviceCode{}, clientID: testutil.CodeClientID, wantCode: protocol.ErrorInvalidGrant},
		{name: "pending", stored: &storage.DeviceCode{RequestedScopes: []string{"openid"}}, wantCode: protocol.ErrorAuthorizationPending},
		{name: "authorized without subject", stored: &storage.DeviceCode{IsAuthorized: true, AuthorizedScopes: []string{"openid"}}, wantCode: protocol.ErrorAuthorizationPending},
		{name: "denied", stored: &storage.DeviceCode{IsAuthorized: true, Subject: bob}, wantCode: protocol.ErrorAccessDenied},
		{
			name:     "inactive subject",
			stored:   &storage.DeviceCode{IsAuthorized: true, AuthorizedScopes: []string{"openid"}, Subject: &storage.Subject{ID: "inactive", IdentityProvider: protocol.LocalIdentityProvider}},
			wantCode: protocol.ErrorInvalidGrant,
		},
		{
			name:     "authorized",
			stored:   &storage.DeviceCode{IsAuthorized: true, AuthorizedScopes: []string{"openid", "read"}, Subject: bob, SessionID: "device-session"},
			wantGone: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			require.NoError(t, env.store.SaveUser(&storage.User{SubjectID: "inactive", Username: "carol", IsActive: false}))

			poll := tt.poll
			if tt.stored != nil {
				poll = "dc-" + tt.name
				storeDeviceCode(t, env, poll, tt.stored)
			}
			clientID := tt.clientID
			if clientID == "" {
				clientID = testutil.DeviceClientID
			}

			result := newDeviceCodeValidator(env).Validate(context.Background(), deviceTokenRequest(t, env, clientID), poll)

			if tt.wantCode != "" {
				require.True(t, result.IsError())
				assert.Equal(t, tt.wantCode, result.Error.Code)
			} else {
				require.False(t, result.IsError(), "unexpected error: %v", result.Error)
				assert.Equal(t, testutil.BobSubjectID, result.Request.Subject.ID)
				assert.Equal(t, "device-session", result.Request.SessionID)
				assert.Equal(t, poll, result.Request.DeviceCodeHandle)
				assert.Equal(t, []string{"openid", "read"}, result.Request.DeviceCode.AuthorizedScopes)
			}

			if tt.stored != nil {
				_, err := env.store.FindByDeviceCode(context.Background(), poll)
				if tt.wantGone {
					assert.ErrorIs(t, err, storage.ErrDeviceCodeNotFound)
				} else {
					assert.NoError(t, err, "device code must survive a failed poll")
				}
			}
		})
	}
}

func TestDeviceCodeValidator_SlowDown(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	v := newDeviceCodeValidator(env)
	request := deviceTokenRequest(t, env, testutil.DeviceClientID)
	storeDeviceCode(t, env, "dc-slow", &storage.DeviceCode{RequestedScopes: []string{"openid"}})

	lastSeen := func() time.Time {
		t.Helper()
		seen, found, err := env.store.GetLastSeen(ctx, deviceThrottleKeyPrefix+"dc-slow")
		require.NoError(t, err)
		require.True(t, found)
		return seen
	}

	result := v.Validate(ctx, request, "dc-slow")
	require.True(t, result.IsError())
	assert.Equal(t, protocol.ErrorAuthorizationPending, result.Error.Code, "first poll is never throttled")
	previous := lastSeen()

	for i := 0; i < 2; i++ {
		env.clock.Advance(time.Second)

		result = v.Validate(ctx, request, "dc-slow")
		require.True(t, result.IsError())
		assert.Equal(t, protocol.ErrorSlowDown, result.Error.Code, "poll %d within the interval", i+1)

		seen := lastSeen()
		assert.True(t, seen.After(previous), "last seen must strictly increase")
		previous = seen
	}

	env.clock.Advance(testInterval)
	result = v.Validate(ctx, request, "dc-slow")
	require.True(t, result.IsError())
	assert.Equal(t, protocol.ErrorAuthorizationPending, result.Error.Code)
}

func TestDeviceCodeValidator_ConcurrentPolls(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	storeDeviceCode(t, env, "dc-race", &storage.DeviceCode{
		IsAuthorized:     true,
		AuthorizedScopes: []string{"openid"},
		Subject:          testutil.Bob(testNow),
	})

	// throttling would reject all but the first poll
	v := NewDeviceCodeValidator(env.store, noThrottle{}, &UserStoreProfileService{Users: env.store}, env.opts)
	request := deviceTokenRequest(t, env, testutil.DeviceClientID)

	const polls = 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < polls; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !v.Validate(ctx, request, "dc-race").IsError() {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes, "a device code is redeemed at most once")
}

type noThrottle struct{}

func (noThrottle) ShouldSlowDown(context.Context, string, *storage.DeviceCode) (bool, error) {
	return false, nil
}

func TestDeviceAuthorizationRequestValidator(t *testing.T) {
	env := newTestEnv(t)
	v := NewDeviceAuthorizationRequestValidator(testutil.ClientAuthenticator(env.store), env.resources, env.opts)

	tests := []struct {
		name       string
		clientID   string
		scope      string
		wantCode   string
		wantScopes []string
	}{
		{name: "explicit scopes", clientID: testutil.DeviceClientID, scope: "openid read", wantScopes: []string{"openid", "read"}},
		{name: "default scopes", clientID: testutil.DeviceClientID, wantScopes: []string{"openid", "profile", "read", "offline_access"}},
		{name: "unknown client", clientID: "nobody", scope: "openid", wantCode: protocol.ErrorInvalidClient},
		{name: "grant not allowed", clientID: testutil.ImplicitClientID, scope: "openid", wantCode: protocol.ErrorUnauthorizedClient},
		{name: "scope not allowed", clientID: testutil.DeviceClientID, scope: "write", wantCode: protocol.ErrorInvalidScope},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := url.Values{protocol.ParamClientID: {tt.clientID}}
			if tt.scope != "" {
				params.Set(protocol.ParamScope, tt.scope)
			}

			result := v.Validate(context.Background(), params, testutil.PostSource(tt.clientID, ""))
			if tt.wantCode != "" {
				require.True(t, result.IsError())
				assert.Equal(t, tt.wantCode, result.Error.Code)
				return
			}
			require.False(t, result.IsError(), "unexpected error: %v", result.Error)
			assert.Equal(t, tt.wantScopes, result.Request.RequestedScopes)
			assert.True(t, result.Request.IsOpenIDRequest)
		})
	}
}
