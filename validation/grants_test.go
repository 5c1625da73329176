package validation

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/oidc-core/protocol"
	"github.com/giantswarm/oidc-core/storage"
)

type fakeGrant struct {
	grantType string
	validate  func(ctx context.Context, request *ValidatedTokenRequest) (GrantValidationResult, error)
}

func (g *fakeGrant) GrantType() string { return g.grantType }

func (g *fakeGrant) Validate(ctx context.Context, request *ValidatedTokenRequest) (GrantValidationResult, error) {
	return g.validate(ctx, request)
}

func TestNewGrantRegistry(t *testing.T) {
	ok := func(context.Context, *ValidatedTokenRequest) (GrantValidationResult, error) {
		return GrantSuccess(nil), nil
	}

	tests := []struct {
		name    string
		grants  []ExtensionGrantValidator
		wantErr bool
	}{
		{name: "empty"},
		{name: "single", grants: []ExtensionGrantValidator{&fakeGrant{grantType: "delegation", validate: ok}}},
		{name: "empty grant type", grants: []ExtensionGrantValidator{&fakeGrant{validate: ok}}, wantErr: true},
		{name: "built in", grants: []ExtensionGrantValidator{&fakeGrant{grantType: protocol.GrantTypePassword, validate: ok}}, wantErr: true},
		{
			name: "duplicate",
			grants: []ExtensionGrantValidator{
				&fakeGrant{grantType: "delegation", validate: ok},
				&fakeGrant{grantType: "delegation", validate: ok},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewGrantRegistry(discardLogger(), tt.grants...)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewGrantRegistry() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestGrantRegistry_Validate(t *testing.T) {
	subject := &storage.Subject{ID: "bob"}

	registry, err := NewGrantRegistry(discardLogger(),
		&fakeGrant{grantType: "ok", validate: func(context.Context, *ValidatedTokenRequest) (GrantValidationResult, error) {
			return GrantSuccess(subject), nil
		}},
		&fakeGrant{grantType: "reject", validate: func(context.Context, *ValidatedTokenRequest) (GrantValidationResult, error) {
			return GrantFailure(protocol.ErrorInvalidRequest, "nope"), nil
		}},
		&fakeGrant{grantType: "fails", validate: func(context.Context, *ValidatedTokenRequest) (GrantValidationResult, error) {
			return GrantValidationResult{}, errors.New("backend down")
		}},
		&fakeGrant{grantType: "panics", validate: func(context.Context, *ValidatedTokenRequest) (GrantValidationResult, error) {
			panic("boom")
		}},
	)
	require.NoError(t, err)

	tests := []struct {
		grantType string
		wantCode  string
	}{
		{grantType: "ok"},
		{grantType: "reject", wantCode: protocol.ErrorInvalidRequest},
		{grantType: "fails", wantCode: protocol.ErrorInvalidGrant},
		{grantType: "panics", wantCode: protocol.ErrorInvalidGrant},
		{grantType: "unknown", wantCode: protocol.ErrorUnsupportedGrantType},
	}

	for _, tt := range tests {
		t.Run(tt.grantType, func(t *testing.T) {
			result := registry.Validate(context.Background(), &ValidatedTokenRequest{GrantType: tt.grantType})
			if tt.wantCode == "" {
				require.False(t, result.IsError())
				assert.Equal(t, subject, result.Subject)
				return
			}
			require.True(t, result.IsError())
			assert.Equal(t, tt.wantCode, result.Error.Code)
		})
	}

	assert.True(t, registry.IsSupported(protocol.GrantTypeDeviceCode))
	assert.True(t, registry.IsSupported("panics"))
	assert.False(t, registry.IsSupported("unknown"))
	assert.Equal(t, []string{"fails", "ok", "panics", "reject"}, registry.SupportedGrantTypes()[len(builtInGrantTypes):])

	var nilRegistry *GrantRegistry
	assert.False(t, nilRegistry.Has("ok"))
	assert.Equal(t, protocol.ErrorUnsupportedGrantType, nilRegistry.Validate(context.Background(), &ValidatedTokenRequest{GrantType: "ok"}).Error.Code)
}
