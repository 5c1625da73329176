package oidc

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/giantswarm/oidc-core/protocol"
	"github.com/giantswarm/oidc-core/validation"
)

func TestNewErrorResponse(t *testing.T) {
	assert.Nil(t, NewErrorResponse(nil))
	assert.Equal(t,
		&ErrorResponse{Error: protocol.ErrorInvalidGrant, ErrorDescription: "code expired"},
		NewErrorResponse(protocol.NewError(protocol.ErrorInvalidGrant, "code expired")))
}

func TestNewIntrospectionResponse(t *testing.T) {
	tests := []struct {
		name    string
		request *validation.ValidatedIntrospectionRequest
		want    map[string]any
	}{
		{
			name:    "nil request",
			request: nil,
			want:    map[string]any{"active": false},
		},
		{
			name: "inactive token hides claims",
			request: &validation.ValidatedIntrospectionRequest{
				IsActive: false,
				Claims:   map[string]any{"sub": "bob"},
			},
			want: map[string]any{"active": false},
		},
		{
			name: "string scope kept",
			request: &validation.ValidatedIntrospectionRequest{
				IsActive: true,
				Claims:   map[string]any{"sub": "bob", "scope": "openid read"},
			},
			want: map[string]any{"active": true, "sub": "bob", "scope": "openid read"},
		},
		{
			name: "list scope joined",
			request: &validation.ValidatedIntrospectionRequest{
				IsActive: true,
				Claims:   map[string]any{"client_id": "c", "scope": []any{"openid", "read"}},
			},
			want: map[string]any{"active": true, "client_id": "c", "scope": "openid read"},
		},
		{
			name: "string slice scope joined",
			request: &validation.ValidatedIntrospectionRequest{
				IsActive: true,
				Claims:   map[string]any{"scope": []string{"read", "write"}},
			},
			want: map[string]any{"active": true, "scope": "read write"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NewIntrospectionResponse(tt.request))
		})
	}
}

func TestNewIntrospectionResponse_DoesNotMutateClaims(t *testing.T) {
	claims := map[string]any{"scope": []any{"read"}}
	NewIntrospectionResponse(&validation.ValidatedIntrospectionRequest{IsActive: true, Claims: claims})
	assert.Equal(t, []any{"read"}, claims["scope"])
}
