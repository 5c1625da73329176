package oidc

import (
	"fmt"
	"net/http"

	"github.com/giantswarm/oidc-core/protocol"
)

// OAuthError is a protocol error together with the HTTP status a host
// should answer with
type OAuthError struct {
	Code        string // OAuth error code (e.g., "invalid_request", "invalid_grant")
	Description string // Human-readable error description
	Status      int    // HTTP status code
}

// Error implements the error interface
func (e *OAuthError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// NewOAuthError creates a new OAuth error
func NewOAuthError(code, description string, status int) *OAuthError {
	return &OAuthError{
		Code:        code,
		Description: description,
		Status:      status,
	}
}

// FromProtocolError maps a validation error to its HTTP status. A nil error
// yields nil.
func FromProtocolError(perr *protocol.Error) *OAuthError {
	if perr == nil {
		return nil
	}
	return NewOAuthError(perr.Code, perr.Description, StatusForCode(perr.Code))
}

// StatusForCode returns the HTTP status for an error code. Token endpoint
// errors use 400 (RFC 6749 section 5.2), client authentication failures 401,
// bearer token errors 401 and 403 (RFC 6750 section 3.1).
func StatusForCode(code string) int {
	switch code {
	case protocol.ErrorInvalidClient, protocol.ErrorInvalidToken:
		return http.StatusUnauthorized
	case protocol.ErrorInsufficientScope:
		return http.StatusForbidden
	case protocol.ErrorServerError:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

// Common OAuth errors as reusable constructors
var (
	// ErrInvalidRequest indicates the request is malformed or missing required parameters
	ErrInvalidRequest = func(desc string) *OAuthError {
		return NewOAuthError(protocol.ErrorInvalidRequest, desc, http.StatusBadRequest)
	}

	// ErrInvalidClient indicates client authentication failed
	ErrInvalidClient = func(desc string) *OAuthError {
		return NewOAuthError(protocol.ErrorInvalidClient, desc, http.StatusUnauthorized)
	}

	// ErrInvalidToken indicates the access token is invalid or expired
	ErrInvalidToken = func(desc string) *OAuthError {
		return NewOAuthError(protocol.ErrorInvalidToken, desc, http.StatusUnauthorized)
	}

	// ErrServerError indicates an internal server error occurred
	ErrServerError = func(desc string) *OAuthError {
		return NewOAuthError(protocol.ErrorServerError, desc, http.StatusInternalServerError)
	}
)
