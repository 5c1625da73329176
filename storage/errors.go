package storage

import "errors"

// Sentinel errors returned by store implementations. Callers match them with errors.Is.
var (
	// ErrClientNotFound indicates the client does not exist (or is not visible to the caller)
	ErrClientNotFound = errors.New("client not found")

	// ErrAuthorizationCodeNotFound indicates the authorization code does not exist or was consumed
	ErrAuthorizationCodeNotFound = errors.New("authorization code not found")

	// ErrRefreshTokenNotFound indicates the refresh token handle does not exist
	ErrRefreshTokenNotFound = errors.New("refresh token not found")

	// ErrReferenceTokenNotFound indicates the reference token handle does not exist
	ErrReferenceTokenNotFound = errors.New("reference token not found")

	// ErrDeviceCodeNotFound indicates the device code does not exist or was already consumed
	ErrDeviceCodeNotFound = errors.New("device code not found")

	// ErrConsentNotFound indicates no consent is remembered for the subject and client
	ErrConsentNotFound = errors.New("consent not found")

	// ErrUserNotFound indicates the user does not exist
	ErrUserNotFound = errors.New("user not found")
)

var (
	// ErrInvalidCredentials indicates a username/password pair did not match.
	// Stores return it for unknown users as well so usernames cannot be enumerated.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrDuplicateHandle indicates a handle (code, device code, user code) is already stored
	ErrDuplicateHandle = errors.New("handle already exists")
)
