package protocol

import "fmt"

// Error is a protocol-level validation failure. It is a value returned in a
// validation result, never raised: Code is one of the standard OAuth/OIDC
// error codes and Description is safe to show to the caller.
type Error struct {
	Code        string
	Description string
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// NewError creates a new protocol error
func NewError(code, description string) *Error {
	return &Error{Code: code, Description: description}
}

// Is reports whether target is a protocol error with the same code.
// This lets callers use errors.Is(err, protocol.NewError(protocol.ErrorInvalidGrant, "")).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}
