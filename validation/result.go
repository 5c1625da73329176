package validation

import "github.com/giantswarm/oidc-core/protocol"

// Result is the outcome of a validator. Exactly one of Request and Error is set.
type Result[T any] struct {
	Request *T
	Error   *protocol.Error
}

// IsError reports whether validation failed
func (r Result[T]) IsError() bool {
	return r.Error != nil
}

// Valid wraps a successfully validated request
func Valid[T any](request T) Result[T] {
	return Result[T]{Request: &request}
}

// Invalid creates a failed result
func Invalid[T any](code, description string) Result[T] {
	return Result[T]{Error: protocol.NewError(code, description)}
}

// Fail wraps an existing protocol error
func Fail[T any](err *protocol.Error) Result[T] {
	return Result[T]{Error: err}
}
