package storage

import "context"

// User is a local account used by the resource owner password grant and the profile service
type User struct {
	SubjectID    string
	Username     string
	PasswordHash string // bcrypt hash
	IsActive     bool
	Claims       map[string]any
}

// UserStore retrieves local users.
// All methods accept context.Context for tracing and cancellation.
type UserStore interface {
	FindUserByUsername(ctx context.Context, username string) (*User, error)
	FindUserBySubjectID(ctx context.Context, subjectID string) (*User, error)

	// ValidateCredentials returns the user when username and password match.
	// SECURITY: implementations must not reveal whether the username exists.
	ValidateCredentials(ctx context.Context, username, password string) (*User, error)
}
