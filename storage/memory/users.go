package memory

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/giantswarm/oidc-core/storage"
)

// AddUser hashes password with bcrypt and stores an active user
func (s *Store) AddUser(subjectID, username, password string, claims map[string]any) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	return s.SaveUser(&storage.User{
		SubjectID:    subjectID,
		Username:     username,
		PasswordHash: string(hash),
		IsActive:     true,
		Claims:       claims,
	})
}

// SaveUser adds or replaces a user whose password is already hashed
func (s *Store) SaveUser(user *storage.User) error {
	if user == nil || user.SubjectID == "" || user.Username == "" {
		return fmt.Errorf("user requires subject id and username")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u := *user
	s.users[u.Username] = &u
	s.usersBySubject[u.SubjectID] = &u
	return nil
}

// SetUserActive toggles whether a user may still obtain tokens
func (s *Store) SetUserActive(subjectID string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.usersBySubject[subjectID]
	if !ok {
		return storage.ErrUserNotFound
	}
	u.IsActive = active
	return nil
}

// FindUserByUsername returns the user or storage.ErrUserNotFound
func (s *Store) FindUserByUsername(ctx context.Context, username string) (*storage.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[username]
	if !ok {
		return nil, storage.ErrUserNotFound
	}
	clone := *u
	return &clone, nil
}

// FindUserBySubjectID returns the user or storage.ErrUserNotFound
func (s *Store) FindUserBySubjectID(ctx context.Context, subjectID string) (*storage.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.usersBySubject[subjectID]
	if !ok {
		return nil, storage.ErrUserNotFound
	}
	clone := *u
	return &clone, nil
}

// ValidateCredentials checks a username and password with bcrypt.
//
// SECURITY: Unknown users are compared against a dummy hash so the response
// time does not reveal whether the username exists.
func (s *Store) ValidateCredentials(ctx context.Context, username, password string) (user *storage.User, err error) {
	ctx, span := s.startStorageSpan(ctx, "validate_credentials")
	defer span.End()

	startTime := time.Now()
	defer func() {
		s.recordStorageOperation(ctx, span, "validate_credentials", err, startTime)
	}()

	s.mu.RLock()
	u, ok := s.users[username]
	var hash []byte
	if ok {
		hash = []byte(u.PasswordHash)
	}
	s.mu.RUnlock()

	if !ok {
		hash = s.getDummyHash()
	}

	if bcrypt.CompareHashAndPassword(hash, []byte(password)) != nil || !ok {
		return nil, storage.ErrInvalidCredentials
	}

	clone := *u
	return &clone, nil
}

func (s *Store) getDummyHash() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dummyHash == nil {
		// Failure leaves dummyHash nil; CompareHashAndPassword then fails fast
		s.dummyHash, _ = bcrypt.GenerateFromPassword([]byte("dummy-password-for-timing"), bcrypt.DefaultCost)
	}
	return s.dummyHash
}
