package memory

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/giantswarm/oidc-core/internal/util"
	"github.com/giantswarm/oidc-core/storage"
)

// ============================================================
// AuthorizationCodeStore Implementation
// ============================================================

func cloneCode(c *storage.AuthorizationCode) *storage.AuthorizationCode {
	clone := *c
	clone.Subject = c.Subject.Clone()
	clone.RequestedScopes = slices.Clone(c.RequestedScopes)
	return &clone
}

// StoreAuthorizationCode saves an issued authorization code
func (s *Store) StoreAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) (err error) {
	ctx, span := s.startStorageSpan(ctx, "store_authorization_code")
	defer span.End()

	startTime := time.Now()
	defer func() {
		s.recordStorageOperation(ctx, span, "store_authorization_code", err, startTime)
	}()

	if code == nil || code.Code == "" {
		return fmt.Errorf("invalid authorization code")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.codes[code.Code]; exists {
		return storage.ErrDuplicateHandle
	}
	s.codes[code.Code] = cloneCode(code)
	s.grantsCount.Add(1)

	s.logger.Debug("Saved authorization code", "code_prefix", util.SafeTruncate(code.Code, handleLogLength))
	return nil
}

// GetAuthorizationCode retrieves an authorization code without consuming it.
// Expiry is decided by the caller.
func (s *Store) GetAuthorizationCode(ctx context.Context, handle string) (*storage.AuthorizationCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	code, ok := s.codes[handle]
	if !ok {
		return nil, storage.ErrAuthorizationCodeNotFound
	}
	return cloneCode(code), nil
}

// ConsumeAuthorizationCode atomically retrieves and deletes an authorization code.
//
// SECURITY: Only ONE concurrent caller can receive the code. All others
// receive storage.ErrAuthorizationCodeNotFound.
func (s *Store) ConsumeAuthorizationCode(ctx context.Context, handle string) (code *storage.AuthorizationCode, err error) {
	ctx, span := s.startStorageSpan(ctx, "consume_authorization_code")
	defer span.End()

	startTime := time.Now()
	defer func() {
		s.recordStorageOperation(ctx, span, "consume_authorization_code", err, startTime)
	}()

	s.mu.Lock() // MUST use write lock for atomic get-and-delete
	defer s.mu.Unlock()

	stored, ok := s.codes[handle]
	if !ok {
		return nil, storage.ErrAuthorizationCodeNotFound
	}
	delete(s.codes, handle)
	s.grantsCount.Add(-1)

	s.logger.Debug("Consumed authorization code", "code_prefix", util.SafeTruncate(handle, handleLogLength))
	return stored, nil
}

// ============================================================
// RefreshTokenStore Implementation
// ============================================================

// StoreRefreshToken saves a refresh token
func (s *Store) StoreRefreshToken(ctx context.Context, token *storage.RefreshToken) error {
	if token == nil || token.Handle == "" {
		return fmt.Errorf("invalid refresh token")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.refreshTokens[token.Handle]; !exists {
		s.grantsCount.Add(1)
	}
	clone := *token
	clone.Subject = token.Subject.Clone()
	clone.Scopes = slices.Clone(token.Scopes)
	s.refreshTokens[token.Handle] = &clone
	return nil
}

// GetRefreshToken retrieves a refresh token
func (s *Store) GetRefreshToken(ctx context.Context, handle string) (token *storage.RefreshToken, err error) {
	ctx, span := s.startStorageSpan(ctx, "get_refresh_token")
	defer span.End()

	startTime := time.Now()
	defer func() {
		s.recordStorageOperation(ctx, span, "get_refresh_token", err, startTime)
	}()

	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, ok := s.refreshTokens[handle]
	if !ok {
		return nil, storage.ErrRefreshTokenNotFound
	}
	clone := *stored
	clone.Subject = stored.Subject.Clone()
	clone.Scopes = slices.Clone(stored.Scopes)
	return &clone, nil
}

// RemoveRefreshToken deletes a refresh token. Removing an unknown handle is not an error.
func (s *Store) RemoveRefreshToken(ctx context.Context, handle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.refreshTokens[handle]; ok {
		delete(s.refreshTokens, handle)
		s.grantsCount.Add(-1)
	}
	return nil
}

// RemoveRefreshTokens deletes every refresh token of subjectID issued to clientID
func (s *Store) RemoveRefreshTokens(ctx context.Context, subjectID, clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for handle, token := range s.refreshTokens {
		if token.ClientID == clientID && token.Subject != nil && token.Subject.ID == subjectID {
			delete(s.refreshTokens, handle)
			removed++
		}
	}
	s.grantsCount.Add(-int64(removed))

	s.logger.Debug("Removed refresh tokens", "client_id", clientID, "count", removed)
	return nil
}

// ============================================================
// ReferenceTokenStore Implementation
// ============================================================

// StoreReferenceToken saves a reference access token
func (s *Store) StoreReferenceToken(ctx context.Context, token *storage.ReferenceToken) error {
	if token == nil || token.Handle == "" {
		return fmt.Errorf("invalid reference token")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *token
	clone.Scopes = slices.Clone(token.Scopes)
	clone.Audiences = slices.Clone(token.Audiences)
	s.referenceTokens[token.Handle] = &clone
	s.referenceTokensCount.Store(int64(len(s.referenceTokens)))
	return nil
}

// GetReferenceToken retrieves a reference access token
func (s *Store) GetReferenceToken(ctx context.Context, handle string) (token *storage.ReferenceToken, err error) {
	ctx, span := s.startStorageSpan(ctx, "get_reference_token")
	defer span.End()

	startTime := time.Now()
	defer func() {
		s.recordStorageOperation(ctx, span, "get_reference_token", err, startTime)
	}()

	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, ok := s.referenceTokens[handle]
	if !ok {
		return nil, storage.ErrReferenceTokenNotFound
	}
	clone := *stored
	return &clone, nil
}

// RemoveReferenceToken deletes a reference token. Removing an unknown handle is not an error.
func (s *Store) RemoveReferenceToken(ctx context.Context, handle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.referenceTokens, handle)
	s.referenceTokensCount.Store(int64(len(s.referenceTokens)))
	return nil
}

// RemoveReferenceTokens deletes every reference token of subjectID issued to clientID
func (s *Store) RemoveReferenceTokens(ctx context.Context, subjectID, clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for handle, token := range s.referenceTokens {
		if token.ClientID == clientID && token.SubjectID == subjectID {
			delete(s.referenceTokens, handle)
		}
	}
	s.referenceTokensCount.Store(int64(len(s.referenceTokens)))
	return nil
}
