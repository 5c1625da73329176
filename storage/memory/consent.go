package memory

import (
	"context"
	"fmt"
	"slices"

	"github.com/giantswarm/oidc-core/storage"
)

func consentKey(subjectID, clientID string) string {
	return subjectID + "|" + clientID
}

// StoreUserConsent adds or replaces the consent of a subject for a client
func (s *Store) StoreUserConsent(ctx context.Context, consent *storage.Consent) error {
	if consent == nil || consent.SubjectID == "" || consent.ClientID == "" {
		return fmt.Errorf("consent requires subject and client")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *consent
	clone.Scopes = slices.Clone(consent.Scopes)
	s.consents[consentKey(consent.SubjectID, consent.ClientID)] = &clone
	s.consentsCount.Store(int64(len(s.consents)))
	return nil
}

// GetUserConsent returns the remembered consent or storage.ErrConsentNotFound
func (s *Store) GetUserConsent(ctx context.Context, subjectID, clientID string) (*storage.Consent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	consent, ok := s.consents[consentKey(subjectID, clientID)]
	if !ok {
		return nil, storage.ErrConsentNotFound
	}
	clone := *consent
	clone.Scopes = slices.Clone(consent.Scopes)
	return &clone, nil
}

// RemoveUserConsent deletes the remembered consent
func (s *Store) RemoveUserConsent(ctx context.Context, subjectID, clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.consents, consentKey(subjectID, clientID))
	s.consentsCount.Store(int64(len(s.consents)))
	return nil
}
