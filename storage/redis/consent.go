package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/giantswarm/oidc-core/storage"
)

// StoreUserConsent saves a remembered consent. Consents with an expiration
// are stored with a matching key TTL.
func (s *Store) StoreUserConsent(ctx context.Context, consent *storage.Consent) error {
	if consent == nil || consent.SubjectID == "" || consent.ClientID == "" {
		return fmt.Errorf("invalid consent")
	}

	payload, err := s.encode(ctx, consent)
	if err != nil {
		return err
	}

	var ttl time.Duration
	if consent.Expiration != nil {
		ttl = s.ttlUntil(*consent.Expiration)
	}

	if err := s.client.Set(ctx, s.consentKey(consent.SubjectID, consent.ClientID), payload, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store consent: %w", err)
	}
	return nil
}

// GetUserConsent returns the remembered consent of subjectID for clientID
func (s *Store) GetUserConsent(ctx context.Context, subjectID, clientID string) (*storage.Consent, error) {
	data, err := s.client.Get(ctx, s.consentKey(subjectID, clientID)).Bytes()
	if err != nil {
		if isNil(err) {
			return nil, storage.ErrConsentNotFound
		}
		return nil, fmt.Errorf("failed to get consent: %w", err)
	}

	var consent storage.Consent
	if err := s.decode(ctx, data, &consent); err != nil {
		return nil, err
	}
	return &consent, nil
}

// RemoveUserConsent deletes a remembered consent
func (s *Store) RemoveUserConsent(ctx context.Context, subjectID, clientID string) error {
	if err := s.client.Del(ctx, s.consentKey(subjectID, clientID)).Err(); err != nil {
		return fmt.Errorf("failed to remove consent: %w", err)
	}
	return nil
}
