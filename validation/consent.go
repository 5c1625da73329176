package validation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/giantswarm/oidc-core/internal/util"
	"github.com/giantswarm/oidc-core/protocol"
	"github.com/giantswarm/oidc-core/security"
	"github.com/giantswarm/oidc-core/storage"
)

// ConsentResponse is the user's answer on the consent screen
type ConsentResponse struct {
	// Granted is false when the user denied the request
	Granted bool

	// ScopesValuesConsented is the subset of requested scopes the user selected
	ScopesValuesConsented []string

	// RememberConsent asks for the decision to be persisted
	RememberConsent bool

	Description string
}

// ConsentService decides whether consent must be shown and remembers decisions
type ConsentService interface {
	// RequiresConsent reports whether subject has to consent to scopes for client
	RequiresConsent(ctx context.Context, subject *storage.Subject, client *storage.Client, scopes []string) (bool, error)

	// UpdateConsent remembers scopes as consented. Empty scopes forget any prior decision.
	UpdateConsent(ctx context.Context, subject *storage.Subject, client *storage.Client, scopes []string) error
}

// DefaultConsentService remembers consent in a ConsentStore
type DefaultConsentService struct {
	Store   storage.ConsentStore
	Clock   security.Clock
	Logger  *slog.Logger
	Auditor *security.Auditor
}

// NewConsentService creates a consent service backed by store
func NewConsentService(store storage.ConsentStore, logger *slog.Logger) *DefaultConsentService {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultConsentService{Store: store, Clock: security.SystemClock, Logger: logger}
}

func (s *DefaultConsentService) now() time.Time {
	if s.Clock == nil {
		return time.Now()
	}
	return s.Clock()
}

func (s *DefaultConsentService) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

// RequiresConsent implements ConsentService
func (s *DefaultConsentService) RequiresConsent(ctx context.Context, subject *storage.Subject, client *storage.Client, scopes []string) (bool, error) {
	if !client.RequireConsent || len(scopes) == 0 {
		return false, nil
	}
	if !client.AllowRememberConsent {
		return true, nil
	}
	// Offline access is always confirmed explicitly
	if slices.Contains(scopes, protocol.ScopeOfflineAccess) {
		return true, nil
	}
	if !subject.IsAuthenticated() {
		return true, nil
	}

	consent, err := s.Store.GetUserConsent(ctx, subject.ID, client.ClientID)
	if err != nil {
		if errors.Is(err, storage.ErrConsentNotFound) {
			return true, nil
		}
		return false, fmt.Errorf("failed to load consent: %w", err)
	}

	if consent.Expiration != nil && !s.now().Before(*consent.Expiration) {
		s.logger().DebugContext(ctx, "Remembered consent expired", "client_id", client.ClientID)
		if err := s.Store.RemoveUserConsent(ctx, subject.ID, client.ClientID); err != nil {
			return false, fmt.Errorf("failed to remove expired consent: %w", err)
		}
		return true, nil
	}

	return !util.ContainsAll(consent.Scopes, scopes), nil
}

// UpdateConsent implements ConsentService
func (s *DefaultConsentService) UpdateConsent(ctx context.Context, subject *storage.Subject, client *storage.Client, scopes []string) error {
	if !client.AllowRememberConsent || !subject.IsAuthenticated() {
		return nil
	}

	if len(scopes) == 0 {
		if err := s.Store.RemoveUserConsent(ctx, subject.ID, client.ClientID); err != nil {
			return fmt.Errorf("failed to remove consent: %w", err)
		}
		return nil
	}

	now := s.now()
	consent := &storage.Consent{
		ID:           ulid.Make().String(),
		SubjectID:    subject.ID,
		ClientID:     client.ClientID,
		Scopes:       util.Distinct(scopes),
		CreationTime: now,
	}
	if client.ConsentLifetime > 0 {
		expiration := now.Add(client.ConsentLifetime)
		consent.Expiration = &expiration
	}

	if err := s.Store.StoreUserConsent(ctx, consent); err != nil {
		return fmt.Errorf("failed to store consent: %w", err)
	}
	s.Auditor.LogConsentGranted(ctx, subject.ID, client.ClientID, consent.Scopes)
	return nil
}
