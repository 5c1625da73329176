package storage

import (
	"context"
	"time"
)

// Subject is the authenticated principal of a request or grant.
// A nil Subject or one with an empty ID is anonymous.
type Subject struct {
	ID               string
	SessionID        string
	IdentityProvider string
	AuthTime         time.Time
	AuthMethods      []string
	Claims           map[string]any
}

// IsAuthenticated reports whether the subject identifies a signed-in user
func (s *Subject) IsAuthenticated() bool {
	return s != nil && s.ID != ""
}

// Clone returns a deep copy so that in-memory mutations never leak into stored grants
func (s *Subject) Clone() *Subject {
	if s == nil {
		return nil
	}
	clone := *s
	clone.AuthMethods = append([]string(nil), s.AuthMethods...)
	if s.Claims != nil {
		clone.Claims = make(map[string]any, len(s.Claims))
		for k, v := range s.Claims {
			clone.Claims[k] = v
		}
	}
	return &clone
}

// AuthorizationCode is an issued authorization code
type AuthorizationCode struct {
	Code                string
	ClientID            string
	Subject             *Subject
	RedirectURI         string
	RequestedScopes     []string
	CodeChallenge       string
	CodeChallengeMethod string
	Nonce               string
	IsOpenID            bool
	WasConsentShown     bool
	CreationTime        time.Time
	Lifetime            time.Duration
}

// ExpiresAt returns the point in time the code stops being redeemable
func (c *AuthorizationCode) ExpiresAt() time.Time {
	return c.CreationTime.Add(c.Lifetime)
}

// RefreshToken is an issued refresh token handle
type RefreshToken struct {
	Handle       string
	ClientID     string
	Subject      *Subject
	Scopes       []string
	CreationTime time.Time
	Lifetime     time.Duration // zero means no absolute expiry
	ConsumedTime *time.Time
}

// ExpiresAt returns the absolute expiry, or the zero time for non-expiring tokens
func (t *RefreshToken) ExpiresAt() time.Time {
	if t.Lifetime == 0 {
		return time.Time{}
	}
	return t.CreationTime.Add(t.Lifetime)
}

// ReferenceToken is an access token persisted server side and presented as an opaque handle
type ReferenceToken struct {
	Handle       string
	ClientID     string
	SubjectID    string
	SessionID    string
	Issuer       string
	Audiences    []string
	Scopes       []string
	Claims       map[string]any
	CreationTime time.Time
	Lifetime     time.Duration
}

// ExpiresAt returns the point in time the token expires
func (t *ReferenceToken) ExpiresAt() time.Time {
	return t.CreationTime.Add(t.Lifetime)
}

// DeviceCode is a device authorization record. It is created unauthorized,
// mutated once by the user interaction, and consumed at most once by a poll.
type DeviceCode struct {
	ClientID         string
	Subject          *Subject
	SessionID        string
	IsAuthorized     bool
	AuthorizedScopes []string
	RequestedScopes  []string
	IsOpenID         bool
	CreationTime     time.Time
	Lifetime         time.Duration
}

// IsExpired reports whether creationTime + lifetime < now
func (d *DeviceCode) IsExpired(now time.Time) bool {
	return d.CreationTime.Add(d.Lifetime).Before(now)
}

// Consent is a remembered consent decision for a subject and client
type Consent struct {
	ID           string
	SubjectID    string
	ClientID     string
	Scopes       []string
	CreationTime time.Time
	Expiration   *time.Time
}

// AuthorizationCodeStore persists authorization codes.
// All methods accept context.Context for tracing and cancellation.
type AuthorizationCodeStore interface {
	// StoreAuthorizationCode persists a code under code.Code
	StoreAuthorizationCode(ctx context.Context, code *AuthorizationCode) error

	// GetAuthorizationCode retrieves a code without consuming it
	GetAuthorizationCode(ctx context.Context, handle string) (*AuthorizationCode, error)

	// ConsumeAuthorizationCode atomically retrieves and deletes a code.
	// SECURITY: two concurrent calls for the same handle must not both succeed.
	ConsumeAuthorizationCode(ctx context.Context, handle string) (*AuthorizationCode, error)
}

// RefreshTokenStore persists refresh tokens.
// All methods accept context.Context for tracing and cancellation.
type RefreshTokenStore interface {
	StoreRefreshToken(ctx context.Context, token *RefreshToken) error
	GetRefreshToken(ctx context.Context, handle string) (*RefreshToken, error)
	RemoveRefreshToken(ctx context.Context, handle string) error

	// RemoveRefreshTokens removes every refresh token of subjectID issued to clientID
	RemoveRefreshTokens(ctx context.Context, subjectID, clientID string) error
}

// ReferenceTokenStore persists reference access tokens.
// All methods accept context.Context for tracing and cancellation.
type ReferenceTokenStore interface {
	StoreReferenceToken(ctx context.Context, token *ReferenceToken) error
	GetReferenceToken(ctx context.Context, handle string) (*ReferenceToken, error)
	RemoveReferenceToken(ctx context.Context, handle string) error

	// RemoveReferenceTokens removes every reference token of subjectID issued to clientID
	RemoveReferenceTokens(ctx context.Context, subjectID, clientID string) error
}

// DeviceFlowStore persists device authorization records keyed by device code and user code.
// All methods accept context.Context for tracing and cancellation.
type DeviceFlowStore interface {
	StoreDeviceAuthorization(ctx context.Context, deviceCode, userCode string, data *DeviceCode) error
	FindByUserCode(ctx context.Context, userCode string) (*DeviceCode, error)
	FindByDeviceCode(ctx context.Context, deviceCode string) (*DeviceCode, error)
	UpdateByUserCode(ctx context.Context, userCode string, data *DeviceCode) error
	RemoveByDeviceCode(ctx context.Context, deviceCode string) error

	// ConsumeByDeviceCode atomically retrieves and deletes the record for deviceCode.
	// SECURITY: two concurrent polls for the same code must not both observe the record;
	// the loser receives ErrDeviceCodeNotFound.
	ConsumeByDeviceCode(ctx context.Context, deviceCode string) (*DeviceCode, error)
}

// ThrottleStore holds the last time a key was seen, for polling throttling.
// All methods accept context.Context for tracing and cancellation.
type ThrottleStore interface {
	// GetLastSeen returns the last-seen time for key and whether one was recorded
	GetLastSeen(ctx context.Context, key string) (time.Time, bool, error)

	// SetLastSeen records seen for key, retained for at least ttl
	SetLastSeen(ctx context.Context, key string, seen time.Time, ttl time.Duration) error
}

// ConsentStore persists remembered user consent.
// All methods accept context.Context for tracing and cancellation.
type ConsentStore interface {
	StoreUserConsent(ctx context.Context, consent *Consent) error
	GetUserConsent(ctx context.Context, subjectID, clientID string) (*Consent, error)
	RemoveUserConsent(ctx context.Context, subjectID, clientID string) error
}
