package security

import "time"

const (
	// DefaultClockSkewGracePeriod is the default tolerance applied to expiry checks
	// to absorb time synchronization differences between issuer and validator.
	DefaultClockSkewGracePeriod = 5 * time.Second
)

// Clock returns the current time. Validators take one so tests can pin time.
type Clock func() time.Time

// SystemClock is the wall clock
func SystemClock() time.Time { return time.Now() }

// IsTokenExpired checks if a token is expired with default clock skew grace period
func IsTokenExpired(expiresAt time.Time) bool {
	return IsExpiredAt(expiresAt, time.Now(), DefaultClockSkewGracePeriod)
}

// IsExpiredAt reports whether expiresAt lies more than gracePeriod before now.
// A zero expiresAt never expires.
func IsExpiredAt(expiresAt, now time.Time, gracePeriod time.Duration) bool {
	if expiresAt.IsZero() {
		return false
	}
	return now.After(expiresAt.Add(gracePeriod))
}

// IsNotYetValid reports whether notBefore lies more than gracePeriod after now
func IsNotYetValid(notBefore, now time.Time, gracePeriod time.Duration) bool {
	if notBefore.IsZero() {
		return false
	}
	return now.Add(gracePeriod).Before(notBefore)
}
