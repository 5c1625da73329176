package validation

import (
	"context"
	"fmt"
	"time"

	"github.com/giantswarm/oidc-core/security"
	"github.com/giantswarm/oidc-core/storage"
)

const deviceThrottleKeyPrefix = "devicecode:"

// DeviceFlowThrottler decides whether a device code poll came too early
type DeviceFlowThrottler interface {
	ShouldSlowDown(ctx context.Context, deviceCode string, details *storage.DeviceCode) (bool, error)
}

// DistributedDeviceFlowThrottler tracks the last poll per device code in a
// ThrottleStore. Every poll refreshes the timestamp, including polls that
// are told to slow down, so a client hammering the endpoint keeps sliding
// its own window.
type DistributedDeviceFlowThrottler struct {
	store    storage.ThrottleStore
	interval time.Duration
	clock    security.Clock
}

// NewDistributedDeviceFlowThrottler creates a throttler enforcing interval between polls
func NewDistributedDeviceFlowThrottler(store storage.ThrottleStore, interval time.Duration, clock security.Clock) *DistributedDeviceFlowThrottler {
	if interval <= 0 {
		interval = DefaultDeviceFlowInterval
	}
	if clock == nil {
		clock = security.SystemClock
	}
	return &DistributedDeviceFlowThrottler{store: store, interval: interval, clock: clock}
}

// ShouldSlowDown implements DeviceFlowThrottler
func (t *DistributedDeviceFlowThrottler) ShouldSlowDown(ctx context.Context, deviceCode string, details *storage.DeviceCode) (bool, error) {
	key := deviceThrottleKeyPrefix + deviceCode
	now := t.clock()

	lastSeen, found, err := t.store.GetLastSeen(ctx, key)
	if err != nil {
		return false, fmt.Errorf("failed to read last poll: %w", err)
	}

	ttl := t.interval
	if details != nil {
		if remaining := details.CreationTime.Add(details.Lifetime).Sub(now); remaining > ttl {
			ttl = remaining
		}
	}

	if err := t.store.SetLastSeen(ctx, key, now, ttl); err != nil {
		return false, fmt.Errorf("failed to record poll: %w", err)
	}

	return found && now.Before(lastSeen.Add(t.interval)), nil
}
