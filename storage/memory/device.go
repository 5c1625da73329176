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
// DeviceFlowStore Implementation
// ============================================================

func cloneDeviceCode(d *storage.DeviceCode) *storage.DeviceCode {
	clone := *d
	clone.Subject = d.Subject.Clone()
	clone.AuthorizedScopes = slices.Clone(d.AuthorizedScopes)
	clone.RequestedScopes = slices.Clone(d.RequestedScopes)
	return &clone
}

// StoreDeviceAuthorization saves a new device authorization under both of its codes
func (s *Store) StoreDeviceAuthorization(ctx context.Context, deviceCode, userCode string, data *storage.DeviceCode) (err error) {
	ctx, span := s.startStorageSpan(ctx, "store_device_authorization")
	defer span.End()

	startTime := time.Now()
	defer func() {
		s.recordStorageOperation(ctx, span, "store_device_authorization", err, startTime)
	}()

	if deviceCode == "" || userCode == "" || data == nil {
		return fmt.Errorf("device code, user code and data are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.devices[deviceCode]; exists {
		return storage.ErrDuplicateHandle
	}
	if _, exists := s.deviceUsers[userCode]; exists {
		return storage.ErrDuplicateHandle
	}

	s.devices[deviceCode] = &deviceEntry{userCode: userCode, data: cloneDeviceCode(data)}
	s.deviceUsers[userCode] = deviceCode
	s.deviceCodesCount.Store(int64(len(s.devices)))

	s.logger.Debug("Saved device authorization",
		"device_code_prefix", util.SafeTruncate(deviceCode, handleLogLength),
		"client_id", data.ClientID)
	return nil
}

// FindByUserCode returns the device authorization for a user code
func (s *Store) FindByUserCode(ctx context.Context, userCode string) (*storage.DeviceCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	deviceCode, ok := s.deviceUsers[userCode]
	if !ok {
		return nil, storage.ErrDeviceCodeNotFound
	}
	return cloneDeviceCode(s.devices[deviceCode].data), nil
}

// FindByDeviceCode returns the device authorization for a device code
func (s *Store) FindByDeviceCode(ctx context.Context, deviceCode string) (*storage.DeviceCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.devices[deviceCode]
	if !ok {
		return nil, storage.ErrDeviceCodeNotFound
	}
	return cloneDeviceCode(entry.data), nil
}

// UpdateByUserCode replaces the device authorization for a user code.
// The interaction flow calls this once to record the user's decision.
func (s *Store) UpdateByUserCode(ctx context.Context, userCode string, data *storage.DeviceCode) (err error) {
	ctx, span := s.startStorageSpan(ctx, "update_device_authorization")
	defer span.End()

	startTime := time.Now()
	defer func() {
		s.recordStorageOperation(ctx, span, "update_device_authorization", err, startTime)
	}()

	if data == nil {
		return fmt.Errorf("device code data cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	deviceCode, ok := s.deviceUsers[userCode]
	if !ok {
		return storage.ErrDeviceCodeNotFound
	}
	s.devices[deviceCode].data = cloneDeviceCode(data)
	return nil
}

// RemoveByDeviceCode deletes a device authorization
func (s *Store) RemoveByDeviceCode(ctx context.Context, deviceCode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.devices[deviceCode]; ok {
		delete(s.deviceUsers, entry.userCode)
		delete(s.devices, deviceCode)
		s.deviceCodesCount.Store(int64(len(s.devices)))
	}
	return nil
}

// ConsumeByDeviceCode atomically retrieves and deletes a device authorization.
//
// SECURITY: Only ONE concurrent poll can receive the record; the others get
// storage.ErrDeviceCodeNotFound.
func (s *Store) ConsumeByDeviceCode(ctx context.Context, deviceCode string) (data *storage.DeviceCode, err error) {
	ctx, span := s.startStorageSpan(ctx, "consume_device_authorization")
	defer span.End()

	startTime := time.Now()
	defer func() {
		s.recordStorageOperation(ctx, span, "consume_device_authorization", err, startTime)
	}()

	s.mu.Lock() // MUST use write lock for atomic get-and-delete
	defer s.mu.Unlock()

	entry, ok := s.devices[deviceCode]
	if !ok {
		return nil, storage.ErrDeviceCodeNotFound
	}
	delete(s.deviceUsers, entry.userCode)
	delete(s.devices, deviceCode)
	s.deviceCodesCount.Store(int64(len(s.devices)))

	return cloneDeviceCode(entry.data), nil
}

// ============================================================
// ThrottleStore Implementation
// ============================================================

// GetLastSeen returns the last-seen time recorded for key
func (s *Store) GetLastSeen(ctx context.Context, key string) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.lastSeen[key]
	if !ok || s.now().After(entry.expiresAt) {
		return time.Time{}, false, nil
	}
	return entry.seen, true, nil
}

// SetLastSeen records seen for key, kept for ttl
func (s *Store) SetLastSeen(ctx context.Context, key string, seen time.Time, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastSeen[key] = throttleEntry{seen: seen, expiresAt: s.now().Add(ttl)}
	return nil
}
