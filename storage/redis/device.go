package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/giantswarm/oidc-core/security"
	"github.com/giantswarm/oidc-core/storage"
)

// deviceRecord is the stored form of a device authorization. The user code
// travels with the record so the index key can be removed on consumption.
type deviceRecord struct {
	UserCode string              `json:"user_code"`
	Data     *storage.DeviceCode `json:"data"`
}

// StoreDeviceAuthorization saves a new device authorization keyed by both codes
func (s *Store) StoreDeviceAuthorization(ctx context.Context, deviceCode, userCode string, data *storage.DeviceCode) error {
	if deviceCode == "" || userCode == "" || data == nil {
		return fmt.Errorf("invalid device authorization")
	}

	payload, err := s.encode(ctx, deviceRecord{UserCode: userCode, Data: data})
	if err != nil {
		return err
	}

	ttl := s.ttlUntil(data.CreationTime.Add(data.Lifetime).Add(security.DefaultClockSkewGracePeriod))

	ok, err := s.client.SetNX(ctx, s.userCodeKey(userCode), deviceCode, ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to store user code: %w", err)
	}
	if !ok {
		return storage.ErrDuplicateHandle
	}

	ok, err = s.client.SetNX(ctx, s.deviceKey(deviceCode), payload, ttl).Result()
	if err != nil || !ok {
		s.client.Del(ctx, s.userCodeKey(userCode))
		if err != nil {
			return fmt.Errorf("failed to store device code: %w", err)
		}
		return storage.ErrDuplicateHandle
	}

	s.logger.Debug("Stored device authorization",
		"device_code_prefix", truncate(deviceCode),
		"client_id", data.ClientID)
	return nil
}

// FindByUserCode looks up a device authorization by its user code
func (s *Store) FindByUserCode(ctx context.Context, userCode string) (*storage.DeviceCode, error) {
	deviceCode, err := s.client.Get(ctx, s.userCodeKey(userCode)).Result()
	if err != nil {
		if isNil(err) {
			return nil, storage.ErrDeviceCodeNotFound
		}
		return nil, fmt.Errorf("failed to get user code: %w", err)
	}
	return s.FindByDeviceCode(ctx, deviceCode)
}

// FindByDeviceCode looks up a device authorization by its device code
func (s *Store) FindByDeviceCode(ctx context.Context, deviceCode string) (*storage.DeviceCode, error) {
	data, err := s.client.Get(ctx, s.deviceKey(deviceCode)).Bytes()
	if err != nil {
		if isNil(err) {
			return nil, storage.ErrDeviceCodeNotFound
		}
		return nil, fmt.Errorf("failed to get device code: %w", err)
	}

	var record deviceRecord
	if err := s.decode(ctx, data, &record); err != nil {
		return nil, err
	}
	return record.Data, nil
}

// UpdateByUserCode replaces the record of an existing device authorization,
// keeping its expiry. It fails with ErrDeviceCodeNotFound if the record was
// consumed or expired in the meantime.
func (s *Store) UpdateByUserCode(ctx context.Context, userCode string, data *storage.DeviceCode) error {
	if data == nil {
		return fmt.Errorf("invalid device authorization")
	}

	deviceCode, err := s.client.Get(ctx, s.userCodeKey(userCode)).Result()
	if err != nil {
		if isNil(err) {
			return storage.ErrDeviceCodeNotFound
		}
		return fmt.Errorf("failed to get user code: %w", err)
	}

	payload, err := s.encode(ctx, deviceRecord{UserCode: userCode, Data: data})
	if err != nil {
		return err
	}

	res, err := s.client.SetArgs(ctx, s.deviceKey(deviceCode), payload, goredis.SetArgs{
		Mode:    "XX",
		KeepTTL: true,
	}).Result()
	if err != nil {
		if isNil(err) {
			return storage.ErrDeviceCodeNotFound
		}
		return fmt.Errorf("failed to update device code: %w", err)
	}
	if res != "OK" {
		return storage.ErrDeviceCodeNotFound
	}
	return nil
}

// RemoveByDeviceCode deletes a device authorization and its user code index
func (s *Store) RemoveByDeviceCode(ctx context.Context, deviceCode string) error {
	_, err := s.ConsumeByDeviceCode(ctx, deviceCode)
	if err != nil && !storage.IsNotFound(err) {
		return err
	}
	return nil
}

// ConsumeByDeviceCode atomically fetches and deletes a device authorization
// using GETDEL, so concurrent pollers observe the record at most once.
func (s *Store) ConsumeByDeviceCode(ctx context.Context, deviceCode string) (*storage.DeviceCode, error) {
	data, err := s.client.GetDel(ctx, s.deviceKey(deviceCode)).Bytes()
	if err != nil {
		if isNil(err) {
			return nil, storage.ErrDeviceCodeNotFound
		}
		return nil, fmt.Errorf("failed to consume device code: %w", err)
	}

	var record deviceRecord
	if err := s.decode(ctx, data, &record); err != nil {
		return nil, err
	}

	if err := s.client.Del(ctx, s.userCodeKey(record.UserCode)).Err(); err != nil {
		s.logger.Warn("Failed to remove user code index",
			"device_code_prefix", truncate(deviceCode),
			"error", err)
	}

	return record.Data, nil
}

// GetLastSeen returns the last poll time recorded under key
func (s *Store) GetLastSeen(ctx context.Context, key string) (time.Time, bool, error) {
	value, err := s.client.Get(ctx, s.throttleKey(key)).Result()
	if err != nil {
		if isNil(err) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("failed to get last seen: %w", err)
	}

	seen, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to parse last seen: %w", err)
	}
	return seen, true, nil
}

// SetLastSeen records the poll time under key. A non-positive ttl keeps the key forever.
func (s *Store) SetLastSeen(ctx context.Context, key string, seen time.Time, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := s.client.Set(ctx, s.throttleKey(key), seen.UTC().Format(time.RFC3339Nano), ttl).Err(); err != nil {
		return fmt.Errorf("failed to set last seen: %w", err)
	}
	return nil
}
