package redis

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/giantswarm/oidc-core/internal/util"
	"github.com/giantswarm/oidc-core/security"
	"github.com/giantswarm/oidc-core/storage"
)

const (
	// DefaultKeyPrefix is the default prefix for all Redis keys
	DefaultKeyPrefix = "oidc:"

	// handleLogLength is the number of characters to include when logging handles
	handleLogLength = 8

	// connectionVerifyTimeout is the timeout for initial connection verification
	connectionVerifyTimeout = 5 * time.Second

	// MaxRecordSize is the maximum size of a serialized record (64KB)
	MaxRecordSize = 64 * 1024
)

var errRecordTooLarge = errors.New("record exceeds maximum allowed size")

// Config holds configuration for the Redis storage backend.
type Config struct {
	// Address is the Redis server address (required), e.g., "localhost:6379"
	Address string

	// Password is the optional password for Redis authentication
	Password string

	// DB is the optional database number (default 0)
	DB int

	// KeyPrefix is the prefix for all keys (default "oidc:")
	KeyPrefix string

	// TLS is the optional TLS configuration for encrypted connections
	TLS *tls.Config

	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger
}

// Store is a Redis-backed implementation of DeviceFlowStore, ThrottleStore
// and ConsentStore.
type Store struct {
	client *goredis.Client
	prefix string
	logger *slog.Logger

	// encryptor provides optional encryption at rest
	encryptor   *security.Encryptor
	encryptorMu sync.RWMutex

	clock security.Clock
}

var (
	_ storage.DeviceFlowStore = (*Store)(nil)
	_ storage.ThrottleStore   = (*Store)(nil)
	_ storage.ConsentStore    = (*Store)(nil)
)

// New creates a new Redis-backed storage instance.
// Returns an error if the connection cannot be established.
func New(cfg Config) (*Store, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:      cfg.Address,
		Password:  cfg.Password,
		DB:        cfg.DB,
		TLSConfig: cfg.TLS,
	})

	ctx, cancel := context.WithTimeout(context.Background(), connectionVerifyTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	store := NewWithClient(client, cfg.KeyPrefix, cfg.Logger)
	store.logger.Info("Connected to Redis storage",
		"address", cfg.Address,
		"db", cfg.DB,
		"prefix", store.prefix)

	return store, nil
}

// NewWithClient wraps an existing client. The connection is not verified.
func NewWithClient(client *goredis.Client, prefix string, logger *slog.Logger) *Store {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		client: client,
		prefix: prefix,
		logger: logger,
		clock:  security.SystemClock,
	}
}

// Close closes the Redis client connection.
func (s *Store) Close() {
	if err := s.client.Close(); err != nil {
		s.logger.Warn("Failed to close Redis connection", "error", err)
		return
	}
	s.logger.Info("Redis storage connection closed")
}

// SetLogger sets a custom logger for the store.
func (s *Store) SetLogger(logger *slog.Logger) {
	s.logger = logger
}

// SetClock replaces the time source used to compute key expirations
func (s *Store) SetClock(clock security.Clock) {
	s.clock = clock
}

// SetEncryptor sets the encryptor used for records at rest.
func (s *Store) SetEncryptor(enc *security.Encryptor) {
	s.encryptorMu.Lock()
	defer s.encryptorMu.Unlock()
	s.encryptor = enc
	if enc.IsEnabled() {
		s.logger.Info("Encryption at rest enabled for Redis storage")
	}
}

func (s *Store) getEncryptor() *security.Encryptor {
	s.encryptorMu.RLock()
	defer s.encryptorMu.RUnlock()
	return s.encryptor
}

func (s *Store) deviceKey(deviceCode string) string {
	return s.prefix + "device:" + deviceCode
}

func (s *Store) userCodeKey(userCode string) string {
	return s.prefix + "usercode:" + userCode
}

func (s *Store) throttleKey(key string) string {
	return s.prefix + "throttle:" + key
}

func (s *Store) consentKey(subjectID, clientID string) string {
	return s.prefix + "consent:" + subjectID + ":" + clientID
}

// encode marshals v as JSON and seals it with the configured encryptor
func (s *Store) encode(ctx context.Context, v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record: %w", err)
	}
	if len(data) > MaxRecordSize {
		return nil, errRecordTooLarge
	}
	sealed, err := s.getEncryptor().Seal(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt record: %w", err)
	}
	return sealed, nil
}

func (s *Store) decode(ctx context.Context, data []byte, v any) error {
	if len(data) > MaxRecordSize+64 {
		return errRecordTooLarge
	}
	plain, err := s.getEncryptor().Open(ctx, data)
	if err != nil {
		return fmt.Errorf("failed to decrypt record: %w", err)
	}
	if err := json.Unmarshal(plain, v); err != nil {
		return fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return nil
}

// ttlUntil returns the remaining lifetime up to expiresAt, never less than one second
func (s *Store) ttlUntil(expiresAt time.Time) time.Duration {
	ttl := expiresAt.Sub(s.clock())
	if ttl < time.Second {
		ttl = time.Second
	}
	return ttl
}

func truncate(handle string) string {
	return util.SafeTruncate(handle, handleLogLength)
}

func isNil(err error) bool {
	return errors.Is(err, goredis.Nil)
}
