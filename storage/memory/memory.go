package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/oidc-core/instrumentation"
	"github.com/giantswarm/oidc-core/security"
	"github.com/giantswarm/oidc-core/storage"
)

const (
	// handleLogLength is the number of characters to include when logging handles
	handleLogLength = 8

	defaultCleanupInterval = time.Minute
)

type deviceEntry struct {
	userCode string
	data     *storage.DeviceCode
}

type throttleEntry struct {
	seen      time.Time
	expiresAt time.Time
}

// Store is an in-memory implementation of all storage interfaces.
type Store struct {
	mu sync.RWMutex

	clients           map[string]*storage.Client
	identityResources map[string]*storage.IdentityResource
	apiScopes         map[string]*storage.ApiScope
	apiResources      map[string]*storage.ApiResource

	codes           map[string]*storage.AuthorizationCode
	refreshTokens   map[string]*storage.RefreshToken
	referenceTokens map[string]*storage.ReferenceToken

	devices     map[string]*deviceEntry // device code -> entry
	deviceUsers map[string]string       // user code -> device code
	lastSeen    map[string]throttleEntry

	consents map[string]*storage.Consent // subject|client -> consent

	users          map[string]*storage.User // username -> user
	usersBySubject map[string]*storage.User

	// dummyHash is compared against for unknown usernames so lookups take constant time
	dummyHash []byte

	// Instrumentation
	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer

	// Atomic counters for metrics (lock-free access during metric collection)
	clientsCount         atomic.Int64
	grantsCount          atomic.Int64
	deviceCodesCount     atomic.Int64
	referenceTokensCount atomic.Int64
	consentsCount        atomic.Int64

	clock           security.Clock
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
	logger          *slog.Logger
}

// Compile-time interface checks to ensure Store implements all storage interfaces
var (
	_ storage.ClientStore            = (*Store)(nil)
	_ storage.ResourceStore          = (*Store)(nil)
	_ storage.AuthorizationCodeStore = (*Store)(nil)
	_ storage.RefreshTokenStore      = (*Store)(nil)
	_ storage.ReferenceTokenStore    = (*Store)(nil)
	_ storage.DeviceFlowStore        = (*Store)(nil)
	_ storage.ThrottleStore          = (*Store)(nil)
	_ storage.ConsentStore           = (*Store)(nil)
	_ storage.UserStore              = (*Store)(nil)
)

// New creates a new in-memory store with default cleanup interval (1 minute)
func New() *Store {
	return NewWithInterval(defaultCleanupInterval)
}

// NewWithInterval creates a new in-memory store with custom cleanup interval.
// If cleanupInterval is 0 or negative, uses default of 1 minute.
func NewWithInterval(cleanupInterval time.Duration) *Store {
	if cleanupInterval <= 0 {
		cleanupInterval = defaultCleanupInterval
	}

	s := &Store{
		clients:           make(map[string]*storage.Client),
		identityResources: make(map[string]*storage.IdentityResource),
		apiScopes:         make(map[string]*storage.ApiScope),
		apiResources:      make(map[string]*storage.ApiResource),
		codes:             make(map[string]*storage.AuthorizationCode),
		refreshTokens:     make(map[string]*storage.RefreshToken),
		referenceTokens:   make(map[string]*storage.ReferenceToken),
		devices:           make(map[string]*deviceEntry),
		deviceUsers:       make(map[string]string),
		lastSeen:          make(map[string]throttleEntry),
		consents:          make(map[string]*storage.Consent),
		users:             make(map[string]*storage.User),
		usersBySubject:    make(map[string]*storage.User),
		clock:             security.SystemClock,
		cleanupInterval:   cleanupInterval,
		stopCleanup:       make(chan struct{}),
		logger:            slog.Default(),
	}

	go s.cleanupLoop()

	return s
}

// SetLogger sets a custom logger
func (s *Store) SetLogger(logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if logger == nil {
		logger = slog.Default()
	}
	s.logger = logger
}

// SetClock replaces the time source used for expiry decisions
func (s *Store) SetClock(clock security.Clock) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = clock
}

// SetInstrumentation sets OpenTelemetry instrumentation for the store
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.mu.Lock()
	s.instrumentation = inst
	if inst != nil {
		s.tracer = inst.Tracer("storage")
	}
	s.refreshCounters()
	s.mu.Unlock()

	if inst == nil {
		return
	}

	err := inst.RegisterStorageSizeCallbacks(instrumentation.StorageSizeCallbacks{
		Clients:         s.clientsCount.Load,
		Grants:          s.grantsCount.Load,
		DeviceCodes:     s.deviceCodesCount.Load,
		ReferenceTokens: s.referenceTokensCount.Load,
		Consents:        s.consentsCount.Load,
	})
	if err != nil {
		s.logger.Warn("Failed to register storage size callbacks", "error", err)
	}
}

// refreshCounters must be called with mu held
func (s *Store) refreshCounters() {
	s.clientsCount.Store(int64(len(s.clients)))
	s.grantsCount.Store(int64(len(s.codes) + len(s.refreshTokens)))
	s.deviceCodesCount.Store(int64(len(s.devices)))
	s.referenceTokensCount.Store(int64(len(s.referenceTokens)))
	s.consentsCount.Store(int64(len(s.consents)))
}

// Stop gracefully stops the cleanup goroutine
func (s *Store) Stop() {
	s.stopOnce.Do(func() { close(s.stopCleanup) })
}

func (s *Store) now() time.Time {
	return s.clock()
}

// ============================================================
// Cleanup
// ============================================================

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

func (s *Store) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	expired := func(t time.Time) bool {
		return security.IsExpiredAt(t, now, security.DefaultClockSkewGracePeriod)
	}
	cleaned := 0

	for handle, code := range s.codes {
		if expired(code.ExpiresAt()) {
			delete(s.codes, handle)
			cleaned++
		}
	}

	for handle, token := range s.refreshTokens {
		if expired(token.ExpiresAt()) {
			delete(s.refreshTokens, handle)
			cleaned++
		}
	}

	for handle, token := range s.referenceTokens {
		if expired(token.ExpiresAt()) {
			delete(s.referenceTokens, handle)
			cleaned++
		}
	}

	for deviceCode, entry := range s.devices {
		if entry.data.IsExpired(now.Add(-security.DefaultClockSkewGracePeriod)) {
			delete(s.deviceUsers, entry.userCode)
			delete(s.devices, deviceCode)
			cleaned++
		}
	}

	for key, entry := range s.lastSeen {
		if now.After(entry.expiresAt) {
			delete(s.lastSeen, key)
			cleaned++
		}
	}

	for key, consent := range s.consents {
		if consent.Expiration != nil && expired(*consent.Expiration) {
			delete(s.consents, key)
			cleaned++
		}
	}

	s.refreshCounters()

	if cleaned > 0 {
		s.logger.Debug("Cleaned up expired entries", "count", cleaned)
	}
}

// ============================================================
// Instrumentation Helpers
// ============================================================

// startStorageSpan starts a new span for a storage operation
// Returns a context with the span attached and the span itself
func (s *Store) startStorageSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	return instrumentation.StartSpan(ctx, s.tracer, fmt.Sprintf("storage.%s", operation),
		attribute.String(instrumentation.AttrStorageOperation, operation),
		attribute.String(instrumentation.AttrStorageType, "memory"),
	)
}

// recordStorageOperation records metrics for a storage operation and sets span status
func (s *Store) recordStorageOperation(ctx context.Context, span trace.Span, operation string, err error, startTime time.Time) {
	if s.instrumentation == nil {
		return
	}

	result := "success"
	if err != nil && !storage.IsNotFound(err) {
		result = "error"
		instrumentation.RecordError(span, err)
	} else {
		if err != nil {
			result = "not_found"
		}
		instrumentation.SetSpanSuccess(span)
	}

	durationMs := float64(time.Since(startTime).Microseconds()) / 1000
	s.instrumentation.Metrics().RecordStorageOperation(ctx, operation, result, durationMs)
}
