package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/giantswarm/oidc-core/instrumentation"
	"github.com/giantswarm/oidc-core/storage"
)

const (
	testClientID  = "test-client"
	testSubjectID = "818727"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store := New()
	t.Cleanup(store.Stop)
	return store
}

// ============================================================
// ClientStore Tests
// ============================================================

func TestStore_FindClientByID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.SaveClient(&storage.Client{ClientID: testClientID, Enabled: true}); err != nil {
		t.Fatalf("SaveClient() error = %v", err)
	}

	got, err := store.FindClientByID(ctx, testClientID)
	if err != nil {
		t.Fatalf("FindClientByID() error = %v", err)
	}
	if got.CreatedAt.IsZero() {
		t.Error("CreatedAt should be set on save")
	}

	// Mutating the copy must not affect the store
	got.Enabled = false
	again, _ := store.FindClientByID(ctx, testClientID)
	if !again.Enabled {
		t.Error("FindClientByID() returned a shared pointer")
	}

	if _, err := store.FindClientByID(ctx, "missing"); !errors.Is(err, storage.ErrClientNotFound) {
		t.Errorf("FindClientByID(missing) error = %v, want ErrClientNotFound", err)
	}
}

func TestStore_SaveClient_Invalid(t *testing.T) {
	store := newTestStore(t)

	if err := store.SaveClient(nil); err == nil {
		t.Error("SaveClient(nil) should return error")
	}
	if err := store.SaveClient(&storage.Client{}); err == nil {
		t.Error("SaveClient() with empty id should return error")
	}
}

func TestFindEnabledClient(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	_ = store.SaveClient(&storage.Client{ClientID: "on", Enabled: true})
	_ = store.SaveClient(&storage.Client{ClientID: "off", Enabled: false})

	if _, err := storage.FindEnabledClient(ctx, store, "on"); err != nil {
		t.Errorf("FindEnabledClient(on) error = %v", err)
	}
	if _, err := storage.FindEnabledClient(ctx, store, "off"); !errors.Is(err, storage.ErrClientNotFound) {
		t.Errorf("FindEnabledClient(off) error = %v, want ErrClientNotFound", err)
	}
}

// ============================================================
// ResourceStore Tests
// ============================================================

func TestStore_FindResourcesByScopeNames(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_ = store.SaveIdentityResource(storage.IdentityResource{Name: "openid", Enabled: true, Required: true})
	_ = store.SaveIdentityResource(storage.IdentityResource{Name: "profile", Enabled: true})
	_ = store.SaveApiScope(storage.ApiScope{Name: "read", Enabled: true})
	_ = store.SaveApiScope(storage.ApiScope{Name: "write", Enabled: true})
	_ = store.SaveApiResource(storage.ApiResource{Name: "api1", Enabled: true, Scopes: []string{"read", "write"}})

	res, err := store.FindResourcesByScopeNames(ctx, []string{"openid", "read", "write", "unknown"})
	if err != nil {
		t.Fatalf("FindResourcesByScopeNames() error = %v", err)
	}

	if len(res.IdentityResources) != 1 || res.IdentityResources[0].Name != "openid" {
		t.Errorf("IdentityResources = %+v, want [openid]", res.IdentityResources)
	}
	if len(res.ApiScopes) != 2 {
		t.Errorf("ApiScopes count = %d, want 2", len(res.ApiScopes))
	}
	if len(res.ApiResources) != 1 {
		t.Errorf("ApiResources count = %d, want 1 (no duplicates)", len(res.ApiResources))
	}

	apis, err := store.FindApiResourcesByName(ctx, []string{"api1", "nope"})
	if err != nil || len(apis) != 1 {
		t.Errorf("FindApiResourcesByName() = %v, %v; want one resource", apis, err)
	}
}

// ============================================================
// Grant Store Tests
// ============================================================

func TestStore_ConsumeAuthorizationCode_AtMostOnce(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	code := &storage.AuthorizationCode{
		Code:         "code-1",
		ClientID:     testClientID,
		Subject:      &storage.Subject{ID: testSubjectID},
		CreationTime: time.Now(),
		Lifetime:     time.Minute,
	}
	if err := store.StoreAuthorizationCode(ctx, code); err != nil {
		t.Fatalf("StoreAuthorizationCode() error = %v", err)
	}
	if err := store.StoreAuthorizationCode(ctx, code); !errors.Is(err, storage.ErrDuplicateHandle) {
		t.Errorf("second StoreAuthorizationCode() error = %v, want ErrDuplicateHandle", err)
	}

	var wg sync.WaitGroup
	var successes atomic.Int32
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.ConsumeAuthorizationCode(ctx, "code-1"); err == nil {
				successes.Add(1)
			}
		}()
	}
	wg.Wait()

	if successes.Load() != 1 {
		t.Errorf("ConsumeAuthorizationCode() succeeded %d times, want 1", successes.Load())
	}
	if _, err := store.GetAuthorizationCode(ctx, "code-1"); !errors.Is(err, storage.ErrAuthorizationCodeNotFound) {
		t.Errorf("GetAuthorizationCode() after consume error = %v", err)
	}
}

func TestStore_RefreshTokens(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, h := range []string{"rt-1", "rt-2"} {
		err := store.StoreRefreshToken(ctx, &storage.RefreshToken{
			Handle:   h,
			ClientID: testClientID,
			Subject:  &storage.Subject{ID: testSubjectID},
		})
		if err != nil {
			t.Fatalf("StoreRefreshToken() error = %v", err)
		}
	}
	_ = store.StoreRefreshToken(ctx, &storage.RefreshToken{
		Handle:   "rt-other",
		ClientID: "other",
		Subject:  &storage.Subject{ID: testSubjectID},
	})

	got, err := store.GetRefreshToken(ctx, "rt-1")
	if err != nil || got.ClientID != testClientID {
		t.Fatalf("GetRefreshToken() = %+v, %v", got, err)
	}

	if err := store.RemoveRefreshTokens(ctx, testSubjectID, testClientID); err != nil {
		t.Fatalf("RemoveRefreshTokens() error = %v", err)
	}
	if _, err := store.GetRefreshToken(ctx, "rt-2"); !errors.Is(err, storage.ErrRefreshTokenNotFound) {
		t.Errorf("rt-2 should be removed, error = %v", err)
	}
	if _, err := store.GetRefreshToken(ctx, "rt-other"); err != nil {
		t.Errorf("token of another client should survive, error = %v", err)
	}
}

func TestStore_ReferenceTokens(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_ = store.StoreReferenceToken(ctx, &storage.ReferenceToken{Handle: "ref", ClientID: testClientID, SubjectID: testSubjectID})
	if _, err := store.GetReferenceToken(ctx, "ref"); err != nil {
		t.Fatalf("GetReferenceToken() error = %v", err)
	}
	_ = store.RemoveReferenceTokens(ctx, testSubjectID, testClientID)
	if _, err := store.GetReferenceToken(ctx, "ref"); !errors.Is(err, storage.ErrReferenceTokenNotFound) {
		t.Errorf("GetReferenceToken() after remove error = %v", err)
	}
}

// ============================================================
// DeviceFlowStore Tests
// ============================================================

func TestStore_DeviceFlow(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	data := &storage.DeviceCode{
		ClientID:        "device",
		RequestedScopes: []string{"openid", "api1"},
		CreationTime:    time.Now(),
		Lifetime:        5 * time.Minute,
	}
	if err := store.StoreDeviceAuthorization(ctx, "dc", "UC-1234", data); err != nil {
		t.Fatalf("StoreDeviceAuthorization() error = %v", err)
	}
	if err := store.StoreDeviceAuthorization(ctx, "dc2", "UC-1234", data); !errors.Is(err, storage.ErrDuplicateHandle) {
		t.Errorf("duplicate user code error = %v, want ErrDuplicateHandle", err)
	}

	byUser, err := store.FindByUserCode(ctx, "UC-1234")
	if err != nil {
		t.Fatalf("FindByUserCode() error = %v", err)
	}
	byUser.IsAuthorized = true
	byUser.Subject = &storage.Subject{ID: testSubjectID}
	byUser.AuthorizedScopes = []string{"openid"}
	if err := store.UpdateByUserCode(ctx, "UC-1234", byUser); err != nil {
		t.Fatalf("UpdateByUserCode() error = %v", err)
	}

	byDevice, err := store.FindByDeviceCode(ctx, "dc")
	if err != nil {
		t.Fatalf("FindByDeviceCode() error = %v", err)
	}
	if !byDevice.IsAuthorized || byDevice.Subject.ID != testSubjectID {
		t.Errorf("FindByDeviceCode() = %+v, want authorized record", byDevice)
	}

	var wg sync.WaitGroup
	var successes atomic.Int32
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.ConsumeByDeviceCode(ctx, "dc"); err == nil {
				successes.Add(1)
			}
		}()
	}
	wg.Wait()

	if successes.Load() != 1 {
		t.Errorf("ConsumeByDeviceCode() succeeded %d times, want 1", successes.Load())
	}
	if _, err := store.FindByUserCode(ctx, "UC-1234"); !errors.Is(err, storage.ErrDeviceCodeNotFound) {
		t.Errorf("user code index should be removed on consume, error = %v", err)
	}
}

func TestStore_ConsumeByDeviceCode_ReturnsCopy(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	data := &storage.DeviceCode{
		ClientID:         "device",
		AuthorizedScopes: []string{"openid"},
		IsAuthorized:     true,
		Subject:          &storage.Subject{ID: testSubjectID},
		CreationTime:     time.Now(),
		Lifetime:         5 * time.Minute,
	}
	if err := store.StoreDeviceAuthorization(ctx, "dc", "UC-5678", data); err != nil {
		t.Fatalf("StoreDeviceAuthorization() error = %v", err)
	}

	consumed, err := store.ConsumeByDeviceCode(ctx, "dc")
	if err != nil {
		t.Fatalf("ConsumeByDeviceCode() error = %v", err)
	}
	if consumed == data || consumed.Subject == data.Subject {
		t.Error("ConsumeByDeviceCode() returned the caller's record instead of a copy")
	}

	consumed.AuthorizedScopes[0] = "mutated"
	consumed.Subject.ID = "mutated"
	if data.AuthorizedScopes[0] != "openid" || data.Subject.ID != testSubjectID {
		t.Errorf("mutating the consumed record changed the original: %+v", data)
	}
}

func TestStore_Throttle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return now })

	if _, ok, _ := store.GetLastSeen(ctx, "dc"); ok {
		t.Fatal("GetLastSeen() on empty store should report not found")
	}

	_ = store.SetLastSeen(ctx, "dc", now, time.Minute)
	seen, ok, err := store.GetLastSeen(ctx, "dc")
	if err != nil || !ok || !seen.Equal(now) {
		t.Errorf("GetLastSeen() = %v, %v, %v", seen, ok, err)
	}

	now = now.Add(2 * time.Minute)
	if _, ok, _ := store.GetLastSeen(ctx, "dc"); ok {
		t.Error("GetLastSeen() should not return entries past their ttl")
	}
}

// ============================================================
// ConsentStore / UserStore Tests
// ============================================================

func TestStore_Consent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.StoreUserConsent(ctx, &storage.Consent{SubjectID: testSubjectID, ClientID: testClientID, Scopes: []string{"openid"}})
	if err != nil {
		t.Fatalf("StoreUserConsent() error = %v", err)
	}
	got, err := store.GetUserConsent(ctx, testSubjectID, testClientID)
	if err != nil || len(got.Scopes) != 1 {
		t.Fatalf("GetUserConsent() = %+v, %v", got, err)
	}
	_ = store.RemoveUserConsent(ctx, testSubjectID, testClientID)
	if _, err := store.GetUserConsent(ctx, testSubjectID, testClientID); !errors.Is(err, storage.ErrConsentNotFound) {
		t.Errorf("GetUserConsent() after remove error = %v", err)
	}
	if err := store.StoreUserConsent(ctx, &storage.Consent{ClientID: testClientID}); err == nil {
		t.Error("StoreUserConsent() without subject should fail")
	}
}

func TestStore_ValidateCredentials(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.AddUser(testSubjectID, "bob", "bob", map[string]any{"name": "Bob Smith"}); err != nil {
		t.Fatalf("AddUser() error = %v", err)
	}

	user, err := store.ValidateCredentials(ctx, "bob", "bob")
	if err != nil {
		t.Fatalf("ValidateCredentials() error = %v", err)
	}
	if user.SubjectID != testSubjectID {
		t.Errorf("SubjectID = %q, want %q", user.SubjectID, testSubjectID)
	}

	if _, err := store.ValidateCredentials(ctx, "bob", "wrong"); !errors.Is(err, storage.ErrInvalidCredentials) {
		t.Errorf("wrong password error = %v, want ErrInvalidCredentials", err)
	}
	if _, err := store.ValidateCredentials(ctx, "alice", "bob"); !errors.Is(err, storage.ErrInvalidCredentials) {
		t.Errorf("unknown user error = %v, want ErrInvalidCredentials", err)
	}

	if err := store.SetUserActive(testSubjectID, false); err != nil {
		t.Fatalf("SetUserActive() error = %v", err)
	}
	got, _ := store.FindUserBySubjectID(ctx, testSubjectID)
	if got.IsActive {
		t.Error("user should be inactive")
	}
}

// ============================================================
// Cleanup / Instrumentation Tests
// ============================================================

func TestStore_Cleanup(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return now })

	_ = store.StoreAuthorizationCode(ctx, &storage.AuthorizationCode{Code: "old", CreationTime: now.Add(-time.Hour), Lifetime: time.Minute})
	_ = store.StoreAuthorizationCode(ctx, &storage.AuthorizationCode{Code: "fresh", CreationTime: now, Lifetime: time.Minute})
	_ = store.StoreDeviceAuthorization(ctx, "dc-old", "UC-OLD", &storage.DeviceCode{CreationTime: now.Add(-time.Hour), Lifetime: time.Minute})
	_ = store.StoreRefreshToken(ctx, &storage.RefreshToken{Handle: "forever", CreationTime: now.Add(-24 * time.Hour)})

	store.cleanup()

	if _, err := store.GetAuthorizationCode(ctx, "old"); err == nil {
		t.Error("expired code should be cleaned up")
	}
	if _, err := store.GetAuthorizationCode(ctx, "fresh"); err != nil {
		t.Error("fresh code should survive cleanup")
	}
	if _, err := store.FindByUserCode(ctx, "UC-OLD"); err == nil {
		t.Error("expired device authorization should be cleaned up")
	}
	if _, err := store.GetRefreshToken(ctx, "forever"); err != nil {
		t.Error("refresh token without lifetime should survive cleanup")
	}
}

func TestStore_Instrumentation(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	inst, err := instrumentation.New(instrumentation.Config{Enabled: true, TracerProvider: tp})
	if err != nil {
		t.Fatalf("instrumentation.New() error = %v", err)
	}

	store := newTestStore(t)
	store.SetInstrumentation(inst)

	_, _ = store.FindClientByID(context.Background(), "missing")

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(spans))
	}
	if spans[0].Name() != "storage.find_client" {
		t.Errorf("span name = %q, want storage.find_client", spans[0].Name())
	}
}
