package validation

import (
	"io"
	"log/slog"
	"net/url"
	"testing"
	"time"

	"github.com/giantswarm/oidc-core/internal/testutil"
	"github.com/giantswarm/oidc-core/storage/memory"
)

var testNow = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testEnv struct {
	store     *memory.Store
	clock     *testutil.MockTime
	opts      Options
	resources *ResourceValidator
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := testutil.NewStore(t)
	clock := testutil.NewMockTime(testNow)
	store.SetClock(clock.Now)

	return &testEnv{
		store: store,
		clock: clock,
		opts: Options{
			Issuer: testutil.Issuer,
			Clock:  clock.Now,
			Logger: discardLogger(),
		},
		resources: NewResourceValidator(store, discardLogger()),
	}
}

func values(kv ...string) url.Values {
	v := url.Values{}
	for i := 0; i+1 < len(kv); i += 2 {
		v.Set(kv[i], kv[i+1])
	}
	return v
}
