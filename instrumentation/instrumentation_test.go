package instrumentation

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name   string
		config Config
	}{
		{
			name:   "disabled",
			config: Config{Enabled: false},
		},
		{
			name: "with service name and version",
			config: Config{
				Enabled:        true,
				ServiceName:    "test-service",
				ServiceVersion: "1.0.0",
			},
		},
		{
			name:   "empty service name gets default",
			config: Config{Enabled: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inst, err := New(tt.config)
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			defer func() { _ = inst.Shutdown(context.Background()) }()

			if inst.Meter("validation") == nil {
				t.Error("Meter('validation') returned nil")
			}
			if inst.Tracer("validation") == nil {
				t.Error("Tracer('validation') returned nil")
			}
			if inst.Metrics() == nil {
				t.Error("Metrics() returned nil")
			}
			if inst.TracerProvider() == nil {
				t.Error("TracerProvider() returned nil")
			}
			if inst.MeterProvider() == nil {
				t.Error("MeterProvider() returned nil")
			}
		})
	}
}

func TestInstrumentation_ShutdownIsIdempotent(t *testing.T) {
	inst, err := New(Config{Enabled: true})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := inst.Shutdown(context.Background()); err != nil {
		t.Errorf("first Shutdown() error = %v", err)
	}
	if err := inst.Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown() error = %v", err)
	}
}

func TestInstrumentation_CustomTracerProvider(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	inst, err := New(Config{Enabled: true, TracerProvider: tp})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	_, span := StartSpan(context.Background(), inst.Tracer("validation"), "validation.test")
	AddOAuthFlowAttributes(span, "client", "subject", "openid")
	AddProtocolError(span, "invalid_grant", "expired")
	span.End()

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(spans))
	}
	if spans[0].Name() != "validation.test" {
		t.Errorf("span name = %q, want %q", spans[0].Name(), "validation.test")
	}
	if spans[0].Status().Code != codes.Error {
		t.Errorf("span status = %v, want Error", spans[0].Status().Code)
	}
}

func TestStartSpan_NilTracer(t *testing.T) {
	ctx := context.Background()
	gotCtx, span := StartSpan(ctx, nil, "noop")
	if gotCtx != ctx {
		t.Error("StartSpan() with nil tracer should return the input context")
	}
	if span == nil {
		t.Fatal("StartSpan() with nil tracer returned nil span")
	}
	if span.IsRecording() {
		t.Error("StartSpan() with nil tracer should return a non-recording span")
	}
	// must not panic on non-recording spans
	RecordError(span, errors.New("boom"))
	SetSpanSuccess(span)
	span.End()
}

func TestSpanHelpers_NilSafe(t *testing.T) {
	RecordError(nil, errors.New("boom"))
	SetSpanSuccess(nil)
	SetSpanError(nil, "x")
	SetSpanAttributes(nil)
	AddPKCEAttributes(nil, "S256")
	AddStorageAttributes(nil, "get", "memory")
}

func TestMetrics_Record(t *testing.T) {
	ctx := context.Background()
	inst, err := New(Config{Enabled: true})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() { _ = inst.Shutdown(context.Background()) }()

	m := inst.Metrics()
	// Should not panic
	m.RecordValidation(ctx, "token_request", "", 1.5)
	m.RecordValidation(ctx, "token_request", "invalid_grant", 0.5)
	m.RecordInteractionDecision(ctx, "login")
	m.RecordDeviceSlowDown(ctx, "device")
	m.RecordSecretValidationFailed(ctx, "SharedSecret")
	m.RecordPKCEValidationFailed(ctx, "S256")
	m.RecordRateLimitExceeded(ctx, "security_log")
	m.RecordAuditEvent(ctx, "auth_failure")
	m.RecordStorageOperation(ctx, "get_client", "success", 0.1)
	m.RecordEncryptionOperation(ctx, "encrypt", 0.2)
}

func TestRegisterStorageSizeCallbacks(t *testing.T) {
	inst, err := New(Config{Enabled: false})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	err = inst.RegisterStorageSizeCallbacks(StorageSizeCallbacks{
		Clients: func() int64 { return 3 },
	})
	if err != nil {
		t.Errorf("RegisterStorageSizeCallbacks() error = %v", err)
	}
}
