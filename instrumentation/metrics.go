package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments for the validation core
type Metrics struct {
	// Validation Metrics
	ValidationTotal     metric.Int64Counter
	ValidationDuration  metric.Float64Histogram
	InteractionDecision metric.Int64Counter
	DeviceSlowDown      metric.Int64Counter

	// Security Metrics
	SecretValidationFailed metric.Int64Counter
	PKCEValidationFailed   metric.Int64Counter
	RateLimitExceeded      metric.Int64Counter
	AuditEventsTotal       metric.Int64Counter

	// Storage Metrics
	StorageOperationTotal       metric.Int64Counter
	StorageOperationDuration    metric.Float64Histogram
	StorageClientsCount         metric.Int64ObservableGauge
	StorageGrantsCount          metric.Int64ObservableGauge
	StorageDeviceCodesCount     metric.Int64ObservableGauge
	StorageReferenceTokensCount metric.Int64ObservableGauge
	StorageConsentsCount        metric.Int64ObservableGauge

	// Encryption Metrics
	EncryptionOperationsTotal metric.Int64Counter
	EncryptionDuration        metric.Float64Histogram
}

// newMetrics creates and registers all metric instruments
func newMetrics(inst *Instrumentation) (*Metrics, error) {
	m := &Metrics{}
	validationMeter := inst.Meter("validation")
	securityMeter := inst.Meter("security")
	storageMeter := inst.Meter("storage")

	var err error
	m.ValidationTotal, err = validationMeter.Int64Counter(
		"oidc.validation.total",
		metric.WithDescription("Total number of validation outcomes by validator"),
		metric.WithUnit("{validation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create validation.total counter: %w", err)
	}

	m.ValidationDuration, err = validationMeter.Float64Histogram(
		"oidc.validation.duration",
		metric.WithDescription("Validation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create validation.duration histogram: %w", err)
	}

	m.InteractionDecision, err = validationMeter.Int64Counter(
		"oidc.interaction.decision",
		metric.WithDescription("Number of interaction decisions by outcome"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create interaction.decision counter: %w", err)
	}

	m.DeviceSlowDown, err = validationMeter.Int64Counter(
		"oidc.device.slow_down",
		metric.WithDescription("Number of device code polls rejected with slow_down"),
		metric.WithUnit("{poll}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create device.slow_down counter: %w", err)
	}

	m.SecretValidationFailed, err = securityMeter.Int64Counter(
		"oidc.secret.validation_failed",
		metric.WithDescription("Number of client or API secret validation failures"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create secret.validation_failed counter: %w", err)
	}

	m.PKCEValidationFailed, err = securityMeter.Int64Counter(
		"oidc.pkce.validation_failed",
		metric.WithDescription("Number of PKCE validation failures"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create pkce.validation_failed counter: %w", err)
	}

	m.RateLimitExceeded, err = securityMeter.Int64Counter(
		"oidc.rate_limit.exceeded",
		metric.WithDescription("Number of rate limit violations"),
		metric.WithUnit("{violation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rate_limit.exceeded counter: %w", err)
	}

	m.AuditEventsTotal, err = securityMeter.Int64Counter(
		"oidc.audit.events.total",
		metric.WithDescription("Total number of audit events"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create audit.events.total counter: %w", err)
	}

	m.StorageOperationTotal, err = storageMeter.Int64Counter(
		"storage.operation.total",
		metric.WithDescription("Total number of storage operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.operation.total counter: %w", err)
	}

	m.StorageOperationDuration, err = storageMeter.Float64Histogram(
		"storage.operation.duration",
		metric.WithDescription("Storage operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.operation.duration histogram: %w", err)
	}

	gauges := []struct {
		target *metric.Int64ObservableGauge
		name   string
		desc   string
	}{
		{&m.StorageClientsCount, "storage.clients.count", "Number of stored clients"},
		{&m.StorageGrantsCount, "storage.grants.count", "Number of stored authorization codes and refresh tokens"},
		{&m.StorageDeviceCodesCount, "storage.device_codes.count", "Number of pending device authorizations"},
		{&m.StorageReferenceTokensCount, "storage.reference_tokens.count", "Number of stored reference tokens"},
		{&m.StorageConsentsCount, "storage.consents.count", "Number of remembered consents"},
	}
	for _, g := range gauges {
		*g.target, err = storageMeter.Int64ObservableGauge(g.name,
			metric.WithDescription(g.desc),
			metric.WithUnit("{item}"),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s gauge: %w", g.name, err)
		}
	}

	m.EncryptionOperationsTotal, err = securityMeter.Int64Counter(
		"oidc.encryption.operations.total",
		metric.WithDescription("Total number of encryption/decryption operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create encryption.operations.total counter: %w", err)
	}

	m.EncryptionDuration, err = securityMeter.Float64Histogram(
		"oidc.encryption.duration",
		metric.WithDescription("Encryption/decryption operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create encryption.duration histogram: %w", err)
	}

	return m, nil
}

// Helper methods for common metric recording patterns

// RecordValidation records the outcome of a validator run.
// errorCode is empty for successful validations.
func (m *Metrics) RecordValidation(ctx context.Context, validator, errorCode string, durationMs float64) {
	result := "success"
	if errorCode != "" {
		result = "error"
	}
	m.ValidationTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("validator", validator),
		attribute.String("result", result),
		attribute.String("error", errorCode),
	))
	m.ValidationDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("validator", validator),
	))
}

// RecordInteractionDecision records the decision of the interaction generator
// ("login", "consent", "redirect", "error", "proceed")
func (m *Metrics) RecordInteractionDecision(ctx context.Context, decision string) {
	m.InteractionDecision.Add(ctx, 1, metric.WithAttributes(
		attribute.String("decision", decision),
	))
}

// RecordDeviceSlowDown records a throttled device code poll
func (m *Metrics) RecordDeviceSlowDown(ctx context.Context, clientID string) {
	m.DeviceSlowDown.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID),
	))
}

// RecordSecretValidationFailed records a failed secret validation
func (m *Metrics) RecordSecretValidationFailed(ctx context.Context, secretType string) {
	m.SecretValidationFailed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("secret_type", secretType),
	))
}

// RecordPKCEValidationFailed records a PKCE validation failure
func (m *Metrics) RecordPKCEValidationFailed(ctx context.Context, method string) {
	m.PKCEValidationFailed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
	))
}

// RecordRateLimitExceeded records a rate limit violation
func (m *Metrics) RecordRateLimitExceeded(ctx context.Context, limiterType string) {
	m.RateLimitExceeded.Add(ctx, 1, metric.WithAttributes(
		attribute.String("limiter_type", limiterType),
	))
}

// RecordAuditEvent records an audit event
func (m *Metrics) RecordAuditEvent(ctx context.Context, eventType string) {
	m.AuditEventsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event_type", eventType),
	))
}

// RecordStorageOperation records a storage operation
func (m *Metrics) RecordStorageOperation(ctx context.Context, operation, result string, durationMs float64) {
	attrs := []attribute.KeyValue{
		attribute.String("operation", operation),
		attribute.String("result", result),
	}

	m.StorageOperationTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.StorageOperationDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("operation", operation),
	))
}

// RecordEncryptionOperation records an encryption/decryption operation
func (m *Metrics) RecordEncryptionOperation(ctx context.Context, operation string, durationMs float64) {
	attrs := []attribute.KeyValue{
		attribute.String("operation", operation),
	}

	m.EncryptionOperationsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.EncryptionDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("operation", operation),
	))
}
