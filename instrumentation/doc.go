// Package instrumentation provides OpenTelemetry instrumentation for the oidc-core library.
//
// Every layer obtains its tracer and meter from a shared *Instrumentation:
//
//	inst, err := instrumentation.New(instrumentation.Config{
//		ServiceName:    "my-identity-server",
//		ServiceVersion: "1.0.0",
//		Enabled:        true,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer inst.Shutdown(context.Background())
//
//	core, err := oidc.New(stores, oidc.WithInstrumentation(inst))
//
// When Enabled is false all providers are no-ops.
//
// # Available Metrics
//
// Validation:
//   - oidc.validation.total{validator,result,error}
//   - oidc.validation.duration{validator}
//   - oidc.interaction.decision{decision}
//   - oidc.device.slow_down{client_id}
//
// Security:
//   - oidc.secret.validation_failed{secret_type}
//   - oidc.pkce.validation_failed{method}
//   - oidc.rate_limit.exceeded{limiter_type}
//   - oidc.audit.events.total{event_type}
//   - oidc.encryption.operations.total, oidc.encryption.duration
//
// Storage:
//   - storage.operation.total{operation,result}, storage.operation.duration{operation}
//   - storage.clients.count, storage.grants.count, storage.device_codes.count,
//     storage.reference_tokens.count, storage.consents.count
//
// # Security
//
// Attribute keys in this package carry metadata only. Never record client
// secrets, tokens, authorization codes, device codes or PKCE verifiers.
package instrumentation
