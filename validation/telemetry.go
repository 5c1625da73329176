package validation

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/oidc-core/instrumentation"
	"github.com/giantswarm/oidc-core/protocol"
)

// telemetry bundles the span and metric plumbing shared by the validators
type telemetry struct {
	inst   *instrumentation.Instrumentation
	tracer trace.Tracer
}

func newTelemetry(inst *instrumentation.Instrumentation) telemetry {
	t := telemetry{inst: inst}
	if inst != nil {
		t.tracer = inst.Tracer("validation")
	}
	return t
}

func (t telemetry) start(ctx context.Context, validator string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String(instrumentation.AttrValidator, validator))
	return instrumentation.StartSpan(ctx, t.tracer, "validation."+validator, attrs...)
}

// finish ends the validator span and records the outcome
func (t telemetry) finish(ctx context.Context, span trace.Span, validator string, perr *protocol.Error, start time.Time) {
	code := ""
	if perr != nil {
		code = perr.Code
		instrumentation.AddProtocolError(span, perr.Code, perr.Description)
	} else {
		instrumentation.SetSpanSuccess(span)
	}
	span.End()

	if t.inst != nil {
		t.inst.Metrics().RecordValidation(ctx, validator, code, float64(time.Since(start).Microseconds())/1000)
	}
}

func (t telemetry) metrics() *instrumentation.Metrics {
	if t.inst == nil {
		return nil
	}
	return t.inst.Metrics()
}
