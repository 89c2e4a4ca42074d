package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/redhat-et/obo-delegation-demo"

// Span attribute keys for the delegation demo domain. Token values are never recorded.
var (
	AttrSubject         = attribute.Key("obo.subject")
	AttrUsername        = attribute.Key("obo.username")
	AttrAuthorizedParty = attribute.Key("obo.azp")
	AttrAudience        = attribute.Key("obo.exchange.audience")
	AttrCacheResult     = attribute.Key("obo.exchange.cache")
	AttrShared          = attribute.Key("obo.exchange.shared")
	AttrIdPStatus       = attribute.Key("obo.exchange.idp_status")
	AttrDownstreamURL   = attribute.Key("obo.downstream.url")
	AttrDownstreamCode  = attribute.Key("obo.downstream.status")
	AttrDelegateState   = attribute.Key("obo.delegate.state")
	AttrDecision        = attribute.Key("obo.decision")
	AttrReason          = attribute.Key("obo.reason")
)

// Tracer returns the project-wide OTel tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan creates a new span with the given name and optional attributes.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := Tracer().Start(ctx, name)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}

// SetSpanError records an error on the span and sets its status to Error.
func SetSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetSpanOK sets the span status to OK.
func SetSpanOK(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}
