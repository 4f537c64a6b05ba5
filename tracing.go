package schemacanon

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/brunobiangulo/schemacanon"

// tracer reports through the current global provider; spans are dropped
// unless the process installs one.
func tracer() trace.Tracer { return otel.Tracer(tracerName) }

func startCanonicalizeSpan(ctx context.Context, variant Variant, relation string, enrich bool) (context.Context, trace.Span) {
	return tracer().Start(ctx, "schemacanon.Canonicalize",
		trace.WithAttributes(
			attribute.String("schemacanon.variant", string(variant)),
			attribute.String("schemacanon.relation", relation),
			attribute.Bool("schemacanon.enrich", enrich),
		),
	)
}

func endCanonicalizeSpan(span trace.Span, res *Result, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetAttributes(
		attribute.String("schemacanon.call_id", res.CallID),
		attribute.String("schemacanon.state", string(res.State)),
		attribute.Float64("schemacanon.confidence", res.Confidence),
		attribute.Int("schemacanon.candidates", len(res.Candidates)),
	)
	span.SetStatus(codes.Ok, "")
}

func startVerifySpan(ctx context.Context, options int) (context.Context, trace.Span) {
	return tracer().Start(ctx, "schemacanon.verify",
		trace.WithAttributes(attribute.Int("schemacanon.options", options)))
}
