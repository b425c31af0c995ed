package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Intake semantic convention attributes.
var (
	AttrOperation    = attribute.Key("intake.operation")
	AttrSubmissionID = attribute.Key("intake.submission.id")
	AttrDefinitionID = attribute.Key("intake.definition.id")
	AttrState        = attribute.Key("intake.submission.state")
	AttrActorKind    = attribute.Key("intake.actor.kind")
	AttrErrorType    = attribute.Key("intake.error.type")
	AttrTransport    = attribute.Key("intake.transport")
)

// SubmissionAttrs returns the attributes identifying a submission.
func SubmissionAttrs(id, definitionID, state string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrSubmissionID.String(id),
		AttrDefinitionID.String(definitionID),
		AttrState.String(state),
	}
}

// AddSpanEvent adds an event to the span in ctx.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}
