package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OtelEmitter records each Event as a zero-duration span event on the span
// found in ctx, falling back to starting a detached span per call when none
// is active. It is the production emitter: executions become traces, nodes
// become spans, events become span events correlated by execution/node id.
type OtelEmitter struct {
	tracer trace.Tracer
	ctx    context.Context
}

// NewOtelEmitter builds an emitter backed by tracer. ctx supplies the
// fallback span context for events emitted outside an active span.
func NewOtelEmitter(ctx context.Context, tracer trace.Tracer) *OtelEmitter {
	return &OtelEmitter{tracer: tracer, ctx: ctx}
}

func (o *OtelEmitter) Emit(ev Event) {
	span := trace.SpanFromContext(o.ctx)
	attrs := []attribute.KeyValue{
		attribute.String("event.type", string(ev.Type)),
		attribute.String("org.id", ev.OrgID),
		attribute.String("execution.id", ev.ExecutionID),
	}
	if ev.NodeID != "" {
		attrs = append(attrs, attribute.String("node.id", ev.NodeID))
	}
	for k, v := range ev.Fields {
		attrs = append(attrs, attribute.String(k, toString(v)))
	}
	if !span.IsRecording() {
		_, span = o.tracer.Start(o.ctx, string(ev.Type))
		defer span.End()
	}
	span.AddEvent(ev.Message, trace.WithAttributes(attrs...))
	if ev.Type == EventNodeFinished {
		if errVal, ok := ev.Fields["error"]; ok {
			span.SetStatus(codes.Error, toString(errVal))
		}
	}
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case error:
		return t.Error()
	default:
		return fmt.Sprintf("%v", t)
	}
}
