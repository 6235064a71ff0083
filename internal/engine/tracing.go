// Tracing instrumentation for the engine.
package engine

import (
	"context"

	"github.com/vinayprograms/agentkit/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/opsdesk/scenario/internal/agent"
)

// startTurnSpan starts a span for one inbound message.
func (e *Engine) startTurnSpan(ctx context.Context, scenarioID, sessionID string) (context.Context, trace.Span) {
	tracer := telemetry.GetTracer()
	ctx, span := tracer.StartSpan(ctx, "scenario.turn")
	span.SetAttributes(
		attribute.String("scenario.id", scenarioID),
		attribute.String("scenario.session", sessionID),
	)
	return ctx, span
}

// endTurnSpan ends the turn span with outcome info.
func (e *Engine) endTurnSpan(span trace.Span, messages int, err error) {
	span.SetAttributes(attribute.Int("scenario.messages", messages))
	if err != nil {
		span.RecordError(err)
	}
	span.End()
}

// startStageSpan starts a span for one stage turn.
func (e *Engine) startStageSpan(ctx context.Context, stageKey string, index int) (context.Context, trace.Span) {
	tracer := telemetry.GetTracer()
	ctx, span := tracer.StartSpan(ctx, "stage."+stageKey)
	span.SetAttributes(
		attribute.String("stage.key", stageKey),
		attribute.Int("stage.index", index),
	)
	return ctx, span
}

// endStageSpan ends the stage span with the agent's status.
func (e *Engine) endStageSpan(span trace.Span, resp *agent.Response, err error) {
	if resp != nil {
		span.SetAttributes(attribute.String("stage.status", string(resp.Status)))
	}
	if err != nil {
		span.RecordError(err)
	}
	span.End()
}
