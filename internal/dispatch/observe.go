package dispatch

import (
	"context"
	"time"

	"github.com/zulandar/switchyard/internal/completion"
	"github.com/zulandar/switchyard/internal/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/zulandar/switchyard/internal/dispatch")

// observedClient records a span and a latency sample for every completion
// call made on behalf of the dispatcher, including the scope guard's.
type observedClient struct {
	next    completion.Client
	metrics *metrics.Metrics
}

func (c observedClient) Generate(ctx context.Context, req completion.Request) (string, error) {
	ctx, span := tracer.Start(ctx, "completion."+req.Op,
		trace.WithAttributes(attribute.Int("completion.history", len(req.History))))
	defer span.End()

	start := time.Now()
	text, err := c.next.Generate(ctx, req)
	c.metrics.ObserveCompletion(req.Op, time.Since(start), err)
	endSpan(span, err)
	return text, err
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}
