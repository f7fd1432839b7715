package telemetry

import (
	"context"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func Test_KafkaHeaderCarrier(t *testing.T) {
	assert := assert.New(t)

	original := []kafka.Header{{Key: "source", Value: []byte("sensor")}}
	carrier := NewKafkaHeaderCarrier(original)

	assert.Equal("sensor", carrier.Get("source"))
	assert.Empty(carrier.Get("missing"))

	carrier.Set("source", "replay")
	carrier.Set("run", "42")

	assert.Equal("replay", carrier.Get("source"))
	assert.Equal([]string{"source", "run"}, carrier.Keys())
	assert.Len(carrier.Headers(), 2)

	// The original headers are not modified
	assert.Equal("sensor", string(original[0].Value))
}

func Test_KafkaHeaderCarrier_Propagation(t *testing.T) {
	assert := assert.New(t)

	spanCtx := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{0x01, 0x02, 0x03},
		SpanID:     trace.SpanID{0x04, 0x05},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), spanCtx)

	propagator := propagation.TraceContext{}

	carrier := NewKafkaHeaderCarrier(nil)
	propagator.Inject(ctx, carrier)
	assert.NotEmpty(carrier.Get("traceparent"))

	extracted := trace.SpanContextFromContext(propagator.Extract(context.Background(), NewKafkaHeaderCarrier(carrier.Headers())))
	assert.Equal(spanCtx.TraceID(), extracted.TraceID())
	assert.Equal(spanCtx.SpanID(), extracted.SpanID())
}
