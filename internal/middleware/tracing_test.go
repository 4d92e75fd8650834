package middleware

import (
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"sologram/internal/observability"
)

func withSpanRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := observability.Tracer
	observability.Tracer = tp.Tracer("test")
	t.Cleanup(func() { observability.Tracer = prev })
	return recorder
}

func TestTracingRecordsServerSpan(t *testing.T) {
	recorder := withSpanRecorder(t)

	app := fiber.New()
	app.Use(Tracing())
	app.Get("/posts", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/posts", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Trace-ID"))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	span := spans[0]
	assert.Equal(t, "GET /posts", span.Name())
	assert.Equal(t, trace.SpanKindServer, span.SpanKind())

	attrs := map[string]any{}
	for _, kv := range span.Attributes() {
		attrs[string(kv.Key)] = kv.Value.AsInterface()
	}
	assert.Equal(t, "GET", attrs["http.method"])
	assert.Equal(t, "/posts", attrs["http.path"])
	assert.EqualValues(t, 200, attrs["http.status_code"])
}

func TestTracingRecordsHandlerError(t *testing.T) {
	recorder := withSpanRecorder(t)

	app := fiber.New()
	app.Use(Tracing())
	app.Get("/boom", func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusInternalServerError, "boom")
	})

	_, err := app.Test(httptest.NewRequest("GET", "/boom", nil))
	require.NoError(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 1)

	var recorded bool
	for _, event := range spans[0].Events() {
		if event.Name == "exception" {
			recorded = true
		}
	}
	assert.True(t, recorded, "handler error should be recorded on the span")
}
