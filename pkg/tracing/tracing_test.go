package tracing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newRecordedProvider(t *testing.T) (*Provider, *tracetest.SpanRecorder) {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	p, err := InitTracer(Config{ServiceName: "test"}, nil, sdktrace.WithSpanProcessor(rec))
	if err != nil {
		t.Fatalf("InitTracer() error: %v", err)
	}
	t.Cleanup(func() { p.Shutdown(context.Background()) })
	return p, rec
}

func TestHTTPMiddleware(t *testing.T) {
	p, rec := newRecordedProvider(t)

	handler := HTTPMiddleware(p)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		AddEvent(r.Context(), "handled")
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodPost, "/rpc", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusTeapot {
		t.Errorf("status = %d", w.Code)
	}
	if w.Header().Get("Traceparent") == "" {
		t.Error("trace context was not injected into the response")
	}

	spans := rec.Ended()
	if len(spans) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(spans))
	}
	span := spans[0]
	if span.Name() != "POST /rpc" {
		t.Errorf("span name = %q", span.Name())
	}
	if len(span.Events()) != 1 || span.Events()[0].Name != "handled" {
		t.Errorf("events = %v", span.Events())
	}

	found := false
	for _, kv := range span.Attributes() {
		if kv.Key == attribute.Key("http.status_code") && kv.Value.AsInt64() == http.StatusTeapot {
			found = true
		}
	}
	if !found {
		t.Error("status code attribute missing")
	}
}

func TestInitTracer_DisabledStillTraces(t *testing.T) {
	p, err := InitTracer(Config{}, nil)
	if err != nil {
		t.Fatalf("InitTracer() error: %v", err)
	}
	defer p.Shutdown(context.Background())

	_, span := p.Tracer().Start(context.Background(), "noop")
	span.End()
}
