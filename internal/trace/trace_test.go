package trace

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"google.golang.org/grpc/metadata"
)

func TestGeneratedIDLengths(t *testing.T) {
	if id := generateTraceID(); len(id) != 32 {
		t.Errorf("trace ID should be 32 chars, got %d", len(id))
	}
	if id := generateSpanID(); len(id) != 16 {
		t.Errorf("span ID should be 16 chars, got %d", len(id))
	}
}

func TestNewChildKeepsSession(t *testing.T) {
	parent := New()
	parent.SessionID = "sess-1"
	child := NewChild(parent)

	if child.TraceID != parent.TraceID {
		t.Error("child should inherit trace ID")
	}
	if child.ParentSpanID != parent.SpanID {
		t.Error("child's parent should be parent's span ID")
	}
	if child.SessionID != "sess-1" {
		t.Errorf("child session = %q, want sess-1", child.SessionID)
	}
}

func TestWithSession(t *testing.T) {
	ctx := WithSession(context.Background(), "abc")
	tc, ok := FromContext(ctx)
	if !ok {
		t.Fatal("session context should carry a trace")
	}
	if tc.SessionID != "abc" || len(tc.TraceID) != 32 {
		t.Errorf("unexpected context %+v", tc)
	}

	_, span := StartSpan(ctx, "transcribe_window")
	if span.Ctx.SessionID != "abc" {
		t.Error("span should inherit session ID")
	}
	if span.Ctx.ParentSpanID != tc.SpanID {
		t.Error("span parent should be the session span")
	}
}

func TestStartSpanWithoutParent(t *testing.T) {
	_, span := StartSpan(context.Background(), "stabilize")
	span.SetAttr("decision", "accepted")
	span.End()

	if span.Ctx.TraceID == "" {
		t.Error("root span should get a trace ID")
	}
	if span.Duration() < 0 || span.EndTime.IsZero() {
		t.Error("span should have an end time")
	}
	if span.Attrs["decision"] != "accepted" {
		t.Error("span attribute mismatch")
	}
}

func TestInjectMetadata(t *testing.T) {
	ctx := WithSession(context.Background(), "sess-9")
	md, ok := metadata.FromOutgoingContext(injectMetadata(ctx))
	if !ok {
		t.Fatal("expected outgoing metadata")
	}
	if got := md.Get(SessionIDKey); len(got) != 1 || got[0] != "sess-9" {
		t.Errorf("session metadata = %v", got)
	}
	if got := md.Get(TraceIDKey); len(got) != 1 || got[0] == "" {
		t.Errorf("trace metadata = %v", got)
	}
}

func TestMiddleware(t *testing.T) {
	var seen Context
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = FromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/session/start", nil)
	req.Header.Set(TraceIDKey, "trace123")
	req.Header.Set(SessionIDKey, "s1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if seen.TraceID != "trace123" || seen.SessionID != "s1" {
		t.Errorf("context = %+v", seen)
	}
	if rec.Header().Get(TraceIDKey) != "trace123" {
		t.Error("response should echo trace ID")
	}
}

func TestLogger(t *testing.T) {
	log := Logger(WithSession(context.Background(), "s"))
	log.Info("test message")
}
