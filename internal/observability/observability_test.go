package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.mongodb.org/mongo-driver/v2/mongo"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/geocoder89/medcard/internal/actorctx"
)

func TestClassifyDBErr(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "pg_unique", err: &pgconn.PgError{Code: "23505"}, want: "unique_violation"},
		{name: "pg_other", err: &pgconn.PgError{Code: "22001"}, want: "pg_22001"},
		{name: "deadline", err: context.DeadlineExceeded, want: "timeout"},
		{name: "connection", err: errors.New("connection refused"), want: "connection"},
		{name: "unknown", err: errors.New("boom"), want: "unknown"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyDBErr(tt.err); got != tt.want {
				t.Fatalf("classifyDBErr(%v) = %s, want %s", tt.err, got, tt.want)
			}
		})
	}
}

func TestObserveDB_MissIsNotAnError(t *testing.T) {
	p := NewProm(prometheus.NewRegistry())

	_ = p.ObserveDB("users.get_by_id", func() error { return mongo.ErrNoDocuments })
	_ = p.ObserveDB("users.create", func() error { return &pgconn.PgError{Code: "23505"} })

	if got := testutil.ToFloat64(p.DbErrorsTotal.WithLabelValues("users.get_by_id", "unknown")); got != 0 {
		t.Fatalf("miss should not count as error, got %v", got)
	}
	if got := testutil.ToFloat64(p.DbErrorsTotal.WithLabelValues("users.create", "unique_violation")); got != 1 {
		t.Fatalf("expected one unique violation, got %v", got)
	}
}

func TestProm_Recorders(t *testing.T) {
	p := NewProm(prometheus.NewRegistry())

	p.AuthEvent("login", "ok")
	p.AuthEvent("login", "ok")
	p.NotificationResult("failed")
	p.ObserveSweep(3, 10*time.Millisecond, nil)

	if got := testutil.ToFloat64(p.AuthEventsTotal.WithLabelValues("login", "ok")); got != 2 {
		t.Fatalf("expected 2 login events, got %v", got)
	}
	if got := testutil.ToFloat64(p.NotificationsTotal.WithLabelValues("failed")); got != 1 {
		t.Fatalf("expected 1 failed notification, got %v", got)
	}
	if got := testutil.ToFloat64(p.CodesPurgedTotal); got != 3 {
		t.Fatalf("expected 3 purged codes, got %v", got)
	}
}

func TestLogger_AddsTraceIDs(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "dev")

	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()

	ctx, span := tp.Tracer("test").Start(actorctx.WithUserID(context.Background(), "user-7"), "op")
	logger.InfoContext(ctx, "hello")
	span.End()

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("log line is not json: %v", err)
	}
	if rec["trace_id"] != span.SpanContext().TraceID().String() {
		t.Fatalf("expected trace_id in %v", rec)
	}
	if rec["actor_id"] != "user-7" {
		t.Fatalf("expected actor_id in %v", rec)
	}
}

func TestLogger_PlainContext(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&buf, "prod").With("component", "test").InfoContext(context.Background(), "hello")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("log line is not json: %v", err)
	}
	if _, ok := rec["trace_id"]; ok {
		t.Fatalf("unexpected trace_id in %v", rec)
	}
	if _, ok := rec["actor_id"]; ok {
		t.Fatalf("unexpected actor_id in %v", rec)
	}
	if rec["component"] != "test" {
		t.Fatalf("expected component attr in %v", rec)
	}
}

func TestTracingConfig_Sampler(t *testing.T) {
	tests := []struct {
		ratio float64
		want  string
	}{
		{ratio: 0, want: "ParentBased{root:AlwaysOffSampler"},
		{ratio: 1, want: "ParentBased{root:AlwaysOnSampler"},
		{ratio: 0.25, want: "ParentBased{root:TraceIDRatioBased{0.25}"},
	}

	for _, tt := range tests {
		got := TracingConfig{SampleRatio: tt.ratio}.sampler().Description()
		if !strings.HasPrefix(got, tt.want) {
			t.Fatalf("ratio %v: sampler %q, want prefix %q", tt.ratio, got, tt.want)
		}
	}
}

func TestInitTracer_RequiresEndpoint(t *testing.T) {
	if _, err := InitTracer(context.Background(), TracingConfig{ServiceName: "x"}); err == nil {
		t.Fatalf("expected error for empty endpoint")
	}
}
