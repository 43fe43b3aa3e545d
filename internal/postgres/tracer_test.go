package postgres

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestShortenFuncName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"full path", "github.com/linnemanlabs/lifeline/internal/session/pgstore.(*Store).Get", "(*Store).Get"},
		{"already short", "(*Store).Get", "Get"},
		{"empty string", "", ""},
		{"no dots", "main", "main"},
		{"no slashes", "pgstore.(*Store).Put", "(*Store).Put"},
		{"single segment", "foo.Bar", "Bar"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := shortenFuncName(tt.in)
			if got != tt.want {
				t.Errorf("shortenFuncName(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestOperationName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		tag, sql, want string
	}{
		{"INSERT 0 1", "INSERT INTO turns ...", "INSERT"},
		{"", "select id from sessions", "SELECT"},
		{"", "  \n", "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := operationName(tt.tag, tt.sql); got != tt.want {
			t.Errorf("operationName(%q, %q) = %q, want %q", tt.tag, tt.sql, got, tt.want)
		}
	}
}

func TestCompactSQL(t *testing.T) {
	t.Parallel()

	in := "SELECT id,\n\t\tstate\n  FROM sessions"
	if got := compactSQL(in); got != "SELECT id, state FROM sessions" {
		t.Errorf("compactSQL = %q", got)
	}
}

func TestReqDBStats_AddQuery(t *testing.T) {
	t.Parallel()

	s := &ReqDBStats{}

	s.AddQuery(10*time.Millisecond, nil)
	s.AddQuery(20*time.Millisecond, errors.New("timeout"))
	s.AddQuery(5*time.Millisecond, nil)

	count, total, errs := s.Snapshot()
	if count != 3 {
		t.Errorf("QueryCount = %d, want 3", count)
	}
	if total != 35*time.Millisecond {
		t.Errorf("TotalDuration = %v, want 35ms", total)
	}
	if errs != 1 {
		t.Errorf("ErrorCount = %d, want 1", errs)
	}
}

func TestReqDBStatsContext_RoundTrip(t *testing.T) {
	t.Parallel()

	ctx := NewReqDBStatsContext(context.Background())
	got, ok := ReqDBStatsFromContext(ctx)
	if !ok || got == nil {
		t.Fatal("expected stats in context")
	}

	// Verify it's the same pointer
	got.AddQuery(time.Millisecond, nil)
	got2, _ := ReqDBStatsFromContext(ctx)
	if got2.QueryCount != 1 {
		t.Errorf("QueryCount = %d, want 1 (same pointer)", got2.QueryCount)
	}

	if _, ok := ReqDBStatsFromContext(context.Background()); ok {
		t.Error("expected ok=false for plain context")
	}
}

func TestWithSessionID(t *testing.T) {
	t.Parallel()

	ctx := WithSessionID(context.Background(), "sess-1")
	if got := sessionIDFromContext(ctx); got != "sess-1" {
		t.Errorf("sessionIDFromContext = %q, want sess-1", got)
	}
	if got := sessionIDFromContext(WithSessionID(context.Background(), "")); got != "" {
		t.Errorf("empty id should not be stored, got %q", got)
	}
}

// Not parallel: the query observer is global.
func TestQueryTracer_RecordsStatsAndObserves(t *testing.T) {
	defer SetQueryObserver(nil)

	type observed struct {
		op, route, outcome string
	}
	var got []observed
	SetQueryObserver(QueryObserverFunc(func(_ context.Context, op, route, outcome string, _ time.Duration) {
		got = append(got, observed{op, route, outcome})
	}))

	tr := wrapQueryTracer(nil, time.Hour)
	base := NewReqDBStatsContext(WithSessionID(context.Background(), "sess-1"))

	ctx := tr.TraceQueryStart(base, nil, pgx.TraceQueryStartData{SQL: "SELECT 1", Args: []any{"caller transcript"}})
	time.Sleep(time.Millisecond)
	tr.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{CommandTag: pgconn.NewCommandTag("SELECT 1")})

	ctx = tr.TraceQueryStart(base, nil, pgx.TraceQueryStartData{SQL: "UPDATE sessions SET state = $1", Args: []any{"closed"}})
	time.Sleep(time.Millisecond)
	tr.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{Err: errors.New("conn reset")})

	s, _ := ReqDBStatsFromContext(base)
	count, _, errs := s.Snapshot()
	if count != 2 || errs != 1 {
		t.Errorf("stats count=%d errors=%d, want 2 and 1", count, errs)
	}

	want := []observed{
		{"SELECT", "background", "ok"},
		{"UPDATE", "background", "error"},
	}
	if len(got) != len(want) {
		t.Fatalf("observed %d queries, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("observation %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestSetQueryObserver(t *testing.T) {
	defer SetQueryObserver(nil)

	called := false
	SetQueryObserver(QueryObserverFunc(func(_ context.Context, _, _, _ string, _ time.Duration) {
		called = true
	}))
	got := getQueryObserver()
	if got == nil {
		t.Fatal("expected non-nil observer after Set")
	}
	got.ObserveQuery(context.Background(), "SELECT", "/api/v1/sessions/{id}", "ok", time.Millisecond)
	if !called {
		t.Error("observer was not called")
	}

	SetQueryObserver(nil)
	if got := getQueryObserver(); got != nil {
		t.Errorf("expected nil observer after Set(nil), got %v", got)
	}
}

func TestRequestStats_AttachesStats(t *testing.T) {
	t.Parallel()

	var seen bool
	h := RequestStats(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, ok := ReqDBStatsFromContext(r.Context())
		seen = ok
		if ok {
			s.AddQuery(time.Millisecond, nil)
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil))

	if !seen {
		t.Error("handler should see request db stats")
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", rec.Code)
	}
}
