package pgstore_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/lifeline/internal/nlp"
	"github.com/linnemanlabs/lifeline/internal/postgres"
	"github.com/linnemanlabs/lifeline/internal/session"
	"github.com/linnemanlabs/lifeline/internal/session/pgstore"
)

func openStore(t *testing.T) *pgstore.Store {
	t.Helper()
	dsn := os.Getenv("LIFELINE_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("LIFELINE_TEST_DATABASE_URL not set, skipping integration test")
	}
	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, dsn, postgres.WithMaxConns(4))
	if err != nil {
		t.Fatalf("postgres.NewPool: %v", err)
	}
	t.Cleanup(pool.Close)

	s, err := pgstore.New(ctx, pool)
	if err != nil {
		t.Fatalf("pgstore.New: %v", err)
	}
	return s
}

func testSession(now time.Time) *session.Session {
	sess := session.New(ulid.Make().String(), map[string]string{"phone": "555-0100"}, now)
	sess.State = session.StateActive
	sess.Facts["location"] = "12 Elm St"
	sess.Triage = session.TriageState{Category: nlp.CategoryMedical, Asked: []string{"consciousness"}, Pending: "consciousness"}
	sess.AppendTurn(session.Turn{
		Seq:        1,
		Message:    "my father collapsed",
		Timestamp:  now,
		Urgency:    0.72,
		Sentiment:  -0.6,
		Emotion:    nlp.EmotionDistressed,
		Keywords:   []string{"collapsed"},
		Reply:      "Is the person conscious?",
		Responses:  []session.ResponderOutput{{Responder: session.KindTriage, Text: "Is the person conscious?", Confidence: 0.65}},
		Confidence: 0.6,
		Latency:    0.002,
		State:      session.StateActive,
	})
	return sess
}

// Postgres stores microseconds; compare times with that tolerance.
var timeOpt = cmpopts.EquateApproxTime(time.Millisecond)

func TestPutAndGet(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	sess := testSession(time.Now().UTC())
	if err := s.Put(ctx, sess); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, ok, err := s.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatal("Get returned ok=false, want true")
	}
	if diff := cmp.Diff(sess, got, timeOpt); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestGetMissing(t *testing.T) {
	s := openStore(t)

	_, ok, err := s.Get(context.Background(), "does-not-exist")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for missing session")
	}
}

func TestPut_AppendsTurnsAndDispatch(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	sess := testSession(now)
	if err := s.Put(ctx, sess); err != nil {
		t.Fatalf("Put: %v", err)
	}

	sess.AppendTurn(session.Turn{Seq: 2, Message: "he is not breathing", Timestamp: now.Add(time.Second), Urgency: 0.95, State: session.StateDispatched})
	sess.State = session.StateDispatched
	sess.Dispatch = &session.DispatchRecommendation{
		ID:        "d-1",
		SessionID: sess.ID,
		Reference: "EMG-20260301-0042",
		Priority:  session.PriorityCritical,
		Service:   "EMS",
		Category:  nlp.CategoryMedical,
		CreatedAt: now,
	}
	if err := s.Put(ctx, sess); err != nil {
		t.Fatalf("second Put: %v", err)
	}

	got, _, err := s.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.Turns) != 2 || len(got.Trend) != 2 {
		t.Fatalf("turns = %d trend = %d, want 2 and 2", len(got.Turns), len(got.Trend))
	}
	if got.Trend[1] != 0.95 {
		t.Errorf("trend[1] = %v, want 0.95", got.Trend[1])
	}
	if got.Dispatch == nil || got.Dispatch.Reference != "EMG-20260301-0042" {
		t.Errorf("dispatch = %+v", got.Dispatch)
	}
}

func TestListActive(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	active := testSession(time.Now().UTC())
	closed := testSession(time.Now().UTC())
	closed.State = session.StateClosed
	for _, sess := range []*session.Session{active, closed} {
		if err := s.Put(ctx, sess); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	list, err := s.ListActive(ctx)
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}

	var sawActive bool
	for _, sum := range list {
		if sum.ID == closed.ID {
			t.Errorf("closed session %s listed as active", closed.ID)
		}
		if sum.ID == active.ID {
			sawActive = true
			if sum.Turns != 1 {
				t.Errorf("Turns = %d, want 1", sum.Turns)
			}
		}
	}
	if !sawActive {
		t.Errorf("active session %s missing from list", active.ID)
	}
}
