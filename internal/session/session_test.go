package session

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestState_Rank(t *testing.T) {
	t.Parallel()

	order := []State{StateStarted, StateActive, StateStalled, StateEscalated, StateDispatched, StateClosed}
	for i := 1; i < len(order); i++ {
		if order[i].Rank() <= order[i-1].Rank() {
			t.Errorf("%s rank %d should exceed %s rank %d", order[i], order[i].Rank(), order[i-1], order[i-1].Rank())
		}
	}
	if StateReopened.Rank() != StateActive.Rank() {
		t.Errorf("reopened rank = %d, want active rank %d", StateReopened.Rank(), StateActive.Rank())
	}
	if State("bogus").Rank() >= 0 {
		t.Error("unknown state should rank below started")
	}
}

func TestState_Advance(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from, next, want State
	}{
		{StateStarted, StateActive, StateActive},
		{StateActive, StateDispatched, StateDispatched},
		{StateEscalated, StateActive, StateEscalated},
		{StateEscalated, StateDispatched, StateDispatched},
		{StateDispatched, StateStalled, StateDispatched},
		{StateStalled, StateClosed, StateClosed},
	}
	for _, tt := range tests {
		if got := tt.from.Advance(tt.next); got != tt.want {
			t.Errorf("%s.Advance(%s) = %s, want %s", tt.from, tt.next, got, tt.want)
		}
	}
}

func TestState_Terminal(t *testing.T) {
	t.Parallel()

	for _, s := range []State{StateStarted, StateActive, StateReopened, StateStalled, StateEscalated} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
	for _, s := range []State{StateDispatched, StateClosed} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
}

func TestPriority_AtLeast(t *testing.T) {
	t.Parallel()

	if got := PriorityLow.AtLeast(PriorityMedium); got != PriorityMedium {
		t.Errorf("LOW.AtLeast(MEDIUM) = %s", got)
	}
	if got := PriorityCritical.AtLeast(PriorityMedium); got != PriorityCritical {
		t.Errorf("CRITICAL.AtLeast(MEDIUM) = %s", got)
	}
}

func sampleSession() *Session {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := New("s-1", map[string]string{"phone": "555-0100"}, now)
	s.Facts["location"] = "5th and Main"
	s.Triage.Asked = []string{"consciousness"}
	s.Safety.Window = []Signature{{Keywords: []string{"fire"}, Urgency: 0.5}}
	s.AppendTurn(Turn{
		Seq:       1,
		Message:   "there is a fire",
		Timestamp: now.Add(time.Second),
		Urgency:   0.5,
		Keywords:  []string{"fire"},
		Responses: []ResponderOutput{{Responder: KindTriage, Text: "Where?", Metadata: map[string]string{"question": "location"}}},
	})
	s.Dispatch = &DispatchRecommendation{ID: "d-1", Facts: map[string]string{"location": "5th and Main"}, Keywords: []string{"fire"}}
	s.Prior = []DispatchRecommendation{{ID: "d-0", Keywords: []string{"smoke"}}}
	return s
}

func TestClone_Deep(t *testing.T) {
	t.Parallel()

	orig := sampleSession()
	cp := orig.Clone()

	if diff := cmp.Diff(orig, cp); diff != "" {
		t.Fatalf("clone differs (-orig +clone):\n%s", diff)
	}

	cp.Caller["phone"] = "x"
	cp.Facts["location"] = "x"
	cp.Triage.Asked[0] = "x"
	cp.Safety.Window[0].Keywords[0] = "x"
	cp.Turns[0].Keywords[0] = "x"
	cp.Turns[0].Responses[0].Metadata["question"] = "x"
	cp.Trend[0] = 0.9
	cp.Dispatch.Facts["location"] = "x"
	cp.Prior[0].Keywords[0] = "x"

	if diff := cmp.Diff(sampleSession(), orig); diff != "" {
		t.Errorf("mutating the clone changed the original (-want +got):\n%s", diff)
	}
}

func TestClone_Nil(t *testing.T) {
	t.Parallel()

	var s *Session
	if s.Clone() != nil {
		t.Error("Clone of nil should be nil")
	}
}

func TestAppendTurn_KeepsTrend(t *testing.T) {
	t.Parallel()

	s := New("s-2", nil, time.Now())
	for i, u := range []float64{0.1, 0.7, 0.4} {
		s.AppendTurn(Turn{Seq: i + 1, Urgency: u, Timestamp: time.Now()})
	}
	if diff := cmp.Diff([]float64{0.1, 0.7, 0.4}, s.Trend); diff != "" {
		t.Errorf("trend mismatch (-want +got):\n%s", diff)
	}
	if len(s.Trend) != len(s.Turns) {
		t.Errorf("trend len %d != turns len %d", len(s.Trend), len(s.Turns))
	}
	if s.NextSeq() != 4 {
		t.Errorf("NextSeq = %d, want 4", s.NextSeq())
	}
}

func TestTurnNumber_AfterReopen(t *testing.T) {
	t.Parallel()

	s := New("s-3", nil, time.Now())
	s.AppendTurn(Turn{Seq: 1})
	s.AppendTurn(Turn{Seq: 2})
	if s.TurnNumber() != 3 {
		t.Errorf("TurnNumber = %d, want 3", s.TurnNumber())
	}
	s.TurnBase = len(s.Turns)
	if s.TurnNumber() != 1 {
		t.Errorf("TurnNumber after reopen = %d, want 1", s.TurnNumber())
	}
}

func TestKeywords_Distinct(t *testing.T) {
	t.Parallel()

	s := New("s-4", nil, time.Now())
	s.AppendTurn(Turn{Keywords: []string{"fire", "smoke"}})
	s.AppendTurn(Turn{Keywords: []string{"smoke", "trapped"}})

	if diff := cmp.Diff([]string{"fire", "smoke", "trapped"}, s.Keywords()); diff != "" {
		t.Errorf("keywords mismatch (-want +got):\n%s", diff)
	}
}

func TestKeywordsAndTranscript_SinceReopen(t *testing.T) {
	t.Parallel()

	s := New("s-5", nil, time.Now())
	s.AppendTurn(Turn{Message: "there is a fire", Keywords: []string{"fire"}})
	s.TurnBase = len(s.Turns)
	s.AppendTurn(Turn{Message: "he collapsed", Keywords: []string{"collapsed"}})

	if diff := cmp.Diff([]string{"collapsed"}, s.Keywords()); diff != "" {
		t.Errorf("keywords mismatch (-want +got):\n%s", diff)
	}
	if got := s.Transcript("not breathing"); got != "he collapsed\nnot breathing" {
		t.Errorf("Transcript = %q", got)
	}
}

func TestResponderError_Unwrap(t *testing.T) {
	t.Parallel()

	inner := errors.New("boom")
	err := error(&ResponderError{Responder: KindTriage, Err: inner})
	if !errors.Is(err, inner) {
		t.Error("ResponderError should unwrap to its cause")
	}
	if err.Error() != "responder triage: boom" {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestClose(t *testing.T) {
	t.Parallel()

	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := New("s-6", nil, created)
	closed := created.Add(time.Minute)
	s.Close(closed)
	if s.State != StateClosed || !s.ClosedAt.Equal(closed) {
		t.Fatalf("after Close: state %s closed_at %v", s.State, s.ClosedAt)
	}

	s.Close(closed.Add(time.Hour))
	if !s.ClosedAt.Equal(closed) {
		t.Error("closing twice must keep the first ClosedAt")
	}
}

func TestReopen(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := New("s-7", nil, now)
	s.AppendTurn(Turn{Seq: 1, Keywords: []string{"fire"}})
	s.Facts = map[string]string{"location": "12 Elm St", "trapped": "yes"}
	s.Triage = TriageState{Category: "fire", Asked: []string{"trapped"}, Complete: true}
	s.Safety = SafetyFlags{LoopCount: 3, Window: []Signature{{Urgency: 0.1}}, ProfanityCount: 2, Triggers: 1}
	s.Dispatch = &DispatchRecommendation{ID: "d-1", Reference: "EMG-20260102-0001"}
	s.State = StateDispatched

	if err := s.Reopen(now.Add(time.Hour), "location"); err != nil {
		t.Fatalf("Reopen: %v", err)
	}

	if s.State != StateReopened {
		t.Errorf("state = %s, want reopened", s.State)
	}
	if s.Dispatch != nil || len(s.Prior) != 1 || s.Prior[0].ID != "d-1" {
		t.Errorf("dispatch not archived: current %v prior %v", s.Dispatch, s.Prior)
	}
	if diff := cmp.Diff(map[string]string{"location": "12 Elm St"}, s.Facts); diff != "" {
		t.Errorf("facts mismatch (-want +got):\n%s", diff)
	}
	if s.Triage.Complete || len(s.Triage.Asked) != 0 {
		t.Errorf("triage not reset: %+v", s.Triage)
	}
	if s.Safety.LoopCount != 0 || s.Safety.Window != nil {
		t.Errorf("loop breaker not reset: %+v", s.Safety)
	}
	if s.Safety.ProfanityCount != 2 || s.Safety.Triggers != 1 {
		t.Errorf("safety history should survive reopen: %+v", s.Safety)
	}
	if s.TurnNumber() != 1 || len(s.Turns) != 1 {
		t.Errorf("turn budget not reset: number %d turns %d", s.TurnNumber(), len(s.Turns))
	}
}

func TestReopen_RejectsLiveSession(t *testing.T) {
	t.Parallel()

	for _, st := range []State{StateStarted, StateActive, StateStalled, StateEscalated, StateReopened} {
		s := New("s-8", nil, time.Now())
		s.State = st
		if err := s.Reopen(time.Now()); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("Reopen from %s = %v, want ErrInvalidTransition", st, err)
		}
	}
}
