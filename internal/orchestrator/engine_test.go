package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/lifeline/internal/nlp"
	"github.com/linnemanlabs/lifeline/internal/policy"
	"github.com/linnemanlabs/lifeline/internal/responder"
	"github.com/linnemanlabs/lifeline/internal/session"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestEngine(p *policy.Policy, reg *responder.Registry) *Engine {
	if p == nil {
		p = policy.Defaults()
	}
	e := NewEngine(policy.Compile(p), reg, log.Nop())
	e.now = func() time.Time { return testNow }
	return e
}

// converse feeds msgs through the engine and returns every result.
func converse(e *Engine, sess *session.Session, msgs ...string) []*Result {
	out := make([]*Result, 0, len(msgs))
	for _, m := range msgs {
		res := e.Process(context.Background(), sess, m)
		sess = res.Session
		out = append(out, res)
	}
	return out
}

func invoked(res *Result, k session.Kind) bool {
	for _, got := range res.Invoked {
		if got == k {
			return true
		}
	}
	return false
}

type failingResponder struct {
	kind  session.Kind
	panic bool
}

func (f failingResponder) Kind() session.Kind { return f.kind }

func (f failingResponder) Respond(context.Context, string, *responder.Context) (*responder.Output, error) {
	if f.panic {
		panic("boom")
	}
	return nil, errors.New("unavailable")
}

func TestProcess_UnconsciousNotBreathing(t *testing.T) {
	t.Parallel()

	e := newTestEngine(nil, nil)
	res := e.Process(context.Background(), session.New("s-1", nil, testNow), "Someone is unconscious and not breathing!")

	for _, kw := range []string{"unconscious", "breathing"} {
		if !strings.Contains(strings.Join(res.Analysis.Keywords, ","), kw) {
			t.Errorf("keywords %v missing %q", res.Analysis.Keywords, kw)
		}
	}
	if res.Turn.Urgency < 0.6 {
		t.Errorf("urgency = %v, want >= 0.6", res.Turn.Urgency)
	}
	if !invoked(res, session.KindEmpathy) || !invoked(res, session.KindTriage) {
		t.Errorf("invoked = %v, want empathy and triage", res.Invoked)
	}
	if !strings.Contains(res.Turn.Reply, "start CPR now") {
		t.Errorf("reply missing CPR prompt: %q", res.Turn.Reply)
	}
	if res.Session.Facts["consciousness"] != "no" || res.Session.Facts["breathing"] != "no" {
		t.Errorf("facts = %v, want consciousness and breathing inferred", res.Session.Facts)
	}
	if res.Session.Triage.Pending != "bleeding" {
		t.Errorf("pending = %q, want bleeding", res.Session.Triage.Pending)
	}
	if res.Dispatch == nil || res.Dispatch.Priority != session.PriorityCritical || res.Dispatch.Reason != responder.ReasonUrgency {
		t.Fatalf("dispatch = %+v, want CRITICAL by urgency", res.Dispatch)
	}
	if res.Session.State != session.StateDispatched {
		t.Errorf("state = %s, want dispatched", res.Session.State)
	}
	if !strings.Contains(res.Turn.Reply, res.Dispatch.Reference) {
		t.Errorf("reply does not carry the reference number: %q", res.Turn.Reply)
	}
}

func TestProcess_SelfHarmEscalates(t *testing.T) {
	t.Parallel()

	p := policy.Defaults()
	e := newTestEngine(p, nil)
	res := e.Process(context.Background(), session.New("s-2", nil, testNow), "I want to kill myself")

	if res.Turn.Override != session.OverrideSelfHarm {
		t.Errorf("override = %q, want self_harm", res.Turn.Override)
	}
	if res.Session.State != session.StateEscalated {
		t.Errorf("state = %s, want escalated", res.Session.State)
	}
	if !strings.HasPrefix(res.Turn.Reply, p.Safety.CrisisText) {
		t.Errorf("reply should lead with crisis text: %q", res.Turn.Reply)
	}
	if invoked(res, session.KindTriage) || strings.Contains(res.Turn.Reply, "?") {
		t.Errorf("override turn must not ask triage questions: %q", res.Turn.Reply)
	}
	if res.Dispatch == nil || res.Dispatch.Priority != session.PriorityCritical || res.Dispatch.Category != nlp.CategorySelfHarm {
		t.Fatalf("dispatch = %+v, want CRITICAL self_harm", res.Dispatch)
	}
	if !res.Session.Safety.SelfHarm || res.Session.Safety.Triggers != 1 {
		t.Errorf("safety flags = %+v", res.Session.Safety)
	}
}

func TestProcess_EmergencyWordingIsNotSelfHarm(t *testing.T) {
	t.Parallel()

	e := newTestEngine(nil, nil)
	for i, msg := range []string{
		"Please help, my husband collapsed and I don't want to die alone here",
		"I fell down the stairs and hurt myself, my leg is bleeding",
	} {
		res := e.Process(context.Background(), session.New(fmt.Sprintf("s-sh-%d", i), nil, testNow), msg)
		if res.Turn.Override != session.OverrideNone || res.Session.State == session.StateEscalated {
			t.Errorf("%q: override = %q state = %s, want normal handling", msg, res.Turn.Override, res.Session.State)
		}
		if strings.Contains(res.Turn.Reply, "988") {
			t.Errorf("%q: reply carries crisis text: %q", msg, res.Turn.Reply)
		}
		if !invoked(res, session.KindTriage) {
			t.Errorf("%q: invoked = %v, want triage", msg, res.Invoked)
		}
		if res.Dispatch != nil && res.Dispatch.Service != "EMS" {
			t.Errorf("%q: dispatch service = %q, want EMS", msg, res.Dispatch.Service)
		}
	}
}

func TestProcess_SelfHarmKeepsEmergencyService(t *testing.T) {
	t.Parallel()

	e := newTestEngine(nil, nil)
	res := e.Process(context.Background(), session.New("s-sh-od", nil, testNow), "I took an overdose because I want to kill myself")

	if res.Turn.Override != session.OverrideSelfHarm {
		t.Fatalf("override = %q, want self_harm", res.Turn.Override)
	}
	if res.Dispatch == nil {
		t.Fatal("expected a dispatch recommendation")
	}
	if res.Dispatch.Category != nlp.CategoryMedical || res.Dispatch.Service != "EMS" || res.Dispatch.Priority != session.PriorityCritical {
		t.Errorf("dispatch = %s/%s/%s, want medical EMS CRITICAL", res.Dispatch.Category, res.Dispatch.Service, res.Dispatch.Priority)
	}
}

func TestProcess_LoopBreakerStalls(t *testing.T) {
	t.Parallel()

	e := newTestEngine(nil, nil)
	results := converse(e, session.New("s-3", nil, testNow),
		"I don't know", "I don't know", "I don't know", "I don't know", "I don't know")

	for i, res := range results[:4] {
		if res.Session.State != session.StateActive {
			t.Errorf("turn %d state = %s, want active", i+1, res.Session.State)
		}
	}

	last := results[4]
	if last.Session.State != session.StateStalled || last.Turn.Override != session.OverrideStalled {
		t.Fatalf("turn 5 state %s override %q, want stalled", last.Session.State, last.Turn.Override)
	}
	if last.Dispatch == nil || last.Dispatch.Priority.Rank() < session.PriorityMedium.Rank() {
		t.Fatalf("dispatch = %+v, want priority >= MEDIUM", last.Dispatch)
	}
	if last.Dispatch.Reason != responder.ReasonStalled {
		t.Errorf("reason = %q, want stalled", last.Dispatch.Reason)
	}
}

func TestProcess_NonAnswersDoNotFillChecklist(t *testing.T) {
	t.Parallel()

	e := newTestEngine(nil, nil)
	results := converse(e, session.New("s-3b", nil, testNow),
		"my dad collapsed in the kitchen", "please hurry", "hurry up", "what do I do", "where are you", "come on")

	for i, res := range results[1:5] {
		if res.Analysis.Answered {
			t.Errorf("turn %d counted as an answer", i+2)
		}
		if res.Session.State != session.StateActive {
			t.Errorf("turn %d state = %s, want active", i+2, res.Session.State)
		}
	}

	last := results[5]
	if len(last.Session.Facts) != 0 {
		t.Errorf("facts = %v, want none recorded from non-answers", last.Session.Facts)
	}
	if last.Session.Triage.Complete {
		t.Error("checklist should not be complete")
	}
	if last.Session.State != session.StateStalled || last.Turn.Override != session.OverrideStalled {
		t.Fatalf("turn 6 state %s override %q, want stalled", last.Session.State, last.Turn.Override)
	}
	if last.Dispatch == nil || last.Dispatch.Reason != responder.ReasonStalled {
		t.Errorf("dispatch = %+v, want stalled recommendation", last.Dispatch)
	}
}

func TestProcess_TurnLimitCloses(t *testing.T) {
	t.Parallel()

	p := policy.Defaults()
	p.Limits.MaxTurns = 3
	e := newTestEngine(p, nil)
	results := converse(e, session.New("s-4", nil, testNow),
		"I don't know", "I don't know", "I don't know", "I don't know")

	last := results[3]
	if last.Session.State != session.StateClosed || last.Turn.Override != session.OverrideTurnLimit {
		t.Fatalf("state %s override %q, want closed by turn limit", last.Session.State, last.Turn.Override)
	}
	if !strings.Contains(last.Turn.Reply, p.Safety.TransferText) {
		t.Errorf("reply missing transfer text: %q", last.Turn.Reply)
	}
	if !last.Session.ClosedAt.Equal(testNow) {
		t.Errorf("ClosedAt = %v, want %v", last.Session.ClosedAt, testNow)
	}
	if !last.Session.Safety.TurnLimitReached {
		t.Error("TurnLimitReached flag not set")
	}
}

func TestProcess_FireTriageToDispatch(t *testing.T) {
	t.Parallel()

	e := newTestEngine(nil, nil)
	results := converse(e, session.New("s-5", nil, testNow),
		"there is a fire", "12 Elm Street", "no", "nobody is hurt")

	first := results[0]
	if first.Session.Triage.Category != nlp.CategoryFire || first.Session.Triage.Pending != "location" {
		t.Errorf("turn 1 triage = %+v, want fire checklist asking location", first.Session.Triage)
	}
	if first.Dispatch != nil {
		t.Error("turn 1 should not dispatch")
	}

	if got := results[1].Session.Facts["location"]; got != "12 Elm Street" {
		t.Errorf("location = %q", got)
	}
	if got := results[2].Session.Facts["trapped"]; got != "no" {
		t.Errorf("trapped = %q, want no", got)
	}
	for i, res := range results[:3] {
		if res.Session.State != session.StateActive {
			t.Errorf("turn %d state = %s, want active", i+1, res.Session.State)
		}
	}

	last := results[3]
	if !last.Session.Triage.Complete {
		t.Error("checklist should be complete")
	}
	if !invoked(last, session.KindGuidance) {
		t.Errorf("invoked = %v, want guidance", last.Invoked)
	}
	if !strings.Contains(last.Turn.Reply, "Get everyone out now") {
		t.Errorf("reply missing fire guidance: %q", last.Turn.Reply)
	}
	if strings.Contains(last.Turn.Reply, "I have enough information") {
		t.Errorf("guidance should take the triage slot: %q", last.Turn.Reply)
	}
	if last.Dispatch == nil {
		t.Fatal("expected dispatch on checklist completion")
	}
	if last.Dispatch.Reason != responder.ReasonTriageComplete || last.Dispatch.Service != "Fire Department" || last.Dispatch.Priority != session.PriorityMedium {
		t.Errorf("dispatch = %+v", last.Dispatch)
	}
	if last.Session.State != session.StateDispatched {
		t.Errorf("state = %s, want dispatched", last.Session.State)
	}
}

func TestProcess_AtMostOneDispatch(t *testing.T) {
	t.Parallel()

	e := newTestEngine(nil, nil)
	sess := session.New("s-6", nil, testNow)
	sess.State = session.StateActive
	sess.Dispatch = &session.DispatchRecommendation{ID: "existing"}

	for _, msg := range []string{"Someone is unconscious and not breathing!", "I want to kill myself"} {
		res := e.Process(context.Background(), sess, msg)
		if res.Dispatch != nil || invoked(res, session.KindDispatch) {
			t.Errorf("%q produced a second recommendation", msg)
		}
		if res.Session.Dispatch.ID != "existing" {
			t.Errorf("%q replaced the existing recommendation", msg)
		}
		sess = res.Session
	}
}

func TestProcess_DoesNotMutateInput(t *testing.T) {
	t.Parallel()

	e := newTestEngine(nil, nil)
	sess := converse(e, session.New("s-7", nil, testNow), "there is a fire")[0].Session
	before := sess.Clone()

	_ = e.Process(context.Background(), sess, "12 Elm Street")

	if diff := cmp.Diff(before, sess); diff != "" {
		t.Errorf("input session mutated (-before +after):\n%s", diff)
	}
}

func TestProcess_Invariants(t *testing.T) {
	t.Parallel()

	e := newTestEngine(nil, nil)
	results := converse(e, session.New("s-8", nil, testNow),
		"hello?", "I don't know", "there is smoke", "damn it", "I don't know", "help", "I don't know")

	prev := session.StateStarted
	for i, res := range results {
		s := res.Session
		if len(s.Trend) != len(s.Turns) {
			t.Fatalf("turn %d: trend length %d != turns %d", i+1, len(s.Trend), len(s.Turns))
		}
		for j, turn := range s.Turns {
			if s.Trend[j] != turn.Urgency {
				t.Errorf("trend[%d] = %v, turn urgency %v", j, s.Trend[j], turn.Urgency)
			}
			if turn.Seq != j+1 {
				t.Errorf("turn %d seq = %d", j, turn.Seq)
			}
		}
		if u := res.Turn.Urgency; u < 0 || u > 1 {
			t.Errorf("urgency %v out of range", u)
		}
		if s.State.Rank() < prev.Rank() {
			t.Errorf("turn %d: state went from %s to %s", i+1, prev, s.State)
		}
		prev = s.State
		if s.State.Terminal() {
			break
		}
	}
}

func TestProcess_ResponderPanicFallsBack(t *testing.T) {
	t.Parallel()

	p := policy.Defaults()
	reg := responder.Defaults()
	reg.Register(failingResponder{kind: session.KindTriage, panic: true})
	e := newTestEngine(p, reg)

	res := e.Process(context.Background(), session.New("s-9", nil, testNow), "there is a fire")

	if !res.Fallback {
		t.Fatal("expected fallback reply")
	}
	var re *session.ResponderError
	if len(res.Errors) == 0 || !errors.As(res.Errors[0], &re) || re.Responder != session.KindTriage {
		t.Fatalf("errors = %v, want triage ResponderError", res.Errors)
	}
	if !strings.HasSuffix(res.Turn.Reply, p.Empathy.StayOnLine) {
		t.Errorf("reply should end with stay-on-line: %q", res.Turn.Reply)
	}
	if res.Session.State != session.StateActive || len(res.Session.Turns) != 1 {
		t.Errorf("state %s turns %d, want active with the turn recorded", res.Session.State, len(res.Session.Turns))
	}
	if res.Session.Triage.Pending != "" {
		t.Errorf("failed turn leaked triage state: %+v", res.Session.Triage)
	}
	if len(res.Session.Safety.Window) != 1 {
		t.Errorf("safety flags from the failed turn must be kept, window %v", res.Session.Safety.Window)
	}
}

func TestProcess_EmpathyFailureUsesStaticText(t *testing.T) {
	t.Parallel()

	p := policy.Defaults()
	reg := responder.Defaults()
	reg.Register(failingResponder{kind: session.KindEmpathy})
	e := newTestEngine(p, reg)

	res := e.Process(context.Background(), session.New("s-10", nil, testNow), "there is a fire")

	want := p.Empathy.Fallback + " " + p.Empathy.StayOnLine
	if res.Turn.Reply != want {
		t.Errorf("reply = %q, want %q", res.Turn.Reply, want)
	}
}

func TestProcess_OverrideSurvivesDispatchFailure(t *testing.T) {
	t.Parallel()

	p := policy.Defaults()
	reg := responder.Defaults()
	reg.Register(failingResponder{kind: session.KindDispatch})
	e := newTestEngine(p, reg)

	res := e.Process(context.Background(), session.New("s-11", nil, testNow), "I want to kill myself")

	if res.Session.State != session.StateEscalated {
		t.Errorf("state = %s, want escalated", res.Session.State)
	}
	if res.Dispatch != nil || res.Session.Dispatch != nil {
		t.Error("failed dispatch must not record a recommendation")
	}
	if !strings.Contains(res.Turn.Reply, p.Safety.CrisisText) || !strings.Contains(res.Turn.Reply, p.Empathy.StayOnLine) {
		t.Errorf("reply = %q", res.Turn.Reply)
	}
	if len(res.Errors) != 1 {
		t.Errorf("errors = %v, want one", res.Errors)
	}
}

func TestProcess_ScorerFailureIsNeutral(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		scorer nlp.ScorerFunc
	}{
		{"error", func(string) (nlp.Sentiment, error) { return nlp.Sentiment{}, errors.New("model offline") }},
		{"panic", func(string) (nlp.Sentiment, error) { panic("bad input") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c := policy.Compile(policy.Defaults())
			c.Scorer = tt.scorer
			e := NewEngine(c, nil, log.Nop())

			res := e.Process(context.Background(), session.New("s-12", nil, testNow), "there is a fire")

			if res.Fallback {
				t.Error("analysis failure should not replace the reply")
			}
			if res.Analysis.Sentiment.Compound != 0 || res.Turn.Urgency != 0.3 {
				t.Errorf("sentiment %v urgency %v, want neutral and keyword-only urgency", res.Analysis.Sentiment, res.Turn.Urgency)
			}
			var re *session.ResponderError
			if len(res.Errors) != 1 || !errors.As(res.Errors[0], &re) || re.Responder != session.KindAnalysis {
				t.Errorf("errors = %v, want one analysis error", res.Errors)
			}
		})
	}
}

func TestEngine_SetPolicy(t *testing.T) {
	t.Parallel()

	e := newTestEngine(nil, nil)
	p := policy.Defaults()
	p.Safety.CrisisText = "Call the crisis line."
	e.SetPolicy(policy.Compile(p))

	res := e.Process(context.Background(), session.New("s-13", nil, testNow), "I want to end my life")
	if !strings.HasPrefix(res.Turn.Reply, "Call the crisis line.") {
		t.Errorf("reply = %q, want the swapped policy's crisis text", res.Turn.Reply)
	}
}
