// Package safety enforces the limits that override normal responder
// selection: crisis language, runaway conversations and the per-session turn
// cap. It also tracks profanity so replies can soften their tone.
package safety

import (
	"slices"

	"github.com/linnemanlabs/lifeline/internal/nlp"
	"github.com/linnemanlabs/lifeline/internal/policy"
	"github.com/linnemanlabs/lifeline/internal/session"
)

// Verdict is the outcome of a safety evaluation for one turn.
type Verdict struct {
	// Override is set when normal selection must be skipped.
	Override session.Override
	// State is the state the override forces, empty when none.
	State session.State
	// Text is the override reply, including crisis resources whenever
	// self-harm language was detected.
	Text string

	SelfHarm  bool
	Profanity bool
	// Soften asks the empathy responder to soften its tone.
	Soften bool
	// Stagnant reports the loop breaker counted this turn.
	Stagnant bool
}

// Forced reports whether the verdict overrides normal selection.
func (v Verdict) Forced() bool {
	return v.Override != session.OverrideNone
}

// Monitor evaluates each turn before responders run.
type Monitor struct {
	policy *policy.Compiled
}

// New returns a Monitor for the given policy.
func New(p *policy.Compiled) *Monitor {
	return &Monitor{policy: p}
}

// Evaluate inspects the incoming turn and records every action it takes on
// sess.Safety. It must be called before the turn is appended. Forced state
// precedence is turn limit, then self-harm, then the loop breaker.
func (m *Monitor) Evaluate(sess *session.Session, a session.Analysis) Verdict {
	p := m.policy
	flags := &sess.Safety
	var v Verdict

	if nlp.ContainsToken(a.Message, p.Safety.Profanity) {
		flags.ProfanityCount++
		v.Profanity = true
		v.Soften = true
	}

	hits := p.Matcher.MatchCategory(nlp.CategorySelfHarm, a.Message)
	if slices.ContainsFunc(hits, func(kw string) bool { return !nlp.Negated(a.Message, kw) }) {
		flags.SelfHarm = true
		v.SelfHarm = true
	}

	stalled := m.trackLoop(sess, a, &v)

	switch {
	case sess.TurnNumber() > p.Limits.MaxTurns:
		flags.TurnLimitReached = true
		v.Override = session.OverrideTurnLimit
		v.State = session.StateClosed
		v.Text = p.Safety.TransferText
		if v.SelfHarm {
			v.Text += " " + p.Safety.CrisisText
		}
	case v.SelfHarm:
		v.Override = session.OverrideSelfHarm
		v.State = session.StateEscalated
		v.Text = p.Safety.CrisisText
	case stalled:
		v.Override = session.OverrideStalled
		v.State = session.StateStalled
		v.Text = p.Safety.StalledText
	}

	if v.Forced() {
		flags.Triggers++
		flags.LastOverride = v.Override
	}
	return v
}

// trackLoop updates the loop breaker and reports whether it fired. The
// breaker is only armed before the session stalls or escalates.
func (m *Monitor) trackLoop(sess *session.Session, a session.Analysis, v *Verdict) bool {
	if sess.State.Rank() >= session.StateStalled.Rank() {
		return false
	}

	k := m.policy.Limits.LoopWindow
	flags := &sess.Safety

	if Stagnant(flags.Window, previousUrgency(sess), a) {
		flags.LoopCount++
		v.Stagnant = true
	} else {
		flags.LoopCount = 0
	}

	flags.Window = append(flags.Window, session.Signature{
		Keywords: slices.Clone(a.Keywords),
		Urgency:  a.Urgency,
	})
	if len(flags.Window) > k {
		flags.Window = slices.Clone(flags.Window[len(flags.Window)-k:])
	}

	return flags.LoopCount >= k
}

// Stagnant reports whether a turn makes no progress: it adds no keyword
// absent from the window, its urgency does not rise above the previous
// turn's, and it does not answer the pending triage question.
func Stagnant(window []session.Signature, prevUrgency float64, a session.Analysis) bool {
	if a.Answered || a.Urgency > prevUrgency {
		return false
	}
	seen := make(map[string]bool)
	for _, sig := range window {
		for _, kw := range sig.Keywords {
			seen[kw] = true
		}
	}
	for _, kw := range a.Keywords {
		if !seen[kw] {
			return false
		}
	}
	return true
}

// previousUrgency is the urgency of the last turn since creation or reopen,
// or 0 when there is none.
func previousUrgency(sess *session.Session) float64 {
	if len(sess.Turns) <= sess.TurnBase {
		return 0
	}
	return sess.Turns[len(sess.Turns)-1].Urgency
}
