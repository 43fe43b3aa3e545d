package session

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"
)

// New returns a session in StateStarted.
func New(id string, caller map[string]string, now time.Time) *Session {
	return &Session{
		ID:        id,
		Caller:    maps.Clone(caller),
		State:     StateStarted,
		Facts:     make(map[string]string),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a deep copy of s. Stores hand out clones so callers can
// mutate freely without racing other readers.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Caller = maps.Clone(s.Caller)
	cp.Facts = maps.Clone(s.Facts)
	cp.Trend = slices.Clone(s.Trend)
	cp.Triage.Asked = slices.Clone(s.Triage.Asked)
	if s.Turns != nil {
		cp.Turns = make([]Turn, len(s.Turns))
		for i := range s.Turns {
			cp.Turns[i] = s.Turns[i].clone()
		}
	}
	if s.Safety.Window != nil {
		cp.Safety.Window = make([]Signature, len(s.Safety.Window))
		for i, sig := range s.Safety.Window {
			cp.Safety.Window[i] = Signature{Keywords: slices.Clone(sig.Keywords), Urgency: sig.Urgency}
		}
	}
	if s.Dispatch != nil {
		d := s.Dispatch.Clone()
		cp.Dispatch = &d
	}
	if s.Prior != nil {
		cp.Prior = make([]DispatchRecommendation, len(s.Prior))
		for i := range s.Prior {
			cp.Prior[i] = s.Prior[i].Clone()
		}
	}
	return &cp
}

func (t Turn) clone() Turn {
	cp := t
	cp.Keywords = slices.Clone(t.Keywords)
	if t.Responses != nil {
		cp.Responses = make([]ResponderOutput, len(t.Responses))
		for i, r := range t.Responses {
			r.Metadata = maps.Clone(r.Metadata)
			cp.Responses[i] = r
		}
	}
	return cp
}

// Clone returns a deep copy of d.
func (d DispatchRecommendation) Clone() DispatchRecommendation {
	cp := d
	cp.Facts = maps.Clone(d.Facts)
	cp.Keywords = slices.Clone(d.Keywords)
	cp.Caller = maps.Clone(d.Caller)
	return cp
}

// AppendTurn adds a turn and keeps the urgency trend in step with it.
func (s *Session) AppendTurn(t Turn) {
	s.Turns = append(s.Turns, t)
	s.Trend = append(s.Trend, t.Urgency)
	s.UpdatedAt = t.Timestamp
}

// NextSeq is the sequence number of the next turn.
func (s *Session) NextSeq() int {
	return len(s.Turns) + 1
}

// TurnNumber is the turn count since creation or the last reopen, including
// a turn about to be processed.
func (s *Session) TurnNumber() int {
	return len(s.Turns) - s.TurnBase + 1
}

// LastTurn returns the most recent turn, if any.
func (s *Session) LastTurn() (Turn, bool) {
	if len(s.Turns) == 0 {
		return Turn{}, false
	}
	return s.Turns[len(s.Turns)-1], true
}

// Keywords returns every distinct keyword seen since creation or the last
// reopen, in first-seen order.
func (s *Session) Keywords() []string {
	var out []string
	seen := make(map[string]bool)
	for _, t := range s.episode() {
		for _, kw := range t.Keywords {
			if !seen[kw] {
				seen[kw] = true
				out = append(out, kw)
			}
		}
	}
	return out
}

// Transcript joins the caller messages since creation or the last reopen,
// followed by next when it is non-empty.
func (s *Session) Transcript(next string) string {
	var b strings.Builder
	for _, t := range s.episode() {
		b.WriteString(t.Message)
		b.WriteByte('\n')
	}
	b.WriteString(next)
	return b.String()
}

func (s *Session) episode() []Turn {
	if s.TurnBase >= len(s.Turns) {
		return nil
	}
	return s.Turns[s.TurnBase:]
}

// Close moves s to StateClosed. Closing a closed session is a no-op.
func (s *Session) Close(now time.Time) {
	if s.State == StateClosed {
		return
	}
	s.State = StateClosed
	s.ClosedAt = now
	s.UpdatedAt = now
}

// Reopen starts a new episode on a dispatched or closed session. The current
// recommendation moves to Prior, the triage checklist and loop breaker start
// over and the turn budget resets. Facts named in keep survive.
func (s *Session) Reopen(now time.Time, keep ...string) error {
	if !s.State.Terminal() {
		return fmt.Errorf("%w: cannot reopen a %s session", ErrInvalidTransition, s.State)
	}

	if s.Dispatch != nil {
		s.Prior = append(s.Prior, *s.Dispatch)
		s.Dispatch = nil
	}

	facts := make(map[string]string, len(keep))
	for _, k := range keep {
		if v, ok := s.Facts[k]; ok {
			facts[k] = v
		}
	}
	s.Facts = facts
	s.Triage = TriageState{}

	s.Safety.LoopCount = 0
	s.Safety.Window = nil
	s.Safety.TurnLimitReached = false

	s.TurnBase = len(s.Turns)
	s.State = StateReopened
	s.ClosedAt = time.Time{}
	s.UpdatedAt = now
	return nil
}

// Summarize returns the listing view of s.
func (s *Session) Summarize() Summary {
	return Summary{
		ID:        s.ID,
		State:     s.State,
		Turns:     len(s.Turns),
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}
