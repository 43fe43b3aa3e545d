package responder

import (
	"context"
	"maps"
	"strconv"
	"strings"

	"github.com/elliotchance/pie/v2"

	"github.com/linnemanlabs/lifeline/internal/session"
)

// Triage works through the category checklist one question per turn.
type Triage struct{}

// NewTriage returns the triage responder.
func NewTriage() *Triage { return &Triage{} }

func (*Triage) Kind() session.Kind { return session.KindTriage }

// Respond records the answer to the pending question, then asks the next
// unanswered one. When a procedure is identified for the first time its
// immediate prompt leads the reply.
func (*Triage) Respond(_ context.Context, message string, rc *Context) (*Output, error) {
	p := rc.Policy
	facts := maps.Clone(rc.Facts)
	if facts == nil {
		facts = make(map[string]string)
	}

	recorded := ""
	if pending := rc.Session.Triage.Pending; pending != "" {
		if q, ok := p.Question(pending); ok {
			if v, ok := ParseAnswer(p, q, message); ok {
				facts[pending] = v
				recorded = pending
			}
		}
	}

	var parts []string
	procedure := SelectProcedure(p, rc.Transcript, facts)
	if procedure != "" && procedure != rc.PrevProcedure {
		if pr, ok := p.Procedure(procedure); ok && pr.Immediate != "" {
			parts = append(parts, pr.Immediate)
		}
	}

	meta := map[string]string{"category": string(rc.Category)}
	if recorded != "" {
		meta["recorded"] = recorded
	}
	if procedure != "" {
		meta["procedure"] = procedure
	}

	var eff Effects
	asked := len(rc.Session.Triage.Asked)
	if q, ok := NextQuestion(p, rc.Category, facts); ok {
		parts = append(parts, q.Prompt)
		eff.Asked = q.Key
		meta["question"] = q.Key
		if !pie.Contains(rc.Session.Triage.Asked, q.Key) {
			asked++
		}
	} else {
		parts = append(parts, p.Dispatch.TriageDone)
		eff.Complete = true
	}
	eff.Facts = facts
	meta["asked"] = strconv.Itoa(asked)

	return &Output{
		ResponderOutput: session.ResponderOutput{
			Responder:  session.KindTriage,
			Text:       strings.Join(parts, " "),
			Confidence: triageConfidence(asked),
			Urgency:    rc.Analysis.Urgency,
			Metadata:   meta,
		},
		Effects: eff,
	}, nil
}

// triageConfidence grows with the number of questions asked.
func triageConfidence(asked int) float64 {
	return min(1, 0.3+min(0.15*float64(asked), 0.6)+0.2)
}
