package responder

import (
	"context"
	"strings"

	"github.com/linnemanlabs/lifeline/internal/session"
)

// Guidance gives step-by-step instructions for the identified procedure, or
// general guidance by priority tier when none matched.
type Guidance struct{}

// NewGuidance returns the guidance responder.
func NewGuidance() *Guidance { return &Guidance{} }

func (*Guidance) Kind() session.Kind { return session.KindGuidance }

// Respond implements Responder.
func (*Guidance) Respond(_ context.Context, _ string, rc *Context) (*Output, error) {
	g := rc.Policy.Guidance
	meta := map[string]string{}

	var body string
	confidence := 0.95
	if pr, ok := rc.Policy.Procedure(rc.Procedure); ok {
		body = pr.Script
		meta["procedure"] = pr.Name
	} else {
		tier := Tier(rc.Policy, PeakUrgency(rc))
		switch tier {
		case session.PriorityCritical:
			body = g.Critical
		case session.PriorityHigh:
			body = g.High
		default:
			body = g.Default
		}
		meta["tier"] = string(tier)
		confidence = 0.5
	}

	parts := make([]string, 0, 3)
	for _, s := range []string{g.Lead, body, g.Trail} {
		if s != "" {
			parts = append(parts, s)
		}
	}

	return &Output{
		ResponderOutput: session.ResponderOutput{
			Responder:  session.KindGuidance,
			Text:       strings.Join(parts, " "),
			Confidence: confidence,
			Urgency:    rc.Analysis.Urgency,
			Metadata:   meta,
		},
	}, nil
}
