package responder

import (
	"context"
	"strconv"
	"strings"

	"github.com/linnemanlabs/lifeline/internal/nlp"
	"github.com/linnemanlabs/lifeline/internal/session"
)

// Empathy keeps the caller calm. Phrase choice is indexed by turn count so
// replies are reproducible.
type Empathy struct{}

// NewEmpathy returns the empathy responder.
func NewEmpathy() *Empathy { return &Empathy{} }

func (*Empathy) Kind() session.Kind { return session.KindEmpathy }

// Respond implements Responder.
func (*Empathy) Respond(_ context.Context, message string, rc *Context) (*Output, error) {
	e := rc.Policy.Empathy
	a := rc.Analysis
	turn := len(rc.Session.Turns)

	var bank []string
	switch {
	case rc.Session.TurnNumber() == 1 || a.Emotion.Distressed():
		bank = e.Calming
	case a.Emotion == nlp.EmotionAnxious:
		bank = e.Validation
	default:
		bank = e.Reassurance
	}

	var parts []string
	if rc.Soften && e.Soften != "" {
		parts = append(parts, e.Soften)
	}
	parts = append(parts, bank[turn%len(bank)])

	lower := strings.ToLower(message)
	switch {
	case strings.Contains(lower, "pain") && e.Pain != "":
		parts = append(parts, e.Pain)
	case (strings.Contains(lower, "scared") || strings.Contains(lower, "afraid")) && e.Scared != "":
		parts = append(parts, e.Scared)
	case strings.Contains(lower, "help") && e.Help != "":
		parts = append(parts, e.Help)
	}

	if a.Sentiment.Compound <= rc.Policy.Thresholds.Distress {
		parts = append(parts, e.Breathing)
	}

	return &Output{
		ResponderOutput: session.ResponderOutput{
			Responder:  session.KindEmpathy,
			Text:       strings.Join(parts, " "),
			Confidence: 0.9,
			Urgency:    a.Urgency,
			Metadata: map[string]string{
				"emotion":       string(a.Emotion),
				"empathy_score": strconv.FormatFloat(EmpathyScore(a.Sentiment), 'f', 2, 64),
			},
		},
	}, nil
}

// EmpathyScore rates how strongly a reply should lean on empathy, from the
// negative share of the message.
func EmpathyScore(s nlp.Sentiment) float64 {
	switch {
	case s.Neg > 0.5:
		return min(0.9, 0.5+s.Neg*0.4)
	case s.Neg > 0.2:
		return min(0.7, 0.3+s.Neg*0.4)
	default:
		return 0.5
	}
}

// WantsEmpathy reports whether the empathy responder should run: on the
// first turn, when sentiment is strong enough, or when the caller asks for
// support.
func WantsEmpathy(rc *Context, message string) bool {
	if rc.Session.TurnNumber() == 1 {
		return true
	}
	if abs(rc.Analysis.Sentiment.Compound) > rc.Policy.Thresholds.Empathy {
		return true
	}
	return nlp.ContainsAny(message, rc.Policy.Empathy.Support)
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
