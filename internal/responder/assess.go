package responder

import (
	"maps"
	"strings"

	"github.com/elliotchance/pie/v2"

	"github.com/linnemanlabs/lifeline/internal/nlp"
	"github.com/linnemanlabs/lifeline/internal/policy"
	"github.com/linnemanlabs/lifeline/internal/session"
	"github.com/linnemanlabs/lifeline/internal/urgency"
)

// Well-known caller metadata keys.
const (
	CallerPhone     = "phone"
	CallerAddress   = "address"
	CallerLatitude  = "latitude"
	CallerLongitude = "longitude"
)

// InferFacts returns facts with any values implied by the message applied,
// plus the caller's location from metadata when it is not yet known. The
// input map is not modified.
func InferFacts(p *policy.Compiled, facts map[string]string, message string, caller map[string]string) map[string]string {
	out := maps.Clone(facts)
	if out == nil {
		out = make(map[string]string)
	}
	for _, inf := range p.Inferences {
		if nlp.ContainsAny(message, inf.Match) {
			out[inf.Key] = inf.Value
		}
	}
	if _, ok := out["location"]; !ok {
		if loc := CallerLocation(caller); loc != "" {
			out["location"] = loc
		}
	}
	return out
}

// CallerLocation derives a location from caller metadata: the address when
// present, otherwise "lat,long".
func CallerLocation(caller map[string]string) string {
	if addr := strings.TrimSpace(caller[CallerAddress]); addr != "" {
		return addr
	}
	lat, long := strings.TrimSpace(caller[CallerLatitude]), strings.TrimSpace(caller[CallerLongitude])
	if lat != "" && long != "" {
		return lat + "," + long
	}
	return ""
}

// NextQuestion returns the first checklist question for c without a fact.
func NextQuestion(p *policy.Compiled, c nlp.Category, facts map[string]string) (policy.Question, bool) {
	for _, q := range p.Checklist(c) {
		if _, ok := facts[q.Key]; !ok {
			return q, true
		}
	}
	return policy.Question{}, false
}

// ChecklistComplete reports whether every checklist question for c has a fact.
func ChecklistComplete(p *policy.Compiled, c nlp.Category, facts map[string]string) bool {
	_, pending := NextQuestion(p, c, facts)
	return !pending
}

// SelectProcedure returns the highest-priority procedure whose triggers
// appear in the transcript or whose fact conditions all hold, or "" when
// none applies.
func SelectProcedure(p *policy.Compiled, transcript string, facts map[string]string) string {
	for _, pr := range p.Procedures {
		if nlp.ContainsAny(transcript, pr.Triggers) {
			return pr.Name
		}
		if len(pr.When) > 0 && factsHold(pr.When, facts) {
			return pr.Name
		}
	}
	return ""
}

func factsHold(want, facts map[string]string) bool {
	for k, v := range want {
		if !strings.EqualFold(facts[k], v) {
			return false
		}
	}
	return true
}

// ParseAnswer interprets text as an answer to q. "I don't know" and the like
// are not answers. A yes/no question takes a leading yes or no word, or the
// only polarity present anywhere in the reply; a reply with neither, or with
// both and no leading word, is not an answer. Any other reply is recorded
// verbatim.
func ParseAnswer(p *policy.Compiled, q policy.Question, text string) (string, bool) {
	text = strings.TrimSpace(text)
	if text == "" || nlp.ContainsAny(text, p.Answers.Unknown) {
		return "", false
	}
	if q.Kind != policy.AnswerYesNo {
		return text, true
	}

	toks := nlp.Tokens(text)
	if len(toks) == 0 {
		return "", false
	}
	switch {
	case pie.Contains(p.Answers.Yes, toks[0]):
		return "yes", true
	case pie.Contains(p.Answers.No, toks[0]):
		return "no", true
	}

	yes := pie.Any(toks, func(tok string) bool { return pie.Contains(p.Answers.Yes, tok) })
	no := pie.Any(toks, func(tok string) bool { return pie.Contains(p.Answers.No, tok) })
	switch {
	case yes && !no:
		return "yes", true
	case no && !yes:
		return "no", true
	}
	return "", false
}

// Answers reports whether message answers the session's pending question.
func Answers(p *policy.Compiled, sess *session.Session, message string) bool {
	if sess.Triage.Pending == "" {
		return false
	}
	q, ok := p.Question(sess.Triage.Pending)
	if !ok {
		return false
	}
	_, ok = ParseAnswer(p, q, message)
	return ok
}

// Tier maps an urgency score to a dispatch priority.
func Tier(p *policy.Compiled, u float64) session.Priority {
	switch {
	case u >= p.Thresholds.Critical:
		return session.PriorityCritical
	case u >= p.Thresholds.High:
		return session.PriorityHigh
	case u >= p.Thresholds.Medium:
		return session.PriorityMedium
	default:
		return session.PriorityLow
	}
}

// PeakUrgency is the highest urgency of the session including this turn.
func PeakUrgency(rc *Context) float64 {
	return max(urgency.Peak(rc.Session.Trend), rc.Analysis.Urgency)
}
