package responder

import (
	"context"
	"fmt"
	"hash/fnv"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/linnemanlabs/lifeline/internal/nlp"
	"github.com/linnemanlabs/lifeline/internal/session"
)

// Dispatch reasons.
const (
	ReasonUrgency        = "urgency"
	ReasonTriageComplete = "triage_complete"
	ReasonSelfHarm       = string(session.OverrideSelfHarm)
	ReasonStalled        = string(session.OverrideStalled)
	ReasonTurnLimit      = string(session.OverrideTurnLimit)
)

// reasonFloors raise the priority of forced dispatches.
var reasonFloors = map[string]session.Priority{
	ReasonSelfHarm:  session.PriorityCritical,
	ReasonStalled:   session.PriorityMedium,
	ReasonTurnLimit: session.PriorityMedium,
}

// Dispatch produces the recommendation handed to emergency services.
type Dispatch struct {
	newID func() string
}

// NewDispatch returns the dispatch responder. newID generates recommendation
// IDs; nil uses random UUIDs.
func NewDispatch(newID func() string) *Dispatch {
	if newID == nil {
		newID = uuid.NewString
	}
	return &Dispatch{newID: newID}
}

func (*Dispatch) Kind() session.Kind { return session.KindDispatch }

// Respond implements Responder.
func (d *Dispatch) Respond(_ context.Context, _ string, rc *Context) (*Output, error) {
	p := rc.Policy
	sess := rc.Session

	// A crisis call with a concrete medical, fire or violence emergency
	// still goes to that service, at the self-harm priority floor.
	category := rc.Category
	if rc.Reason == ReasonSelfHarm && category == nlp.CategoryGeneral {
		category = nlp.CategorySelfHarm
	}

	peak := PeakUrgency(rc)
	priority := Tier(p, peak)
	if floor, ok := reasonFloors[rc.Reason]; ok {
		priority = priority.AtLeast(floor)
	}

	keywords := sess.Keywords()
	for _, kw := range rc.Analysis.Keywords {
		if !slices.Contains(keywords, kw) {
			keywords = append(keywords, kw)
		}
	}

	service := p.Service(category)
	rec := &session.DispatchRecommendation{
		ID:        d.newID(),
		SessionID: sess.ID,
		Reference: Reference(sess.ID, len(sess.Prior), rc.Now),
		Priority:  priority,
		Service:   service,
		Reason:    rc.Reason,
		Category:  category,
		Urgency:   peak,
		Facts:     maps.Clone(rc.Facts),
		Keywords:  keywords,
		Caller:    maps.Clone(sess.Caller),
		CreatedAt: rc.Now,
	}
	rec.Summary = Summarize(rec)

	return &Output{
		ResponderOutput: session.ResponderOutput{
			Responder:  session.KindDispatch,
			Text:       fmt.Sprintf(p.Dispatch.Notified, service, rec.Reference),
			Confidence: 0.95,
			Urgency:    peak,
			Metadata: map[string]string{
				"reference": rec.Reference,
				"priority":  string(priority),
				"service":   service,
				"reason":    rc.Reason,
			},
		},
		Effects: Effects{Dispatch: rec},
	}, nil
}

// Reference builds the human-readable reference number EMG-YYYYMMDD-NNNN.
// The number is derived from the session ID and how many recommendations
// the session already had, so it is stable for a given dispatch.
func Reference(sessionID string, prior int, now time.Time) string {
	h := fnv.New32a()
	fmt.Fprintf(h, "%s/%d", sessionID, prior)
	return fmt.Sprintf("EMG-%s-%04d", now.UTC().Format("20060102"), h.Sum32()%10000)
}

// Summarize renders a one-line description of a recommendation for
// dispatchers.
func Summarize(rec *session.DispatchRecommendation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s emergency, priority %s (%s)", rec.Category, rec.Priority, rec.Reason)
	if len(rec.Keywords) > 0 {
		fmt.Fprintf(&b, "; keywords: %s", strings.Join(rec.Keywords, ", "))
	}
	if len(rec.Facts) > 0 {
		keys := slices.Sorted(maps.Keys(rec.Facts))
		pairs := make([]string, 0, len(keys))
		for _, k := range keys {
			pairs = append(pairs, k+"="+rec.Facts[k])
		}
		fmt.Fprintf(&b, "; facts: %s", strings.Join(pairs, ", "))
	}
	return b.String()
}
