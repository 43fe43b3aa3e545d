package orchestrator

import (
	"strings"

	"github.com/elliotchance/pie/v2"

	"github.com/linnemanlabs/lifeline/internal/policy"
	"github.com/linnemanlabs/lifeline/internal/responder"
	"github.com/linnemanlabs/lifeline/internal/session"
)

// slot orders responder texts in the reply. Triage and guidance share a
// slot; when both are present guidance wins.
func slot(k session.Kind) int {
	switch k {
	case session.KindSafety:
		return 0
	case session.KindEmpathy:
		return 1
	case session.KindTriage, session.KindGuidance:
		return 2
	case session.KindDispatch:
		return 3
	default:
		return 4
	}
}

func weight(w policy.Weights, k session.Kind) float64 {
	switch k {
	case session.KindSafety:
		return w.Override
	case session.KindEmpathy:
		return w.Empathy
	case session.KindTriage:
		return w.Triage
	case session.KindGuidance:
		return w.Guidance
	case session.KindDispatch:
		return w.Dispatch
	default:
		return w.Fallback
	}
}

// merge joins responder texts into one reply and combines their
// confidences as a weighted average. A zero total weight falls back to the
// plain average.
func merge(outs []*responder.Output, w policy.Weights) (string, float64) {
	if len(outs) == 0 {
		return "", 0
	}

	guided := pie.Any(outs, func(o *responder.Output) bool { return o.Responder == session.KindGuidance })

	var slots [5][]string
	for _, o := range outs {
		if guided && o.Responder == session.KindTriage {
			continue
		}
		if text := strings.TrimSpace(o.Text); text != "" {
			s := slot(o.Responder)
			slots[s] = append(slots[s], text)
		}
	}

	var parts []string
	for _, texts := range slots {
		parts = append(parts, texts...)
	}

	var sum, total float64
	for _, o := range outs {
		wt := weight(w, o.Responder)
		sum += wt * o.Confidence
		total += wt
	}
	if total == 0 {
		return strings.Join(parts, " "), pie.Average(pie.Map(outs, func(o *responder.Output) float64 { return o.Confidence }))
	}
	return strings.Join(parts, " "), sum / total
}
