package orchestrator

import (
	"math"
	"testing"

	"github.com/linnemanlabs/lifeline/internal/policy"
	"github.com/linnemanlabs/lifeline/internal/responder"
	"github.com/linnemanlabs/lifeline/internal/session"
)

func out(k session.Kind, text string, confidence float64) *responder.Output {
	return &responder.Output{ResponderOutput: session.ResponderOutput{Responder: k, Text: text, Confidence: confidence}}
}

func TestMerge_Order(t *testing.T) {
	t.Parallel()

	w := policy.Defaults().Weights
	tests := []struct {
		name string
		outs []*responder.Output
		want string
	}{
		{
			name: "normal turn",
			outs: []*responder.Output{out(session.KindDispatch, "D.", 1), out(session.KindTriage, "T?", 1), out(session.KindEmpathy, "E.", 1)},
			want: "E. T? D.",
		},
		{
			name: "guidance takes the triage slot",
			outs: []*responder.Output{out(session.KindEmpathy, "E.", 1), out(session.KindTriage, "T.", 1), out(session.KindGuidance, "G.", 1)},
			want: "E. G.",
		},
		{
			name: "override leads",
			outs: []*responder.Output{out(session.KindSafety, "S.", 1), out(session.KindDispatch, "D.", 1)},
			want: "S. D.",
		},
		{
			name: "fallback lines trail in order",
			outs: []*responder.Output{out(session.KindFallback, "F1.", 1), out(session.KindEmpathy, "E.", 1), out(session.KindFallback, "F2.", 1)},
			want: "E. F1. F2.",
		},
		{
			name: "blank text skipped",
			outs: []*responder.Output{out(session.KindEmpathy, "  ", 1), out(session.KindTriage, " T? ", 1)},
			want: "T?",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, _ := merge(tt.outs, w)
			if got != tt.want {
				t.Errorf("merge = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMerge_Confidence(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		w    policy.Weights
		outs []*responder.Output
		want float64
	}{
		{
			name: "weighted",
			w:    policy.Weights{Empathy: 0.2, Dispatch: 0.4},
			outs: []*responder.Output{out(session.KindEmpathy, "E", 0.9), out(session.KindDispatch, "D", 0.95)},
			want: (0.2*0.9 + 0.4*0.95) / 0.6,
		},
		{
			name: "zero weights average",
			w:    policy.Weights{},
			outs: []*responder.Output{out(session.KindEmpathy, "E", 0.9), out(session.KindTriage, "T", 0.5)},
			want: 0.7,
		},
		{
			name: "single output",
			w:    policy.Defaults().Weights,
			outs: []*responder.Output{out(session.KindSafety, "S", 1)},
			want: 1,
		},
		{
			name: "empty",
			w:    policy.Defaults().Weights,
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, got := merge(tt.outs, tt.w)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("confidence = %v, want %v", got, tt.want)
			}
		})
	}
}
