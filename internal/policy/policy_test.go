package policy

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/lifeline/internal/nlp"
)

func TestDefaults_Valid(t *testing.T) {
	t.Parallel()

	if err := Validate(Defaults()); err != nil {
		t.Fatalf("Validate(Defaults()) = %v", err)
	}
}

func TestDefaults_FreshCopy(t *testing.T) {
	t.Parallel()

	a := Defaults()
	a.Keywords.Medical[0] = "mutated"
	a.Services["general"] = "mutated"

	b := Defaults()
	if b.Keywords.Medical[0] == "mutated" || b.Services["general"] == "mutated" {
		t.Fatal("Defaults must return an independent copy on each call")
	}
}

func TestParse_Overrides(t *testing.T) {
	t.Parallel()

	p, err := Parse([]byte(`
thresholds:
  empathy: 0.05
  distress: -0.6
  dispatch: 0.9
  critical: 0.9
  high: 0.6
  medium: 0.3
limits:
  loop_window: 3
  max_turns: 20
  max_message_bytes: 1024
keywords:
  medical: [unconscious]
  fire: [fire]
  violence: [gun]
  self_harm: [suicide]
services:
  fire: Brigade
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if p.Thresholds.Dispatch != 0.9 {
		t.Errorf("Dispatch = %v, want 0.9", p.Thresholds.Dispatch)
	}
	if p.Limits.LoopWindow != 3 || p.Limits.MaxTurns != 20 {
		t.Errorf("Limits = %+v, want window 3 and max turns 20", p.Limits)
	}
	if len(p.Keywords.Medical) != 1 {
		t.Errorf("Medical keywords = %v, lists must replace defaults", p.Keywords.Medical)
	}
	if p.Services["fire"] != "Brigade" {
		t.Errorf("fire service = %q, want Brigade", p.Services["fire"])
	}
	if p.Services["medical"] != "EMS" {
		t.Errorf("medical service = %q, maps must merge with defaults", p.Services["medical"])
	}
}

func TestParse_Empty(t *testing.T) {
	t.Parallel()

	p, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse(nil): %v", err)
	}
	if p.Limits.LoopWindow != Defaults().Limits.LoopWindow {
		t.Errorf("empty policy should equal defaults")
	}
}

func TestParse_Rejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		yaml    string
		wantSub string
	}{
		{"unknown field", "thresholdz:\n  empathy: 0.1\n", "thresholdz"},
		{"malformed yaml", "keywords: [unterminated\n", "parse"},
		{"tiers out of order", "thresholds:\n  empathy: 0.05\n  distress: -0.6\n  dispatch: 0.85\n  critical: 0.5\n  high: 0.6\n  medium: 0.3\n", "Critical"},
		{"loop window too small", "limits:\n  loop_window: 1\n  max_turns: 50\n  max_message_bytes: 4096\n", "LoopWindow"},
		{"bad answer kind", "checklists:\n  general:\n    - {key: location, prompt: Where?, kind: maybe}\n", "Kind"},
		{"inference to unknown key", "inferences:\n  - {match: [x], key: nope, value: y}\n", "not a checklist question"},
		{"procedure without trigger", "procedures:\n  - {name: p, script: s}\n", "needs triggers or when"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("error %q does not contain %q", err, tt.wantSub)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestMarshal_Loadable(t *testing.T) {
	t.Parallel()

	data, err := Marshal(Defaults())
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if _, err := Parse(data); err != nil {
		t.Fatalf("dumped policy does not load back: %v", err)
	}
}

func TestPolicy_Lookups(t *testing.T) {
	t.Parallel()

	p := Defaults()

	if qs := p.Checklist(nlp.CategoryMedical); len(qs) == 0 || qs[0].Key != "consciousness" {
		t.Errorf("medical checklist = %+v", qs)
	}
	if qs := p.Checklist(nlp.Category("unknown")); len(qs) == 0 || qs[0].Key != "what_happened" {
		t.Errorf("unknown category should fall back to general, got %+v", qs)
	}
	if q, ok := p.Question("breathing"); !ok || q.Kind != AnswerYesNo {
		t.Errorf("Question(breathing) = %+v, %v", q, ok)
	}
	if _, ok := p.Procedure("cpr"); !ok {
		t.Error("cpr procedure missing")
	}
	if got := p.Service(nlp.CategoryFire); got != "Fire Department" {
		t.Errorf("Service(fire) = %q", got)
	}
	if got := p.Service(nlp.Category("unknown")); got != "EMS" {
		t.Errorf("Service(unknown) = %q, want EMS", got)
	}
}

func TestCompile(t *testing.T) {
	t.Parallel()

	c := Compile(Defaults())
	kws := c.Matcher.Match("Someone is unconscious and not breathing!")
	if len(kws) < 2 {
		t.Errorf("compiled matcher found %v", kws)
	}
	s, err := c.Scorer.Score("I am terrified")
	if err != nil || s.Compound >= 0 {
		t.Errorf("compiled scorer = %+v, %v", s, err)
	}
}

func TestWatch_Reloads(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	if err := os.WriteFile(path, []byte("limits:\n  loop_window: 5\n  max_turns: 50\n  max_message_bytes: 4096\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	got := make(chan *Compiled, 4)
	stop, err := Watch(context.Background(), path, log.Nop(), func(c *Compiled) { got <- c })
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer func() { _ = stop() }()

	// invalid content is ignored
	if err := os.WriteFile(path, []byte("limits:\n  loop_window: 0\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	time.Sleep(2 * reloadDebounce)

	if err := os.WriteFile(path, []byte("limits:\n  loop_window: 7\n  max_turns: 50\n  max_message_bytes: 4096\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	select {
	case c := <-got:
		if c.Limits.LoopWindow != 7 {
			t.Errorf("reloaded LoopWindow = %d, want 7", c.Limits.LoopWindow)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
}
