// Package policy holds the content side of the call-handling engine: the
// keyword lists, thresholds, triage checklists, scripted procedures and
// reply phrases. Defaults are compiled in; operators override them with a
// YAML file that can be hot-reloaded.
package policy

import (
	"github.com/linnemanlabs/lifeline/internal/nlp"
)

// AnswerKind says how a triage answer is parsed.
type AnswerKind string

const (
	AnswerYesNo AnswerKind = "yesno"
	AnswerText  AnswerKind = "text"
)

// Policy is the complete tunable content of the engine.
type Policy struct {
	Keywords   Keywords              `yaml:"keywords"`
	Lexicon    map[string]float64    `yaml:"lexicon" validate:"omitempty,dive,gte=-4,lte=4"`
	Thresholds Thresholds            `yaml:"thresholds"`
	Limits     Limits                `yaml:"limits"`
	Safety     Safety                `yaml:"safety"`
	Checklists map[string][]Question `yaml:"checklists" validate:"required,dive,min=1,dive"`
	Inferences []Inference           `yaml:"inferences" validate:"dive"`
	Procedures []Procedure           `yaml:"procedures" validate:"dive"`
	Services   map[string]string     `yaml:"services" validate:"required,dive,required"`
	Empathy    Empathy               `yaml:"empathy"`
	Guidance   Guidance              `yaml:"guidance"`
	Dispatch   DispatchText          `yaml:"dispatch"`
	Weights    Weights               `yaml:"weights"`
	Answers    Answers               `yaml:"answers"`
}

// Keywords are the domain keyword lists, matched case-insensitively as
// substrings.
type Keywords struct {
	Medical  []string `yaml:"medical" validate:"required,min=1,dive,required"`
	Fire     []string `yaml:"fire" validate:"required,min=1,dive,required"`
	Violence []string `yaml:"violence" validate:"required,min=1,dive,required"`
	SelfHarm []string `yaml:"self_harm" validate:"required,min=1,dive,required"`
}

// Thresholds tune responder selection and dispatch priority.
type Thresholds struct {
	// Empathy is the minimum |compound| that triggers the empathy responder.
	Empathy float64 `yaml:"empathy" validate:"gte=0,lte=1"`
	// Distress is the compound at or below which breathing guidance is added.
	Distress float64 `yaml:"distress" validate:"gte=-1,lte=0"`
	// Dispatch is the urgency at or above which a recommendation is produced.
	Dispatch float64 `yaml:"dispatch" validate:"gt=0,lte=1"`
	// Priority tiers applied to the peak urgency of a session.
	Critical float64 `yaml:"critical" validate:"gt=0,lte=1,gtefield=High"`
	High     float64 `yaml:"high" validate:"gt=0,lte=1,gtefield=Medium"`
	Medium   float64 `yaml:"medium" validate:"gte=0,lte=1"`
}

// Limits are the logical caps enforced by the safety monitor and the
// turn validator.
type Limits struct {
	LoopWindow      int `yaml:"loop_window" validate:"min=2,max=50"`
	MaxTurns        int `yaml:"max_turns" validate:"min=1,max=1000"`
	MaxMessageBytes int `yaml:"max_message_bytes" validate:"min=16,max=65536"`
}

// Safety is the override content.
type Safety struct {
	Profanity    []string `yaml:"profanity" validate:"dive,required"`
	CrisisText   string   `yaml:"crisis_text" validate:"required"`
	TransferText string   `yaml:"transfer_text" validate:"required"`
	StalledText  string   `yaml:"stalled_text" validate:"required"`
}

// Question is one structured triage checklist item.
type Question struct {
	Key    string     `yaml:"key" validate:"required"`
	Prompt string     `yaml:"prompt" validate:"required"`
	Kind   AnswerKind `yaml:"kind" validate:"required,oneof=yesno text"`
}

// Inference sets a triage fact when any of its phrases appear in a message.
type Inference struct {
	Match []string `yaml:"match" validate:"required,min=1,dive,required"`
	Key   string   `yaml:"key" validate:"required"`
	Value string   `yaml:"value" validate:"required"`
}

// Procedure is a scripted set of instructions. Procedures are listed in
// priority order; the first whose triggers match wins.
type Procedure struct {
	Name string `yaml:"name" validate:"required"`
	// Triggers are keywords that select the procedure when seen in any turn.
	Triggers []string `yaml:"triggers" validate:"dive,required"`
	// When selects the procedure when all listed facts hold.
	When map[string]string `yaml:"when"`
	// Immediate is the short life-critical prompt triage leads with the
	// moment the procedure is identified. Optional.
	Immediate string `yaml:"immediate"`
	Script    string `yaml:"script" validate:"required"`
}

// Empathy holds the empathy responder's phrase banks.
type Empathy struct {
	Calming     []string `yaml:"calming" validate:"required,min=1,dive,required"`
	Validation  []string `yaml:"validation" validate:"required,min=1,dive,required"`
	Reassurance []string `yaml:"reassurance" validate:"required,min=1,dive,required"`
	Support     []string `yaml:"support"`
	Breathing   string   `yaml:"breathing" validate:"required"`
	Pain        string   `yaml:"pain"`
	Scared      string   `yaml:"scared"`
	Help        string   `yaml:"help"`
	Soften      string   `yaml:"soften"`
	Fallback    string   `yaml:"fallback" validate:"required"`
	StayOnLine  string   `yaml:"stay_on_line" validate:"required"`
}

// Guidance holds the general guidance lines used when no scripted
// procedure matches, keyed by priority tier.
type Guidance struct {
	Lead     string `yaml:"lead"`
	Trail    string `yaml:"trail"`
	Critical string `yaml:"critical" validate:"required"`
	High     string `yaml:"high" validate:"required"`
	Default  string `yaml:"default" validate:"required"`
}

// DispatchText holds the dispatch responder's reply templates.
type DispatchText struct {
	// Notified is formatted with the service name and reference number.
	Notified string `yaml:"notified" validate:"required"`
	// TriageDone is appended to triage's reply once the checklist is complete.
	TriageDone string `yaml:"triage_done" validate:"required"`
}

// Weights are the per-responder weights of the merged confidence average.
type Weights struct {
	Override float64 `yaml:"override" validate:"gte=0"`
	Empathy  float64 `yaml:"empathy" validate:"gte=0"`
	Triage   float64 `yaml:"triage" validate:"gte=0"`
	Guidance float64 `yaml:"guidance" validate:"gte=0"`
	Dispatch float64 `yaml:"dispatch" validate:"gte=0"`
	Fallback float64 `yaml:"fallback" validate:"gte=0"`
}

// Answers are the vocabularies used to parse triage answers.
type Answers struct {
	Yes     []string `yaml:"yes" validate:"required,min=1"`
	No      []string `yaml:"no" validate:"required,min=1"`
	Unknown []string `yaml:"unknown" validate:"required,min=1"`
}

// KeywordLists returns the keyword lists keyed by category.
func (p *Policy) KeywordLists() map[nlp.Category][]string {
	return map[nlp.Category][]string{
		nlp.CategoryMedical:  p.Keywords.Medical,
		nlp.CategoryFire:     p.Keywords.Fire,
		nlp.CategoryViolence: p.Keywords.Violence,
		nlp.CategorySelfHarm: p.Keywords.SelfHarm,
	}
}

// Checklist returns the checklist for a category, falling back to the
// general checklist.
func (p *Policy) Checklist(c nlp.Category) []Question {
	if qs, ok := p.Checklists[string(c)]; ok {
		return qs
	}
	return p.Checklists[string(nlp.CategoryGeneral)]
}

// Question looks up a checklist item by key across all checklists.
func (p *Policy) Question(key string) (Question, bool) {
	for _, qs := range p.Checklists {
		for _, q := range qs {
			if q.Key == key {
				return q, true
			}
		}
	}
	return Question{}, false
}

// Procedure looks up a procedure by name.
func (p *Policy) Procedure(name string) (Procedure, bool) {
	for _, pr := range p.Procedures {
		if pr.Name == name {
			return pr, true
		}
	}
	return Procedure{}, false
}

// Service maps a category to the emergency service that handles it.
func (p *Policy) Service(c nlp.Category) string {
	if s, ok := p.Services[string(c)]; ok {
		return s
	}
	return p.Services[string(nlp.CategoryGeneral)]
}

// Compiled is an immutable, ready-to-use view of a Policy.
type Compiled struct {
	*Policy
	Matcher *nlp.Matcher
	Scorer  nlp.Scorer
}

// Compile builds the matcher and sentiment scorer for p. The caller must not
// mutate p afterwards.
func Compile(p *Policy) *Compiled {
	return &Compiled{
		Policy:  p,
		Matcher: nlp.NewMatcher(nlp.DefaultOrder, p.KeywordLists()),
		Scorer:  nlp.NewVaderScorer(p.Lexicon),
	}
}
