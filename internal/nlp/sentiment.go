package nlp

import (
	"maps"
	"math"
	"strings"

	"github.com/jonreiter/govader"
)

// Sentiment is a polarity reading for one message. Compound is normalized
// to [-1, 1] where negative means distress; Pos, Neg and Neu are the
// proportions of the text falling in each bucket and sum to 1.
type Sentiment struct {
	Compound float64 `json:"compound"`
	Pos      float64 `json:"pos"`
	Neg      float64 `json:"neg"`
	Neu      float64 `json:"neu"`
}

// Scorer computes a Sentiment for a message.
type Scorer interface {
	Score(text string) (Sentiment, error)
}

// ScorerFunc adapts a plain function to Scorer.
type ScorerFunc func(text string) (Sentiment, error)

// Score implements Scorer.
func (f ScorerFunc) Score(text string) (Sentiment, error) { return f(text) }

// VaderScorer scores text with VADER: lexicon valences adjusted for
// negation, boosters, capitalization and punctuation, normalized into a
// compound in [-1, 1]. The analyzer is only read after construction, so a
// VaderScorer is safe for concurrent use.
type VaderScorer struct {
	sia *govader.SentimentIntensityAnalyzer
}

// NewVaderScorer returns a scorer over the stock VADER lexicon with extra
// entries layered on top. Keys are lowercased; values use VADER's -4..4
// scale.
func NewVaderScorer(extra map[string]float64) *VaderScorer {
	sia := govader.NewSentimentIntensityAnalyzer()
	if len(extra) > 0 {
		lex := maps.Clone(sia.Lexicon)
		for k, v := range extra {
			lex[strings.ToLower(strings.TrimSpace(k))] = v
		}
		sia.Lexicon = lex
	}
	return &VaderScorer{sia: sia}
}

// Score implements Scorer. It never fails; the error return exists for
// scorers backed by models or remote services.
func (s *VaderScorer) Score(text string) (Sentiment, error) {
	if strings.TrimSpace(text) == "" {
		return Sentiment{Neu: 1}, nil
	}
	r := s.sia.PolarityScores(text)
	return Sentiment{
		Compound: clamp(r.Compound),
		Pos:      r.Positive,
		Neg:      r.Negative,
		Neu:      r.Neutral,
	}, nil
}

func clamp(f float64) float64 {
	if math.IsNaN(f) {
		return 0
	}
	return math.Max(-1, math.Min(1, f))
}

// Emotion is a coarse emotional-state label derived from a Sentiment.
type Emotion string

const (
	EmotionHighlyDistressed Emotion = "highly_distressed"
	EmotionDistressed       Emotion = "distressed"
	EmotionAnxious          Emotion = "anxious"
	EmotionCalm             Emotion = "calm"
	EmotionNeutral          Emotion = "neutral"
)

// Classify maps a Sentiment onto an Emotion.
func Classify(s Sentiment) Emotion {
	switch {
	case s.Neg > 0.6:
		return EmotionHighlyDistressed
	case s.Neg > 0.3:
		return EmotionDistressed
	case s.Compound < -0.3:
		return EmotionAnxious
	case s.Pos > 0.5:
		return EmotionCalm
	default:
		return EmotionNeutral
	}
}

// Distressed reports whether the emotion calls for calming language.
func (e Emotion) Distressed() bool {
	return e == EmotionHighlyDistressed || e == EmotionDistressed
}
