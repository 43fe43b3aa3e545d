package session

import "github.com/linnemanlabs/lifeline/internal/nlp"

// Analysis is the per-turn reading of a caller message, computed once by
// the engine and shared by the safety monitor and the responders.
type Analysis struct {
	Message   string
	Keywords  []string
	Sentiment nlp.Sentiment
	Emotion   nlp.Emotion
	Urgency   float64

	// Answered is true when the message answers the pending triage question.
	Answered bool
}
