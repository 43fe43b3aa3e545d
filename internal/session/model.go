package session

import (
	"time"

	"github.com/linnemanlabs/lifeline/internal/nlp"
)

// State tracks where a session is in its lifecycle.
type State string

const (
	// StateStarted means created, no turn processed yet
	StateStarted State = "started"

	// StateActive means the conversation is in progress
	StateActive State = "active"

	// StateReopened means an operator reopened a finished session
	StateReopened State = "reopened"

	// StateStalled means the loop breaker fired
	StateStalled State = "stalled"

	// StateEscalated means a crisis signal forced escalation
	StateEscalated State = "escalated"

	// StateDispatched means a dispatch recommendation was produced
	StateDispatched State = "dispatched"

	// StateClosed means the session ended
	StateClosed State = "closed"
)

// Rank orders states for the monotonic-lifecycle invariant. Reopened shares
// a rank with Active since it is a way back into the conversation.
func (s State) Rank() int {
	switch s {
	case StateStarted:
		return 0
	case StateActive, StateReopened:
		return 1
	case StateStalled:
		return 2
	case StateEscalated:
		return 3
	case StateDispatched:
		return 4
	case StateClosed:
		return 5
	default:
		return -1
	}
}

// Terminal reports whether the state rejects further turns.
func (s State) Terminal() bool {
	return s == StateDispatched || s == StateClosed
}

// Advance returns the later of s and next by rank, so a transition can never
// move a session backwards.
func (s State) Advance(next State) State {
	if next.Rank() > s.Rank() {
		return next
	}
	return s
}

// Kind identifies a responder.
type Kind string

const (
	KindEmpathy  Kind = "empathy"
	KindTriage   Kind = "triage"
	KindGuidance Kind = "guidance"
	KindDispatch Kind = "dispatch"

	// KindSafety marks the safety monitor's override output.
	KindSafety Kind = "safety"

	// KindFallback marks the stay-on-the-line line added after a failure.
	KindFallback Kind = "fallback"

	// KindAnalysis marks failures in message analysis rather than a
	// responder.
	KindAnalysis Kind = "analysis"
)

// Override names a forced transition raised by the safety monitor.
type Override string

const (
	OverrideNone      Override = ""
	OverrideSelfHarm  Override = "self_harm"
	OverrideStalled   Override = "stalled"
	OverrideTurnLimit Override = "turn_limit"
)

// Priority is a dispatch priority tier.
type Priority string

const (
	PriorityLow      Priority = "LOW"
	PriorityMedium   Priority = "MEDIUM"
	PriorityHigh     Priority = "HIGH"
	PriorityCritical Priority = "CRITICAL"
)

// Rank orders priorities from LOW (0) to CRITICAL (3).
func (p Priority) Rank() int {
	switch p {
	case PriorityMedium:
		return 1
	case PriorityHigh:
		return 2
	case PriorityCritical:
		return 3
	default:
		return 0
	}
}

// AtLeast returns the higher of p and floor.
func (p Priority) AtLeast(floor Priority) Priority {
	if floor.Rank() > p.Rank() {
		return floor
	}
	return p
}

// Session is one caller conversation.
type Session struct {
	ID        string                   `json:"id"`
	Caller    map[string]string        `json:"caller,omitempty"`
	State     State                    `json:"state"`
	Turns     []Turn                   `json:"turns"`
	Trend     []float64                `json:"urgency_trend"`
	Facts     map[string]string        `json:"facts,omitempty"`
	Triage    TriageState              `json:"triage"`
	Safety    SafetyFlags              `json:"safety"`
	Dispatch  *DispatchRecommendation  `json:"dispatch,omitempty"`
	Prior     []DispatchRecommendation `json:"prior_dispatches,omitempty"`
	TurnBase  int                      `json:"turn_base"`
	CreatedAt time.Time                `json:"created_at"`
	UpdatedAt time.Time                `json:"updated_at"`
	ClosedAt  time.Time                `json:"closed_at"`
}

// TriageState is what triage has established so far.
type TriageState struct {
	Category  nlp.Category `json:"category,omitempty"`
	Procedure string       `json:"procedure,omitempty"`
	Asked     []string     `json:"asked,omitempty"`
	Pending   string       `json:"pending,omitempty"`
	Complete  bool         `json:"complete"`
}

// SafetyFlags record every action the safety monitor took.
type SafetyFlags struct {
	SelfHarm         bool        `json:"self_harm"`
	LoopCount        int         `json:"loop_count"`
	ProfanityCount   int         `json:"profanity_count"`
	Triggers         int         `json:"triggers"`
	TurnLimitReached bool        `json:"turn_limit_reached"`
	LastOverride     Override    `json:"last_override,omitempty"`
	Window           []Signature `json:"window,omitempty"`
}

// Signature is the loop breaker's fingerprint of one turn.
type Signature struct {
	Keywords []string `json:"keywords,omitempty"`
	Urgency  float64  `json:"urgency"`
}

// Turn is one caller message and the reply it received. Turns are immutable
// once appended.
type Turn struct {
	Seq        int               `json:"seq"`
	Message    string            `json:"message"`
	Timestamp  time.Time         `json:"timestamp"`
	Urgency    float64           `json:"urgency"`
	Sentiment  float64           `json:"sentiment"`
	Emotion    nlp.Emotion       `json:"emotion"`
	Keywords   []string          `json:"keywords,omitempty"`
	Reply      string            `json:"reply"`
	Responses  []ResponderOutput `json:"responses,omitempty"`
	Confidence float64           `json:"confidence"`
	Latency    float64           `json:"latency_seconds"`
	State      State             `json:"state"`
	Override   Override          `json:"override,omitempty"`
}

// ResponderOutput is a single responder's contribution to a turn.
type ResponderOutput struct {
	Responder  Kind              `json:"responder"`
	Text       string            `json:"text"`
	Confidence float64           `json:"confidence"`
	Urgency    float64           `json:"urgency"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// DispatchRecommendation is the hand-off to emergency services. At most one
// exists per session unless the session is reopened.
type DispatchRecommendation struct {
	ID        string            `json:"id"`
	SessionID string            `json:"session_id"`
	Reference string            `json:"reference"`
	Priority  Priority          `json:"priority"`
	Service   string            `json:"service"`
	Reason    string            `json:"reason"`
	Category  nlp.Category      `json:"category"`
	Urgency   float64           `json:"urgency"`
	Facts     map[string]string `json:"facts,omitempty"`
	Keywords  []string          `json:"keywords,omitempty"`
	Summary   string            `json:"summary"`
	Caller    map[string]string `json:"caller,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Summary is the listing view of a session.
type Summary struct {
	ID        string    `json:"id"`
	State     State     `json:"state"`
	Turns     int       `json:"turns"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
