// Package responder defines the contract for the specialized responders the
// orchestrator selects each turn, and the four built-in implementations:
// empathy, triage, guidance and dispatch.
//
// Responders are deterministic: identical inputs produce identical outputs.
// They never mutate the session; effects they want applied are returned on
// the Output and folded in by the engine.
package responder

import (
	"context"
	"time"

	"github.com/linnemanlabs/lifeline/internal/nlp"
	"github.com/linnemanlabs/lifeline/internal/policy"
	"github.com/linnemanlabs/lifeline/internal/session"
)

// Responder produces one contribution to a turn's reply.
type Responder interface {
	Kind() session.Kind
	Respond(ctx context.Context, message string, rc *Context) (*Output, error)
}

// Context is everything a responder may read for the current turn.
type Context struct {
	// Session is the state before this turn's effects. Read only.
	Session  *session.Session
	Policy   *policy.Compiled
	Analysis session.Analysis

	// Category is the dominant keyword category since creation or the last
	// reopen.
	Category nlp.Category
	// Facts are the triage facts after inference from this message.
	Facts map[string]string
	// Transcript is every caller message since creation or the last reopen,
	// this one included.
	Transcript string
	// Procedure is the scripted procedure currently identified.
	Procedure string
	// PrevProcedure is the procedure identified before this turn.
	PrevProcedure string

	// Soften is set by the safety monitor after profanity.
	Soften bool
	// Reason is why a dispatch is being requested.
	Reason string
	Now    time.Time
}

// Output is a responder's contribution plus the effects it asks the engine
// to apply to the session.
type Output struct {
	session.ResponderOutput
	Effects Effects
}

// Effects are session updates requested by a responder.
type Effects struct {
	// Facts replaces the session's triage facts when non-nil.
	Facts map[string]string
	// Asked is the checklist question put to the caller this turn.
	Asked string
	// Complete reports the category checklist is fully answered.
	Complete bool
	// Dispatch is a newly produced recommendation.
	Dispatch *session.DispatchRecommendation
}

// Registry holds responders keyed by kind so alternate implementations can
// be injected.
type Registry struct {
	responders map[session.Kind]Responder
}

// NewRegistry creates a registry holding the given responders.
func NewRegistry(rs ...Responder) *Registry {
	r := &Registry{responders: make(map[session.Kind]Responder, len(rs))}
	for _, rsp := range rs {
		r.Register(rsp)
	}
	return r
}

// Defaults returns a registry with the built-in responders.
func Defaults() *Registry {
	return NewRegistry(NewEmpathy(), NewTriage(), NewGuidance(), NewDispatch(nil))
}

// Register adds a responder, replacing any with the same kind.
func (r *Registry) Register(rsp Responder) {
	r.responders[rsp.Kind()] = rsp
}

// Get retrieves a responder by kind.
func (r *Registry) Get(kind session.Kind) (Responder, bool) {
	rsp, ok := r.responders[kind]
	return rsp, ok
}
