package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/elliotchance/pie/v2"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/lifeline/internal/nlp"
	"github.com/linnemanlabs/lifeline/internal/policy"
	"github.com/linnemanlabs/lifeline/internal/responder"
	"github.com/linnemanlabs/lifeline/internal/safety"
	"github.com/linnemanlabs/lifeline/internal/session"
	"github.com/linnemanlabs/lifeline/internal/urgency"
)

// Engine turns one caller message into a reply and the next session state.
// It performs no I/O; persistence and notification belong to the Service.
type Engine struct {
	policy   atomic.Pointer[policy.Compiled]
	registry *responder.Registry
	logger   log.Logger
	now      func() time.Time
}

// NewEngine creates an engine. A nil registry uses the built-in responders.
func NewEngine(p *policy.Compiled, registry *responder.Registry, logger log.Logger) *Engine {
	if logger == nil {
		logger = log.Nop()
	}
	if registry == nil {
		registry = responder.Defaults()
	}
	e := &Engine{
		registry: registry,
		logger:   logger,
		now:      time.Now,
	}
	e.policy.Store(p)
	return e
}

// Policy returns the policy currently in effect.
func (e *Engine) Policy() *policy.Compiled {
	return e.policy.Load()
}

// SetPolicy swaps the policy. Turns already in progress finish with the
// policy they started with.
func (e *Engine) SetPolicy(p *policy.Compiled) {
	e.policy.Store(p)
}

// Result is the outcome of processing one turn.
type Result struct {
	// Session is the updated session with the new turn appended. The input
	// session is never modified.
	Session  *session.Session
	Turn     session.Turn
	Analysis session.Analysis
	Verdict  safety.Verdict
	// Dispatch is the recommendation created on this turn, if any.
	Dispatch *session.DispatchRecommendation
	// Invoked lists the responders that ran, in order.
	Invoked []session.Kind
	// Errors are recovered responder and analysis failures.
	Errors []error
	// Fallback is true when a responder failure replaced the normal reply.
	Fallback bool
}

// Process runs one turn against sess.
func (e *Engine) Process(ctx context.Context, sess *session.Session, message string) *Result {
	start := e.now()
	p := e.Policy()
	work := sess.Clone()
	res := &Result{}

	a, err := analyze(p, work, message)
	if err != nil {
		res.Errors = append(res.Errors, err)
	}
	res.Analysis = a

	v := safety.New(p).Evaluate(work, a)
	res.Verdict = v

	transcript := work.Transcript(message)
	facts := responder.InferFacts(p, work.Facts, message, work.Caller)
	rc := &responder.Context{
		Session:       work,
		Policy:        p,
		Analysis:      a,
		Category:      p.Matcher.Dominant(append(work.Keywords(), a.Keywords...)),
		Facts:         facts,
		Transcript:    transcript,
		Procedure:     responder.SelectProcedure(p, transcript, facts),
		PrevProcedure: work.Triage.Procedure,
		Soften:        v.Soften,
		Now:           start,
	}

	var outs []*responder.Output
	if v.Forced() {
		outs = e.override(ctx, work, rc, message, res)
		work.State = work.State.Advance(v.State)
	} else {
		next, err := e.respond(ctx, work, rc, message, res)
		if err != nil {
			res.Errors = append(res.Errors, err)
			res.Fallback = true
			res.Dispatch = nil
			safetyFlags := work.Safety
			work = sess.Clone()
			work.Safety = safetyFlags
			next = e.fallback(ctx, rc, message, res, err)
		}
		outs = next
		if work.State == session.StateStarted || work.State == session.StateReopened {
			work.State = session.StateActive
		}
		if res.Dispatch != nil {
			work.State = work.State.Advance(session.StateDispatched)
		}
	}

	if work.State == session.StateClosed && work.ClosedAt.IsZero() {
		work.ClosedAt = start
	}

	reply, confidence := merge(outs, p.Weights)
	responses := make([]session.ResponderOutput, 0, len(outs))
	for _, o := range outs {
		responses = append(responses, o.ResponderOutput)
	}

	turn := session.Turn{
		Seq:        work.NextSeq(),
		Message:    message,
		Timestamp:  start,
		Urgency:    a.Urgency,
		Sentiment:  a.Sentiment.Compound,
		Emotion:    a.Emotion,
		Keywords:   a.Keywords,
		Reply:      reply,
		Responses:  responses,
		Confidence: confidence,
		State:      work.State,
		Override:   v.Override,
	}
	turn.Latency = e.now().Sub(start).Seconds()
	work.AppendTurn(turn)

	res.Session = work
	res.Turn = turn
	return res
}

// analyze reads keywords, sentiment, emotion and urgency from the message.
// A failing scorer is recovered and scored as neutral.
func analyze(p *policy.Compiled, sess *session.Session, message string) (a session.Analysis, err error) {
	a = session.Analysis{
		Message:  message,
		Keywords: p.Matcher.Match(message),
	}

	s, err := score(p.Scorer, message)
	if err != nil {
		s = nlp.Sentiment{Neu: 1}
		err = &session.ResponderError{Responder: session.KindAnalysis, Err: err}
	}
	a.Sentiment = s
	a.Emotion = nlp.Classify(s)
	a.Urgency = urgency.Score(len(a.Keywords), s.Compound)
	a.Answered = responder.Answers(p, sess, message)
	return a, err
}

func score(sc nlp.Scorer, message string) (s nlp.Sentiment, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sentiment scorer panic: %v", r)
		}
	}()
	return sc.Score(message)
}

// override builds the reply for a safety override: the override text, then
// a dispatch recommendation when none exists yet.
func (e *Engine) override(ctx context.Context, work *session.Session, rc *responder.Context, message string, res *Result) []*responder.Output {
	res.Invoked = append(res.Invoked, session.KindSafety)
	outs := []*responder.Output{{
		ResponderOutput: session.ResponderOutput{
			Responder:  session.KindSafety,
			Text:       res.Verdict.Text,
			Confidence: 1,
			Urgency:    rc.Analysis.Urgency,
			Metadata:   map[string]string{"override": string(res.Verdict.Override)},
		},
	}}

	work.Facts = rc.Facts
	work.Triage.Category = rc.Category
	if work.Dispatch != nil {
		return outs
	}

	rc.Reason = string(res.Verdict.Override)
	out, err := e.invoke(ctx, session.KindDispatch, message, rc, res)
	if err != nil {
		res.Errors = append(res.Errors, err)
		return append(outs, e.stayOnLine(rc))
	}
	work.Dispatch = out.Effects.Dispatch
	res.Dispatch = out.Effects.Dispatch
	return append(outs, out)
}

// respond runs normal responder selection, folding each responder's effects
// into work as it goes. Any failure aborts selection.
func (e *Engine) respond(ctx context.Context, work *session.Session, rc *responder.Context, message string, res *Result) ([]*responder.Output, error) {
	p := rc.Policy
	var outs []*responder.Output

	if responder.WantsEmpathy(rc, message) {
		out, err := e.invoke(ctx, session.KindEmpathy, message, rc, res)
		if err != nil {
			return nil, err
		}
		outs = append(outs, out)
	}

	pending := ""
	if !responder.ChecklistComplete(p, rc.Category, rc.Facts) {
		out, err := e.invoke(ctx, session.KindTriage, message, rc, res)
		if err != nil {
			return nil, err
		}
		outs = append(outs, out)
		if out.Effects.Facts != nil {
			rc.Facts = out.Effects.Facts
		}
		pending = out.Effects.Asked
	}
	if pending != "" && !pie.Contains(work.Triage.Asked, pending) {
		work.Triage.Asked = append(work.Triage.Asked, pending)
	}
	work.Triage.Pending = pending

	work.Facts = rc.Facts
	work.Triage.Category = rc.Category
	rc.Procedure = responder.SelectProcedure(p, rc.Transcript, rc.Facts)
	work.Triage.Procedure = rc.Procedure
	complete := responder.ChecklistComplete(p, rc.Category, rc.Facts)
	work.Triage.Complete = complete

	if complete {
		out, err := e.invoke(ctx, session.KindGuidance, message, rc, res)
		if err != nil {
			return nil, err
		}
		outs = append(outs, out)
	}

	if work.Dispatch == nil && (rc.Analysis.Urgency >= p.Thresholds.Dispatch || complete) {
		rc.Reason = responder.ReasonTriageComplete
		if rc.Analysis.Urgency >= p.Thresholds.Dispatch {
			rc.Reason = responder.ReasonUrgency
		}
		out, err := e.invoke(ctx, session.KindDispatch, message, rc, res)
		if err != nil {
			return nil, err
		}
		outs = append(outs, out)
		work.Dispatch = out.Effects.Dispatch
		res.Dispatch = out.Effects.Dispatch
	}

	return outs, nil
}

// fallback is the reply after a responder failure: empathy alone, or a fixed
// line when empathy itself failed, followed by a request to stay on the line.
func (e *Engine) fallback(ctx context.Context, rc *responder.Context, message string, res *Result, cause error) []*responder.Output {
	var outs []*responder.Output

	var re *session.ResponderError
	if !errors.As(cause, &re) || re.Responder != session.KindEmpathy {
		if out, err := e.invoke(ctx, session.KindEmpathy, message, rc, res); err == nil {
			outs = append(outs, out)
		} else {
			res.Errors = append(res.Errors, err)
		}
	}
	if len(outs) == 0 {
		outs = append(outs, &responder.Output{ResponderOutput: session.ResponderOutput{
			Responder:  session.KindFallback,
			Text:       rc.Policy.Empathy.Fallback,
			Confidence: 0.5,
			Urgency:    rc.Analysis.Urgency,
		}})
	}
	return append(outs, e.stayOnLine(rc))
}

func (e *Engine) stayOnLine(rc *responder.Context) *responder.Output {
	return &responder.Output{ResponderOutput: session.ResponderOutput{
		Responder:  session.KindFallback,
		Text:       rc.Policy.Empathy.StayOnLine,
		Confidence: 0.1,
		Urgency:    rc.Analysis.Urgency,
	}}
}

// invoke runs one responder, converting errors and panics into a
// ResponderError.
func (e *Engine) invoke(ctx context.Context, kind session.Kind, message string, rc *responder.Context, res *Result) (out *responder.Output, err error) {
	res.Invoked = append(res.Invoked, kind)

	rsp, ok := e.registry.Get(kind)
	if !ok {
		return nil, &session.ResponderError{Responder: kind, Err: errors.New("not registered")}
	}

	defer func() {
		if r := recover(); r != nil {
			out, err = nil, &session.ResponderError{Responder: kind, Err: fmt.Errorf("panic: %v", r)}
			e.logger.Error(ctx, err, "responder panicked", "responder", kind)
		}
	}()

	out, err = rsp.Respond(ctx, message, rc)
	if err == nil && out == nil {
		err = errors.New("no output")
	}
	if err != nil {
		return nil, &session.ResponderError{Responder: kind, Err: err}
	}
	out.Responder = kind
	return out, nil
}
