package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/lifeline/internal/nlp"
	"github.com/linnemanlabs/lifeline/internal/session"
)

const tracerName = "github.com/linnemanlabs/lifeline/internal/orchestrator"

// keepOnReopen are the facts a reopened session carries into its new
// episode.
var keepOnReopen = []string{"location"}

// TurnResponse is the structured reply to one caller message.
type TurnResponse struct {
	SessionID  string                          `json:"session_id"`
	Seq        int                             `json:"seq"`
	Reply      string                          `json:"reply"`
	Urgency    float64                         `json:"urgency"`
	Emotion    nlp.Emotion                     `json:"emotion"`
	State      session.State                   `json:"state"`
	Dispatch   *session.DispatchRecommendation `json:"dispatch,omitempty"`
	Responders []session.Kind                  `json:"responders"`
	Override   session.Override                `json:"override,omitempty"`
	Confidence float64                         `json:"confidence"`
}

// Service is the business boundary for caller sessions.
type Service struct {
	store    session.Store
	engine   *Engine
	logger   log.Logger
	notifier Notifier
	hooks    Hooks
	slow     time.Duration
	now      func() time.Time
	newID    func() string

	locks  *keyedMutex
	notify sync.WaitGroup
}

// Option configures a Service.
type Option func(*Service)

// WithNotifier sets the collaborator told about new dispatch
// recommendations.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithHooks sets metric hooks.
func WithHooks(h Hooks) Option {
	return func(s *Service) { s.hooks = h }
}

// WithSlowTurnThreshold logs and counts turns slower than d. Zero disables
// the check.
func WithSlowTurnThreshold(d time.Duration) Option {
	return func(s *Service) { s.slow = d }
}

// WithClock overrides the time source for session timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator overrides session ID generation.
func WithIDGenerator(newID func() string) Option {
	return func(s *Service) { s.newID = newID }
}

// NewService creates a new session service.
func NewService(store session.Store, engine *Engine, logger log.Logger, opts ...Option) *Service {
	if store == nil {
		panic(xerrors.New("orchestrator.NewService: nil store"))
	}
	if engine == nil {
		panic(xerrors.New("orchestrator.NewService: nil engine"))
	}
	if logger == nil {
		logger = log.Nop()
	}

	s := &Service{
		store:  store,
		engine: engine,
		logger: logger.With("component", "orchestrator"),
		now:    time.Now,
		newID:  func() string { return ulid.Make().String() },
		locks:  newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StartSession creates and saves a new session.
func (s *Service) StartSession(ctx context.Context, caller map[string]string) (*session.Session, error) {
	sess := session.New(s.newID(), caller, s.now())
	if err := s.store.Put(ctx, sess); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}

	s.onSession("start")
	s.logger.Info(ctx, "session started", "session_id", sess.ID)
	return sess, nil
}

// HandleTurn processes one caller message. Turns for the same session are
// serialized; different sessions proceed in parallel. Once processing has
// begun the turn runs to completion even if ctx is canceled.
func (s *Service) HandleTurn(ctx context.Context, id, text string) (resp *TurnResponse, err error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "session.turn", trace.WithAttributes(
		attribute.String("lifeline.session.id", id),
	))
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("turn processing panic: %v", r)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	text = strings.TrimSpace(text)
	if id == "" {
		s.onReject("invalid_session")
		return nil, session.ErrInvalidSession
	}
	if text == "" {
		s.onReject("malformed")
		return nil, fmt.Errorf("%w: empty message", session.ErrMalformedMessage)
	}
	if !utf8.ValidString(text) {
		s.onReject("malformed")
		return nil, fmt.Errorf("%w: message is not valid UTF-8", session.ErrMalformedMessage)
	}
	if limit := s.engine.Policy().Limits.MaxMessageBytes; len(text) > limit {
		s.onReject("malformed")
		return nil, fmt.Errorf("%w: message is %d bytes, limit %d", session.ErrMalformedMessage, len(text), limit)
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	sess, ok, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if !ok {
		s.onReject("invalid_session")
		return nil, session.ErrInvalidSession
	}
	if sess.State.Terminal() {
		s.onReject("closed")
		return nil, fmt.Errorf("%w: session is %s", session.ErrSessionClosed, sess.State)
	}

	ctx = context.WithoutCancel(ctx)
	res := s.engine.Process(ctx, sess, text)

	if err := s.store.Put(ctx, res.Session); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}

	turn := res.Turn
	L := s.logger.With("session_id", id, "seq", turn.Seq)

	span.SetAttributes(
		attribute.Int("lifeline.turn.seq", turn.Seq),
		attribute.Float64("lifeline.turn.urgency", turn.Urgency),
		attribute.String("lifeline.session.state", string(turn.State)),
	)
	if turn.Override != session.OverrideNone {
		span.SetAttributes(attribute.String("lifeline.turn.override", string(turn.Override)))
	}
	if res.Fallback {
		span.AddEvent("fallback reply")
	}

	s.reportResponders(res)
	for _, rerr := range res.Errors {
		L.Warn(ctx, "turn degraded", "error", rerr)
	}

	if turn.Override != session.OverrideNone {
		L.Warn(ctx, "safety override", "override", turn.Override, "state", turn.State)
		if s.hooks.OnOverride != nil {
			s.hooks.OnOverride(turn.Override)
		}
	}

	if rec := res.Dispatch; rec != nil {
		L.Info(ctx, "dispatch recommended",
			"reference", rec.Reference,
			"priority", rec.Priority,
			"service", rec.Service,
			"reason", rec.Reason,
		)
		if s.hooks.OnDispatch != nil {
			s.hooks.OnDispatch(rec.Priority, rec.Reason)
		}
		cp := rec.Clone()
		s.dispatch(ctx, &cp)
	}

	if s.hooks.OnTurn != nil {
		s.hooks.OnTurn(turn.State, turn.Urgency, turn.Confidence, turn.Latency)
	}
	if s.slow > 0 && turn.Latency > s.slow.Seconds() {
		L.Warn(ctx, "slow turn", "latency_seconds", turn.Latency, "threshold_seconds", s.slow.Seconds())
		if s.hooks.OnSlowTurn != nil {
			s.hooks.OnSlowTurn(turn.Latency)
		}
	}

	L.Info(ctx, "turn processed",
		"state", turn.State,
		"urgency", turn.Urgency,
		"emotion", turn.Emotion,
		"responders", res.Invoked,
		"confidence", turn.Confidence,
	)

	var rec *session.DispatchRecommendation
	if res.Dispatch != nil {
		cp := res.Dispatch.Clone()
		rec = &cp
	}
	return &TurnResponse{
		SessionID:  id,
		Seq:        turn.Seq,
		Reply:      turn.Reply,
		Urgency:    turn.Urgency,
		Emotion:    turn.Emotion,
		State:      turn.State,
		Dispatch:   rec,
		Responders: res.Invoked,
		Override:   turn.Override,
		Confidence: turn.Confidence,
	}, nil
}

func (s *Service) reportResponders(res *Result) {
	if s.hooks.OnResponder == nil {
		return
	}
	failed := make(map[session.Kind]bool)
	for _, err := range res.Errors {
		var re *session.ResponderError
		if errors.As(err, &re) {
			failed[re.Responder] = true
		}
	}
	for _, k := range res.Invoked {
		s.hooks.OnResponder(k, failed[k])
	}
}

// dispatch notifies in the background. Wait blocks until every pending
// notification finishes.
func (s *Service) dispatch(ctx context.Context, rec *session.DispatchRecommendation) {
	if s.notifier == nil {
		return
	}

	s.notify.Add(1)
	go func() {
		defer s.notify.Done()
		L := s.logger.With("session_id", rec.SessionID, "reference", rec.Reference)

		err := s.notifier.Notify(ctx, rec)
		if s.hooks.OnNotify != nil {
			s.hooks.OnNotify(err != nil)
		}
		if err != nil {
			L.Error(ctx, err, "dispatch notification failed")
			return
		}
		L.Info(ctx, "dispatch notified")
	}()
}

// Wait blocks until all in-flight dispatch notifications have finished.
func (s *Service) Wait() {
	s.notify.Wait()
}

// Status returns a snapshot of the session.
func (s *Service) Status(ctx context.Context, id string) (*session.Session, error) {
	sess, ok, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if !ok {
		return nil, session.ErrInvalidSession
	}
	return sess, nil
}

// Close ends a session. Closing an already closed session succeeds.
func (s *Service) Close(ctx context.Context, id string) (*session.Session, error) {
	return s.transition(ctx, id, "close", func(sess *session.Session) error {
		sess.Close(s.now())
		return nil
	})
}

// Reopen starts a new episode on a dispatched or closed session.
func (s *Service) Reopen(ctx context.Context, id string) (*session.Session, error) {
	return s.transition(ctx, id, "reopen", func(sess *session.Session) error {
		return sess.Reopen(s.now(), keepOnReopen...)
	})
}

func (s *Service) transition(ctx context.Context, id, op string, apply func(*session.Session) error) (*session.Session, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	sess, ok, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if !ok {
		return nil, session.ErrInvalidSession
	}
	if err := apply(sess); err != nil {
		return nil, err
	}
	if err := s.store.Put(context.WithoutCancel(ctx), sess); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}

	s.onSession(op)
	s.logger.Info(ctx, "session "+op, "session_id", id, "state", sess.State)
	return sess, nil
}

// Active lists sessions that still accept turns, oldest first.
func (s *Service) Active(ctx context.Context) ([]session.Summary, error) {
	out, err := s.store.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return out, nil
}

// FallbackReply is the reply to send when a turn could not be processed at
// all, for example because the store is unavailable.
func (s *Service) FallbackReply() string {
	e := s.engine.Policy().Empathy
	return e.Fallback + " " + e.StayOnLine
}

func (s *Service) onSession(op string) {
	if s.hooks.OnSession != nil {
		s.hooks.OnSession(op)
	}
}

func (s *Service) onReject(reason string) {
	if s.hooks.OnReject != nil {
		s.hooks.OnReject(reason)
	}
}
