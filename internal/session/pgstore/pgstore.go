// Package pgstore provides a PostgreSQL implementation of session.Store.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/lifeline/internal/nlp"
	"github.com/linnemanlabs/lifeline/internal/postgres"
	"github.com/linnemanlabs/lifeline/internal/session"
)

var tracer = otel.Tracer("github.com/linnemanlabs/lifeline/internal/session/pgstore")

//go:embed schema.sql
var schema string

// Store persists sessions in PostgreSQL. Turns are append-only rows keyed by
// (session_id, seq); everything else lives on the sessions row.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema on pool and returns a ready Store. The caller owns
// the pool and closes it.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

const sessionColumns = `id, state, caller, facts, triage, safety, dispatch, prior_dispatches,
	turn_base, created_at, updated_at, closed_at`

// Get retrieves a session and its turns by ID.
func (s *Store) Get(ctx context.Context, id string) (*session.Session, bool, error) {
	ctx, span := tracer.Start(ctx, "pgstore.Get", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
		attribute.String("lifeline.session.id", id),
	))
	defer span.End()
	ctx = postgres.WithSessionID(ctx, id)

	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`
	sess, err := scanSessionRow(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, err
	}
	if sess == nil {
		return nil, false, nil
	}

	if err := s.loadTurns(ctx, sess); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, err
	}

	return sess, true, nil
}

// Put upserts the session row and appends any turns not yet stored.
func (s *Store) Put(ctx context.Context, sess *session.Session) error {
	ctx, span := tracer.Start(ctx, "pgstore.Put", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "UPSERT"),
		attribute.String("lifeline.session.id", sess.ID),
	))
	defer span.End()
	ctx = postgres.WithSessionID(ctx, sess.ID)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	if err := upsertSession(ctx, tx, sess); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	var stored int
	if err := tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM session_turns WHERE session_id = $1`, sess.ID,
	).Scan(&stored); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("max seq: %w", err)
	}

	for i := range sess.Turns {
		if sess.Turns[i].Seq <= stored {
			continue
		}
		if err := insertTurn(ctx, tx, sess.ID, &sess.Turns[i]); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ListActive returns summaries of non-terminal sessions, oldest first.
func (s *Store) ListActive(ctx context.Context) ([]session.Summary, error) {
	ctx, span := tracer.Start(ctx, "pgstore.ListActive", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	rows, err := s.pool.Query(ctx,
		`SELECT s.id, s.state, s.created_at, s.updated_at,
			(SELECT COUNT(*) FROM session_turns t WHERE t.session_id = s.id)
		 FROM sessions s
		 WHERE s.state NOT IN ($1, $2)
		 ORDER BY s.created_at, s.id`,
		string(session.StateDispatched), string(session.StateClosed),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("query active sessions: %w", err)
	}
	defer rows.Close()

	out := make([]session.Summary, 0)
	for rows.Next() {
		var (
			sum   session.Summary
			state string
		)
		if err := rows.Scan(&sum.ID, &state, &sum.CreatedAt, &sum.UpdatedAt, &sum.Turns); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		sum.State = session.State(state)
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return out, nil
}

func upsertSession(ctx context.Context, tx pgx.Tx, sess *session.Session) error {
	cols, err := session.EncodeColumns(sess)
	if err != nil {
		return err
	}

	var closedAt *time.Time
	if !sess.ClosedAt.IsZero() {
		closedAt = &sess.ClosedAt
	}

	query := `INSERT INTO sessions (
		id, state, caller, facts, triage, safety, dispatch, prior_dispatches,
		turn_base, created_at, updated_at, closed_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	ON CONFLICT (id) DO UPDATE SET
		state            = EXCLUDED.state,
		caller           = EXCLUDED.caller,
		facts            = EXCLUDED.facts,
		triage           = EXCLUDED.triage,
		safety           = EXCLUDED.safety,
		dispatch         = EXCLUDED.dispatch,
		prior_dispatches = EXCLUDED.prior_dispatches,
		turn_base        = EXCLUDED.turn_base,
		updated_at       = EXCLUDED.updated_at,
		closed_at        = EXCLUDED.closed_at`

	_, err = tx.Exec(ctx, query,
		sess.ID, string(sess.State), cols.Caller, cols.Facts, cols.Triage, cols.Safety, cols.Dispatch, cols.Prior,
		sess.TurnBase, sess.CreatedAt, sess.UpdatedAt, closedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

func insertTurn(ctx context.Context, tx pgx.Tx, sessionID string, turn *session.Turn) error {
	responsesJSON, err := json.Marshal(turn.Responses)
	if err != nil {
		return fmt.Errorf("marshal responses seq %d: %w", turn.Seq, err)
	}

	keywords := turn.Keywords
	if keywords == nil {
		keywords = []string{}
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO session_turns (session_id, seq, message, reply, urgency, sentiment, emotion,
			keywords, responses, confidence, latency_s, state, override, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		 ON CONFLICT (session_id, seq) DO NOTHING`,
		sessionID, turn.Seq, turn.Message, turn.Reply, turn.Urgency, turn.Sentiment, string(turn.Emotion),
		keywords, responsesJSON, turn.Confidence, turn.Latency, string(turn.State), string(turn.Override), turn.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert turn seq %d: %w", turn.Seq, err)
	}
	return nil
}

// loadTurns reads the turns of sess in order and rebuilds the urgency trend.
func (s *Store) loadTurns(ctx context.Context, sess *session.Session) error {
	rows, err := s.pool.Query(ctx,
		`SELECT seq, message, reply, urgency, sentiment, emotion, keywords, responses,
			confidence, latency_s, state, override, created_at
		 FROM session_turns WHERE session_id = $1 ORDER BY seq`,
		sess.ID,
	)
	if err != nil {
		return fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			t             session.Turn
			emotion       string
			state         string
			override      string
			responsesJSON []byte
		)
		if err := rows.Scan(&t.Seq, &t.Message, &t.Reply, &t.Urgency, &t.Sentiment, &emotion, &t.Keywords,
			&responsesJSON, &t.Confidence, &t.Latency, &state, &override, &t.Timestamp); err != nil {
			return fmt.Errorf("scan turn: %w", err)
		}
		if err := json.Unmarshal(responsesJSON, &t.Responses); err != nil {
			return fmt.Errorf("unmarshal responses seq %d: %w", t.Seq, err)
		}
		if len(t.Keywords) == 0 {
			t.Keywords = nil
		}
		t.Emotion = nlp.Emotion(emotion)
		t.State = session.State(state)
		t.Override = session.Override(override)

		updated := sess.UpdatedAt
		sess.AppendTurn(t)
		sess.UpdatedAt = updated
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate turns: %w", err)
	}
	return nil
}

// scanSessionRow scans a single sessions row. Returns (nil, nil) when no row
// is found.
func scanSessionRow(row pgx.Row) (*session.Session, error) {
	var (
		sess     session.Session
		state    string
		cols     session.Columns
		closedAt *time.Time
	)

	err := row.Scan(
		&sess.ID, &state, &cols.Caller, &cols.Facts, &cols.Triage, &cols.Safety, &cols.Dispatch, &cols.Prior,
		&sess.TurnBase, &sess.CreatedAt, &sess.UpdatedAt, &closedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan: %w", err)
	}

	sess.State = session.State(state)
	if closedAt != nil {
		sess.ClosedAt = *closedAt
	}

	if err := cols.Decode(&sess); err != nil {
		return nil, err
	}
	return &sess, nil
}
