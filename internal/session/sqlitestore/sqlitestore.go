// Package sqlitestore provides a SQLite implementation of session.Store for
// single-node deployments that need sessions to survive a restart without
// running PostgreSQL.
package sqlitestore

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	_ "modernc.org/sqlite"

	"github.com/linnemanlabs/lifeline/internal/nlp"
	"github.com/linnemanlabs/lifeline/internal/session"
)

var tracer = otel.Tracer("github.com/linnemanlabs/lifeline/internal/session/sqlitestore")

//go:embed schema.sql
var schema string

const timeLayout = time.RFC3339Nano

// Store persists sessions in a SQLite database file.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
// Use ":memory:" for a throwaway database.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one writer keeps SQLite from returning SQLITE_BUSY under concurrent turns
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys = ON; PRAGMA journal_mode = WAL;`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set pragmas: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get retrieves a session and its turns by ID.
func (s *Store) Get(ctx context.Context, id string) (*session.Session, bool, error) {
	ctx, span := tracer.Start(ctx, "sqlitestore.Get", trace.WithAttributes(
		attribute.String("db.system", "sqlite"),
		attribute.String("db.operation.name", "SELECT"),
		attribute.String("lifeline.session.id", id),
	))
	defer span.End()

	row := s.db.QueryRowContext(ctx,
		`SELECT id, state, caller, facts, triage, safety, dispatch, prior_dispatches,
			turn_base, created_at, updated_at, closed_at
		 FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
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
	ctx, span := tracer.Start(ctx, "sqlitestore.Put", trace.WithAttributes(
		attribute.String("db.system", "sqlite"),
		attribute.String("db.operation.name", "UPSERT"),
		attribute.String("lifeline.session.id", sess.ID),
	))
	defer span.End()

	if err := s.put(ctx, sess); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (s *Store) put(ctx context.Context, sess *session.Session) error {
	cols, err := session.EncodeColumns(sess)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is harmless

	var dispatch any
	if cols.Dispatch != nil {
		dispatch = string(cols.Dispatch)
	}
	var closedAt any
	if !sess.ClosedAt.IsZero() {
		closedAt = sess.ClosedAt.UTC().Format(timeLayout)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO sessions (id, state, caller, facts, triage, safety, dispatch, prior_dispatches,
			turn_base, created_at, updated_at, closed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
			state            = excluded.state,
			caller           = excluded.caller,
			facts            = excluded.facts,
			triage           = excluded.triage,
			safety           = excluded.safety,
			dispatch         = excluded.dispatch,
			prior_dispatches = excluded.prior_dispatches,
			turn_base        = excluded.turn_base,
			updated_at       = excluded.updated_at,
			closed_at        = excluded.closed_at`,
		sess.ID, string(sess.State), string(cols.Caller), string(cols.Facts), string(cols.Triage),
		string(cols.Safety), dispatch, string(cols.Prior), sess.TurnBase,
		sess.CreatedAt.UTC().Format(timeLayout), sess.UpdatedAt.UTC().Format(timeLayout), closedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}

	var stored int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM session_turns WHERE session_id = ?`, sess.ID,
	).Scan(&stored); err != nil {
		return fmt.Errorf("max seq: %w", err)
	}

	for i := range sess.Turns {
		t := &sess.Turns[i]
		if t.Seq <= stored {
			continue
		}
		keywords, err := json.Marshal(nonNilStrings(t.Keywords))
		if err != nil {
			return fmt.Errorf("marshal keywords seq %d: %w", t.Seq, err)
		}
		responses, err := json.Marshal(t.Responses)
		if err != nil {
			return fmt.Errorf("marshal responses seq %d: %w", t.Seq, err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO session_turns (session_id, seq, message, reply, urgency, sentiment, emotion,
				keywords, responses, confidence, latency_s, state, override, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sess.ID, t.Seq, t.Message, t.Reply, t.Urgency, t.Sentiment, string(t.Emotion),
			string(keywords), string(responses), t.Confidence, t.Latency, string(t.State), string(t.Override),
			t.Timestamp.UTC().Format(timeLayout),
		)
		if err != nil {
			return fmt.Errorf("insert turn seq %d: %w", t.Seq, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ListActive returns summaries of non-terminal sessions, oldest first.
func (s *Store) ListActive(ctx context.Context) ([]session.Summary, error) {
	ctx, span := tracer.Start(ctx, "sqlitestore.ListActive", trace.WithAttributes(
		attribute.String("db.system", "sqlite"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	out, err := s.listActive(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return out, nil
}

func (s *Store) listActive(ctx context.Context) ([]session.Summary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT s.id, s.state, s.created_at, s.updated_at,
			(SELECT COUNT(*) FROM session_turns t WHERE t.session_id = s.id)
		 FROM sessions s
		 WHERE s.state NOT IN (?, ?)
		 ORDER BY s.created_at, s.id`,
		string(session.StateDispatched), string(session.StateClosed),
	)
	if err != nil {
		return nil, fmt.Errorf("query active sessions: %w", err)
	}
	defer rows.Close()

	out := make([]session.Summary, 0)
	for rows.Next() {
		var (
			sum                  session.Summary
			state                string
			createdAt, updatedAt string
		)
		if err := rows.Scan(&sum.ID, &state, &createdAt, &updatedAt, &sum.Turns); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		sum.State = session.State(state)
		if sum.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		if sum.UpdatedAt, err = time.Parse(timeLayout, updatedAt); err != nil {
			return nil, fmt.Errorf("parse updated_at: %w", err)
		}
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return out, nil
}

func (s *Store) loadTurns(ctx context.Context, sess *session.Session) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, message, reply, urgency, sentiment, emotion, keywords, responses,
			confidence, latency_s, state, override, created_at
		 FROM session_turns WHERE session_id = ? ORDER BY seq`, sess.ID)
	if err != nil {
		return fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	updated := sess.UpdatedAt
	for rows.Next() {
		var (
			t                                 session.Turn
			emotion, state, override, created string
			keywordsJSON, responsesJSON       string
		)
		if err := rows.Scan(&t.Seq, &t.Message, &t.Reply, &t.Urgency, &t.Sentiment, &emotion,
			&keywordsJSON, &responsesJSON, &t.Confidence, &t.Latency, &state, &override, &created); err != nil {
			return fmt.Errorf("scan turn: %w", err)
		}
		if err := json.Unmarshal([]byte(keywordsJSON), &t.Keywords); err != nil {
			return fmt.Errorf("unmarshal keywords seq %d: %w", t.Seq, err)
		}
		if len(t.Keywords) == 0 {
			t.Keywords = nil
		}
		if err := json.Unmarshal([]byte(responsesJSON), &t.Responses); err != nil {
			return fmt.Errorf("unmarshal responses seq %d: %w", t.Seq, err)
		}
		if t.Timestamp, err = time.Parse(timeLayout, created); err != nil {
			return fmt.Errorf("parse turn time seq %d: %w", t.Seq, err)
		}
		t.Emotion = nlp.Emotion(emotion)
		t.State = session.State(state)
		t.Override = session.Override(override)
		sess.AppendTurn(t)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate turns: %w", err)
	}
	sess.UpdatedAt = updated
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanSession returns (nil, nil) when no row is found.
func scanSession(row rowScanner) (*session.Session, error) {
	var (
		sess                 session.Session
		state                string
		caller, facts        string
		triage, safety       string
		prior                string
		dispatch, closedAt   sql.NullString
		createdAt, updatedAt string
	)
	err := row.Scan(&sess.ID, &state, &caller, &facts, &triage, &safety, &dispatch, &prior,
		&sess.TurnBase, &createdAt, &updatedAt, &closedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan: %w", err)
	}

	sess.State = session.State(state)
	if sess.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if sess.UpdatedAt, err = time.Parse(timeLayout, updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	if closedAt.Valid {
		if sess.ClosedAt, err = time.Parse(timeLayout, closedAt.String); err != nil {
			return nil, fmt.Errorf("parse closed_at: %w", err)
		}
	}

	cols := session.Columns{
		Caller: []byte(caller),
		Facts:  []byte(facts),
		Triage: []byte(triage),
		Safety: []byte(safety),
		Prior:  []byte(prior),
	}
	if dispatch.Valid {
		cols.Dispatch = []byte(dispatch.String)
	}
	if err := cols.Decode(&sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

func nonNilStrings(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}
