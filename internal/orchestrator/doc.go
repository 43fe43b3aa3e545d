// Package orchestrator is the business boundary for caller sessions. It
// defines the Engine (pure per-turn processing: analysis, safety, responder
// selection, merge and state advance) and the Service (validation,
// per-session locking, persistence, dispatch notification, metrics and
// tracing).
package orchestrator
