// Package session defines the caller-session domain model shared by the
// orchestrator, the safety monitor, the responders and the stores: the
// lifecycle states, turns, dispatch recommendations and the Store interface.
package session
