// Package sessionapi exposes caller sessions over HTTP.
package sessionapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/lifeline/internal/orchestrator"
	"github.com/linnemanlabs/lifeline/internal/session"
)

// maxBodyBytes bounds request bodies. Message length proper is enforced by
// the policy.
const maxBodyBytes = 64 << 10

// SessionService defines the business operations sessionapi needs.
type SessionService interface {
	StartSession(ctx context.Context, caller map[string]string) (*session.Session, error)
	HandleTurn(ctx context.Context, id, text string) (*orchestrator.TurnResponse, error)
	Status(ctx context.Context, id string) (*session.Session, error)
	Close(ctx context.Context, id string) (*session.Session, error)
	Reopen(ctx context.Context, id string) (*session.Session, error)
	Active(ctx context.Context) ([]session.Summary, error)
	FallbackReply() string
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger   log.Logger
	svc      SessionService
	validate *validator.Validate
}

// New creates a new API handler.
func New(logger log.Logger, svc SessionService) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("session service is required"))
	}
	return &API{
		logger:   logger,
		svc:      svc,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1/sessions", func(r chi.Router) {
		r.Post("/", a.handleStart)
		r.Get("/", a.handleActive)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", a.handleStatus)
			r.Post("/turns", a.handleTurn)
			r.Post("/close", a.handleClose)
			r.Post("/reopen", a.handleReopen)
		})
	})
}

type errorBody struct {
	Error string `json:"error"`
	// Reply is what to show the caller when the turn could not be processed.
	Reply string `json:"reply,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrInvalidSession):
		return http.StatusNotFound
	case errors.Is(err, session.ErrSessionClosed), errors.Is(err, session.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, session.ErrMalformedMessage):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeError answers with the mapped status. Internal failures are logged
// and their detail withheld.
func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error, msg string, kv ...any) {
	status := statusFor(err)
	body := errorBody{Error: err.Error()}
	if status == http.StatusInternalServerError {
		a.logger.Error(r.Context(), err, msg, kv...)
		body.Error = "internal error"
	}
	writeJSON(w, status, body)
}
