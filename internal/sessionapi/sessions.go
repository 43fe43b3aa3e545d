package sessionapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/lifeline/internal/responder"
	"github.com/linnemanlabs/lifeline/internal/session"
)

type startRequest struct {
	Caller map[string]string `json:"caller" validate:"omitempty,max=32,dive,keys,required,max=64,endkeys,max=1024"`
}

type turnRequest struct {
	Message string `json:"message" validate:"required"`
}

// decode reads an optional JSON body into v and validates it.
func (a *API) decode(w http.ResponseWriter, r *http.Request, v any, optional bool) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	err := json.NewDecoder(r.Body).Decode(v)
	if err != nil && !(optional && errors.Is(err, io.EOF)) {
		return fmt.Errorf("invalid payload: %w", err)
	}
	if err := a.validate.Struct(v); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	return nil
}

func (a *API) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := a.decode(w, r, &req, true); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	if err := a.validateLocation(req.Caller); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	sess, err := a.svc.StartSession(r.Context(), req.Caller)
	if err != nil {
		a.writeError(w, r, err, "failed to start session")
		return
	}

	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("lifeline.session.id", sess.ID))
	writeJSON(w, http.StatusCreated, sess)
}

// validateLocation checks caller coordinates when present.
func (a *API) validateLocation(caller map[string]string) error {
	checks := []struct{ key, tag string }{
		{responder.CallerLatitude, "omitempty,latitude"},
		{responder.CallerLongitude, "omitempty,longitude"},
	}
	for _, c := range checks {
		if err := a.validate.Var(caller[c.key], c.tag); err != nil {
			return fmt.Errorf("invalid caller %s %q", c.key, caller[c.key])
		}
	}
	return nil
}

func (a *API) handleTurn(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("lifeline.session.id", id))

	var req turnRequest
	if err := a.decode(w, r, &req, false); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	resp, err := a.svc.HandleTurn(r.Context(), id, req.Message)
	if err != nil {
		status := statusFor(err)
		if status != http.StatusInternalServerError {
			writeJSON(w, status, errorBody{Error: err.Error()})
			return
		}
		a.logger.Error(r.Context(), err, "failed to process turn", "session_id", id)
		writeJSON(w, status, errorBody{Error: "internal error", Reply: a.svc.FallbackReply()})
		return
	}

	span.SetAttributes(attribute.String("lifeline.session.state", string(resp.State)))
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("lifeline.session.id", id))

	sess, err := a.svc.Status(r.Context(), id)
	if err != nil {
		a.writeError(w, r, err, "failed to get session", "session_id", id)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (a *API) handleClose(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("lifeline.session.id", id))

	sess, err := a.svc.Close(r.Context(), id)
	if err != nil {
		a.writeError(w, r, err, "failed to close session", "session_id", id)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (a *API) handleReopen(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("lifeline.session.id", id))

	sess, err := a.svc.Reopen(r.Context(), id)
	if err != nil {
		a.writeError(w, r, err, "failed to reopen session", "session_id", id)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (a *API) handleActive(w http.ResponseWriter, r *http.Request) {
	list, err := a.svc.Active(r.Context())
	if err != nil {
		a.writeError(w, r, err, "failed to list sessions")
		return
	}
	if list == nil {
		list = []session.Summary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": list})
}
