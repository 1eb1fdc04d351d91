package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/upstwin/upstwin/pkg/log"
	"github.com/upstwin/upstwin/pkg/scenario"
	"github.com/upstwin/upstwin/pkg/session"
	"github.com/upstwin/upstwin/pkg/types"
)

type stateResponse struct {
	SessionID string `json:"sessionID"`
	Scenario  string `json:"scenario"`
	State     any    `json:"state"`
}

type breakerRequest struct {
	ID     string `json:"id"`
	Closed bool   `json:"closed"`
}

type breakerResponse struct {
	types.Permission
	State any `json:"state"`
}

type commandResponse struct {
	Applied bool   `json:"applied"`
	Message string `json:"message"`
	State   any    `json:"state"`
}

type resetRequest struct {
	Scenario string `json:"scenario"`
}

// session resolves the {topology} path value, writing a 404 if it is unknown.
func (s *Server) session(w http.ResponseWriter, r *http.Request) (session.Handle, bool) {
	h, err := s.sessions.Get(types.Topology(r.PathValue("topology")))
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusNotFound)
		return nil, false
	}
	return h, true
}

func (s *Server) respondState(w http.ResponseWriter, h session.Handle, state any) {
	writeJSON(w, stateResponse{
		SessionID: h.ID(),
		Scenario:  h.Scenario(),
		State:     state,
	}, http.StatusOK)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	h, ok := s.session(w, r)
	if !ok {
		return
	}
	s.respondState(w, h, h.Current())
}

func (s *Server) handleBreaker(w http.ResponseWriter, r *http.Request) {
	h, ok := s.session(w, r)
	if !ok {
		return
	}
	var req breakerRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.ID == "" {
		writeJSONError(w, "breaker id is required", http.StatusBadRequest)
		return
	}
	state, perm := h.Toggle(r.Context(), req.ID, req.Closed)
	code := http.StatusOK
	if !perm.Allowed {
		code = http.StatusConflict
	}
	writeJSON(w, breakerResponse{Permission: perm, State: state}, code)
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	h, ok := s.session(w, r)
	if !ok {
		return
	}
	var cmd types.Command
	if err := decodeBody(w, r, &cmd); err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := cmd.Validate(); err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	state, msg, applied := h.Command(r.Context(), cmd)
	code := http.StatusOK
	if !applied {
		code = http.StatusConflict
	}
	writeJSON(w, commandResponse{Applied: applied, Message: msg, State: state}, code)
}

func (s *Server) handleFaults(w http.ResponseWriter, r *http.Request) {
	h, ok := s.session(w, r)
	if !ok {
		return
	}
	var patch map[string]any
	if err := decodeBody(w, r, &patch); err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	state, err := h.Faults(r.Context(), patch)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.respondState(w, h, state)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	h, ok := s.session(w, r)
	if !ok {
		return
	}
	var req resetRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Scenario == "" {
		writeJSONError(w, "scenario is required", http.StatusBadRequest)
		return
	}
	state, err := h.Load(ctx, req.Scenario)
	if errors.Is(err, scenario.ErrUnknownScenario) {
		writeJSONError(w, err.Error(), http.StatusNotFound)
		return
	} else if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to reset session", slog.String("scenario", req.Scenario), slog.Any("error", err))
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.respondState(w, h, state)
}
