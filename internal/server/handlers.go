package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"cyclecal/internal/db"
	"cyclecal/internal/event"
	"cyclecal/internal/model"
	"cyclecal/internal/rider"
	"cyclecal/internal/upstream"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Result is the envelope of every mutation response and every error.
type Result struct {
	Message string       `json:"message"`
	Success bool         `json:"success"`
	Event   *model.Event `json:"event,omitempty"`
}

// RiderListsResponse is an event with its reconciled rider buckets.
type RiderListsResponse struct {
	Event model.Event `json:"event"`
	Lists rider.Lists `json:"lists"`
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

const maxRequestBody = 1 << 20

func (s *Server) handleGetEventsByType(w http.ResponseWriter, r *http.Request) {
	d, err := model.ParseDiscipline(r.URL.Query().Get("type"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	events, err := s.events.EventsByType(r.Context(), d)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	d, err := model.ParseDiscipline(chi.URLParam(r, "type"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ev, err := s.events.Event(r.Context(), d, chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (s *Server) handleGetRiderLists(w http.ResponseWriter, r *http.Request) {
	d, err := model.ParseDiscipline(chi.URLParam(r, "type"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	after, err := s.parseAfter(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ev, lists, err := s.events.RiderLists(r.Context(), d, chi.URLParam(r, "id"), after)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, RiderListsResponse{Event: ev, Lists: lists})
}

func (s *Server) handleGetRegisteredRiders(w http.ResponseWriter, r *http.Request) {
	d, err := model.ParseDiscipline(r.URL.Query().Get("discipline"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	after, err := s.parseAfter(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	regs, err := s.events.RegisteredRiders(r.Context(), d, after)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, regs)
}

func (s *Server) handleUpdateEvent(w http.ResponseWriter, r *http.Request) {
	var patch model.UpdateEventData
	if !s.decode(w, r, &patch) {
		return
	}
	ev, err := s.events.UpdateEvent(r.Context(), patch)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Result{Message: "Event updated", Success: true, Event: &ev})
}

func (s *Server) handleMoveRider(w http.ResponseWriter, r *http.Request) {
	var req event.MoveRequest
	if !s.decode(w, r, &req) {
		return
	}
	ev, err := s.events.MoveRider(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Result{Message: "Rider moved", Success: true, Event: &ev})
}

func (s *Server) handleRemoveRider(w http.ResponseWriter, r *http.Request) {
	var req event.RemoveRequest
	if !s.decode(w, r, &req) {
		return
	}
	ev, err := s.events.RemoveRider(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Result{Message: "Rider removed", Success: true, Event: &ev})
}

func (s *Server) handleSubmitEvent(w http.ResponseWriter, r *http.Request) {
	var req event.SubmitRequest
	if !s.decode(w, r, &req) {
		return
	}
	ev, err := s.events.SubmitEvent(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, Result{Message: "Event submitted", Success: true, Event: &ev})
}

func (s *Server) handleSubmitSpecialEvent(w http.ResponseWriter, r *http.Request) {
	var req event.SpecialEventRequest
	if !s.decode(w, r, &req) {
		return
	}
	ev, err := s.events.SubmitSpecialEvent(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, Result{Message: "Event submitted", Success: true, Event: &ev})
}

func (s *Server) handleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	d, err := model.ParseDiscipline(chi.URLParam(r, "type"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.events.DeleteEvent(r.Context(), d, chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Result{Message: "Event deleted", Success: true})
}

func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	s.events.ClearCaches(r.Context())
	writeJSON(w, http.StatusOK, Result{Message: "Caches cleared", Success: true})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var creds credentials
	if !s.decode(w, r, &creds) {
		return
	}

	user, err := s.users.ValidateUser(r.Context(), creds.Username, creds.Password)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, Result{Message: "Invalid credentials"})
		return
	}
	s.writeToken(w, r, user)
}

// handleSignup registers riders. Admins are provisioned from configuration.
func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var creds credentials
	if !s.decode(w, r, &creds) {
		return
	}
	if strings.TrimSpace(creds.Username) == "" || creds.Password == "" {
		writeJSON(w, http.StatusBadRequest, Result{Message: "username and password are required"})
		return
	}

	user, err := s.users.CreateUser(r.Context(), creds.Username, creds.Password, db.UserTypeRider)
	if errors.Is(err, db.ErrUserExists) {
		writeJSON(w, http.StatusConflict, Result{Message: err.Error()})
		return
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeToken(w, r, user)
}

func (s *Server) writeToken(w http.ResponseWriter, r *http.Request, user *db.User) {
	token, err := s.tokens.GenerateToken(user)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{Token: token})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// parseAfter reads the optional after=YYYY-MM-DD query parameter. It
// defaults to today.
func (s *Server) parseAfter(r *http.Request) (time.Time, error) {
	raw := r.URL.Query().Get("after")
	if raw == "" {
		return s.now(), nil
	}
	after, err := time.ParseInLocation("2006-01-02", raw, time.Local)
	if err != nil {
		return time.Time{}, model.Invalidf("after must be YYYY-MM-DD")
	}
	return after, nil
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(v); err != nil {
		s.logger.Debug("invalid request body", zap.String("path", r.URL.Path), zap.Error(err))
		writeJSON(w, http.StatusBadRequest, Result{Message: "Invalid request body"})
		return false
	}
	return true
}

// statusFor maps domain errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, model.ErrHousingURLRequired):
		return http.StatusUnprocessableEntity
	case errors.Is(err, upstream.ErrUnavailable):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		message = "internal server error"
	}
	writeJSON(w, status, Result{Message: message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
