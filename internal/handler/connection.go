package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	apperrors "github.com/zapgate/gateway-server-go/internal/errors"
	"github.com/zapgate/gateway-server-go/internal/middleware"
	"github.com/zapgate/gateway-server-go/internal/model"
	"github.com/zapgate/gateway-server-go/internal/session"
)

type ConnectionHandler struct {
	supervisor *session.Supervisor
}

func NewConnectionHandler(supervisor *session.Supervisor) *ConnectionHandler {
	return &ConnectionHandler{supervisor: supervisor}
}

func (h *ConnectionHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.Create)
	r.Get("/", h.List)
	r.Get("/{sessionId}", h.Get)
	r.Post("/{sessionId}/restart", h.Restart)
	r.Delete("/{sessionId}", h.Remove)

	return r
}

type createConnectionRequest struct {
	PairingMethod string `json:"pairingMethod"`
	PhoneNumber   string `json:"phoneNumber"`
}

// POST /api/connection
func (h *ConnectionHandler) Create(w http.ResponseWriter, r *http.Request) {
	account := middleware.GetAccount(r.Context())

	var req createConnectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.InvalidArgument("body", "malformed JSON"))
		return
	}
	if req.PairingMethod == "" {
		req.PairingMethod = string(model.PairingQR)
	}

	result, err := h.supervisor.Create(r.Context(), account.ID, model.PairingMethod(req.PairingMethod), req.PhoneNumber)
	if err != nil {
		log.Error().Err(err).Str("accountId", account.ID).Msg("failed to create connection")
		writeError(w, err)
		return
	}

	writeData(w, http.StatusCreated, result)
}

// GET /api/connection
func (h *ConnectionHandler) List(w http.ResponseWriter, r *http.Request) {
	account := middleware.GetAccount(r.Context())
	writeData(w, http.StatusOK, h.supervisor.List(account.ID))
}

// GET /api/connection/{sessionId}
func (h *ConnectionHandler) Get(w http.ResponseWriter, r *http.Request) {
	account := middleware.GetAccount(r.Context())
	sessionID := chi.URLParam(r, "sessionId")

	summary, err := h.supervisor.Get(account.ID, sessionID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeData(w, http.StatusOK, summary)
}

// POST /api/connection/{sessionId}/restart
func (h *ConnectionHandler) Restart(w http.ResponseWriter, r *http.Request) {
	account := middleware.GetAccount(r.Context())
	sessionID := chi.URLParam(r, "sessionId")

	result, err := h.supervisor.Restart(r.Context(), account.ID, sessionID)
	if err != nil {
		log.Error().Err(err).Str("sessionId", sessionID).Msg("failed to restart connection")
		writeError(w, err)
		return
	}

	writeData(w, http.StatusOK, result)
}

// DELETE /api/connection/{sessionId}
func (h *ConnectionHandler) Remove(w http.ResponseWriter, r *http.Request) {
	account := middleware.GetAccount(r.Context())
	sessionID := chi.URLParam(r, "sessionId")

	if err := h.supervisor.Remove(r.Context(), account.ID, sessionID); err != nil {
		writeError(w, err)
		return
	}

	writeMessage(w, http.StatusOK, "Session removed")
}
