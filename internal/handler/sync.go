package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/zapgate/gateway-server-go/internal/middleware"
	"github.com/zapgate/gateway-server-go/internal/session"
)

// SyncHandler exposes the in-memory history buffers and live group metadata
// of a connected session.
type SyncHandler struct {
	supervisor *session.Supervisor
	gateway    *session.Gateway
}

func NewSyncHandler(supervisor *session.Supervisor, gateway *session.Gateway) *SyncHandler {
	return &SyncHandler{supervisor: supervisor, gateway: gateway}
}

// GET /api/contacts/{sessionId}
func (h *SyncHandler) Contacts(w http.ResponseWriter, r *http.Request) {
	account := middleware.GetAccount(r.Context())
	sessionID := chi.URLParam(r, "sessionId")

	contacts, err := h.supervisor.Contacts(account.ID, sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, contacts)
}

// GET /api/chats/{sessionId}
func (h *SyncHandler) Chats(w http.ResponseWriter, r *http.Request) {
	account := middleware.GetAccount(r.Context())
	sessionID := chi.URLParam(r, "sessionId")

	chats, err := h.supervisor.Chats(account.ID, sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, chats)
}

// GET /api/messages/{sessionId}?limit=
func (h *SyncHandler) Messages(w http.ResponseWriter, r *http.Request) {
	account := middleware.GetAccount(r.Context())
	sessionID := chi.URLParam(r, "sessionId")

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	messages, err := h.supervisor.Messages(account.ID, sessionID, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, messages)
}

// GET /api/groups/{sessionId}
func (h *SyncHandler) Groups(w http.ResponseWriter, r *http.Request) {
	account := middleware.GetAccount(r.Context())
	sessionID := chi.URLParam(r, "sessionId")

	groups, err := h.gateway.Groups(r.Context(), account.ID, sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, groups)
}
