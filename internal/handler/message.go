package handler

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/zapgate/gateway-server-go/internal/config"
	apperrors "github.com/zapgate/gateway-server-go/internal/errors"
	"github.com/zapgate/gateway-server-go/internal/middleware"
	"github.com/zapgate/gateway-server-go/internal/session"
)

type MessageHandler struct {
	gateway *session.Gateway
}

func NewMessageHandler(gateway *session.Gateway) *MessageHandler {
	return &MessageHandler{gateway: gateway}
}

type sendMessageRequest struct {
	SessionID string `json:"sessionId"`
	To        string `json:"to"`
	Text      string `json:"text"`
}

// POST /api/send-message
func (h *MessageHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	account := middleware.GetAccount(r.Context())

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.InvalidArgument("body", "malformed JSON"))
		return
	}
	if req.SessionID == "" {
		writeError(w, apperrors.MissingRequired("sessionId"))
		return
	}

	jid, err := h.gateway.SendMessage(r.Context(), account.ID, req.SessionID, req.To, req.Text)
	if err != nil {
		writeError(w, err)
		return
	}

	writeData(w, http.StatusOK, map[string]string{"to": jid})
}

// POST /api/send-file (multipart/form-data: sessionId, to, caption, file)
func (h *MessageHandler) SendFile(w http.ResponseWriter, r *http.Request) {
	account := middleware.GetAccount(r.Context())

	if err := r.ParseMultipartForm(config.MaxUploadBytes); err != nil {
		writeError(w, apperrors.InvalidArgument("body", "malformed multipart form"))
		return
	}

	sessionID := r.FormValue("sessionId")
	if sessionID == "" {
		writeError(w, apperrors.MissingRequired("sessionId"))
		return
	}
	to := r.FormValue("to")
	caption := r.FormValue("caption")

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, apperrors.MissingRequired("file"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		log.Error().Err(err).Msg("failed to read uploaded file")
		writeError(w, apperrors.Internal("Failed to read uploaded file"))
		return
	}

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}

	jid, err := h.gateway.SendFile(r.Context(), account.ID, sessionID, to, data, header.Filename, mimeType, caption)
	if err != nil {
		writeError(w, err)
		return
	}

	writeData(w, http.StatusOK, map[string]string{"to": jid})
}

type validateNumberRequest struct {
	SessionID string `json:"sessionId"`
	Number    string `json:"number"`
}

// POST /api/validate-number
func (h *MessageHandler) ValidateNumber(w http.ResponseWriter, r *http.Request) {
	account := middleware.GetAccount(r.Context())

	var req validateNumberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.InvalidArgument("body", "malformed JSON"))
		return
	}
	if req.SessionID == "" {
		writeError(w, apperrors.MissingRequired("sessionId"))
		return
	}

	info, err := h.gateway.ValidateNumber(r.Context(), account.ID, req.SessionID, req.Number)
	if err != nil {
		writeError(w, err)
		return
	}

	writeData(w, http.StatusOK, info)
}
