package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/support-widget/internal/middleware"
	"github.com/capitalize-ai/support-widget/internal/model"
	"github.com/capitalize-ai/support-widget/internal/service"
	"github.com/capitalize-ai/support-widget/pkg/logger"
)

// SessionHandler handles chat session and chatbot endpoints.
type SessionHandler struct {
	service *service.SessionService
	logger  *logger.Logger
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(svc *service.SessionService, log *logger.Logger) *SessionHandler {
	return &SessionHandler{
		service: svc,
		logger:  log,
	}
}

// Create handles POST /api/chat-sessions
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req model.CreateChatSessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(req.Email)

	if err := middleware.ValidateStruct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	session, err := h.service.Start(r.Context(), &req)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusNotFound {
			writeError(w, status, "chatbot not found")
			return
		}
		h.logger.Error("failed to create chat session", zap.Int64("chatbot_id", req.ChatbotID.Int64()), zap.Error(err))
		writeError(w, status, "failed to create chat session")
		return
	}

	writeJSON(w, http.StatusCreated, session)
}

// GetChatbot handles GET /api/chatbots/{id}
func (h *SessionHandler) GetChatbot(w http.ResponseWriter, r *http.Request) {
	id, err := middleware.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	bot, err := h.service.Chatbot(r.Context(), id)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusNotFound {
			writeError(w, status, "chatbot not found")
			return
		}
		h.logger.Error("failed to get chatbot", zap.Int64("chatbot_id", id), zap.Error(err))
		writeError(w, status, "failed to get chatbot")
		return
	}

	writeJSON(w, http.StatusOK, bot)
}
