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

// MessageHandler handles message endpoints.
type MessageHandler struct {
	messageService *service.MessageService
	logger         *logger.Logger
}

// NewMessageHandler creates a new message handler.
func NewMessageHandler(msgSvc *service.MessageService, log *logger.Logger) *MessageHandler {
	return &MessageHandler{
		messageService: msgSvc,
		logger:         log,
	}
}

// Send handles POST /api/send-message
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req model.DeliveryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Content = strings.TrimSpace(req.Content)

	if err := middleware.ValidateStruct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := middleware.ValidateMessageContent(req.Content); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	reply, err := h.messageService.Send(ctx, &req)
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("failed to deliver message",
				zap.Int64("chat_session_id", req.ChatSessionID.Int64()),
				zap.String("correlation_id", middleware.GetCorrelationID(ctx)),
				zap.Error(err),
			)
		}
		writeError(w, status, deliveryErrorMessage(status))
		return
	}

	writeJSON(w, http.StatusOK, model.DeliveryReply{ID: reply.ID, Content: reply.Content})
}

// List handles GET /api/chat-sessions/{id}/messages
func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sessionID, err := middleware.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.messageService.GetMessages(ctx, sessionID)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusNotFound {
			writeError(w, status, "chat session not found")
			return
		}
		h.logger.Error("failed to get messages", zap.Int64("chat_session_id", sessionID), zap.Error(err))
		writeError(w, status, "failed to get messages")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func deliveryErrorMessage(status int) string {
	switch status {
	case http.StatusNotFound:
		return "chat session or chatbot not found"
	case http.StatusBadRequest:
		return "chat session does not belong to this chatbot"
	case http.StatusBadGateway:
		return "agent reply unavailable"
	default:
		return "failed to deliver message"
	}
}
