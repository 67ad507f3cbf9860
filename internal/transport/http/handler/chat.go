package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"certguide/internal/ai"
	"certguide/internal/app"
	"certguide/internal/transport/http/middleware"
	"certguide/internal/transport/http/response"
)

// LLMStatusChecker reports generator availability; *ai.Generator satisfies it.
type LLMStatusChecker interface {
	Status(ctx context.Context) ai.Status
}

type ChatHandler struct {
	chatService *app.ChatService
	llm         LLMStatusChecker
}

type SendMessageRequest struct {
	Message   string `json:"message" binding:"required"`
	SessionID string `json:"session_id" binding:"max=64"`
}

func NewChatHandler(chatService *app.ChatService, llm LLMStatusChecker) *ChatHandler {
	return &ChatHandler{chatService: chatService, llm: llm}
}

func (h *ChatHandler) SendMessage(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	reply, err := h.chatService.SendMessage(c.Request.Context(), app.SendMessageInput{
		UserID:    userID,
		SessionID: req.SessionID,
		Content:   req.Message,
	})
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidInput), errors.Is(err, app.ErrMessageEmpty), errors.Is(err, app.ErrMessageTooLong):
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		case errors.Is(err, app.ErrMessageEnqueue):
			response.Error(c, http.StatusServiceUnavailable, response.CodeServiceUnavailable, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "send message failed")
		}
		return
	}
	response.OK(c, reply)
}

func (h *ChatHandler) GetHistory(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	limit := 100
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			limit = parsed
		}
	}

	history, err := h.chatService.GetHistory(c.Request.Context(), userID, c.Query("session_id"), limit)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidInput), errors.Is(err, app.ErrSessionRequired):
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "get history failed")
		}
		return
	}
	response.OK(c, history)
}

func (h *ChatHandler) LLMStatus(c *gin.Context) {
	if h.llm == nil {
		response.OK(c, ai.Status{Error: ai.ErrNotConfigured.Error()})
		return
	}
	response.OK(c, h.llm.Status(c.Request.Context()))
}
