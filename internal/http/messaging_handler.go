package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"dentaldir/internal/service"
)

// MessagingHandler mantiene dependencias para endpoints de conversaciones y mensajes.
type MessagingHandler struct {
	logger    *zap.Logger
	messaging *service.MessagingService
}

// NewMessagingHandler crea una instancia de MessagingHandler con dependencias necesarias.
func NewMessagingHandler(logger *zap.Logger, messaging *service.MessagingService) *MessagingHandler {
	return &MessagingHandler{
		logger:    logger,
		messaging: messaging,
	}
}

// StartConversation maneja POST /conversations.
func (h *MessagingHandler) StartConversation(c *gin.Context) {
	var req struct {
		DentistID string `json:"dentist_id" binding:"required"`
		Message   string `json:"message" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid start conversation request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	conv, msg, err := h.messaging.StartConversation(c.Request.Context(), currentUserID(c), req.DentistID, req.Message)
	if err != nil {
		h.respondError(c, "start conversation", err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"conversation": conv, "message": msg})
}

// SendMessage maneja POST /conversations/:id/messages.
func (h *MessagingHandler) SendMessage(c *gin.Context) {
	var req struct {
		Message string `json:"message" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid send message request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	msg, err := h.messaging.SendMessage(c.Request.Context(), c.Param("id"), currentUserID(c), req.Message)
	if err != nil {
		h.respondError(c, "send message", err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"message": msg})
}

// GetMessages maneja GET /conversations/:id/messages.
// Con after_id > 0 es un poll incremental; si no, devuelve la pagina pedida.
func (h *MessagingHandler) GetMessages(c *gin.Context) {
	afterID, _ := strconv.ParseInt(c.DefaultQuery("after_id", "0"), 10, 64)
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))

	result, err := h.messaging.GetMessages(c.Request.Context(), c.Param("id"), currentUserID(c), afterID, page)
	if err != nil {
		h.respondError(c, "get messages", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"messages": result.Messages, "has_more": result.HasMore})
}

// ListConversations maneja GET /conversations.
func (h *MessagingHandler) ListConversations(c *gin.Context) {
	summaries, err := h.messaging.ListConversations(c.Request.Context(), currentUserID(c))
	if err != nil {
		h.respondError(c, "list conversations", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"conversations": summaries})
}

// MarkRead maneja POST /conversations/:id/read.
func (h *MessagingHandler) MarkRead(c *gin.Context) {
	if err := h.messaging.MarkRead(c.Request.Context(), c.Param("id"), currentUserID(c)); err != nil {
		h.respondError(c, "mark read", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// QuotaStatus maneja GET /me/quota.
func (h *MessagingHandler) QuotaStatus(c *gin.Context) {
	status, err := h.messaging.QuotaStatus(c.Request.Context(), currentUserID(c))
	if err != nil {
		h.respondError(c, "quota status", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"quota": status})
}

// respondError traduce errores del servicio a respuestas HTTP. El caso de
// cuota viaja con upgrade=true para que el cliente ofrezca pasar a premium.
func (h *MessagingHandler) respondError(c *gin.Context, op string, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
	case errors.Is(err, service.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	case errors.Is(err, service.ErrConversationNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
	case errors.Is(err, service.ErrDentistNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "dentist not found"})
	case errors.Is(err, service.ErrQuotaExceeded):
		c.JSON(http.StatusPaymentRequired, gin.H{
			"error":   "monthly message limit reached",
			"upgrade": true,
		})
	case errors.Is(err, service.ErrSendRateLimited):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
	default:
		h.logger.Error(op+" failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "something went wrong, try again"})
	}
}
