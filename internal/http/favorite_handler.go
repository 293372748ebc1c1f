package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"dentaldir/internal/service"
)

// FavoriteHandler mantiene dependencias para endpoints de favoritos.
type FavoriteHandler struct {
	logger    *zap.Logger
	favorites *service.FavoriteService
}

func NewFavoriteHandler(logger *zap.Logger, favorites *service.FavoriteService) *FavoriteHandler {
	return &FavoriteHandler{
		logger:    logger,
		favorites: favorites,
	}
}

// Toggle maneja POST /favorites/:dentist_id/toggle.
func (h *FavoriteHandler) Toggle(c *gin.Context) {
	result, err := h.favorites.Toggle(c.Request.Context(), currentUserID(c), c.Param("dentist_id"))
	if err != nil {
		h.respondError(c, "toggle favorite", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": result})
}

// Remove maneja DELETE /favorites/:dentist_id.
func (h *FavoriteHandler) Remove(c *gin.Context) {
	if err := h.favorites.Remove(c.Request.Context(), currentUserID(c), c.Param("dentist_id")); err != nil {
		h.respondError(c, "remove favorite", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// List maneja GET /me/favorites.
func (h *FavoriteHandler) List(c *gin.Context) {
	favorites, err := h.favorites.List(c.Request.Context(), currentUserID(c))
	if err != nil {
		h.respondError(c, "list favorites", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"favorites": favorites})
}

func (h *FavoriteHandler) respondError(c *gin.Context, op string, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
	case errors.Is(err, service.ErrDentistNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "dentist not found"})
	case errors.Is(err, service.ErrFavoriteNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "favorite not found"})
	default:
		h.logger.Error(op+" failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "something went wrong, try again"})
	}
}
