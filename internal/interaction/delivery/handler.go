package delivery

import (
	"net/http"
	"strconv"

	"github.com/PBLIZZ/app-omnicrm-sub012/internal/interaction/repository"

	"github.com/gin-gonic/gin"
)

// InteractionHandler serves the normalized timeline
type InteractionHandler struct {
	interactions repository.InteractionRepository
}

func NewInteractionHandler(interactions repository.InteractionRepository) *InteractionHandler {
	return &InteractionHandler{
		interactions: interactions,
	}
}

// GetInteractions returns the authenticated user's interactions, newest first
// GET /api/interactions?limit=50&offset=0
func (h *InteractionHandler) GetInteractions(c *gin.Context) {
	userID := c.GetString("userID")

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	items, total, err := h.interactions.FindByUser(userID, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"interactions": items,
		"total":        total,
	})
}
