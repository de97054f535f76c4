package handlers

import (
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/kartikbazzad/bunbase/collab/internal/models"
	"github.com/kartikbazzad/bunbase/collab/internal/store"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// MessageHandler serves the chat history.
type MessageHandler struct {
	projects *ProjectHandler
	messages store.Messages
}

// NewMessageHandler creates a new MessageHandler
func NewMessageHandler(projects *ProjectHandler, messages store.Messages) *MessageHandler {
	return &MessageHandler{projects: projects, messages: messages}
}

func queryInt(c *gin.Context, name string, def int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": name + " must be a positive integer"})
		return 0, false
	}
	return n, true
}

// ListMessages returns one page of history. Page 1 is the newest; each page
// is ordered oldest first.
func (h *MessageHandler) ListMessages(c *gin.Context) {
	project, ok := h.projects.authorize(c)
	if !ok {
		return
	}
	page, ok := queryInt(c, "page", 1)
	if !ok {
		return
	}
	limit, ok := queryInt(c, "limit", defaultPageSize)
	if !ok {
		return
	}
	limit = min(limit, maxPageSize)
	if page > math.MaxInt/limit {
		c.JSON(http.StatusBadRequest, gin.H{"error": "page is out of range"})
		return
	}

	msgs, err := h.messages.ListMessages(c.Request.Context(), project.ID, page, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}

	c.JSON(http.StatusOK, gin.H{"messages": msgs, "page": page, "limit": limit})
}
