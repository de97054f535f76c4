package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kartikbazzad/bunbase/collab/internal/middleware"
	"github.com/kartikbazzad/bunbase/collab/internal/models"
)

// Me returns the authenticated user's profile.
func (h *AuthHandler) Me(c *gin.Context) {
	id, ok := middleware.RequireAuth(c)
	if !ok {
		return
	}

	user, err := h.auth.Profile(c.Request.Context(), id.UserID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, user)
}

// ListUsers lists every account so members can be added by id.
func (h *AuthHandler) ListUsers(c *gin.Context) {
	if _, ok := middleware.RequireAuth(c); !ok {
		return
	}

	users, err := h.auth.ListUsers(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	if users == nil {
		users = []*models.User{}
	}

	c.JSON(http.StatusOK, users)
}
