package handlers

import (
	"github.com/gin-gonic/gin"

	apperrors "github.com/kartikbazzad/bunbase/collab/pkg/errors"
	"github.com/kartikbazzad/bunbase/collab/pkg/logger"
)

// respondError writes err as {"error": message} with its mapped status.
// Internal failures are logged and hidden from the caller.
func respondError(c *gin.Context, err error) {
	status := apperrors.HTTPStatus(err)
	if status >= 500 {
		log := logger.WithTraceID(c.Request.Context(), logger.Component("http"))
		log.Error("Request failed",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"error", err,
		)
	}
	c.JSON(status, gin.H{"error": apperrors.PublicMessage(err)})
}
