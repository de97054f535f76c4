package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/kartikbazzad/bunbase/collab/pkg/logger"
)

// RequestIDHeader carries the per-request trace id.
const RequestIDHeader = "X-Request-ID"

const maxRequestIDLength = 128

// RequestIDMiddleware tags each request with a trace id, reusing the
// caller's X-Request-ID when it is present and reasonably short. The id is
// echoed in the response and stored in the request context for
// logger.WithTraceID.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" || len(id) > maxRequestIDLength {
			id = uuid.NewString()
		}
		c.Header(RequestIDHeader, id)
		c.Request = c.Request.WithContext(logger.ContextWithTraceID(c.Request.Context(), id))
		c.Next()
	}
}
