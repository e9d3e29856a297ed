package middleware

import (
	"github.com/ErlanBelekov/replenishment/internal/requestid"
	"github.com/gin-gonic/gin"
)

// RequestID carries the caller's X-Request-ID through the request context and echoes it back,
// minting one when absent.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestid.Header)
		if id == "" {
			id = requestid.New()
		}

		ctx := requestid.WithRequestID(c.Request.Context(), id)
		c.Request = c.Request.WithContext(ctx)
		c.Header(requestid.Header, id)
		c.Next()
	}
}
