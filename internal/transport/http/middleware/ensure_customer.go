package middleware

import (
	"log/slog"
	"net/http"

	"github.com/ErlanBelekov/replenishment/internal/repository"
	"github.com/gin-gonic/gin"
)

// EnsureCustomer runs after Auth. It upserts the token subject into customers so that
// replenishment and order FKs always hold.
func EnsureCustomer(repo repository.CustomerRepository, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		customerID := c.GetString("customerID")
		if err := repo.Upsert(c.Request.Context(), customerID); err != nil {
			logger.ErrorContext(c.Request.Context(), "ensure customer upsert", "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError,
				gin.H{"error": "Internal server error"})
			return
		}
		c.Next()
	}
}
