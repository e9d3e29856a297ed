package httptransport

import (
	"log/slog"

	"github.com/ErlanBelekov/replenishment/internal/repository"
	"github.com/ErlanBelekov/replenishment/internal/transport/http/handler"
	"github.com/ErlanBelekov/replenishment/internal/transport/http/middleware"
	"github.com/gin-gonic/gin"

	sloggin "github.com/samber/slog-gin"
)

func NewRouter(logger *slog.Logger, replenishmentHandler *handler.ReplenishmentHandler, customers repository.CustomerRepository, jwtKey []byte) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Security())
	// request_id comes from the RequestID middleware through the context handler.
	r.Use(sloggin.NewWithConfig(logger, sloggin.Config{WithRequestID: false}))
	r.Use(middleware.Metrics())

	authMW := middleware.Auth(jwtKey)
	ensureCustomer := middleware.EnsureCustomer(customers, logger)

	replenishments := r.Group("/replenishments", authMW, ensureCustomer)
	replenishments.POST("", replenishmentHandler.Create)
	replenishments.GET("", replenishmentHandler.List)
	replenishments.GET("/:id", replenishmentHandler.GetByID)
	replenishments.PATCH("/:id", replenishmentHandler.Update)
	replenishments.POST("/:id/toggle", replenishmentHandler.Toggle)
	replenishments.DELETE("/:id", replenishmentHandler.Remove)

	return r
}
