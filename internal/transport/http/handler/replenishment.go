package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ErlanBelekov/replenishment/internal/domain"
	"github.com/ErlanBelekov/replenishment/internal/usecase"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type replenishmentUsecaser interface {
	Create(ctx context.Context, input usecase.CreateReplenishmentInput) (*domain.Replenishment, error)
	GetByID(ctx context.Context, customerID, id string) (*domain.Replenishment, error)
	ListForCustomer(ctx context.Context, customerID string) ([]*domain.Replenishment, int, error)
	Update(ctx context.Context, customerID, id string, input usecase.UpdateReplenishmentInput) (*domain.Replenishment, error)
	Toggle(ctx context.Context, customerID, id string) (*domain.Replenishment, error)
	Remove(ctx context.Context, customerID, id string) error
}

type ReplenishmentHandler struct {
	usecase replenishmentUsecaser
	logger  *slog.Logger
}

func NewReplenishmentHandler(uc replenishmentUsecaser, logger *slog.Logger) *ReplenishmentHandler {
	return &ReplenishmentHandler{usecase: uc, logger: logger.With("component", "replenishment_handler")}
}

type orderItemRequest struct {
	ProductID string `json:"product_id" binding:"required"`
	Quantity  int    `json:"quantity"   binding:"required,min=1"`
}

type createReplenishmentRequest struct {
	PaymentMethod   string             `json:"payment_method"   binding:"required"`
	ShippingCountry string             `json:"shipping_country" binding:"required,len=2"`
	Items           []orderItemRequest `json:"items"            binding:"required,min=1,dive"`
	Interval        int                `json:"interval"         binding:"required,min=1"`
	Unit            domain.Unit        `json:"unit"             binding:"required,oneof=day week month year custom"`
	Starting        *time.Time         `json:"starting"`
	Expiry          *time.Time         `json:"expiry"`
	Times           *int               `json:"times"            binding:"omitempty,min=1"`
}

type updateReplenishmentRequest struct {
	Interval int         `json:"interval" binding:"required,min=1"`
	Unit     domain.Unit `json:"unit"     binding:"required,oneof=day week month year custom"`
	Starting *time.Time  `json:"starting"`
	Expiry   *time.Time  `json:"expiry"`
	Times    *int        `json:"times"    binding:"omitempty,min=1"`
}

type paymentResponse struct {
	ID          string    `json:"id"`
	PaymentDate time.Time `json:"payment_date"`
}

type replenishmentResponse struct {
	ID              string                     `json:"id"`
	Status          domain.ReplenishmentStatus `json:"status"`
	Unit            domain.Unit                `json:"unit"`
	Interval        int                        `json:"interval"`
	StartDate       time.Time                  `json:"start_date"`
	EndDate         *time.Time                 `json:"end_date,omitempty"`
	Times           *int                       `json:"times,omitempty"`
	Executions      int                        `json:"executions"`
	LastPaymentDate *time.Time                 `json:"last_payment_date,omitempty"`
	NextPaymentDate *time.Time                 `json:"next_payment_date,omitempty"`
	Payments        []paymentResponse          `json:"payments"`
	CreatedAt       time.Time                  `json:"created_at"`
	UpdatedAt       time.Time                  `json:"updated_at"`
}

type listReplenishmentsResponse struct {
	Replenishments []replenishmentResponse `json:"replenishments"`
	Total          int                     `json:"total"`
}

func toResponse(rp *domain.Replenishment) replenishmentResponse {
	payments := make([]paymentResponse, 0, len(rp.Payments))
	for _, p := range rp.Payments {
		payments = append(payments, paymentResponse{ID: p.ID, PaymentDate: p.PaymentDate})
	}
	return replenishmentResponse{
		ID:              rp.ID,
		Status:          rp.Status,
		Unit:            rp.Unit,
		Interval:        rp.Interval,
		StartDate:       rp.StartDate,
		EndDate:         rp.EndDate,
		Times:           rp.Times,
		Executions:      rp.Executions,
		LastPaymentDate: rp.LastPaymentDate,
		NextPaymentDate: rp.NextPaymentDate,
		Payments:        payments,
		CreatedAt:       rp.CreatedAt,
		UpdatedAt:       rp.UpdatedAt,
	}
}

func (h *ReplenishmentHandler) Create(ctx *gin.Context) {
	var req createReplenishmentRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	items := make([]domain.OrderItem, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, domain.OrderItem{ProductID: it.ProductID, Quantity: it.Quantity})
	}

	rp, err := h.usecase.Create(ctx.Request.Context(), usecase.CreateReplenishmentInput{
		CustomerID: ctx.GetString("customerID"),
		Order: domain.OrderPayload{
			PaymentMethod:   req.PaymentMethod,
			ShippingCountry: req.ShippingCountry,
			Items:           items,
		},
		Interval: req.Interval,
		Unit:     req.Unit,
		Starting: req.Starting,
		Expiry:   req.Expiry,
		Times:    req.Times,
	})
	if err != nil {
		writeError(ctx, h.logger, "create replenishment", err)
		return
	}

	ctx.JSON(http.StatusCreated, toResponse(rp))
}

func (h *ReplenishmentHandler) List(ctx *gin.Context) {
	rows, total, err := h.usecase.ListForCustomer(ctx.Request.Context(), ctx.GetString("customerID"))
	if err != nil {
		writeError(ctx, h.logger, "list replenishments", err)
		return
	}

	resp := listReplenishmentsResponse{Replenishments: make([]replenishmentResponse, 0, len(rows)), Total: total}
	for _, rp := range rows {
		resp.Replenishments = append(resp.Replenishments, toResponse(rp))
	}
	ctx.JSON(http.StatusOK, resp)
}

// idParam reads the :id path segment. Anything that is not a uuid cannot name a stored row.
func (h *ReplenishmentHandler) idParam(ctx *gin.Context, op string) (string, bool) {
	id := ctx.Param("id")
	if err := uuid.Validate(id); err != nil {
		writeError(ctx, h.logger, op, domain.ErrReplenishmentNotFound)
		return "", false
	}
	return id, true
}

func (h *ReplenishmentHandler) GetByID(ctx *gin.Context) {
	id, ok := h.idParam(ctx, "get replenishment")
	if !ok {
		return
	}
	rp, err := h.usecase.GetByID(ctx.Request.Context(), ctx.GetString("customerID"), id)
	if err != nil {
		writeError(ctx, h.logger, "get replenishment", err)
		return
	}
	ctx.JSON(http.StatusOK, toResponse(rp))
}

func (h *ReplenishmentHandler) Update(ctx *gin.Context) {
	id, ok := h.idParam(ctx, "update replenishment")
	if !ok {
		return
	}
	var req updateReplenishmentRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rp, err := h.usecase.Update(ctx.Request.Context(), ctx.GetString("customerID"), id, usecase.UpdateReplenishmentInput{
		Interval: req.Interval,
		Unit:     req.Unit,
		Starting: req.Starting,
		Expiry:   req.Expiry,
		Times:    req.Times,
	})
	if err != nil {
		writeError(ctx, h.logger, "update replenishment", err)
		return
	}
	ctx.JSON(http.StatusOK, toResponse(rp))
}

// Toggle cancels an armed replenishment or resumes a canceled one.
func (h *ReplenishmentHandler) Toggle(ctx *gin.Context) {
	id, ok := h.idParam(ctx, "toggle replenishment")
	if !ok {
		return
	}
	rp, err := h.usecase.Toggle(ctx.Request.Context(), ctx.GetString("customerID"), id)
	if err != nil {
		writeError(ctx, h.logger, "toggle replenishment", err)
		return
	}
	ctx.JSON(http.StatusOK, toResponse(rp))
}

func (h *ReplenishmentHandler) Remove(ctx *gin.Context) {
	id, ok := h.idParam(ctx, "remove replenishment")
	if !ok {
		return
	}
	if err := h.usecase.Remove(ctx.Request.Context(), ctx.GetString("customerID"), id); err != nil {
		writeError(ctx, h.logger, "remove replenishment", err)
		return
	}
	ctx.Status(http.StatusNoContent)
}
