// Package payment charges a customer's stored payment method.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ErlanBelekov/replenishment/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type ChargeRequest struct {
	CustomerID    string
	Amount        decimal.Decimal
	Currency      string
	PaymentMethod string
	// IdempotencyKey is stable across redeliveries of the same trigger.
	IdempotencyKey string
}

type ChargeResult struct {
	AmountCharged decimal.Decimal
	Reference     string
}

type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
}

// DeclinedError is returned when the provider refused the charge.
type DeclinedError struct {
	Code    string
	Message string
}

func (e *DeclinedError) Error() string {
	return fmt.Sprintf("payment declined (%s): %s", e.Code, e.Message)
}

func (e *DeclinedError) Unwrap() error { return domain.ErrPaymentFailed }

// HTTPGateway talks to a JSON payments API.
type HTTPGateway struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewHTTPGateway(baseURL, apiKey string, timeout time.Duration) *HTTPGateway {
	return &HTTPGateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

type chargeBody struct {
	Customer      string `json:"customer"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	PaymentMethod string `json:"payment_method,omitempty"`
}

type chargeResponse struct {
	ID     string          `json:"id"`
	Amount decimal.Decimal `json:"amount"`
	Error  *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (g *HTTPGateway) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	body, err := json.Marshal(chargeBody{
		Customer:      req.CustomerID,
		Amount:        req.Amount.StringFixed(2),
		Currency:      req.Currency,
		PaymentMethod: req.PaymentMethod,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal charge: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/charges", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)
	if req.IdempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)
	}

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var out chargeResponse
	decodeErr := json.NewDecoder(resp.Body).Decode(&out)
	_, _ = io.Copy(io.Discard, resp.Body) // drain so the connection can be reused by the pool

	switch {
	case resp.StatusCode == http.StatusPaymentRequired:
		d := &DeclinedError{Code: "declined"}
		if decodeErr == nil && out.Error != nil {
			d.Code, d.Message = out.Error.Code, out.Error.Message
		}
		return nil, d
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, fmt.Errorf("charge: unexpected status %d", resp.StatusCode)
	case decodeErr != nil:
		return nil, fmt.Errorf("decode charge response: %w", decodeErr)
	case out.ID == "":
		return nil, errors.New("charge: response has no reference")
	}

	return &ChargeResult{AmountCharged: out.Amount, Reference: out.ID}, nil
}

// LocalGateway approves every charge. Used in ENV=local.
type LocalGateway struct {
	logger *slog.Logger
}

func (g *LocalGateway) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	ref := "local_" + uuid.NewString()
	g.logger.InfoContext(ctx, "charge approved (local dev)",
		"customer_id", req.CustomerID,
		"amount", req.Amount.StringFixed(2),
		"currency", req.Currency,
		"idempotency_key", req.IdempotencyKey,
		"reference", ref,
	)
	return &ChargeResult{AmountCharged: req.Amount, Reference: ref}, nil
}

// NewGateway returns a LocalGateway for ENV=local, HTTPGateway otherwise.
func NewGateway(env, baseURL, apiKey string, logger *slog.Logger) Gateway {
	if env == "local" {
		return &LocalGateway{logger: logger}
	}
	return NewHTTPGateway(baseURL, apiKey, 30*time.Second)
}
