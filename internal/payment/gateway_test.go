package payment_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ErlanBelekov/replenishment/internal/domain"
	"github.com/ErlanBelekov/replenishment/internal/payment"
	"github.com/shopspring/decimal"
)

func chargeReq() payment.ChargeRequest {
	return payment.ChargeRequest{
		CustomerID:     "cust-1",
		Amount:         decimal.RequireFromString("24.97"),
		Currency:       "usd",
		PaymentMethod:  "pm_1",
		IdempotencyKey: "job-1",
	}
}

func TestHTTPGateway_Charge(t *testing.T) {
	var gotKey, gotAuth string
	var gotBody map[string]string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/charges" || r.Method != http.MethodPost {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		gotKey = r.Header.Get("Idempotency-Key")
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"ch_123","amount":"24.97"}`))
	}))
	defer srv.Close()

	gw := payment.NewHTTPGateway(srv.URL+"/", "sk_test", 0)
	res, err := gw.Charge(context.Background(), chargeReq())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if res.Reference != "ch_123" || !res.AmountCharged.Equal(decimal.RequireFromString("24.97")) {
		t.Errorf("unexpected result: %+v", res)
	}
	if gotKey != "job-1" {
		t.Errorf("Idempotency-Key = %q, want job-1", gotKey)
	}
	if gotAuth != "Bearer sk_test" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotBody["amount"] != "24.97" || gotBody["customer"] != "cust-1" {
		t.Errorf("unexpected body: %v", gotBody)
	}
}

func TestHTTPGateway_Declined(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{"error":{"code":"card_declined","message":"insufficient funds"}}`))
	}))
	defer srv.Close()

	_, err := payment.NewHTTPGateway(srv.URL, "sk", 0).Charge(context.Background(), chargeReq())

	var declined *payment.DeclinedError
	if !errors.As(err, &declined) {
		t.Fatalf("expected DeclinedError, got %v", err)
	}
	if declined.Code != "card_declined" {
		t.Errorf("code = %q", declined.Code)
	}
	if !errors.Is(err, domain.ErrPaymentFailed) {
		t.Error("DeclinedError should unwrap to ErrPaymentFailed")
	}
}

func TestHTTPGateway_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := payment.NewHTTPGateway(srv.URL, "sk", 0).Charge(context.Background(), chargeReq())
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, domain.ErrPaymentFailed) {
		t.Error("transport failures are not declines")
	}
}

func TestNewGateway_LocalApproves(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	gw := payment.NewGateway("local", "", "", logger)

	res, err := gw.Charge(context.Background(), chargeReq())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.AmountCharged.Equal(chargeReq().Amount) || res.Reference == "" {
		t.Errorf("unexpected result: %+v", res)
	}
}
