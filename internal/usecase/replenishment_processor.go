package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ErlanBelekov/replenishment/internal/cadence"
	"github.com/ErlanBelekov/replenishment/internal/clock"
	"github.com/ErlanBelekov/replenishment/internal/domain"
	"github.com/ErlanBelekov/replenishment/internal/email"
	"github.com/ErlanBelekov/replenishment/internal/payment"
	"github.com/ErlanBelekov/replenishment/internal/repository"
	"github.com/shopspring/decimal"
)

const dateLayout = "January 2, 2006"

type ShippingCalculator interface {
	Calculate(country, method string, items []domain.PricedItem) (domain.ShippingQuote, error)
	DeliveryEstimate(method string, placedAt time.Time) time.Time
}

// ReplenishmentProcessor handles every firing of a replenishment trigger: it charges,
// books the order and advances or closes the schedule.
type ReplenishmentProcessor struct {
	customers      repository.CustomerRepository
	replenishments repository.ReplenishmentRepository
	products       repository.ProductRepository
	orders         repository.OrderRepository
	queue          repository.TriggerQueue
	payloads       repository.PayloadStore
	tx             repository.Transactor
	gateway        payment.Gateway
	shipping       ShippingCalculator
	sender         email.Sender
	clock          clock.Clock
	logger         *slog.Logger

	currency       string
	shippingMethod string
}

type ProcessorDeps struct {
	Customers      repository.CustomerRepository
	Replenishments repository.ReplenishmentRepository
	Products       repository.ProductRepository
	Orders         repository.OrderRepository
	Queue          repository.TriggerQueue
	Payloads       repository.PayloadStore
	Tx             repository.Transactor
	Gateway        payment.Gateway
	Shipping       ShippingCalculator
	Sender         email.Sender
	Clock          clock.Clock
}

func NewReplenishmentProcessor(deps ProcessorDeps, currency, shippingMethod string, logger *slog.Logger) *ReplenishmentProcessor {
	return &ReplenishmentProcessor{
		customers:      deps.Customers,
		replenishments: deps.Replenishments,
		products:       deps.Products,
		orders:         deps.Orders,
		queue:          deps.Queue,
		payloads:       deps.Payloads,
		tx:             deps.Tx,
		gateway:        deps.Gateway,
		shipping:       deps.Shipping,
		sender:         deps.Sender,
		clock:          deps.Clock,
		logger:         logger.With("component", "replenishment_processor"),
		currency:       currency,
		shippingMethod: shippingMethod,
	}
}

// errScheduleGone rolls back a completion block whose row was removed concurrently.
var errScheduleGone = errors.New("replenishment removed while executing")

// Process prices the order and charges the customer. An error hands the delivery back to
// the queue for retry; domain.ErrSkipExecution drops it.
func (p *ReplenishmentProcessor) Process(ctx context.Context, job *domain.Job) (*domain.Charge, error) {
	payload := job.Payload

	rp, err := p.replenishments.GetByID(ctx, payload.ReplenishmentID, payload.CustomerID)
	if err != nil {
		if errors.Is(err, domain.ErrReplenishmentNotFound) {
			return nil, fmt.Errorf("%w: %w", domain.ErrSkipExecution, err)
		}
		return nil, fmt.Errorf("load replenishment: %w", err)
	}
	if err := rp.Status.Can(domain.ActionExecute); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrSkipExecution, err)
	}

	items, err := p.price(ctx, payload.Order.Items)
	if err != nil {
		return nil, err
	}
	productTotal := decimal.Zero
	for _, it := range items {
		productTotal = productTotal.Add(it.LineTotal())
	}

	quote, err := p.shipping.Calculate(payload.Order.ShippingCountry, p.shippingMethod, items)
	if err != nil {
		return nil, fmt.Errorf("shipping quote: %w", err)
	}
	amount := productTotal.Add(quote.Cost)

	res, err := p.gateway.Charge(ctx, payment.ChargeRequest{
		CustomerID:     payload.CustomerID,
		Amount:         amount,
		Currency:       p.currency,
		PaymentMethod:  payload.Order.PaymentMethod,
		IdempotencyKey: job.ID,
	})
	if err != nil {
		return nil, fmt.Errorf("charge: %w", err)
	}

	p.logger.InfoContext(ctx, "replenishment charged",
		"replenishment_id", rp.ID,
		"job_id", job.ID,
		"amount", res.AmountCharged.StringFixed(2),
		"reference", res.Reference,
	)

	return &domain.Charge{
		Items:            items,
		ProductTotal:     productTotal,
		Shipping:         quote,
		ShippingMethod:   p.shippingMethod,
		Amount:           res.AmountCharged,
		PaymentReference: res.Reference,
	}, nil
}

// OnCompleted books a successful charge. next is the trigger the queue armed after this
// firing, nil when it armed none. Failures here are never retried: the money has moved.
func (p *ReplenishmentProcessor) OnCompleted(ctx context.Context, job *domain.Job, charge *domain.Charge, next *domain.ArmedJob) error {
	payload := job.Payload
	var (
		rp       *domain.Replenishment
		order    *domain.Order
		stale    string
		finished bool
	)

	err := p.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		rp, err = p.replenishments.GetForUpdate(ctx, payload.ReplenishmentID)
		if err != nil {
			if errors.Is(err, domain.ErrReplenishmentNotFound) {
				return errScheduleGone
			}
			return err
		}

		order, err = p.orders.CreateOrder(ctx, domain.NewOrder{
			CustomerID:       rp.CustomerID,
			ReplenishmentID:  &rp.ID,
			Items:            charge.Items,
			PaymentMethod:    payload.Order.PaymentMethod,
			ShippingCountry:  payload.Order.ShippingCountry,
			ShippingMethod:   charge.ShippingMethod,
			WeightCategory:   charge.Shipping.WeightCategory,
			OrderWeight:      charge.Shipping.OrderWeight,
			Total:            charge.Amount,
			PaymentReference: charge.PaymentReference,
		})
		if err != nil {
			return fmt.Errorf("place order: %w", err)
		}

		now := p.clock.Now()
		if rp.Status == domain.StatusScheduled || rp.Status == domain.StatusFailed {
			rp.Status = domain.StatusActive
		}
		rp.OrderID = &order.ID
		rp.LastPaymentDate = &now
		rp.Executions++

		projected := cadence.NextPaymentDate(&now, payload.Period(), now)
		endReached := rp.EndDate != nil && !projected.Before(*rp.EndDate)
		timesReached := rp.Times != nil && rp.Executions >= *rp.Times

		var old string
		if rp.NextJobID != nil {
			old = *rp.NextJobID
		}

		switch {
		case endReached || timesReached || (next == nil && rp.Status != domain.StatusCanceled):
			if err := p.queue.RemoveSchedule(ctx, rp.SchedulerID); err != nil {
				return fmt.Errorf("remove trigger: %w", err)
			}
			rp.Status = domain.StatusFinished
			rp.NextPaymentDate = nil
			rp.NextJobID = nil
			stale = old
			finished = true
		case rp.Status == domain.StatusCanceled:
			// Canceled mid-flight: book the charge, keep the payload for resume, arm nothing.
		default:
			if err := p.payloads.Put(ctx, next.ID, payload.Order); err != nil {
				return fmt.Errorf("store next payload: %w", err)
			}
			rp.NextJobID = &next.ID
			rp.NextPaymentDate = &next.RunAt
			if old != next.ID {
				stale = old
			}
		}

		if err := p.replenishments.Update(ctx, rp); err != nil {
			return err
		}
		return p.replenishments.AddPayment(ctx, rp.ID, now)
	})
	if errors.Is(err, errScheduleGone) {
		p.logger.WarnContext(ctx, "replenishment removed while executing, charge not booked",
			"replenishment_id", payload.ReplenishmentID,
			"job_id", job.ID,
			"reference", charge.PaymentReference,
		)
		return nil
	}
	if err != nil {
		err = errors.Join(domain.ErrReconciliationRequired, err)
		p.logger.ErrorContext(ctx, "replenishment bookkeeping failed",
			"replenishment_id", payload.ReplenishmentID,
			"job_id", job.ID,
			"reference", charge.PaymentReference,
			"amount", charge.Amount.StringFixed(2),
			"error", err,
		)
		return err
	}

	p.dropPayload(ctx, rp.ID, stale)
	p.notifySucceeded(ctx, rp, order, charge, finished)
	return nil
}

// OnFailed freezes the schedule once retries are exhausted. Repeated failure reports for an
// already failed row are only logged so the customer gets one email.
func (p *ReplenishmentProcessor) OnFailed(ctx context.Context, job *domain.Job, cause error) error {
	payload := job.Payload
	var (
		rp    *domain.Replenishment
		stale string
		froze bool
	)

	err := p.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		rp, err = p.replenishments.GetForUpdate(ctx, payload.ReplenishmentID)
		if err != nil {
			if errors.Is(err, domain.ErrReplenishmentNotFound) {
				return errScheduleGone
			}
			return err
		}
		if rp.Status == domain.StatusFailed {
			return nil
		}
		if err := rp.Status.Can(domain.ActionFail); err != nil {
			return nil
		}

		if err := p.queue.RemoveSchedule(ctx, rp.SchedulerID); err != nil {
			return fmt.Errorf("remove trigger: %w", err)
		}
		if rp.NextJobID != nil {
			stale = *rp.NextJobID
		}
		rp.Status = domain.StatusFailed
		rp.NextPaymentDate = nil
		rp.NextJobID = nil
		froze = true
		return p.replenishments.Update(ctx, rp)
	})
	if errors.Is(err, errScheduleGone) {
		p.logger.WarnContext(ctx, "failed delivery for a removed replenishment",
			"replenishment_id", payload.ReplenishmentID, "job_id", job.ID, "cause", cause)
		return nil
	}
	if err != nil {
		p.logger.ErrorContext(ctx, "failed to mark replenishment failed",
			"replenishment_id", payload.ReplenishmentID, "job_id", job.ID, "cause", cause, "error", err)
		return fmt.Errorf("mark failed: %w", err)
	}
	if !froze {
		p.logger.InfoContext(ctx, "repeated failure ignored",
			"replenishment_id", rp.ID, "status", rp.Status, "job_id", job.ID, "cause", cause)
		return nil
	}

	p.logger.WarnContext(ctx, "replenishment failed",
		"replenishment_id", rp.ID, "job_id", job.ID, "attempts", job.Attempt, "cause", cause)
	p.dropPayload(ctx, rp.ID, stale)
	p.notifyFailed(ctx, rp, cause)
	return nil
}

func (p *ReplenishmentProcessor) price(ctx context.Context, items []domain.OrderItem) ([]domain.PricedItem, error) {
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.ProductID
	}
	catalog, err := p.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load products: %w", err)
	}

	priced := make([]domain.PricedItem, len(items))
	for i, it := range items {
		prod, ok := catalog[it.ProductID]
		if !ok {
			return nil, fmt.Errorf("%w: %s", domain.ErrProductNotFound, it.ProductID)
		}
		priced[i] = domain.PricedItem{
			OrderItem:   it,
			Name:        prod.Name,
			UnitPrice:   prod.Price,
			WeightGrams: prod.WeightGrams,
		}
	}
	return priced, nil
}

func (p *ReplenishmentProcessor) dropPayload(ctx context.Context, replenishmentID, key string) {
	if key == "" {
		return
	}
	if err := p.payloads.Delete(ctx, key); err != nil {
		p.logger.WarnContext(ctx, "failed to delete stale payload",
			"replenishment_id", replenishmentID, "key", key, "error", err)
	}
}

func (p *ReplenishmentProcessor) notifySucceeded(ctx context.Context, rp *domain.Replenishment, order *domain.Order, charge *domain.Charge, finished bool) {
	customer, err := p.customers.FindByID(ctx, rp.CustomerID)
	if err != nil {
		p.logger.WarnContext(ctx, "cannot notify customer", "replenishment_id", rp.ID, "error", err)
		return
	}

	lines := make([]email.Line, len(charge.Items))
	for i, it := range charge.Items {
		lines[i] = email.Line{Name: it.Name, Quantity: it.Quantity, LineTotal: it.LineTotal().StringFixed(2)}
	}
	data := email.PaymentSucceeded{
		CustomerName:     customer.Name,
		TrackingNumber:   order.TrackingNumber,
		Amount:           charge.Amount.StringFixed(2),
		Currency:         p.currency,
		Items:            lines,
		ShippingCost:     charge.Shipping.Cost.StringFixed(2),
		WeightCategory:   charge.Shipping.WeightCategory,
		ShippingMethod:   charge.ShippingMethod,
		DeliveryEstimate: p.shipping.DeliveryEstimate(charge.ShippingMethod, order.CreatedAt).Format(dateLayout),
		Finished:         finished,
	}
	if rp.NextPaymentDate != nil {
		data.NextPaymentDate = rp.NextPaymentDate.Format(dateLayout)
	}

	if err := p.sender.SendTemplate(ctx, customer.Email, "Your replenishment order is on its way",
		email.TemplatePaymentSucceeded, data); err != nil {
		p.logger.WarnContext(ctx, "payment succeeded email not sent", "replenishment_id", rp.ID, "error", err)
	}
}

func (p *ReplenishmentProcessor) notifyFailed(ctx context.Context, rp *domain.Replenishment, cause error) {
	customer, err := p.customers.FindByID(ctx, rp.CustomerID)
	if err != nil {
		p.logger.WarnContext(ctx, "cannot notify customer", "replenishment_id", rp.ID, "error", err)
		return
	}

	data := email.PaymentFailed{CustomerName: customer.Name}
	var declined *payment.DeclinedError
	if errors.As(cause, &declined) {
		data.Reason = declined.Message
	}

	if err := p.sender.SendTemplate(ctx, customer.Email, "We could not process your replenishment payment",
		email.TemplatePaymentFailed, data); err != nil {
		p.logger.WarnContext(ctx, "payment failed email not sent", "replenishment_id", rp.ID, "error", err)
	}
}
