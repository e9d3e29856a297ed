package usecase_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ErlanBelekov/replenishment/internal/cadence"
	"github.com/ErlanBelekov/replenishment/internal/clock"
	"github.com/ErlanBelekov/replenishment/internal/domain"
	"github.com/ErlanBelekov/replenishment/internal/idgen"
	"github.com/ErlanBelekov/replenishment/internal/payment"
	"github.com/ErlanBelekov/replenishment/internal/shipping"
	"github.com/ErlanBelekov/replenishment/internal/usecase"
	"github.com/shopspring/decimal"
)

// ---- record store ----

type memReplenishments struct {
	mu       sync.Mutex
	ids      *idgen.Sequence
	rows     map[string]*domain.Replenishment
	payments map[string][]domain.ReplenishmentPayment
	updates  int
}

func newMemReplenishments() *memReplenishments {
	return &memReplenishments{
		ids:      idgen.NewSequence("rp"),
		rows:     make(map[string]*domain.Replenishment),
		payments: make(map[string][]domain.ReplenishmentPayment),
	}
}

func clone(r *domain.Replenishment) *domain.Replenishment {
	c := *r
	c.Payments = nil
	return &c
}

func (m *memReplenishments) Create(_ context.Context, r *domain.Replenishment) (*domain.Replenishment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := clone(r)
	c.ID = m.ids.NewID()
	m.rows[c.ID] = c
	return clone(c), nil
}

func (m *memReplenishments) GetByID(_ context.Context, id, customerID string) (*domain.Replenishment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok || r.CustomerID != customerID {
		return nil, domain.ErrReplenishmentNotFound
	}
	c := clone(r)
	c.Payments = append([]domain.ReplenishmentPayment(nil), m.payments[id]...)
	return c, nil
}

func (m *memReplenishments) GetForUpdate(_ context.Context, id string) (*domain.Replenishment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok {
		return nil, domain.ErrReplenishmentNotFound
	}
	return clone(r), nil
}

func (m *memReplenishments) ListByCustomer(_ context.Context, customerID string) ([]*domain.Replenishment, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Replenishment
	for id, r := range m.rows {
		if r.CustomerID == customerID {
			c := clone(r)
			c.Payments = append([]domain.ReplenishmentPayment(nil), m.payments[id]...)
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, len(out), nil
}

func (m *memReplenishments) Update(_ context.Context, r *domain.Replenishment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[r.ID]; !ok {
		return domain.ErrReplenishmentNotFound
	}
	m.rows[r.ID] = clone(r)
	m.updates++
	return nil
}

func (m *memReplenishments) CountPayments(_ context.Context, id string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.payments[id]), nil
}

func (m *memReplenishments) AddPayment(_ context.Context, id string, paymentDate time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payments[id] = append(m.payments[id], domain.ReplenishmentPayment{
		ID:              fmt.Sprintf("pay-%d", len(m.payments[id])+1),
		ReplenishmentID: id,
		PaymentDate:     paymentDate,
	})
	return nil
}

func (m *memReplenishments) SoftDelete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[id]; !ok {
		return domain.ErrReplenishmentNotFound
	}
	delete(m.rows, id)
	delete(m.payments, id)
	return nil
}

func (m *memReplenishments) ListArmed(_ context.Context, afterID string, limit int) ([]*domain.Replenishment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Replenishment
	for _, r := range m.rows {
		if r.Status.Armed() && r.ID > afterID {
			out = append(out, clone(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memReplenishments) row(id string) *domain.Replenishment {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rows[id]; ok {
		return clone(r)
	}
	return nil
}

// ---- job queue ----

type memSchedule struct {
	opts    domain.RepeatOptions
	fired   int
	payload domain.JobPayload
}

type memQueue struct {
	mu        sync.Mutex
	clock     clock.Clock
	ids       *idgen.Sequence
	schedules map[string]*memSchedule
	jobs      map[string]*domain.Job

	upserts   int
	removes   int
	upsertErr error
}

func newMemQueue(clk clock.Clock) *memQueue {
	return &memQueue{
		clock:     clk,
		ids:       idgen.NewSequence("job"),
		schedules: make(map[string]*memSchedule),
		jobs:      make(map[string]*domain.Job),
	}
}

func (q *memQueue) UpsertSchedule(_ context.Context, schedulerID string, opts domain.RepeatOptions, payload domain.JobPayload) (*domain.ArmedJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.upserts++
	if q.upsertErr != nil {
		return nil, q.upsertErr
	}
	q.dropPending(schedulerID)
	q.schedules[schedulerID] = &memSchedule{opts: opts, payload: payload}
	if exhausted(opts.FirstRun, opts, 0) {
		delete(q.schedules, schedulerID)
		return nil, nil
	}
	return q.enqueue(schedulerID, payload, opts.FirstRun), nil
}

func (q *memQueue) RemoveSchedule(_ context.Context, schedulerID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.removes++
	q.dropPending(schedulerID)
	delete(q.schedules, schedulerID)
	return nil
}

func (q *memQueue) CurrentJob(_ context.Context, schedulerID string) (*domain.ArmedJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, j := range q.jobs {
		if j.SchedulerID == schedulerID && (j.Status == domain.JobPending || j.Status == domain.JobRunning) {
			return &domain.ArmedJob{ID: j.ID, SchedulerID: j.SchedulerID, RunAt: j.RunAt}, nil
		}
	}
	return nil, nil
}

// fire claims the pending job of schedulerID as if a worker picked it up.
func (q *memQueue) fire(schedulerID string) *domain.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, j := range q.jobs {
		if j.SchedulerID == schedulerID && j.Status == domain.JobPending {
			j.Status = domain.JobRunning
			j.Attempt++
			c := *j
			return &c
		}
	}
	return nil
}

func (q *memQueue) Complete(_ context.Context, jobID string) (*domain.ArmedJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	j.Status = domain.JobCompleted

	s, ok := q.schedules[j.SchedulerID]
	if !ok {
		return nil, nil
	}
	s.fired++
	if pending := q.pendingLocked(j.SchedulerID); pending != nil {
		if s.opts.Limit != nil && s.fired >= *s.opts.Limit {
			q.dropPending(j.SchedulerID)
			delete(q.schedules, j.SchedulerID)
			return nil, nil
		}
		return &domain.ArmedJob{ID: pending.ID, SchedulerID: pending.SchedulerID, RunAt: pending.RunAt}, nil
	}
	next := *cadence.NextPaymentDate(&j.RunAt, s.opts.Period, q.clock.Now())
	if exhausted(next, s.opts, s.fired) {
		delete(q.schedules, j.SchedulerID)
		return nil, nil
	}
	return q.enqueue(j.SchedulerID, s.payload, next), nil
}

func (q *memQueue) fail(jobID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs[jobID].Status = domain.JobFailed
}

func (q *memQueue) armed(schedulerID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.schedules[schedulerID]
	return ok && q.pendingLocked(schedulerID) != nil
}

// pendingIDs lists every job of schedulerID still waiting to fire.
func (q *memQueue) pendingIDs(schedulerID string) []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	var ids []string
	for _, j := range q.jobs {
		if j.SchedulerID == schedulerID && j.Status == domain.JobPending {
			ids = append(ids, j.ID)
		}
	}
	return ids
}

func (q *memQueue) pendingLocked(schedulerID string) *domain.Job {
	var latest *domain.Job
	for _, j := range q.jobs {
		if j.SchedulerID == schedulerID && j.Status == domain.JobPending {
			if latest == nil || j.RunAt.After(latest.RunAt) {
				latest = j
			}
		}
	}
	return latest
}

func (q *memQueue) dropPending(schedulerID string) {
	for id, j := range q.jobs {
		if j.SchedulerID == schedulerID && j.Status == domain.JobPending {
			delete(q.jobs, id)
		}
	}
}

func (q *memQueue) enqueue(schedulerID string, payload domain.JobPayload, runAt time.Time) *domain.ArmedJob {
	j := &domain.Job{
		ID:          q.ids.NewID(),
		SchedulerID: schedulerID,
		Payload:     payload,
		Status:      domain.JobPending,
		RunAt:       runAt,
		MaxAttempts: 3,
	}
	q.jobs[j.ID] = j
	return &domain.ArmedJob{ID: j.ID, SchedulerID: schedulerID, RunAt: runAt}
}

func exhausted(run time.Time, opts domain.RepeatOptions, fired int) bool {
	if opts.Limit != nil && fired >= *opts.Limit {
		return true
	}
	return opts.EndDate != nil && !run.Before(*opts.EndDate)
}

// ---- payload store ----

type memPayloads struct {
	mu     sync.Mutex
	data   map[string]domain.OrderPayload
	putErr error
}

func newMemPayloads() *memPayloads {
	return &memPayloads{data: make(map[string]domain.OrderPayload)}
}

func (s *memPayloads) Put(_ context.Context, key string, p domain.OrderPayload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.putErr != nil {
		return s.putErr
	}
	s.data[key] = p
	return nil
}

func (s *memPayloads) Get(_ context.Context, key string) (*domain.OrderPayload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.data[key]
	if !ok {
		return nil, domain.ErrPayloadNotFound
	}
	return &p, nil
}

func (s *memPayloads) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func (s *memPayloads) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data[key]
	return ok, nil
}

func (s *memPayloads) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}

// ---- customers, catalog, orders ----

type fakeCustomers struct {
	customers map[string]*domain.Customer
}

func (f *fakeCustomers) Upsert(_ context.Context, id string) error {
	if _, ok := f.customers[id]; !ok {
		f.customers[id] = &domain.Customer{ID: id}
	}
	return nil
}

func (f *fakeCustomers) FindByID(_ context.Context, id string) (*domain.Customer, error) {
	c, ok := f.customers[id]
	if !ok {
		return nil, domain.ErrCustomerNotFound
	}
	return c, nil
}

type fakeProducts struct {
	products map[string]*domain.Product
}

func (f *fakeProducts) GetByIDs(_ context.Context, ids []string) (map[string]*domain.Product, error) {
	out := make(map[string]*domain.Product)
	for _, id := range ids {
		if p, ok := f.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

type fakeOrders struct {
	mu      sync.Mutex
	placed  []domain.NewOrder
	createE error
}

func (f *fakeOrders) CreateOrder(_ context.Context, o domain.NewOrder) (*domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createE != nil {
		return nil, f.createE
	}
	f.placed = append(f.placed, o)
	n := len(f.placed)
	return &domain.Order{
		ID:               fmt.Sprintf("order-%d", n),
		CustomerID:       o.CustomerID,
		TrackingNumber:   fmt.Sprintf("TRK%d", n),
		Total:            o.Total,
		PaymentReference: o.PaymentReference,
	}, nil
}

// passTx runs fn inline. Rows are copied on read, so an aborted fn leaves no trace in the
// record store as long as Update was not reached.
type passTx struct{}

func (passTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// ---- payment and email ----

type fakeGateway struct {
	mu      sync.Mutex
	charges []payment.ChargeRequest
	charge  func(req payment.ChargeRequest) (*payment.ChargeResult, error)
}

func (g *fakeGateway) Charge(_ context.Context, req payment.ChargeRequest) (*payment.ChargeResult, error) {
	g.mu.Lock()
	g.charges = append(g.charges, req)
	g.mu.Unlock()
	if g.charge != nil {
		return g.charge(req)
	}
	return &payment.ChargeResult{AmountCharged: req.Amount, Reference: "ch_" + req.IdempotencyKey}, nil
}

type sentEmail struct {
	to       string
	template string
	data     any
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentEmail
	err  error
}

func (s *fakeSender) SendTemplate(_ context.Context, to, _, templateName string, data any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sentEmail{to: to, template: templateName, data: data})
	return s.err
}

func (s *fakeSender) count(templateName string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.sent {
		if e.template == templateName {
			n++
		}
	}
	return n
}

// ---- environment ----

const testCustomer = "cust-1"

var testNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type env struct {
	clock     *clock.Fake
	rows      *memReplenishments
	queue     *memQueue
	payloads  *memPayloads
	customers *fakeCustomers
	orders    *fakeOrders
	gateway   *fakeGateway
	sender    *fakeSender

	uc   *usecase.ReplenishmentUsecase
	proc *usecase.ReplenishmentProcessor
}

func newEnv() *env {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clk := clock.NewFake(testNow)
	e := &env{
		clock:    clk,
		rows:     newMemReplenishments(),
		queue:    newMemQueue(clk),
		payloads: newMemPayloads(),
		customers: &fakeCustomers{customers: map[string]*domain.Customer{
			testCustomer: {ID: testCustomer, Email: "ada@example.com", Name: "Ada"},
			"cust-2":     {ID: "cust-2", Email: "bob@example.com", Name: "Bob"},
		}},
		orders:  &fakeOrders{},
		gateway: &fakeGateway{},
		sender:  &fakeSender{},
	}
	products := &fakeProducts{products: map[string]*domain.Product{
		"coffee": {ID: "coffee", Name: "Coffee beans", Price: decimal.RequireFromString("9.99"), WeightGrams: 250},
		"filter": {ID: "filter", Name: "Paper filters", Price: decimal.RequireFromString("3.50"), WeightGrams: 100},
	}}

	e.uc = usecase.NewReplenishmentUsecase(e.customers, e.rows, e.queue, e.payloads, passTx{},
		idgen.NewSequence("sched"), clk, logger)
	e.proc = usecase.NewReplenishmentProcessor(usecase.ProcessorDeps{
		Customers:      e.customers,
		Replenishments: e.rows,
		Products:       products,
		Orders:         e.orders,
		Queue:          e.queue,
		Payloads:       e.payloads,
		Tx:             passTx{},
		Gateway:        e.gateway,
		Shipping:       shipping.NewCalculator(),
		Sender:         e.sender,
		Clock:          clk,
	}, "usd", shipping.MethodStandard, logger)
	return e
}

func testOrder() domain.OrderPayload {
	return domain.OrderPayload{
		PaymentMethod:   "pm_card",
		ShippingCountry: "US",
		Items: []domain.OrderItem{
			{ProductID: "coffee", Quantity: 2},
			{ProductID: "filter", Quantity: 1},
		},
	}
}

func monthly() usecase.CreateReplenishmentInput {
	return usecase.CreateReplenishmentInput{
		CustomerID: testCustomer,
		Order:      testOrder(),
		Interval:   1,
		Unit:       domain.UnitMonth,
	}
}

var errWorker = errors.New("handler failed")

// occur drives one firing of rp's trigger the way the worker pool does. It returns the
// error of the failing step, if any.
func (e *env) occur(ctx context.Context, rp *domain.Replenishment) error {
	job := e.queue.fire(rp.SchedulerID)
	if job == nil {
		return errors.New("no pending job for " + rp.SchedulerID)
	}
	e.clock.Set(job.RunAt)

	charge, err := e.proc.Process(ctx, job)
	if err != nil {
		return err
	}
	next, err := e.queue.Complete(ctx, job.ID)
	if err != nil {
		return err
	}
	return e.proc.OnCompleted(ctx, job, charge, next)
}

// failOccurrence drives one firing whose retries are all exhausted.
func (e *env) failOccurrence(ctx context.Context, rp *domain.Replenishment, cause error) error {
	job := e.queue.fire(rp.SchedulerID)
	if job == nil {
		return errors.New("no pending job for " + rp.SchedulerID)
	}
	e.queue.fail(job.ID)
	return e.proc.OnFailed(ctx, job, cause)
}

// checkInvariants asserts the cross-store invariants for rp.
func (e *env) checkInvariants(rp *domain.Replenishment) error {
	armed := e.queue.armed(rp.SchedulerID)
	if (rp.NextPaymentDate != nil) != (rp.Status.Armed() && armed) {
		return fmt.Errorf("nextPaymentDate=%v status=%s armed=%v", rp.NextPaymentDate, rp.Status, armed)
	}
	if pending := e.queue.pendingIDs(rp.SchedulerID); len(pending) > 0 {
		if len(pending) > 1 {
			return fmt.Errorf("%d pending triggers for %s: %v", len(pending), rp.SchedulerID, pending)
		}
		if rp.Status.Armed() && (rp.NextJobID == nil || *rp.NextJobID != pending[0]) {
			return fmt.Errorf("nextJobId=%v, pending trigger %s", rp.NextJobID, pending[0])
		}
	}
	if rp.NextJobID != nil {
		if ok, _ := e.payloads.Exists(context.Background(), *rp.NextJobID); !ok {
			return fmt.Errorf("nextJobId %s has no payload", *rp.NextJobID)
		}
	}
	if rp.Times != nil && rp.Executions > *rp.Times {
		return fmt.Errorf("executions %d exceed times %d", rp.Executions, *rp.Times)
	}
	return nil
}

func ptr[T any](v T) *T { return &v }
