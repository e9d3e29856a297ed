package domain

import (
	"errors"
	"time"
)

var (
	ErrReplenishmentNotFound = errors.New("replenishment not found")
	ErrPayloadNotFound       = errors.New("replenishment payload not found")
	ErrStartingRequired      = errors.New("a scheduled replenishment needs a new starting date")
	ErrStartingNotAllowed    = errors.New("an active replenishment cannot change its starting date")
	ErrInvalidCadence        = errors.New("invalid cadence")
	ErrInvalidSchedule       = errors.New("invalid schedule window")
	ErrInvalidOrder          = errors.New("invalid order payload")
	ErrScheduling            = errors.New("failed to arm replenishment trigger")
	ErrPaymentFailed         = errors.New("payment failed")

	// ErrReconciliationRequired marks a charge that succeeded while the bookkeeping after it did not.
	ErrReconciliationRequired = errors.New("charge succeeded but bookkeeping failed, manual reconciliation required")
)

type Unit string

const (
	UnitDay    Unit = "day"
	UnitWeek   Unit = "week"
	UnitMonth  Unit = "month"
	UnitYear   Unit = "year"
	UnitCustom Unit = "custom"
)

func (u Unit) Valid() bool {
	switch u {
	case UnitDay, UnitWeek, UnitMonth, UnitYear, UnitCustom:
		return true
	}
	return false
}

type ReplenishmentStatus string

const (
	StatusScheduled ReplenishmentStatus = "scheduled"
	StatusActive    ReplenishmentStatus = "active"
	StatusFinished  ReplenishmentStatus = "finished"
	StatusCanceled  ReplenishmentStatus = "canceled"
	StatusFailed    ReplenishmentStatus = "failed"
)

// Replenishment is a customer's standing authorization to repeat an order on a cadence.
//
// NextPaymentDate is set exactly when the status is scheduled or active and a trigger is armed.
// NextJobID is set exactly when an auxiliary payload exists under that key.
type Replenishment struct {
	ID          string
	SchedulerID string // join key with the job queue, never changes
	CustomerID  string
	OrderID     *string

	Unit     Unit
	Interval int

	StartDate  time.Time
	EndDate    *time.Time
	Times      *int
	Executions int

	LastPaymentDate *time.Time
	NextPaymentDate *time.Time
	Status          ReplenishmentStatus
	NextJobID       *string

	Payments []ReplenishmentPayment

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ReplenishmentPayment is one row of append-only history, written per successful execution.
type ReplenishmentPayment struct {
	ID              string
	ReplenishmentID string
	PaymentDate     time.Time
	CreatedAt       time.Time
}

type OrderItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// OrderPayload is what gets repeated on every occurrence. It is kept in the auxiliary
// store so a trigger can be rebuilt after a cancel deleted it.
type OrderPayload struct {
	PaymentMethod   string      `json:"payment_method"`
	ShippingCountry string      `json:"shipping_country"`
	Items           []OrderItem `json:"items"`
}

func (p OrderPayload) Validate() error {
	if p.PaymentMethod == "" || p.ShippingCountry == "" || len(p.Items) == 0 {
		return ErrInvalidOrder
	}
	for _, it := range p.Items {
		if it.ProductID == "" || it.Quantity < 1 {
			return ErrInvalidOrder
		}
	}
	return nil
}
