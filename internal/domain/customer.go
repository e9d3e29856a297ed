package domain

import (
	"errors"
	"time"
)

var (
	ErrCustomerNotFound = errors.New("customer not found")
	ErrUnauthorized     = errors.New("unauthorized")
)

// Customer owns replenishments. ID is the subject of the caller's bearer token.
type Customer struct {
	ID        string
	Email     string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}
