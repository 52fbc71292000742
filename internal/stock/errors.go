package stock

import (
	"errors"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidAmount     = errors.New("stock amount must be greater than zero")
	ErrConflict          = errors.New("concurrent stock update conflict")
)

// InsufficientStockError names the pool that could not cover a request.
type InsufficientStockError struct {
	Pool        PoolRef
	ProductName string
	Requested   decimal.Decimal
	Available   decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	name := e.ProductName
	if name == "" {
		name = e.Pool.ProductID.String()
	}
	return fmt.Sprintf("insufficient stock for %s: requested %s, available %s", name, e.Requested, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// WithProduct returns a copy annotated with the product's display name.
func (e *InsufficientStockError) WithProduct(name string) *InsufficientStockError {
	out := *e
	out.ProductName = name
	return &out
}

// ConflictError reports that a concurrent transaction won a race on a pool.
// It matches both ErrConflict and ErrInsufficientStock and the whole request
// can be retried from scratch.
type ConflictError struct {
	ProductID uuid.UUID
	Err       error
}

func (e *ConflictError) Error() string {
	if e.ProductID != uuid.Nil {
		return fmt.Sprintf("stock for product %s changed concurrently, retry the request", e.ProductID)
	}
	return "stock changed concurrently, retry the request"
}

func (e *ConflictError) Unwrap() error {
	return e.Err
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict || target == ErrInsufficientStock
}
