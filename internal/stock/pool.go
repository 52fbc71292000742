package stock

import (
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
)

type Kind string

const (
	KindProduct Kind = "product"
	KindVariant Kind = "variant"
)

func (k Kind) String() string {
	return string(k)
}

// PoolRef identifies a stock pool by stable identity. VariantID is uuid.Nil
// for the continuous product pool.
type PoolRef struct {
	Kind      Kind      `json:"kind"`
	ProductID uuid.UUID `json:"product_id"`
	VariantID uuid.UUID `json:"variant_id"`
}

func ProductPool(productID uuid.UUID) PoolRef {
	return PoolRef{Kind: KindProduct, ProductID: productID}
}

func VariantPool(productID, variantID uuid.UUID) PoolRef {
	return PoolRef{Kind: KindVariant, ProductID: productID, VariantID: variantID}
}

func (r PoolRef) IsVariant() bool {
	return r.Kind == KindVariant
}

func (r PoolRef) String() string {
	if r.IsVariant() {
		return fmt.Sprintf("variant:%s/%s", r.ProductID, r.VariantID)
	}
	return fmt.Sprintf("product:%s", r.ProductID)
}

// Pool is a quantity counter that must never go below zero.
type Pool struct {
	Ref       PoolRef
	Available decimal.Decimal
}

func NewPool(ref PoolRef, available decimal.Decimal) *Pool {
	return &Pool{Ref: ref, Available: available}
}

// Covers reports whether amount can be taken without the pool going negative.
func (p *Pool) Covers(amount decimal.Decimal) bool {
	return p.Available.GreaterThanOrEqual(amount)
}

// Reserve decrements the pool by amount. It never clamps: a shortfall leaves
// the pool untouched and returns an *InsufficientStockError.
func (p *Pool) Reserve(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: reserve %s", ErrInvalidAmount, amount)
	}
	if !p.Covers(amount) {
		return &InsufficientStockError{
			Pool:      p.Ref,
			Requested: amount,
			Available: p.Available,
		}
	}
	p.Available = p.Available.Sub(amount)
	return nil
}

func (p *Pool) Release(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: release %s", ErrInvalidAmount, amount)
	}
	p.Available = p.Available.Add(amount)
	return nil
}

type MovementType string

const (
	MovementDecreased MovementType = "decreased"
	MovementIncreased MovementType = "increased"
)

// Movement is one ledger entry: a deduction at order commit or a restoration
// at cancellation.
type Movement struct {
	ID        uuid.UUID       `json:"id" db:"id"`
	Pool      PoolRef         `json:"pool" db:"-"`
	OrderID   uuid.UUID       `json:"order_id" db:"order_id"`
	Quantity  decimal.Decimal `json:"quantity" db:"quantity"`
	Type      MovementType    `json:"movement_type" db:"movement_type"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

func NewMovement(ref PoolRef, orderID uuid.UUID, quantity decimal.Decimal, typ MovementType) Movement {
	return Movement{
		ID:        uuid.Must(uuid.NewV4()),
		Pool:      ref,
		OrderID:   orderID,
		Quantity:  quantity,
		Type:      typ,
		CreatedAt: time.Now().UTC(),
	}
}
