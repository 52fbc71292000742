package cart

import (
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
)

// Cart is the per-user staging area. It is created lazily on first access.
type Cart struct {
	ID        uuid.UUID `json:"id" db:"id"`
	UserID    uuid.UUID `json:"user_id" db:"user_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Item is keyed by (cart, product, unit size); staging the same key twice
// accumulates Count.
type Item struct {
	ID        uuid.UUID       `json:"id" db:"id"`
	CartID    uuid.UUID       `json:"cart_id" db:"cart_id"`
	ProductID uuid.UUID       `json:"product_id" db:"product_id"`
	UnitSize  decimal.Decimal `json:"unit_size" db:"unit_size"`
	Count     decimal.Decimal `json:"count" db:"count"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// View is the priced cart snapshot returned by every cart operation.
// Prices are derived on read and never stored.
type View struct {
	ID         uuid.UUID       `json:"id"`
	UserID     uuid.UUID       `json:"user_id"`
	Items      []ItemView      `json:"items"`
	TotalPrice decimal.Decimal `json:"total_price"`
}

type ItemView struct {
	ID          uuid.UUID       `json:"id"`
	ProductID   uuid.UUID       `json:"product_id"`
	ProductName string          `json:"product_name"`
	VariantID   *uuid.UUID      `json:"variant_id,omitempty"`
	UnitSize    decimal.Decimal `json:"unit_size"`
	Count       decimal.Decimal `json:"count"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	LinePrice   decimal.Decimal `json:"line_price"`
}
