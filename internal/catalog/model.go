package catalog

import (
	"errors"
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
)

var ErrProductNotFound = errors.New("product not found")

// Product is sold either as a continuous quantity drawn from StockQuantity
// or, when Variants are defined, as discrete pre-priced tiers.
type Product struct {
	ID            uuid.UUID       `json:"id" db:"id" yaml:"id"`
	VendorID      uuid.UUID       `json:"vendor_id" db:"vendor_id" yaml:"vendor_id"`
	Name          string          `json:"name" db:"name" yaml:"name"`
	Unit          string          `json:"unit" db:"unit" yaml:"unit"`
	BasePrice     decimal.Decimal `json:"base_price" db:"base_price" yaml:"base_price"`
	StockQuantity decimal.Decimal `json:"stock_quantity" db:"stock_quantity" yaml:"stock_quantity"`
	Variants      []Variant       `json:"variants" db:"-" yaml:"variants"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at" yaml:"-"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at" yaml:"-"`
}

type Variant struct {
	ID            uuid.UUID       `json:"id" db:"id" yaml:"id"`
	ProductID     uuid.UUID       `json:"product_id" db:"product_id" yaml:"-"`
	TierSize      decimal.Decimal `json:"tier_size" db:"tier_size" yaml:"tier_size"`
	UnitLabel     string          `json:"unit_label" db:"unit_label" yaml:"unit_label"`
	Price         decimal.Decimal `json:"price" db:"price" yaml:"price"`
	StockQuantity decimal.Decimal `json:"stock_quantity" db:"stock_quantity" yaml:"stock_quantity"`
}

// VariantByID returns a pointer into p.Variants.
func (p *Product) VariantByID(id uuid.UUID) (*Variant, bool) {
	for i := range p.Variants {
		if p.Variants[i].ID == id {
			return &p.Variants[i], true
		}
	}
	return nil, false
}
