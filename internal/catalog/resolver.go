package catalog

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/vasiliy-maslov/marketplace/internal/stock"
)

// Resolution is the outcome of matching a requested unit size against a
// product's tiers. Variant is nil when the continuous product pool governs.
type Resolution struct {
	Product  *Product
	Variant  *Variant
	UnitSize decimal.Decimal
}

// Resolve picks the governing pool for (product, unitSize). A variant governs
// only on exact decimal equality with its tier size; anything else falls back
// to the product pool.
func Resolve(product *Product, unitSize decimal.Decimal) Resolution {
	res := Resolution{Product: product, UnitSize: unitSize}
	for i := range product.Variants {
		if product.Variants[i].TierSize.Equal(unitSize) {
			res.Variant = &product.Variants[i]
			break
		}
	}
	return res
}

func (r Resolution) IsVariant() bool {
	return r.Variant != nil
}

func (r Resolution) PoolRef() stock.PoolRef {
	if r.Variant != nil {
		return stock.VariantPool(r.Product.ID, r.Variant.ID)
	}
	return stock.ProductPool(r.Product.ID)
}

func (r Resolution) Available() decimal.Decimal {
	if r.Variant != nil {
		return r.Variant.StockQuantity
	}
	return r.Product.StockQuantity
}

// Deduction converts a staged count into the amount taken from the pool:
// packs for a variant, count × unitSize for the product pool.
func (r Resolution) Deduction(count decimal.Decimal) decimal.Decimal {
	if r.Variant != nil {
		return count
	}
	return count.Mul(r.UnitSize)
}

func (r Resolution) UnitPrice() decimal.Decimal {
	if r.Variant != nil {
		return r.Variant.Price
	}
	return r.Product.BasePrice
}

// LinePrice is count × variant price, or count × unitSize × base price.
func (r Resolution) LinePrice(count decimal.Decimal) decimal.Decimal {
	if r.Variant != nil {
		return count.Mul(r.Variant.Price)
	}
	return count.Mul(r.UnitSize).Mul(r.Product.BasePrice)
}

// RoundAmount rounds a money amount to cents, half away from zero.
func RoundAmount(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(2)
}

// Label is the display name stored on order lines.
func (r Resolution) Label() string {
	if r.Variant != nil {
		return fmt.Sprintf("%s (%s %s)", r.Product.Name, r.Variant.TierSize.String(), r.Variant.UnitLabel)
	}
	return r.Product.Name
}

// Pool returns a stock.Pool view over the governing counter.
func (r Resolution) Pool() *stock.Pool {
	return stock.NewPool(r.PoolRef(), r.Available())
}
