package order

import (
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"

	"github.com/vasiliy-maslov/marketplace/internal/stock"
)

type OrderStatus string

const (
	StatusPlaced     OrderStatus = "Placed"
	StatusProcessing OrderStatus = "Processing"
	StatusShipped    OrderStatus = "Shipped"
	StatusDelivered  OrderStatus = "Delivered"
	StatusCancelled  OrderStatus = "Cancelled"
)

func (os OrderStatus) String() string {
	return string(os)
}

type PaymentMethod string

const (
	PaymentCOD    PaymentMethod = "COD"
	PaymentOnline PaymentMethod = "Online"
)

func (pm PaymentMethod) Valid() bool {
	return pm == PaymentCOD || pm == PaymentOnline
}

// Line is the immutable snapshot of one committed cart item. Quantity is the
// amount deducted from Pool, in packs for a variant pool and in the product's
// base unit otherwise.
type Line struct {
	ID          uuid.UUID       `json:"id" db:"id"`
	OrderID     uuid.UUID       `json:"order_id" db:"order_id"`
	ProductID   uuid.UUID       `json:"product_id" db:"product_id"`
	ProductName string          `json:"product_name" db:"product_name"`
	Quantity    decimal.Decimal `json:"quantity" db:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price" db:"unit_price"`
	Pool        stock.PoolRef   `json:"pool" db:"-"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

type Order struct {
	ID              uuid.UUID       `json:"id" db:"id"`
	UserID          uuid.UUID       `json:"user_id" db:"user_id"`
	ShippingAddress string          `json:"shipping_address" db:"shipping_address"`
	City            string          `json:"city" db:"city"`
	State           string          `json:"state" db:"state"`
	Pincode         string          `json:"pincode" db:"pincode"`
	TotalAmount     decimal.Decimal `json:"total_amount" db:"total_amount"`
	Status          OrderStatus     `json:"status" db:"status"`
	PaymentMethod   PaymentMethod   `json:"payment_method" db:"payment_method"`
	IsPaid          bool            `json:"is_paid" db:"is_paid"`
	Lines           []Line          `json:"lines" db:"-"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at" db:"updated_at"`
}

// Cancellation exists at most once per order.
type Cancellation struct {
	ID        uuid.UUID `json:"id" db:"id"`
	OrderID   uuid.UUID `json:"order_id" db:"order_id"`
	Reason    string    `json:"reason" db:"reason"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// PlaceOrderInput carries the optional shipping overrides. Empty fields fall
// back to the buyer's profile.
type PlaceOrderInput struct {
	ShippingAddress string
	City            string
	State           string
	Pincode         string
	PaymentMethod   PaymentMethod
}
