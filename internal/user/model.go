package user

import (
	"errors"

	"github.com/gofrs/uuid"
)

var ErrUserNotFound = errors.New("user not found")

// Profile is the buyer/vendor reference the cart and order flows read. Only
// the address fields are snapshotted into orders.
type Profile struct {
	ID          uuid.UUID `json:"id" db:"id" yaml:"id"`
	FullName    string    `json:"full_name" db:"full_name" yaml:"full_name"`
	AddressLine string    `json:"address_line" db:"address_line" yaml:"address_line"`
	City        string    `json:"city" db:"city" yaml:"city"`
	State       string    `json:"state" db:"state" yaml:"state"`
	Pincode     string    `json:"pincode" db:"pincode" yaml:"pincode"`
}
