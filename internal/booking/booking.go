// Package booking is the payment layer's view of the booking subsystem: it can
// find a booking by its track id and record a confirmed payment on it. It never
// creates or deletes bookings.
package booking

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when no booking carries the requested track id.
var ErrNotFound = errors.New("booking: not found")

// Status is the lifecycle state of a booking.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
)

// PaymentStatusPaid marks a payment sub-record settled by a gateway.
const PaymentStatusPaid = "paid"

// Booking carries the fields the payment layer reads or sets.
type Booking struct {
	ID            string
	BookingNumber string
	Status        Status
	PaymentMethod string
	TotalAmount   decimal.Decimal
	Payment       *PaymentRecord
}

// Confirmed reports whether the booking already holds a settled payment.
func (b Booking) Confirmed() bool {
	return b.Status == StatusConfirmed && b.Payment != nil && b.Payment.Status == PaymentStatusPaid
}

// PaymentRecord is the payment sub-record written on confirmation.
type PaymentRecord struct {
	Vendor        string
	TransactionID string
	Amount        decimal.Decimal
	Status        string
	PaymentDate   time.Time
	AuthCode      string
	RRN           string
	CardBrand     string
	MaskedPAN     string
}

// Repository is the collaborator contract consumed by the payment reconciler.
type Repository interface {
	FindByTrackID(ctx context.Context, trackID string) (Booking, error)
	ConfirmPayment(ctx context.Context, bookingID string, rec PaymentRecord) error
}
