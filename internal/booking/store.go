package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

// DBTX is the subset of pgxpool.Pool (or pgx.Tx) used by Store.
type DBTX interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store implements Repository on Postgres.
type Store struct {
	DB DBTX
}

var _ Repository = Store{}

const findByTrackIDSQL = `SELECT id::text, booking_number, status, payment_method, total_amount::text,
       payment_vendor, payment_transaction_id, payment_amount::text, payment_status, payment_date,
       payment_auth_code, payment_rrn, payment_card_brand, payment_masked_pan
FROM bookings
WHERE booking_number = $1`

// FindByTrackID loads the booking whose booking number equals the track id.
func (s Store) FindByTrackID(ctx context.Context, trackID string) (Booking, error) {
	trackID = strings.TrimSpace(trackID)
	if trackID == "" {
		return Booking{}, ErrNotFound
	}
	var (
		b                                   Booking
		status, method, total               string
		vendor, txID, amount, payStatus     pgtype.Text
		authCode, rrn, cardBrand, maskedPAN pgtype.Text
		payDate                             pgtype.Timestamptz
	)
	err := s.DB.QueryRow(ctx, findByTrackIDSQL, trackID).Scan(
		&b.ID, &b.BookingNumber, &status, &method, &total,
		&vendor, &txID, &amount, &payStatus, &payDate,
		&authCode, &rrn, &cardBrand, &maskedPAN,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Booking{}, ErrNotFound
		}
		return Booking{}, fmt.Errorf("booking: find %s: %w", trackID, err)
	}
	b.Status = Status(status)
	b.PaymentMethod = method
	if b.TotalAmount, err = decimal.NewFromString(total); err != nil {
		return Booking{}, fmt.Errorf("booking: total amount: %w", err)
	}
	if txID.Valid {
		rec := &PaymentRecord{
			Vendor:        vendor.String,
			TransactionID: txID.String,
			Status:        payStatus.String,
			AuthCode:      authCode.String,
			RRN:           rrn.String,
			CardBrand:     cardBrand.String,
			MaskedPAN:     maskedPAN.String,
		}
		if payDate.Valid {
			rec.PaymentDate = payDate.Time
		}
		if amount.Valid {
			if rec.Amount, err = decimal.NewFromString(amount.String); err != nil {
				return Booking{}, fmt.Errorf("booking: payment amount: %w", err)
			}
		}
		b.Payment = rec
	}
	return b, nil
}

// confirmPaymentSQL is a single-row set. Re-applying the same transaction keeps
// the original payment_date so repeated confirmations leave the row unchanged.
const confirmPaymentSQL = `UPDATE bookings SET
    status = 'confirmed',
    payment_vendor = $2,
    payment_transaction_id = $3,
    payment_amount = $4::numeric,
    payment_status = $5,
    payment_date = CASE
        WHEN payment_transaction_id = $3 AND payment_date IS NOT NULL THEN payment_date
        ELSE $6
    END,
    payment_auth_code = $7,
    payment_rrn = $8,
    payment_card_brand = $9,
    payment_masked_pan = $10,
    updated_at = now()
WHERE id = $1::uuid`

// ConfirmPayment sets the booking to confirmed and writes the payment sub-record.
func (s Store) ConfirmPayment(ctx context.Context, bookingID string, rec PaymentRecord) error {
	status := rec.Status
	if status == "" {
		status = PaymentStatusPaid
	}
	tag, err := s.DB.Exec(ctx, confirmPaymentSQL,
		bookingID, rec.Vendor, rec.TransactionID, rec.Amount.StringFixed(2), status, rec.PaymentDate,
		nullable(rec.AuthCode), nullable(rec.RRN), nullable(rec.CardBrand), nullable(rec.MaskedPAN),
	)
	if err != nil {
		return fmt.Errorf("booking: confirm %s: %w", bookingID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func nullable(v string) pgtype.Text {
	v = strings.TrimSpace(v)
	return pgtype.Text{String: v, Valid: v != ""}
}
