package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-booking/internal/booking"
	"github.com/noah-isme/backend-booking/internal/events"
	"github.com/noah-isme/backend-booking/internal/obs"
)

// Outcome is the terminal state of a processed callback.
type Outcome string

const (
	OutcomeConfirmed Outcome = "confirmed"
	OutcomeDeclined  Outcome = "declined"
	OutcomeRejected  Outcome = "rejected"
	OutcomeUnmatched Outcome = "unmatched"
)

// EventEmitter records payment events. *events.Bus satisfies it.
type EventEmitter interface {
	Emit(ctx context.Context, topic, aggregateID string, payload any) (events.Event, error)
}

// Result describes what the reconciler decided for one callback.
type Result struct {
	Outcome       Outcome
	Vendor        string
	TrackID       string
	TransactionID string
	Result        string
	ResponseCode  string
	Amount        string
	CardBrand     string
	MaskedPAN     string
	BookingID     string
	// Err is set for rejected callbacks.
	Err error
}

// Reconciler verifies vendor callbacks and applies confirmed payments to bookings.
type Reconciler struct {
	Bookings booking.Repository
	Events   EventEmitter
	// URWAYSecretKey verifies URWAY response hashes.
	URWAYSecretKey string
	Logger         zerolog.Logger
	Now            func() time.Time
}

// HandleURWAY verifies the response hash and settles the callback.
func (rc Reconciler) HandleURWAY(ctx context.Context, ev CallbackEvent) (Result, error) {
	ev.Vendor = VendorURWAY
	if rc.URWAYSecretKey == "" {
		return Result{}, &ConfigurationError{Vendor: VendorURWAY, Field: "secret key"}
	}
	if !VerifyResponseHash(ev.TranID, rc.URWAYSecretKey, ev.ResponseCode, ev.Amount, ev.ResponseHash) {
		return rc.reject(ctx, ev, ErrSignatureMismatch), nil
	}
	return rc.Settle(ctx, ev)
}

// HandleARB settles a callback whose trandata was already decrypted. Decrypt
// failures are passed in as decodeErr and reject the callback.
func (rc Reconciler) HandleARB(ctx context.Context, ev CallbackEvent, decodeErr error) (Result, error) {
	ev.Vendor = VendorARB
	if decodeErr != nil {
		var cfgErr *ConfigurationError
		if errors.As(decodeErr, &cfgErr) {
			return Result{}, decodeErr
		}
		return rc.reject(ctx, ev, decodeErr), nil
	}
	return rc.Settle(ctx, ev)
}

// Settle applies a verified event. Declined events and unknown bookings leave
// state untouched; approved events set the booking to confirmed.
func (rc Reconciler) Settle(ctx context.Context, ev CallbackEvent) (Result, error) {
	res := Result{
		Vendor:        ev.Vendor,
		TrackID:       ev.TrackID,
		TransactionID: ev.TransactionID(),
		Result:        ev.Result,
		ResponseCode:  firstNonEmpty(ev.AuthRespCode, ev.ResponseCode),
		Amount:        ev.Amount,
		CardBrand:     ev.CardBrand,
		MaskedPAN:     ev.MaskedPAN,
	}
	log := rc.Logger.With().Str("vendor", ev.Vendor).Str("track_id", ev.TrackID).Str("transaction_id", res.TransactionID).Logger()

	if !ev.Successful() {
		res.Outcome = OutcomeDeclined
		log.Info().Str("result", ev.Result).Str("response_code", res.ResponseCode).Msg("payment declined")
		rc.record(ctx, res, events.TopicPaymentDeclined)
		return res, nil
	}
	if rc.Bookings == nil {
		return Result{}, errors.New("payment: booking repository not configured")
	}

	b, err := rc.Bookings.FindByTrackID(ctx, ev.TrackID)
	if errors.Is(err, booking.ErrNotFound) {
		res.Outcome = OutcomeUnmatched
		log.Warn().Msg("approved callback has no matching booking")
		rc.record(ctx, res, events.TopicCallbackOrphaned)
		return res, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("payment: load booking: %w", err)
	}
	res.BookingID = b.ID

	amount, err := decimal.NewFromString(ev.Amount)
	if err != nil {
		amount = b.TotalAmount
	} else if !b.TotalAmount.IsZero() && !amount.Equal(b.TotalAmount) {
		log.Warn().Str("amount", ev.Amount).Str("booking_total", b.TotalAmount.StringFixed(2)).Msg("callback amount differs from booking total")
	}
	rec := booking.PaymentRecord{
		Vendor:        ev.Vendor,
		TransactionID: res.TransactionID,
		Amount:        amount,
		Status:        booking.PaymentStatusPaid,
		PaymentDate:   rc.now().UTC(),
		AuthCode:      ev.AuthCode,
		RRN:           ev.RRN,
		CardBrand:     ev.CardBrand,
		MaskedPAN:     ev.MaskedPAN,
	}
	if err := rc.Bookings.ConfirmPayment(ctx, b.ID, rec); err != nil {
		if errors.Is(err, booking.ErrNotFound) {
			res.Outcome = OutcomeUnmatched
			log.Warn().Str("booking_id", b.ID).Msg("booking disappeared before confirmation")
			rc.record(ctx, res, events.TopicCallbackOrphaned)
			return res, nil
		}
		return Result{}, fmt.Errorf("payment: confirm booking: %w", err)
	}
	res.Outcome = OutcomeConfirmed
	log.Info().Str("booking_id", b.ID).Bool("already_confirmed", b.Confirmed()).Msg("payment confirmed")
	rc.record(ctx, res, events.TopicPaymentConfirmed)
	return res, nil
}

func (rc Reconciler) reject(ctx context.Context, ev CallbackEvent, cause error) Result {
	res := Result{
		Outcome:       OutcomeRejected,
		Vendor:        ev.Vendor,
		TrackID:       ev.TrackID,
		TransactionID: ev.TransactionID(),
		ResponseCode:  ev.ResponseCode,
		Err:           cause,
	}
	rc.Logger.Warn().Err(cause).Str("vendor", ev.Vendor).Str("track_id", ev.TrackID).Msg("callback rejected")
	rc.record(ctx, res, events.TopicCallbackRejected)
	return res
}

func (rc Reconciler) record(ctx context.Context, res Result, topic string) {
	obs.IncCounter(obs.PaymentCallbackTotal, res.Vendor, string(res.Outcome))
	if rc.Events == nil || res.TrackID == "" {
		return
	}
	payload := map[string]any{
		"vendor":        res.Vendor,
		"outcome":       string(res.Outcome),
		"transactionId": res.TransactionID,
		"result":        res.Result,
		"responseCode":  res.ResponseCode,
		"amount":        res.Amount,
	}
	if res.BookingID != "" {
		payload["bookingId"] = res.BookingID
	}
	if _, err := rc.Events.Emit(ctx, topic, res.TrackID, payload); err != nil {
		rc.Logger.Error().Err(err).Str("topic", topic).Str("track_id", res.TrackID).Msg("record payment event")
	}
}

func (rc Reconciler) now() time.Time {
	if rc.Now != nil {
		return rc.Now()
	}
	return time.Now()
}
