package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-booking/internal/booking"
	"github.com/noah-isme/backend-booking/internal/obs"
)

// TaskInquiry is the asynq task type for delayed inquiries.
const TaskInquiry = "payment:inquiry"

// FollowUpQueue is the asynq queue follow-up tasks run on.
const FollowUpQueue = "payments"

// FollowUpPayload identifies the transaction a follow-up should inquire about.
type FollowUpPayload struct {
	TrackID  string `json:"trackId"`
	TransID  string `json:"transId"`
	Amount   string `json:"amount"`
	Currency string `json:"currency,omitempty"`
}

// Enqueuer is the part of asynq.Client used to schedule tasks.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// FollowUp schedules a delayed inquiry per track id.
type FollowUp struct {
	Client   Enqueuer
	Delay    time.Duration
	MaxRetry int
}

var _ FollowUpScheduler = FollowUp{}

// Schedule enqueues the follow-up. A task already queued for the same track id
// is left in place.
func (f FollowUp) Schedule(ctx context.Context, p FollowUpPayload) error {
	if f.Client == nil {
		return errors.New("payment: follow-up client not configured")
	}
	if strings.TrimSpace(p.TrackID) == "" || strings.TrimSpace(p.TransID) == "" {
		return &ValidationError{Field: "trackId", Message: "and transId are required for follow-up"}
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("payment: encode follow-up: %w", err)
	}
	delay := f.Delay
	if delay <= 0 {
		delay = 15 * time.Minute
	}
	maxRetry := f.MaxRetry
	if maxRetry <= 0 {
		maxRetry = 5
	}
	_, err = f.Client.EnqueueContext(ctx, asynq.NewTask(TaskInquiry, data),
		asynq.TaskID(TaskInquiry+":"+p.TrackID),
		asynq.ProcessIn(delay),
		asynq.Queue(FollowUpQueue),
		asynq.MaxRetry(maxRetry),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("payment: enqueue follow-up: %w", err)
	}
	return nil
}

// Reconciling runs an inquiry-backed reconciliation. *Service satisfies it.
type Reconciling interface {
	Reconcile(ctx context.Context, q InquiryRequest) (Result, error)
}

// FollowUpHandler processes payment:inquiry tasks.
type FollowUpHandler struct {
	Bookings   booking.Repository
	Reconciler Reconciling
	Logger     zerolog.Logger
}

// ProcessTask implements asynq.Handler. Bookings that are already confirmed are
// skipped; timeouts are returned so asynq retries the task.
func (h FollowUpHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var p FollowUpPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		obs.IncCounter(obs.PaymentFollowUpTotal, "invalid")
		return fmt.Errorf("payment: decode follow-up: %v: %w", err, asynq.SkipRetry)
	}
	log := h.Logger.With().Str("track_id", p.TrackID).Logger()

	if h.Bookings != nil {
		b, err := h.Bookings.FindByTrackID(ctx, p.TrackID)
		switch {
		case errors.Is(err, booking.ErrNotFound):
			obs.IncCounter(obs.PaymentFollowUpTotal, "unmatched")
			log.Warn().Msg("follow-up for unknown booking")
			return nil
		case err != nil:
			obs.IncCounter(obs.PaymentFollowUpTotal, "error")
			return fmt.Errorf("payment: follow-up load booking: %w", err)
		case b.Confirmed():
			obs.IncCounter(obs.PaymentFollowUpTotal, "already_confirmed")
			return nil
		}
	}

	amount, err := decimal.NewFromString(p.Amount)
	if err != nil {
		obs.IncCounter(obs.PaymentFollowUpTotal, "invalid")
		return fmt.Errorf("payment: follow-up amount %q: %v: %w", p.Amount, err, asynq.SkipRetry)
	}
	res, err := h.Reconciler.Reconcile(ctx, InquiryRequest{
		TrackID:  p.TrackID,
		TransID:  p.TransID,
		Amount:   decimal.NewNullDecimal(amount),
		Currency: p.Currency,
	})
	if err != nil {
		var (
			validation *ValidationError
			config     *ConfigurationError
		)
		if errors.As(err, &validation) || errors.As(err, &config) {
			obs.IncCounter(obs.PaymentFollowUpTotal, "invalid")
			return fmt.Errorf("payment: follow-up: %v: %w", err, asynq.SkipRetry)
		}
		obs.IncCounter(obs.PaymentFollowUpTotal, "error")
		log.Warn().Err(err).Bool("timeout", IsTimeout(err)).Msg("follow-up inquiry failed")
		return err
	}
	obs.IncCounter(obs.PaymentFollowUpTotal, string(res.Outcome))
	log.Info().Str("outcome", string(res.Outcome)).Msg("follow-up inquiry processed")
	return nil
}
