package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/backend-booking/internal/events"
	"github.com/noah-isme/backend-booking/internal/obs"
)

// Gateway opens hosted payment sessions.
type Gateway interface {
	CreateSession(ctx context.Context, in Intent) (Session, error)
}

// Inquirer pulls the authoritative status of a transaction.
type Inquirer interface {
	Inquire(ctx context.Context, q InquiryRequest) (InquiryResult, error)
}

// Locker serialises work per key. lock.Locker satisfies it.
type Locker interface {
	Key(scope, id string) string
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// FollowUpScheduler queues a delayed inquiry after a session is opened.
type FollowUpScheduler interface {
	Schedule(ctx context.Context, p FollowUpPayload) error
}

// Service coordinates session creation, inquiries and reconciliation.
type Service struct {
	URWAY      Gateway
	ARB        Gateway
	Inquirer   Inquirer
	Reconciler Reconciler
	Locker     Locker
	LockTTL    time.Duration
	Events     EventEmitter
	FollowUp   FollowUpScheduler
	Logger     zerolog.Logger
}

// CreateURWAYSession opens an URWAY hosted payment page.
func (s *Service) CreateURWAYSession(ctx context.Context, in Intent) (Session, error) {
	sess, err := s.createSession(ctx, VendorURWAY, s.URWAY, in)
	if err != nil {
		return Session{}, err
	}
	if s.FollowUp != nil {
		payload := FollowUpPayload{TrackID: sess.TrackID, TransID: sess.PaymentID, Amount: sess.Amount, Currency: sess.Currency}
		if err := s.FollowUp.Schedule(ctx, payload); err != nil {
			s.Logger.Error().Err(err).Str("track_id", sess.TrackID).Msg("schedule payment follow-up")
		}
	}
	return sess, nil
}

// CreateARBSession opens an ARB hosted payment page.
func (s *Service) CreateARBSession(ctx context.Context, in Intent) (Session, error) {
	return s.createSession(ctx, VendorARB, s.ARB, in)
}

func (s *Service) createSession(ctx context.Context, vendor string, gw Gateway, in Intent) (Session, error) {
	if gw == nil {
		return Session{}, &ConfigurationError{Vendor: vendor, Field: "gateway client"}
	}
	ctx, span := otel.Tracer("payment.Service").Start(ctx, "PaymentService.CreateSession")
	defer span.End()
	span.SetAttributes(attribute.String("payment.vendor", vendor), attribute.String("payment.track_id", in.TrackID))

	start := time.Now()
	sess, err := gw.CreateSession(ctx, in)
	result := sessionResultLabel(err)
	obs.IncCounter(obs.PaymentSessionTotal, vendor, result)
	span.SetAttributes(
		attribute.String("payment.session.result", result),
		attribute.Float64("payment.session.duration_ms", obs.DurationMillis(time.Since(start))),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, result)
		return Session{}, err
	}
	s.emit(ctx, events.TopicSessionCreated, sess.TrackID, map[string]any{
		"vendor":    vendor,
		"paymentId": sess.PaymentID,
		"amount":    sess.Amount,
		"currency":  sess.Currency,
	})
	return sess, nil
}

// Inquire queries the vendor without touching booking state.
func (s *Service) Inquire(ctx context.Context, q InquiryRequest) (InquiryResult, error) {
	if s.Inquirer == nil {
		return InquiryResult{}, &ConfigurationError{Vendor: VendorURWAY, Field: "inquiry client"}
	}
	res, err := s.Inquirer.Inquire(ctx, q)
	label := "error"
	switch {
	case err == nil && res.Successful():
		label = "successful"
	case err == nil:
		label = "unsuccessful"
	case IsTimeout(err):
		label = "timeout"
	}
	obs.IncCounter(obs.PaymentInquiryTotal, VendorURWAY, label)
	if err != nil {
		return InquiryResult{}, err
	}
	s.emit(ctx, events.TopicInquiryCompleted, res.TrackID, map[string]any{
		"vendor":       res.Vendor,
		"tranId":       res.TranID,
		"result":       res.Result,
		"responseCode": res.ResponseCode,
	})
	return res, nil
}

// Reconcile runs an inquiry and applies the result as if it were a verified
// callback. It holds the per-track lock across the read and the write.
func (s *Service) Reconcile(ctx context.Context, q InquiryRequest) (Result, error) {
	if err := q.Validate(); err != nil {
		return Result{}, err
	}
	var out Result
	run := func(ctx context.Context) error {
		inq, err := s.Inquire(ctx, q)
		if err != nil {
			return err
		}
		out, err = s.Reconciler.Settle(ctx, CallbackEvent{
			Vendor:       VendorURWAY,
			TrackID:      firstNonEmpty(inq.TrackID, q.TrackID),
			TranID:       firstNonEmpty(inq.TranID, q.TransID),
			Result:       inq.Result,
			ResponseCode: inq.ResponseCode,
			AuthCode:     inq.AuthCode,
			RRN:          inq.RRN,
			Amount:       inq.Amount,
			CardBrand:    inq.CardBrand,
			MaskedPAN:    inq.MaskedPAN,
		})
		return err
	}
	if s.Locker == nil {
		if err := run(ctx); err != nil {
			return Result{}, err
		}
		return out, nil
	}
	ttl := s.LockTTL
	if ttl <= 0 {
		ttl = 45 * time.Second
	}
	if err := s.Locker.WithLock(ctx, s.Locker.Key("reconcile", q.TrackID), ttl, run); err != nil {
		return Result{}, fmt.Errorf("payment: reconcile %s: %w", q.TrackID, err)
	}
	return out, nil
}

func (s *Service) emit(ctx context.Context, topic, trackID string, payload map[string]any) {
	if s.Events == nil || trackID == "" {
		return
	}
	if _, err := s.Events.Emit(ctx, topic, trackID, payload); err != nil {
		s.Logger.Error().Err(err).Str("topic", topic).Str("track_id", trackID).Msg("record payment event")
	}
}

func sessionResultLabel(err error) string {
	var (
		validation *ValidationError
		config     *ConfigurationError
		response   *VendorResponseError
	)
	switch {
	case err == nil:
		return "created"
	case errors.As(err, &validation):
		return "invalid"
	case errors.As(err, &config):
		return "not_configured"
	case IsTimeout(err):
		return "timeout"
	case errors.As(err, &response):
		return "rejected"
	default:
		return "error"
	}
}
