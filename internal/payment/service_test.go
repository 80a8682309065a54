package payment

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-booking/internal/booking"
	"github.com/noah-isme/backend-booking/internal/events"
	"github.com/noah-isme/backend-booking/internal/lock"
)

type stubGateway struct {
	sess  Session
	err   error
	calls int
}

func (g *stubGateway) CreateSession(_ context.Context, in Intent) (Session, error) {
	g.calls++
	if g.err != nil {
		return Session{}, g.err
	}
	out := g.sess
	out.TrackID = in.TrackID
	out.Amount = in.AmountString()
	return out, nil
}

type stubInquirer struct {
	res   InquiryResult
	err   error
	calls int
	hook  func()
}

func (s *stubInquirer) Inquire(_ context.Context, q InquiryRequest) (InquiryResult, error) {
	s.calls++
	if s.hook != nil {
		s.hook()
	}
	if s.err != nil {
		return InquiryResult{}, s.err
	}
	out := s.res
	out.TrackID = q.TrackID
	return out, nil
}

type recordingScheduler struct {
	payloads []FollowUpPayload
	err      error
}

func (r *recordingScheduler) Schedule(_ context.Context, p FollowUpPayload) error {
	r.payloads = append(r.payloads, p)
	return r.err
}

func newLocker(t *testing.T) (lock.Locker, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return lock.Locker{R: client, RetryBackoff: 5 * time.Millisecond}, mr
}

func TestServiceCreateURWAYSessionSchedulesFollowUp(t *testing.T) {
	gw := &stubGateway{sess: Session{Vendor: VendorURWAY, PaymentID: "PID1", RedirectURL: "https://pay.example/page?paymentid=PID1", Currency: "SAR"}}
	sched := &recordingScheduler{}
	emitter := &recordingEmitter{}
	svc := &Service{URWAY: gw, FollowUp: sched, Events: emitter, Logger: zerolog.Nop()}

	sess, err := svc.CreateURWAYSession(context.Background(), validIntent())
	require.NoError(t, err)
	require.Equal(t, "PID1", sess.PaymentID)
	require.Equal(t, []FollowUpPayload{{TrackID: "BK-1001", TransID: "PID1", Amount: "250.00", Currency: "SAR"}}, sched.payloads)
	require.Equal(t, []string{events.TopicSessionCreated}, emitter.topics())
}

func TestServiceFollowUpFailureDoesNotFailSession(t *testing.T) {
	gw := &stubGateway{sess: Session{PaymentID: "PID1"}}
	svc := &Service{URWAY: gw, FollowUp: &recordingScheduler{err: errors.New("redis down")}, Logger: zerolog.Nop()}

	_, err := svc.CreateURWAYSession(context.Background(), validIntent())
	require.NoError(t, err)
}

func TestServiceCreateSessionPropagatesVendorErrors(t *testing.T) {
	gw := &stubGateway{err: &VendorResponseError{Vendor: VendorARB, Err: ErrNoPaymentID}}
	emitter := &recordingEmitter{}
	svc := &Service{ARB: gw, Events: emitter, Logger: zerolog.Nop()}

	_, err := svc.CreateARBSession(context.Background(), validIntent())
	require.ErrorIs(t, err, ErrNoPaymentID)
	require.Empty(t, emitter.topics())
}

func TestServiceMissingGateway(t *testing.T) {
	svc := &Service{Logger: zerolog.Nop()}
	_, err := svc.CreateARBSession(context.Background(), validIntent())
	var cfgErr *ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
}

func TestServiceReconcileConfirmsUnderLock(t *testing.T) {
	locker, mr := newLocker(t)
	f := newReconcilerFixture(pendingBooking("BK-1001"))
	inq := &stubInquirer{res: InquiryResult{Vendor: VendorURWAY, TranID: "TX5", Result: "Successful", ResponseCode: "000", Amount: "250.00"}}
	inq.hook = func() {
		require.True(t, mr.Exists(locker.Key("reconcile", "BK-1001")))
	}
	svc := &Service{Inquirer: inq, Reconciler: f.rc, Locker: locker, Logger: zerolog.Nop()}

	res, err := svc.Reconcile(context.Background(), InquiryRequest{TrackID: "BK-1001", TransID: "PID1", Amount: amount("250")})
	require.NoError(t, err)
	require.Equal(t, OutcomeConfirmed, res.Outcome)
	require.Equal(t, "TX5", f.bookings.get("BK-1001").Payment.TransactionID)
	require.False(t, mr.Exists(locker.Key("reconcile", "BK-1001")))
}

func TestServiceReconcileDeclinedLeavesBooking(t *testing.T) {
	f := newReconcilerFixture(pendingBooking("BK-1001"))
	inq := &stubInquirer{res: InquiryResult{Result: "UnSuccessful", ResponseCode: "601"}}
	svc := &Service{Inquirer: inq, Reconciler: f.rc, Logger: zerolog.Nop()}

	res, err := svc.Reconcile(context.Background(), InquiryRequest{TrackID: "BK-1001", TransID: "PID1", Amount: amount("250")})
	require.NoError(t, err)
	require.Equal(t, OutcomeDeclined, res.Outcome)
	require.Equal(t, booking.StatusPending, f.bookings.get("BK-1001").Status)
}

func TestServiceReconcileConflictWhileLocked(t *testing.T) {
	locker, mr := newLocker(t)
	require.NoError(t, mr.Set(locker.Key("reconcile", "BK-1001"), "other-owner"))
	inq := &stubInquirer{}
	svc := &Service{Inquirer: inq, Reconciler: newReconcilerFixture().rc, Locker: locker, Logger: zerolog.Nop()}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := svc.Reconcile(ctx, InquiryRequest{TrackID: "BK-1001", TransID: "PID1", Amount: amount("250")})
	require.ErrorIs(t, err, lock.ErrNotAcquired)
	require.Zero(t, inq.calls)
	require.Equal(t, http.StatusConflict, statusFor(err).HTTPStatus)
}

func TestServiceReconcileValidatesFirst(t *testing.T) {
	inq := &stubInquirer{}
	svc := &Service{Inquirer: inq, Logger: zerolog.Nop()}
	_, err := svc.Reconcile(context.Background(), InquiryRequest{TrackID: "BK-1001", Amount: amount("250")})
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	require.Zero(t, inq.calls)
}

func TestServiceInquireDoesNotTouchBookings(t *testing.T) {
	f := newReconcilerFixture(pendingBooking("BK-1001"))
	emitter := &recordingEmitter{}
	inq := &stubInquirer{res: InquiryResult{Vendor: VendorURWAY, TranID: "TX5", Result: "Successful", ResponseCode: "000"}}
	svc := &Service{Inquirer: inq, Reconciler: f.rc, Events: emitter, Logger: zerolog.Nop()}

	res, err := svc.Inquire(context.Background(), InquiryRequest{TrackID: "BK-1001", TransID: "PID1", Amount: amount("250")})
	require.NoError(t, err)
	require.True(t, res.Successful())
	require.Equal(t, booking.StatusPending, f.bookings.get("BK-1001").Status)
	require.Equal(t, []string{events.TopicInquiryCompleted}, emitter.topics())
}

func TestSessionResultLabel(t *testing.T) {
	require.Equal(t, "created", sessionResultLabel(nil))
	require.Equal(t, "invalid", sessionResultLabel(&ValidationError{}))
	require.Equal(t, "not_configured", sessionResultLabel(&ConfigurationError{}))
	require.Equal(t, "timeout", sessionResultLabel(&VendorRequestError{Timeout: true}))
	require.Equal(t, "rejected", sessionResultLabel(&VendorResponseError{}))
	require.Equal(t, "error", sessionResultLabel(&VendorRequestError{StatusCode: 500}))
}
