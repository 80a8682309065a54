package payment

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-booking/internal/booking"
	"github.com/noah-isme/backend-booking/internal/config"
	"github.com/noah-isme/backend-booking/internal/events"
	"github.com/noah-isme/backend-booking/internal/resilience"
)

const (
	testTerminal = "T001"
	testPassword = "pass"
	testSecret   = "urw-s3cr3t"
)

// vendor is an httptest server standing in for a payment gateway.
type vendor struct {
	*httptest.Server
	calls atomic.Int32
}

func newVendor(t *testing.T, handler http.HandlerFunc) *vendor {
	t.Helper()
	v := &vendor{}
	v.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		v.calls.Add(1)
		handler(w, r)
	}))
	t.Cleanup(v.Close)
	return v
}

func (v *vendor) doer() resilience.Doer {
	return resilience.HTTPClient{Client: v.Client(), MaxAttempts: 1}
}

func urwayClient(v *vendor) URWAYClient {
	c := URWAYClient{
		Config: config.URWAYConfig{
			TerminalID: testTerminal,
			Password:   testPassword,
			SecretKey:  testSecret,
			BaseURL:    "http://127.0.0.1:1/URWAYPGService",
			Country:    "SA",
			Currency:   "SAR",
		},
		Environment: config.EnvTest,
		Logger:      zerolog.Nop(),
	}
	if v != nil {
		c.Config.BaseURL = v.URL + "/URWAYPGService"
		c.HTTP = v.doer()
	}
	return c
}

func amount(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(s))
}

func validIntent() Intent {
	return Intent{
		TrackID:  "BK-1001",
		Amount:   amount("250.00"),
		Currency: "SAR",
		Customer: Customer{Name: "Guest", Email: "guest@example.com", Mobile: "0500000000"},
	}
}

// memoryBookings is an in-memory booking.Repository with the same
// confirmation semantics as the SQL store.
type memoryBookings struct {
	mu       sync.Mutex
	byTrack  map[string]*booking.Booking
	confirms int
}

func newMemoryBookings(bs ...booking.Booking) *memoryBookings {
	m := &memoryBookings{byTrack: map[string]*booking.Booking{}}
	for i := range bs {
		b := bs[i]
		m.byTrack[b.BookingNumber] = &b
	}
	return m
}

func (m *memoryBookings) FindByTrackID(_ context.Context, trackID string) (booking.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.byTrack[trackID]
	if !ok {
		return booking.Booking{}, booking.ErrNotFound
	}
	out := *b
	if b.Payment != nil {
		p := *b.Payment
		out.Payment = &p
	}
	return out, nil
}

func (m *memoryBookings) ConfirmPayment(_ context.Context, bookingID string, rec booking.PaymentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.byTrack {
		if b.ID != bookingID {
			continue
		}
		if b.Payment != nil && b.Payment.TransactionID == rec.TransactionID && !b.Payment.PaymentDate.IsZero() {
			rec.PaymentDate = b.Payment.PaymentDate
		}
		b.Status = booking.StatusConfirmed
		b.Payment = &rec
		m.confirms++
		return nil
	}
	return booking.ErrNotFound
}

func (m *memoryBookings) get(trackID string) booking.Booking {
	b, _ := m.FindByTrackID(context.Background(), trackID)
	return b
}

type emitted struct {
	Topic       string
	AggregateID string
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []emitted
}

func (r *recordingEmitter) Emit(_ context.Context, topic, aggregateID string, _ any) (events.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, emitted{Topic: topic, AggregateID: aggregateID})
	return events.Event{Topic: topic, AggregateID: aggregateID, OccurredAt: time.Now()}, nil
}

func (r *recordingEmitter) topics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Topic)
	}
	return out
}

func pendingBooking(trackID string) booking.Booking {
	return booking.Booking{
		ID:            "2b1c7f7e-0000-4000-8000-000000000001",
		BookingNumber: trackID,
		Status:        booking.StatusPending,
		PaymentMethod: booking.MethodURWAY,
		TotalAmount:   decimal.RequireFromString("250.00"),
	}
}

func newTimeoutDoer(v *vendor, timeout time.Duration) resilience.Doer {
	return resilience.HTTPClient{Client: v.Client(), MaxAttempts: 1, Timeout: timeout}
}
