package booking

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizePaymentMethod(t *testing.T) {
	cases := []struct {
		in      string
		method  string
		known   bool
		flagged bool
		online  bool
	}{
		{in: "card", method: MethodURWAY, known: true, online: true},
		{in: " MADA ", method: MethodURWAY, known: true, online: true},
		{in: "arb_gateway", method: MethodARB, known: true, online: true},
		{in: "cash", method: MethodCashOnArrival, known: true},
		{in: "arb", method: MethodCashOnArrival, known: true, flagged: true},
		{in: "stripe", method: MethodStripe, known: true},
		{in: "bitcoin"},
		{in: ""},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got := NormalizePaymentMethod(tc.in)
			require.Equal(t, tc.method, got.Method)
			require.Equal(t, tc.known, got.Known)
			require.Equal(t, tc.flagged, got.Flagged)
			require.Equal(t, tc.online, got.Online())
		})
	}
}

func TestBookingConfirmed(t *testing.T) {
	b := Booking{Status: StatusConfirmed}
	require.False(t, b.Confirmed())
	b.Payment = &PaymentRecord{Status: PaymentStatusPaid}
	require.True(t, b.Confirmed())
	b.Status = StatusPending
	require.False(t, b.Confirmed())
}
