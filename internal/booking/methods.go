package booking

import "strings"

// Canonical payment methods stored on bookings.
const (
	MethodURWAY         = "urway"
	MethodARB           = "arb"
	MethodCashOnArrival = "cash_on_arrival"
	MethodStripe        = "stripe"
)

// paymentMethods maps client-supplied method names to stored values.
//
// "arb" resolves to cash_on_arrival, not to the ARB gateway. Legacy clients
// depend on that row; it is kept as-is and reported through Flagged so it can
// be retired deliberately. Clients wanting the ARB gateway send "arb_gateway".
var paymentMethods = map[string]string{
	"card":            MethodURWAY,
	"credit_card":     MethodURWAY,
	"mada":            MethodURWAY,
	"urway":           MethodURWAY,
	"arb_gateway":     MethodARB,
	"neoleap":         MethodARB,
	"cash":            MethodCashOnArrival,
	"cash_on_arrival": MethodCashOnArrival,
	"arb":             MethodCashOnArrival,
	"stripe":          MethodStripe,
}

// flaggedMethods lists inputs whose mapping is suspected to be wrong.
var flaggedMethods = map[string]struct{}{
	"arb": {},
}

// MethodResolution is the result of normalising a client payment method.
type MethodResolution struct {
	Input   string
	Method  string
	Known   bool
	Flagged bool
}

// Online reports whether the method settles through a hosted payment gateway.
func (r MethodResolution) Online() bool {
	return r.Method == MethodURWAY || r.Method == MethodARB
}

// NormalizePaymentMethod resolves a client-supplied payment method through the
// mapping table. Unknown values are returned with Known=false.
func NormalizePaymentMethod(value string) MethodResolution {
	key := strings.ToLower(strings.TrimSpace(value))
	method, ok := paymentMethods[key]
	_, flagged := flaggedMethods[key]
	return MethodResolution{Input: key, Method: method, Known: ok, Flagged: flagged}
}
