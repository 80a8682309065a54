package payment

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/noah-isme/backend-booking/internal/common"
	"github.com/noah-isme/backend-booking/internal/lock"
)

var (
	// ErrSignatureMismatch marks a callback whose response hash does not match.
	ErrSignatureMismatch = errors.New("payment: invalid response hash")
	// ErrNoPaymentID is returned when a vendor response carries no payment id.
	ErrNoPaymentID = errors.New("payment: no payment id in response")
)

// ConfigurationError reports a missing or malformed merchant setting.
type ConfigurationError struct {
	Vendor string
	Field  string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("payment: %s gateway is missing %s", e.Vendor, e.Field)
}

// EncodingError reports encryption output that breaks the hex invariant.
type EncodingError struct {
	Reason string
	Err    error
}

func (e *EncodingError) Error() string {
	if e.Err != nil {
		return "payment: encoding: " + e.Reason + ": " + e.Err.Error()
	}
	return "payment: encoding: " + e.Reason
}

func (e *EncodingError) Unwrap() error { return e.Err }

// ValidationError reports a payment intent field that failed validation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("payment: %s %s", e.Field, e.Message)
}

// VendorRequestError wraps a transport failure or non-200 vendor response.
type VendorRequestError struct {
	Vendor     string
	StatusCode int
	Body       string
	Timeout    bool
	Err        error
}

func (e *VendorRequestError) Error() string {
	switch {
	case e.Timeout:
		return fmt.Sprintf("payment: %s request timed out", e.Vendor)
	case e.StatusCode != 0:
		return fmt.Sprintf("payment: %s responded with status %d", e.Vendor, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("payment: %s request failed: %v", e.Vendor, e.Err)
	default:
		return fmt.Sprintf("payment: %s request failed", e.Vendor)
	}
}

func (e *VendorRequestError) Unwrap() error { return e.Err }

// VendorResponseError reports a 200 response whose body is an error or unusable.
type VendorResponseError struct {
	Vendor  string
	Code    string
	Message string
	Raw     string
	Err     error
}

func (e *VendorResponseError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Code != "" {
		return fmt.Sprintf("payment: %s rejected request (%s): %s", e.Vendor, e.Code, msg)
	}
	return fmt.Sprintf("payment: %s rejected request: %s", e.Vendor, msg)
}

func (e *VendorResponseError) Unwrap() error { return e.Err }

// IsTimeout reports whether err means the vendor state is unknown because the
// call did not complete in time. Callers should fall back to an inquiry.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	var vre *VendorRequestError
	if errors.As(err, &vre) && vre.Timeout {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// statusFor maps a payment error to the public error returned to HTTP callers.
// Vendor bodies and secrets stay in server logs.
func statusFor(err error) *common.AppError {
	if appErr, ok := common.AsAppError(err); ok {
		return appErr
	}
	var (
		validation *ValidationError
		config     *ConfigurationError
		encoding   *EncodingError
		request    *VendorRequestError
		response   *VendorResponseError
	)
	switch {
	case errors.As(err, &validation):
		return common.NewAppError("VALIDATION_FAILED", validation.Field+" "+validation.Message, http.StatusBadRequest, err)
	case errors.Is(err, ErrSignatureMismatch):
		return common.NewAppError("INVALID_SIGNATURE", "invalid response hash", http.StatusBadRequest, err)
	case errors.Is(err, lock.ErrNotAcquired):
		return common.NewAppError("RECONCILE_IN_PROGRESS", "another reconciliation for this track id is running", http.StatusConflict, err)
	case errors.As(err, &config):
		return common.NewAppError("GATEWAY_NOT_CONFIGURED", "payment gateway is not configured", http.StatusInternalServerError, err)
	case errors.As(err, &encoding):
		return common.NewAppError("GATEWAY_ENCODING_ERROR", "payment request could not be prepared", http.StatusInternalServerError, err)
	case IsTimeout(err):
		return common.NewAppError("GATEWAY_TIMEOUT", "payment gateway did not respond in time; check status before retrying", http.StatusGatewayTimeout, err)
	case errors.As(err, &request):
		return common.NewAppError("GATEWAY_UNAVAILABLE", "payment gateway request failed", http.StatusBadGateway, err)
	case errors.As(err, &response):
		code := "GATEWAY_REJECTED"
		if response.Code != "" {
			code = response.Code
		}
		msg := "payment gateway rejected the request"
		if errors.Is(err, ErrNoPaymentID) {
			msg = "no payment id in response"
		}
		return common.NewAppError(code, msg, http.StatusBadGateway, err)
	default:
		return common.NewAppError("PAYMENT_ERROR", "payment request failed", http.StatusInternalServerError, err)
	}
}
