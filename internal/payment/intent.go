package payment

import (
	"errors"
	"reflect"
	"strings"

	validator "github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// Vendors handled by this package.
const (
	VendorURWAY = "urway"
	VendorARB   = "arb"
)

// Customer identifies the payer. URWAY requires the email.
type Customer struct {
	Name   string `json:"customerName" validate:"omitempty,max=120"`
	Email  string `json:"customerEmail" validate:"omitempty,email"`
	Mobile string `json:"customerMobile" validate:"omitempty,max=20"`
}

// CallbackURLs are the absolute URLs the vendor returns the customer to.
type CallbackURLs struct {
	Success string `json:"responseURL" validate:"omitempty,url"`
	Error   string `json:"errorURL" validate:"omitempty,url"`
}

// Intent is a single checkout attempt. It is built per request and never persisted.
type Intent struct {
	TrackID    string              `json:"trackId" validate:"required,max=64"`
	Amount     decimal.NullDecimal `json:"amount"`
	Currency   string              `json:"currency" validate:"omitempty,max=3"`
	Country    string              `json:"country" validate:"omitempty,len=2"`
	Lang       string              `json:"langid" validate:"omitempty,max=8"`
	MerchantIP string              `json:"-"`
	Customer   Customer
	Callbacks  CallbackURLs
	UDF        [5]string `json:"-"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

// AmountString formats the amount with exactly two decimals.
func (in Intent) AmountString() string {
	return in.Amount.Decimal.StringFixed(2)
}

// Validate checks the intent before any vendor is contacted.
func (in Intent) Validate(requireEmail bool) error {
	if strings.TrimSpace(in.TrackID) == "" {
		return &ValidationError{Field: "trackId", Message: "is required"}
	}
	if err := validateAmount(in.Amount); err != nil {
		return err
	}
	if requireEmail && strings.TrimSpace(in.Customer.Email) == "" {
		return &ValidationError{Field: "customerEmail", Message: "is required"}
	}
	return structError(validate.Struct(in))
}

// validateAmount accepts positive amounts with at most two decimal places.
func validateAmount(amount decimal.NullDecimal) error {
	if !amount.Valid {
		return &ValidationError{Field: "amount", Message: "is required"}
	}
	d := amount.Decimal
	if !d.IsPositive() {
		return &ValidationError{Field: "amount", Message: "must be greater than zero"}
	}
	if !d.Equal(d.Round(2)) {
		return &ValidationError{Field: "amount", Message: "must have at most two decimal places"}
	}
	return nil
}

// structError converts the first validator failure into a ValidationError.
func structError(err error) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return &ValidationError{Field: fe.Field(), Message: "failed " + fe.Tag() + " check"}
	}
	return &ValidationError{Field: "body", Message: err.Error()}
}
