package payment

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
)

// CallbackEvent is a vendor notification about the outcome of a transaction.
type CallbackEvent struct {
	Vendor       string
	TrackID      string
	TranID       string
	PaymentID    string
	Result       string
	ResponseCode string
	AuthRespCode string
	AuthCode     string
	RRN          string
	Amount       string
	ResponseHash string
	CardBrand    string
	MaskedPAN    string
	ErrorText    string
}

// Successful applies the vendor success predicate: "Successful" in any case,
// or "CAPTURED" with an approval code of 00 or 000.
func Successful(result, code string) bool {
	result = strings.TrimSpace(result)
	if strings.EqualFold(result, "Successful") {
		return true
	}
	if !strings.EqualFold(result, "CAPTURED") {
		return false
	}
	switch strings.TrimSpace(code) {
	case "00", "000":
		return true
	}
	return false
}

// Successful reports whether the event describes an approved payment. The
// authorisation response code takes precedence over the response code.
func (ev CallbackEvent) Successful() bool {
	return Successful(ev.Result, firstNonEmpty(ev.AuthRespCode, ev.ResponseCode))
}

// TransactionID is the identifier recorded on the booking.
func (ev CallbackEvent) TransactionID() string {
	return firstNonEmpty(ev.TranID, ev.PaymentID)
}

// ParseURWAYCallback collects callback fields from the query string, a form
// body or a JSON body. Body values win over query values.
func ParseURWAYCallback(r *http.Request, maxBody int64) (CallbackEvent, error) {
	fields, err := readFields(r, maxBody)
	if err != nil {
		return CallbackEvent{}, err
	}
	ev := CallbackEvent{
		Vendor:       VendorURWAY,
		TrackID:      fields.get("TrackId", "trackid"),
		TranID:       fields.get("TranId", "tranid", "transId"),
		PaymentID:    fields.get("PaymentId", "paymentid", "payid"),
		Result:       fields.get("Result"),
		ResponseCode: fields.get("ResponseCode", "responsecode"),
		AuthRespCode: fields.get("authRespCode"),
		AuthCode:     fields.get("AuthCode"),
		RRN:          fields.get("RRN", "ref"),
		Amount:       fields.get("amount", "amt"),
		ResponseHash: fields.get("responseHash"),
		CardBrand:    fields.get("cardBrand"),
		MaskedPAN:    fields.get("maskedPAN"),
		ErrorText:    fields.get("errorText"),
	}
	if ev.TrackID == "" {
		return ev, &ValidationError{Field: "TrackId", Message: "is required"}
	}
	return ev, nil
}

// readFields merges query parameters with the request body.
func readFields(r *http.Request, maxBody int64) (fieldSet, error) {
	fields := fieldsFromValues(r.URL.Query())
	if r.Body == nil || r.Method == http.MethodGet {
		return fields, nil
	}
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		return nil, &ValidationError{Field: "body", Message: "could not be read"}
	}
	if err := mergeBody(fields, r.Header.Get("Content-Type"), raw); err != nil {
		return nil, err
	}
	return fields, nil
}

func mergeBody(fields fieldSet, contentType string, raw []byte) error {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil
	}
	mediaType, _, _ := mime.ParseMediaType(contentType)
	switch mediaType {
	case "application/x-www-form-urlencoded":
		values, err := url.ParseQuery(string(raw))
		if err != nil {
			return &ValidationError{Field: "body", Message: "is not a valid form"}
		}
		for key, value := range fieldsFromValues(values) {
			fields.set(key, value)
		}
	default:
		decoded, err := decodeFields(raw)
		if err != nil {
			if mediaType == "application/json" {
				return &ValidationError{Field: "body", Message: fmt.Sprintf("is not valid JSON: %v", err)}
			}
			return nil
		}
		for key, value := range decoded {
			fields.set(key, value)
		}
	}
	return nil
}
