package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-booking/internal/common"
	"github.com/noah-isme/backend-booking/internal/config"
	"github.com/noah-isme/backend-booking/internal/obs"
	"github.com/noah-isme/backend-booking/internal/resilience"
)

// URWAY actions.
const (
	ActionPurchase = "1"
	ActionInquiry  = "10"
)

const urwayEndpointPath = "/transaction/jsonProcess/JSONrequest"

// maxVendorBody bounds how much of a vendor response is read.
const maxVendorBody = 1 << 20

// URWAYRequest is the JSON document posted to the URWAY endpoint.
type URWAYRequest struct {
	TrackID        string `json:"trackid"`
	TerminalID     string `json:"terminalId"`
	Action         string `json:"action"`
	CustomerEmail  string `json:"customerEmail,omitempty"`
	MerchantIP     string `json:"merchantIp"`
	Password       string `json:"password"`
	Currency       string `json:"currency"`
	Amount         string `json:"amount"`
	Country        string `json:"country"`
	CustomerName   string `json:"customerName,omitempty"`
	CustomerMobile string `json:"customerMobile,omitempty"`
	UDF1           string `json:"udf1,omitempty"`
	UDF2           string `json:"udf2,omitempty"`
	TransID        string `json:"transid,omitempty"`
	RequestHash    string `json:"requestHash"`
}

// Session is a hosted payment page opened at a vendor.
type Session struct {
	Vendor      string
	TrackID     string
	PaymentID   string
	RedirectURL string
	Amount      string
	Currency    string
	Warnings    []string
}

// InquiryRequest asks a vendor for the current state of a transaction.
type InquiryRequest struct {
	TransID    string              `json:"transId" validate:"required,max=64"`
	TrackID    string              `json:"trackId" validate:"required,max=64"`
	Amount     decimal.NullDecimal `json:"amount"`
	Currency   string              `json:"currency" validate:"omitempty,max=3"`
	MerchantIP string              `json:"-"`
}

// Validate checks the inquiry before the vendor is contacted.
func (q InquiryRequest) Validate() error {
	if strings.TrimSpace(q.TrackID) == "" {
		return &ValidationError{Field: "trackId", Message: "is required"}
	}
	if strings.TrimSpace(q.TransID) == "" {
		return &ValidationError{Field: "transId", Message: "is required"}
	}
	if err := validateAmount(q.Amount); err != nil {
		return err
	}
	return structError(validate.Struct(q))
}

// InquiryResult is the vendor's authoritative view of a transaction.
type InquiryResult struct {
	Vendor       string          `json:"vendor"`
	TrackID      string          `json:"trackId"`
	TranID       string          `json:"tranId"`
	Result       string          `json:"result"`
	ResponseCode string          `json:"responseCode"`
	AuthCode     string          `json:"authCode"`
	RRN          string          `json:"rrn"`
	Amount       string          `json:"amount"`
	CardBrand    string          `json:"cardBrand,omitempty"`
	MaskedPAN    string          `json:"maskedPAN,omitempty"`
	Raw          json.RawMessage `json:"raw,omitempty"`
}

// Successful applies the shared success predicate to the inquiry result.
func (r InquiryResult) Successful() bool {
	return Successful(r.Result, r.ResponseCode)
}

// URWAYClient builds, signs and sends URWAY requests.
type URWAYClient struct {
	Config      config.URWAYConfig
	Environment string
	HTTP        resilience.Doer
	Logger      zerolog.Logger
	// DebugHashes logs masked hash pre-images at debug level.
	DebugHashes bool
}

func (c URWAYClient) checkCredentials() error {
	switch {
	case strings.TrimSpace(c.Config.TerminalID) == "":
		return &ConfigurationError{Vendor: VendorURWAY, Field: "terminal id"}
	case c.Config.Password == "":
		return &ConfigurationError{Vendor: VendorURWAY, Field: "password"}
	case c.Config.SecretKey == "":
		return &ConfigurationError{Vendor: VendorURWAY, Field: "secret key"}
	case strings.TrimSpace(c.Config.BaseURL) == "":
		return &ConfigurationError{Vendor: VendorURWAY, Field: "base url"}
	}
	return nil
}

// Configured reports whether all merchant credentials are present.
func (c URWAYClient) Configured() bool { return c.checkCredentials() == nil }

// Endpoint returns the JSON request URL.
func (c URWAYClient) Endpoint() string {
	return strings.TrimRight(c.Config.BaseURL, "/") + urwayEndpointPath
}

// BuildPurchase assembles and signs a purchase request.
func (c URWAYClient) BuildPurchase(in Intent) (URWAYRequest, error) {
	if err := in.Validate(true); err != nil {
		return URWAYRequest{}, err
	}
	if err := c.checkCredentials(); err != nil {
		return URWAYRequest{}, err
	}
	currency := firstNonEmpty(in.Currency, c.Config.Currency, "SAR")
	req := URWAYRequest{
		TrackID:        strings.TrimSpace(in.TrackID),
		TerminalID:     c.Config.TerminalID,
		Action:         ActionPurchase,
		CustomerEmail:  strings.TrimSpace(in.Customer.Email),
		MerchantIP:     firstNonEmpty(in.MerchantIP, common.LoopbackIP),
		Password:       c.Config.Password,
		Currency:       currency,
		Amount:         in.AmountString(),
		Country:        firstNonEmpty(in.Country, c.Config.Country, "SA"),
		CustomerName:   strings.TrimSpace(in.Customer.Name),
		CustomerMobile: strings.TrimSpace(in.Customer.Mobile),
		UDF1:           in.UDF[0],
		UDF2:           firstNonEmpty(in.UDF[1], in.Callbacks.Success, c.Config.ResponseURL),
	}
	req.RequestHash = c.sign(req)
	return req, nil
}

// BuildInquiry assembles and signs a transaction inquiry.
func (c URWAYClient) BuildInquiry(q InquiryRequest) (URWAYRequest, error) {
	if err := q.Validate(); err != nil {
		return URWAYRequest{}, err
	}
	if err := c.checkCredentials(); err != nil {
		return URWAYRequest{}, err
	}
	req := URWAYRequest{
		TrackID:    strings.TrimSpace(q.TrackID),
		TerminalID: c.Config.TerminalID,
		Action:     ActionInquiry,
		MerchantIP: firstNonEmpty(q.MerchantIP, common.LoopbackIP),
		Password:   c.Config.Password,
		Currency:   firstNonEmpty(q.Currency, c.Config.Currency, "SAR"),
		Amount:     q.Amount.Decimal.StringFixed(2),
		Country:    firstNonEmpty(c.Config.Country, "SA"),
		TransID:    strings.TrimSpace(q.TransID),
	}
	req.RequestHash = c.sign(req)
	return req, nil
}

func (c URWAYClient) sign(req URWAYRequest) string {
	if c.DebugHashes {
		c.Logger.Debug().
			Str("track_id", req.TrackID).
			Str("hash_input", strings.Join([]string{req.TrackID, req.TerminalID, obs.Mask(req.Password), obs.Mask(c.Config.SecretKey), req.Amount, req.Currency}, "|")).
			Msg("urway request hash input")
	}
	return ComputeRequestHash(req.TrackID, req.TerminalID, req.Password, c.Config.SecretKey, req.Amount, req.Currency)
}

// CreateSession opens a hosted payment page for the intent.
func (c URWAYClient) CreateSession(ctx context.Context, in Intent) (Session, error) {
	req, err := c.BuildPurchase(in)
	if err != nil {
		return Session{}, err
	}
	body, err := c.post(ctx, "purchase", req)
	if err != nil {
		return Session{}, err
	}
	fields, err := decodeFields(body)
	if err != nil {
		return Session{}, &VendorResponseError{Vendor: VendorURWAY, Message: "unparseable response", Raw: truncate(string(body)), Err: err}
	}
	targetURL := fields.get("targetUrl")
	payID := fields.get("payid")
	if targetURL == "" || payID == "" {
		vendorErr := &VendorResponseError{
			Vendor:  VendorURWAY,
			Code:    fields.get("responseCode", "responsecode"),
			Message: firstNonEmpty(fields.get("reason", "errorText", "result"), "missing targetUrl or payid"),
			Raw:     truncate(string(body)),
		}
		c.Logger.Warn().Str("track_id", req.TrackID).Str("response_code", vendorErr.Code).Str("raw", vendorErr.Raw).Msg("urway session rejected")
		return Session{}, vendorErr
	}
	return Session{
		Vendor:      VendorURWAY,
		TrackID:     req.TrackID,
		PaymentID:   payID,
		RedirectURL: targetURL + "?paymentid=" + payID,
		Amount:      req.Amount,
		Currency:    req.Currency,
	}, nil
}

// Inquire queries URWAY for a transaction. It never changes booking state.
func (c URWAYClient) Inquire(ctx context.Context, q InquiryRequest) (InquiryResult, error) {
	req, err := c.BuildInquiry(q)
	if err != nil {
		return InquiryResult{}, err
	}
	body, err := c.post(ctx, "inquiry", req)
	if err != nil {
		return InquiryResult{}, err
	}
	fields, err := decodeFields(body)
	if err != nil {
		return InquiryResult{}, &VendorResponseError{Vendor: VendorURWAY, Message: "unparseable inquiry response", Raw: truncate(string(body)), Err: err}
	}
	res := InquiryResult{
		Vendor:       VendorURWAY,
		TrackID:      firstNonEmpty(fields.get("trackid"), req.TrackID),
		TranID:       fields.get("tranid", "transid"),
		Result:       fields.get("result"),
		ResponseCode: fields.get("responseCode"),
		AuthCode:     fields.get("authcode"),
		RRN:          fields.get("rrn"),
		Amount:       firstNonEmpty(fields.get("amount"), req.Amount),
		CardBrand:    fields.get("cardBrand"),
		MaskedPAN:    fields.get("maskedPAN", "cardnumber"),
	}
	if json.Valid(body) {
		res.Raw = json.RawMessage(body)
	}
	return res, nil
}

// post sends a JSON document to the URWAY endpoint and returns the 200 body.
func (c URWAYClient) post(ctx context.Context, operation string, payload any) ([]byte, error) {
	if c.HTTP == nil {
		return nil, &ConfigurationError{Vendor: VendorURWAY, Field: "http client"}
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("payment: encode urway request: %w", err)
	}
	return postJSON(ctx, c.HTTP, c.Logger, VendorURWAY, operation, c.Endpoint(), encoded)
}

// postJSON performs one vendor round trip and classifies transport failures.
func postJSON(ctx context.Context, doer resilience.Doer, logger zerolog.Logger, vendor, operation, endpoint string, payload []byte) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, &ConfigurationError{Vendor: vendor, Field: "endpoint url"}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := doer.Do(ctx, httpReq)
	if obs.VendorRequestLatency != nil {
		obs.VendorRequestLatency.WithLabelValues(vendor, operation).Observe(obs.DurationMillis(time.Since(start)))
	}
	if err != nil {
		timeout := IsTimeout(err)
		logger.Error().Err(err).Str("vendor", vendor).Str("operation", operation).Bool("timeout", timeout).Msg("vendor request failed")
		return nil, &VendorRequestError{Vendor: vendor, Timeout: timeout, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxVendorBody))
	if err != nil {
		timeout := IsTimeout(err)
		return nil, &VendorRequestError{Vendor: vendor, StatusCode: resp.StatusCode, Timeout: timeout, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		logger.Error().Str("vendor", vendor).Str("operation", operation).Int("status", resp.StatusCode).Str("body", truncate(string(body))).Msg("vendor responded with error status")
		return nil, &VendorRequestError{Vendor: vendor, StatusCode: resp.StatusCode, Body: truncate(string(body)), Err: errors.New(resp.Status)}
	}
	return body, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func truncate(s string) string {
	const limit = 2048
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
