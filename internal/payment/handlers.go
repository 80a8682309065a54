package payment

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-booking/internal/booking"
	"github.com/noah-isme/backend-booking/internal/common"
)

// CallbackDecoder turns ARB trandata into a callback event. ARBClient satisfies it.
type CallbackDecoder interface {
	DecodeCallback(trandata string) (CallbackEvent, error)
}

// Handler exposes the payment HTTP endpoints.
type Handler struct {
	Svc         *Service
	ARBDecoder  CallbackDecoder
	Diagnostics func() Diagnostics
	MaxBody     int64
	Logger      zerolog.Logger
}

type createRequest struct {
	Amount         decimal.NullDecimal `json:"amount"`
	TrackID        string              `json:"trackId"`
	BookingID      string              `json:"bookingId"`
	CustomerEmail  string              `json:"customerEmail"`
	CustomerName   string              `json:"customerName"`
	CustomerMobile string              `json:"customerMobile"`
	Country        string              `json:"country"`
	Currency       string              `json:"currency"`
	PaymentMethod  string              `json:"paymentMethod"`
	ResponseURL    string              `json:"responseURL"`
	ErrorURL       string              `json:"errorURL"`
	LangID         string              `json:"langid"`
	UDF1           string              `json:"udf1"`
	UDF2           string              `json:"udf2"`
	UDF3           string              `json:"udf3"`
	UDF4           string              `json:"udf4"`
	UDF5           string              `json:"udf5"`
}

func (req createRequest) intent(r *http.Request) Intent {
	return Intent{
		TrackID:    strings.TrimSpace(req.TrackID),
		Amount:     req.Amount,
		Currency:   strings.TrimSpace(req.Currency),
		Country:    strings.TrimSpace(req.Country),
		Lang:       strings.TrimSpace(req.LangID),
		MerchantIP: common.ClientIPOrLoopback(r),
		Customer: Customer{
			Name:   strings.TrimSpace(req.CustomerName),
			Email:  strings.TrimSpace(req.CustomerEmail),
			Mobile: strings.TrimSpace(req.CustomerMobile),
		},
		Callbacks: CallbackURLs{
			Success: strings.TrimSpace(req.ResponseURL),
			Error:   strings.TrimSpace(req.ErrorURL),
		},
		UDF: [5]string{firstNonEmpty(req.UDF1, req.BookingID), req.UDF2, req.UDF3, req.UDF4, req.UDF5},
	}
}

type createResponse struct {
	Success    bool     `json:"success"`
	PaymentURL string   `json:"paymentUrl"`
	PayID      string   `json:"payId,omitempty"`
	PaymentID  string   `json:"paymentId,omitempty"`
	TrackID    string   `json:"trackId"`
	Warnings   []string `json:"warnings,omitempty"`
}

type callbackResponse struct {
	Success       bool   `json:"success"`
	Message       string `json:"message"`
	Outcome       string `json:"outcome"`
	TransactionID string `json:"transactionId,omitempty"`
	TrackID       string `json:"trackId,omitempty"`
	ResponseCode  string `json:"responseCode,omitempty"`
}

type paymentResultResponse struct {
	Success       bool   `json:"success"`
	Message       string `json:"message,omitempty"`
	TransactionID string `json:"transactionId,omitempty"`
	Amount        string `json:"amount,omitempty"`
	CardBrand     string `json:"cardBrand,omitempty"`
	MaskedPAN     string `json:"maskedPAN,omitempty"`
	ResponseCode  string `json:"responseCode,omitempty"`
}

type inquiryResponse struct {
	Success      bool   `json:"success"`
	TrackID      string `json:"trackId"`
	TranID       string `json:"tranId,omitempty"`
	Result       string `json:"result"`
	ResponseCode string `json:"responseCode"`
	AuthCode     string `json:"authCode,omitempty"`
	RRN          string `json:"rrn,omitempty"`
	Amount       string `json:"amount,omitempty"`
}

type reconcileResponse struct {
	Success       bool   `json:"success"`
	Outcome       string `json:"outcome"`
	TrackID       string `json:"trackId"`
	TransactionID string `json:"transactionId,omitempty"`
	Result        string `json:"result,omitempty"`
	ResponseCode  string `json:"responseCode,omitempty"`
}

// CreateURWAY handles POST /payments/create.
func (h *Handler) CreateURWAY(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONFailure(w, http.StatusBadRequest, "BAD_REQUEST", "invalid body")
		return
	}
	if !h.checkMethod(w, req.PaymentMethod, booking.MethodURWAY) {
		return
	}
	sess, err := h.Svc.CreateURWAYSession(r.Context(), req.intent(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, createResponse{Success: true, PaymentURL: sess.RedirectURL, PayID: sess.PaymentID, TrackID: sess.TrackID})
}

// CreateARB handles POST /urway/create-urway-session, which opens an ARB session.
func (h *Handler) CreateARB(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONFailure(w, http.StatusBadRequest, "BAD_REQUEST", "invalid body")
		return
	}
	if !h.checkMethod(w, req.PaymentMethod, booking.MethodARB) {
		return
	}
	sess, err := h.Svc.CreateARBSession(r.Context(), req.intent(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, createResponse{
		Success:    true,
		PaymentURL: sess.RedirectURL,
		PaymentID:  sess.PaymentID,
		TrackID:    sess.TrackID,
		Warnings:   sess.Warnings,
	})
}

// PaymentResponse handles GET /payments/response, the customer's return from URWAY.
func (h *Handler) PaymentResponse(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	ev, err := ParseURWAYCallback(r, h.MaxBody)
	if err != nil {
		h.writeError(w, err)
		return
	}
	res, err := h.Svc.Reconciler.HandleURWAY(r.Context(), ev)
	if err != nil {
		h.writeError(w, err)
		return
	}
	body := paymentResultResponse{
		Success:       res.Outcome == OutcomeConfirmed,
		TransactionID: res.TransactionID,
		Amount:        res.Amount,
		CardBrand:     res.CardBrand,
		MaskedPAN:     res.MaskedPAN,
		ResponseCode:  res.ResponseCode,
	}
	switch res.Outcome {
	case OutcomeRejected:
		common.JSONFailure(w, http.StatusBadRequest, "INVALID_SIGNATURE", "invalid response hash")
		return
	case OutcomeDeclined:
		body.Message = "payment was not successful"
	case OutcomeUnmatched:
		body.Message = "no booking matches this payment"
	}
	common.JSON(w, http.StatusOK, body)
}

// URWAYCallback handles POST|GET /urway/callback.
func (h *Handler) URWAYCallback(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	ev, err := ParseURWAYCallback(r, h.MaxBody)
	if err != nil {
		h.writeError(w, err)
		return
	}
	res, err := h.Svc.Reconciler.HandleURWAY(r.Context(), ev)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeCallback(w, res)
}

// ARBCallback handles POST /arb/callback and POST /arb/error.
func (h *Handler) ARBCallback(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	if h.ARBDecoder == nil {
		h.writeError(w, &ConfigurationError{Vendor: VendorARB, Field: "callback decoder"})
		return
	}
	fields, err := readFields(r, h.MaxBody)
	if err != nil {
		h.writeError(w, err)
		return
	}
	ev, decodeErr := h.ARBDecoder.DecodeCallback(fields.get("trandata"))
	if ev.TrackID == "" {
		ev.TrackID = fields.get("trackid")
	}
	res, err := h.Svc.Reconciler.HandleARB(r.Context(), ev, decodeErr)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeCallback(w, res)
}

// Inquiry handles POST /payments/inquiry and passes the vendor document through.
func (h *Handler) Inquiry(w http.ResponseWriter, r *http.Request) {
	res, ok := h.inquire(w, r)
	if !ok {
		return
	}
	if len(res.Raw) > 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(res.Raw)
		return
	}
	common.JSON(w, http.StatusOK, res)
}

// URWAYInquiry handles POST /urway/inquiry with a normalised result.
func (h *Handler) URWAYInquiry(w http.ResponseWriter, r *http.Request) {
	res, ok := h.inquire(w, r)
	if !ok {
		return
	}
	common.JSON(w, http.StatusOK, inquiryResponse{
		Success:      res.Successful(),
		TrackID:      res.TrackID,
		TranID:       res.TranID,
		Result:       res.Result,
		ResponseCode: res.ResponseCode,
		AuthCode:     res.AuthCode,
		RRN:          res.RRN,
		Amount:       res.Amount,
	})
}

// Reconcile handles POST /payments/reconcile.
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	q, ok := h.decodeInquiry(w, r)
	if !ok {
		return
	}
	res, err := h.Svc.Reconcile(r.Context(), q)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, reconcileResponse{
		Success:       res.Outcome == OutcomeConfirmed,
		Outcome:       string(res.Outcome),
		TrackID:       res.TrackID,
		TransactionID: res.TransactionID,
		Result:        res.Result,
		ResponseCode:  res.ResponseCode,
	})
}

// CheckConfig handles GET /urway/check-config.
func (h *Handler) CheckConfig(w http.ResponseWriter, _ *http.Request) {
	if h == nil || h.Diagnostics == nil {
		common.JSONFailure(w, http.StatusInternalServerError, "PAYMENT_NOT_CONFIGURED", "diagnostics unavailable")
		return
	}
	common.JSON(w, http.StatusOK, h.Diagnostics())
}

func (h *Handler) inquire(w http.ResponseWriter, r *http.Request) (InquiryResult, bool) {
	if !h.ready(w) {
		return InquiryResult{}, false
	}
	q, ok := h.decodeInquiry(w, r)
	if !ok {
		return InquiryResult{}, false
	}
	res, err := h.Svc.Inquire(r.Context(), q)
	if err != nil {
		h.writeError(w, err)
		return InquiryResult{}, false
	}
	return res, true
}

func (h *Handler) decodeInquiry(w http.ResponseWriter, r *http.Request) (InquiryRequest, bool) {
	var q InquiryRequest
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
		common.JSONFailure(w, http.StatusBadRequest, "BAD_REQUEST", "invalid body")
		return InquiryRequest{}, false
	}
	q.TrackID = strings.TrimSpace(q.TrackID)
	q.TransID = strings.TrimSpace(q.TransID)
	q.MerchantIP = common.ClientIPOrLoopback(r)
	return q, true
}

// checkMethod refuses payment methods that the endpoint's gateway does not serve.
func (h *Handler) checkMethod(w http.ResponseWriter, method, want string) bool {
	if strings.TrimSpace(method) == "" {
		return true
	}
	resolved := booking.NormalizePaymentMethod(method)
	if resolved.Flagged {
		h.Logger.Warn().Str("input", resolved.Input).Str("method", resolved.Method).Msg("payment method resolved through flagged mapping")
	}
	switch {
	case !resolved.Known:
		common.JSONFailure(w, http.StatusBadRequest, "UNSUPPORTED_PAYMENT_METHOD", "unsupported payment method")
		return false
	case resolved.Method == booking.MethodCashOnArrival:
		common.JSONFailure(w, http.StatusBadRequest, "OFFLINE_PAYMENT_METHOD", "payment method is settled on arrival and needs no gateway session")
		return false
	case resolved.Method != want:
		common.JSONFailure(w, http.StatusBadRequest, "PAYMENT_METHOD_MISMATCH", "payment method is not served by this endpoint")
		return false
	}
	return true
}

func (h *Handler) writeCallback(w http.ResponseWriter, res Result) {
	body := callbackResponse{
		Outcome:       string(res.Outcome),
		TransactionID: res.TransactionID,
		TrackID:       res.TrackID,
		ResponseCode:  res.ResponseCode,
	}
	status := http.StatusOK
	switch res.Outcome {
	case OutcomeConfirmed:
		body.Success = true
		body.Message = "payment confirmed"
	case OutcomeDeclined:
		body.Message = "payment declined"
	case OutcomeUnmatched:
		body.Message = "callback acknowledged; no booking matches this track id"
	case OutcomeRejected:
		status = http.StatusBadRequest
		body.Message = "invalid response hash"
		var encErr *EncodingError
		var valErr *ValidationError
		if errors.As(res.Err, &encErr) || errors.As(res.Err, &valErr) {
			body.Message = "invalid transaction data"
		}
	}
	common.JSON(w, status, body)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	appErr := statusFor(err)
	event := h.Logger.Warn()
	if appErr.HTTPStatus >= http.StatusInternalServerError {
		event = h.Logger.Error()
	}
	event.Err(err).Str("code", appErr.Code).Int("status", appErr.HTTPStatus).Msg("payment request failed")
	common.WriteAppError(w, appErr)
}

func (h *Handler) ready(w http.ResponseWriter) bool {
	if h == nil || h.Svc == nil {
		common.JSONFailure(w, http.StatusInternalServerError, "PAYMENT_NOT_CONFIGURED", "payment handler unavailable")
		return false
	}
	return true
}
