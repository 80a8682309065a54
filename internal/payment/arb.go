package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-booking/internal/config"
	"github.com/noah-isme/backend-booking/internal/obs"
	"github.com/noah-isme/backend-booking/internal/resilience"
)

// arbTransaction is the plaintext encrypted into trandata.
type arbTransaction struct {
	ID           string `json:"id"`
	Password     string `json:"password"`
	Action       string `json:"action"`
	LangID       string `json:"langid,omitempty"`
	CurrencyCode string `json:"currencyCode"`
	Amount       string `json:"amt"`
	TrackID      string `json:"trackId"`
	ResponseURL  string `json:"responseURL"`
	ErrorURL     string `json:"errorURL"`
	UDF1         string `json:"udf1"`
	UDF2         string `json:"udf2"`
	UDF3         string `json:"udf3"`
	UDF4         string `json:"udf4"`
	UDF5         string `json:"udf5"`
}

// ARBRequest is the outbound envelope carrying the encrypted transaction.
type ARBRequest struct {
	ID          string `json:"id"`
	TranData    string `json:"trandata"`
	ResponseURL string `json:"responseURL"`
	ErrorURL    string `json:"errorURL"`
}

// tunnelHosts are hostname suffixes of tunnelling services the vendor tends to reject.
var tunnelHosts = []string{
	"ngrok.io",
	"ngrok-free.app",
	"ngrok.app",
	"loca.lt",
	"localtunnel.me",
	"trycloudflare.com",
	"serveo.net",
}

// ARBClient builds, encrypts and sends ARB (Neoleap) tranportal requests.
type ARBClient struct {
	Config      config.ARBConfig
	Environment string
	HTTP        resilience.Doer
	Logger      zerolog.Logger
}

func (c ARBClient) checkCredentials() error {
	switch {
	case strings.TrimSpace(c.Config.TranportalID) == "":
		return &ConfigurationError{Vendor: VendorARB, Field: "tranportal id"}
	case c.Config.Password == "":
		return &ConfigurationError{Vendor: VendorARB, Field: "tranportal password"}
	case c.Config.ResourceKey == "":
		return &ConfigurationError{Vendor: VendorARB, Field: "resource key"}
	case strings.TrimSpace(c.Config.TranportalURL) == "":
		return &ConfigurationError{Vendor: VendorARB, Field: "tranportal url"}
	}
	return nil
}

// Configured reports whether all merchant credentials are present.
func (c ARBClient) Configured() bool { return c.checkCredentials() == nil }

// Build assembles the encrypted array-of-one envelope for a purchase. Warnings
// describe callback URLs the vendor is likely to refuse; they do not abort.
func (c ARBClient) Build(in Intent) ([]ARBRequest, []string, error) {
	if err := in.Validate(false); err != nil {
		return nil, nil, err
	}
	currency, err := c.currencyCode(in.Currency)
	if err != nil {
		return nil, nil, err
	}
	if err := c.checkCredentials(); err != nil {
		return nil, nil, err
	}
	responseURL := firstNonEmpty(in.Callbacks.Success, c.Config.ResponseURL)
	if responseURL == "" {
		return nil, nil, &ConfigurationError{Vendor: VendorARB, Field: "response url"}
	}
	errorURL := firstNonEmpty(in.Callbacks.Error, c.Config.ErrorURL, responseURL)

	txn := arbTransaction{
		ID:           c.Config.TranportalID,
		Password:     c.Config.Password,
		Action:       ActionPurchase,
		LangID:       arbLangID(firstNonEmpty(in.Lang, c.Config.Lang)),
		CurrencyCode: currency,
		Amount:       in.AmountString(),
		TrackID:      strings.TrimSpace(in.TrackID),
		ResponseURL:  responseURL,
		ErrorURL:     errorURL,
		UDF1:         in.UDF[0],
		UDF2:         in.UDF[1],
		UDF3:         in.UDF[2],
		UDF4:         in.UDF[3],
		UDF5:         in.UDF[4],
	}
	plaintext, err := json.Marshal([]arbTransaction{txn})
	if err != nil {
		return nil, nil, fmt.Errorf("payment: encode arb transaction: %w", err)
	}
	trandata, err := EncryptTransaction(string(plaintext), c.Config.ResourceKey)
	if err != nil {
		return nil, nil, err
	}

	var warnings []string
	for _, u := range []string{responseURL, errorURL} {
		if w := callbackURLWarning(u); w != "" {
			warnings = append(warnings, w)
			c.Logger.Warn().Str("track_id", txn.TrackID).Str("url", u).Msg(w)
		}
	}
	return []ARBRequest{{
		ID:          c.Config.TranportalID,
		TranData:    trandata,
		ResponseURL: responseURL,
		ErrorURL:    errorURL,
	}}, warnings, nil
}

// CreateSession opens an ARB hosted payment page for the intent.
func (c ARBClient) CreateSession(ctx context.Context, in Intent) (Session, error) {
	envelope, warnings, err := c.Build(in)
	if err != nil {
		return Session{}, err
	}
	currency, _ := c.currencyCode(in.Currency)
	if c.HTTP == nil {
		return Session{}, &ConfigurationError{Vendor: VendorARB, Field: "http client"}
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		return Session{}, fmt.Errorf("payment: encode arb envelope: %w", err)
	}
	body, err := postJSON(ctx, c.HTTP, c.Logger, VendorARB, "purchase", c.Config.TranportalURL, payload)
	if err != nil {
		return Session{}, err
	}
	paymentID, redirect, err := c.parseResponse(body)
	if err != nil {
		c.Logger.Warn().Err(err).Str("track_id", in.TrackID).Str("raw", truncate(string(body))).Msg("arb session rejected")
		return Session{}, err
	}
	return Session{
		Vendor:      VendorARB,
		TrackID:     strings.TrimSpace(in.TrackID),
		PaymentID:   paymentID,
		RedirectURL: redirect,
		Amount:      in.AmountString(),
		Currency:    currency,
		Warnings:    warnings,
	}, nil
}

// parseResponse runs the extraction strategies in order and returns the
// payment id and a redirect URL that carries it.
func (c ARBClient) parseResponse(body []byte) (string, string, error) {
	doc := arbResponse{raw: string(body)}
	if fields, err := decodeFields(body); err == nil {
		doc.fields = fields
	}
	for _, strategy := range arbStrategies {
		found, err := strategy.extract(doc)
		if err != nil {
			return "", "", err
		}
		if found.PaymentID == "" {
			continue
		}
		c.Logger.Debug().Str("strategy", strategy.name).Str("payment_id", found.PaymentID).Msg("arb payment id extracted")
		redirect := found.URL
		if redirect == "" {
			redirect = c.Config.PaymentPageURL
		}
		return found.PaymentID, ensurePaymentID(redirect, found.PaymentID), nil
	}
	return "", "", &VendorResponseError{Vendor: VendorARB, Raw: truncate(doc.raw), Err: ErrNoPaymentID}
}

// DecodeCallback decrypts the trandata posted back by ARB into a callback event.
func (c ARBClient) DecodeCallback(trandata string) (CallbackEvent, error) {
	if strings.TrimSpace(trandata) == "" {
		return CallbackEvent{}, &ValidationError{Field: "trandata", Message: "is required"}
	}
	plaintext, err := DecryptTransaction(trandata, c.Config.ResourceKey)
	if err != nil {
		return CallbackEvent{}, err
	}
	fields, err := decodeFields([]byte(plaintext))
	if err != nil {
		return CallbackEvent{}, &EncodingError{Reason: "decrypted payload is not JSON", Err: err}
	}
	return CallbackEvent{
		Vendor:       VendorARB,
		TrackID:      fields.get("trackId"),
		TranID:       fields.get("transId", "tranId"),
		PaymentID:    fields.get("paymentId"),
		Result:       fields.get("result"),
		ResponseCode: fields.get("responseCode"),
		AuthRespCode: fields.get("authRespCode"),
		AuthCode:     fields.get("authCode"),
		RRN:          fields.get("ref", "rrn"),
		Amount:       fields.get("amt", "amount"),
		CardBrand:    fields.get("cardBrand", "cardType"),
		MaskedPAN:    fields.get("maskedPAN", "cardNo"),
		ErrorText:    fields.get("errorText", "error"),
	}, nil
}

// DiagnosticInfo reports the ARB configuration without revealing secrets.
func (c ARBClient) DiagnosticInfo() ARBDiagnostics {
	d := ARBDiagnostics{
		Configured:        c.Configured(),
		Environment:       c.Environment,
		TranportalID:      obs.Mask(c.Config.TranportalID),
		PasswordLength:    len(c.Config.Password),
		ResourceKeyLength: len(c.Config.ResourceKey),
		TranportalURL:     c.Config.TranportalURL,
		PaymentPageURL:    c.Config.PaymentPageURL,
		ResponseURL:       c.Config.ResponseURL,
		ErrorURL:          c.Config.ErrorURL,
		CurrencyCode:      c.Config.CurrencyCode,
	}
	if c.Config.ResourceKey != "" {
		d.KeyFormat = KeyFormat(c.Config.ResourceKey)
	}
	for _, u := range []string{c.Config.ResponseURL, c.Config.ErrorURL} {
		if w := callbackURLWarning(u); w != "" {
			d.Warnings = append(d.Warnings, w)
		}
	}
	return d
}

type arbResponse struct {
	raw    string
	fields fieldSet
}

type arbExtraction struct {
	PaymentID string
	URL       string
}

type arbStrategy struct {
	name    string
	extract func(arbResponse) (arbExtraction, error)
}

// arbStrategies are tried in order; the first one yielding a payment id wins.
var arbStrategies = []arbStrategy{
	{name: "structured", extract: extractStructured},
	{name: "colon-split", extract: extractColonSplit},
	{name: "result-regex", extract: extractResultRegex},
	{name: "body-regex", extract: extractBodyRegex},
}

var (
	paymentIDPattern = regexp.MustCompile(`PaymentID=([A-Za-z0-9_-]+)`)
	urlPattern       = regexp.MustCompile(`https?://[^\s"']+`)
	segmentPattern   = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
)

func extractStructured(doc arbResponse) (arbExtraction, error) {
	if doc.fields == nil {
		return arbExtraction{}, nil
	}
	code := doc.fields.get("error")
	text := doc.fields.get("errorText")
	if code != "" || text != "" {
		return arbExtraction{}, &VendorResponseError{
			Vendor:  VendorARB,
			Code:    code,
			Message: firstNonEmpty(text, code),
			Raw:     truncate(doc.raw),
		}
	}
	return arbExtraction{
		PaymentID: doc.fields.get("paymentId", "payid"),
		URL:       doc.fields.get("url", "targetUrl"),
	}, nil
}

func extractColonSplit(doc arbResponse) (arbExtraction, error) {
	return splitResult(doc.fields.get("result")), nil
}

// splitResult reads the "<paymentId>:<url>" shape. Values that are already
// URLs are left to the regex strategies.
func splitResult(result string) arbExtraction {
	if result == "" || hasScheme(result) {
		return arbExtraction{}
	}
	parts := strings.Split(result, ":")
	if len(parts) < 2 || !segmentPattern.MatchString(parts[0]) {
		return arbExtraction{}
	}
	return arbExtraction{PaymentID: parts[0], URL: strings.Join(parts[1:], ":")}
}

func extractResultRegex(doc arbResponse) (arbExtraction, error) {
	return regexExtract(doc.fields.get("result")), nil
}

func extractBodyRegex(doc arbResponse) (arbExtraction, error) {
	if doc.fields == nil {
		if found := splitResult(strings.Trim(strings.TrimSpace(doc.raw), `"`)); found.PaymentID != "" {
			return found, nil
		}
	}
	return regexExtract(doc.raw), nil
}

func regexExtract(s string) arbExtraction {
	if s == "" {
		return arbExtraction{}
	}
	var out arbExtraction
	if m := paymentIDPattern.FindStringSubmatch(s); len(m) == 2 {
		out.PaymentID = m[1]
	}
	out.URL = urlPattern.FindString(s)
	return out
}

func hasScheme(s string) bool {
	lower := strings.ToLower(s)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// ensurePaymentID returns u carrying exactly one PaymentID query parameter.
// An existing PaymentID is kept in place; differently cased keys are replaced.
func ensurePaymentID(u, paymentID string) string {
	parsed, err := url.Parse(u)
	if err != nil {
		return u
	}
	pairs := make([]string, 0, 4)
	found := false
	for _, pair := range strings.Split(parsed.RawQuery, "&") {
		if pair == "" {
			continue
		}
		key, _, _ := strings.Cut(pair, "=")
		if unescaped, err := url.QueryUnescape(key); err == nil {
			key = unescaped
		}
		if strings.EqualFold(key, "PaymentID") {
			if key == "PaymentID" && !found {
				found = true
				pairs = append(pairs, pair)
			}
			continue
		}
		pairs = append(pairs, pair)
	}
	if !found {
		pairs = append(pairs, "PaymentID="+url.QueryEscape(paymentID))
	}
	parsed.RawQuery = strings.Join(pairs, "&")
	parsed.ForceQuery = false
	return parsed.String()
}

// arbLangID maps the language preference to the vendor's langid value.
func arbLangID(lang string) string {
	switch {
	case lang == "":
		return ""
	case strings.EqualFold(lang, "en"):
		return "USA"
	default:
		return lang
	}
}

// isoNumericCurrency maps the alphabetic ISO 4217 codes the tranportal accepts
// to their numeric form.
var isoNumericCurrency = map[string]string{
	"SAR": "682",
	"USD": "840",
	"EUR": "978",
	"GBP": "826",
	"AED": "784",
	"BHD": "048",
	"KWD": "414",
	"OMR": "512",
	"QAR": "634",
}

// currencyCode resolves the intent currency to the numeric code ARB expects.
// An empty currency falls back to the configured code.
func (c ARBClient) currencyCode(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return firstNonEmpty(c.Config.CurrencyCode, "682"), nil
	}
	if numeric, ok := isoNumericCurrency[code]; ok {
		return numeric, nil
	}
	if len(code) == 3 && strings.Trim(code, "0123456789") == "" {
		return code, nil
	}
	return "", &ValidationError{Field: "currency", Message: "unsupported currency " + code}
}

// callbackURLWarning flags callback URLs the vendor cannot reach.
func callbackURLWarning(raw string) string {
	if raw == "" {
		return ""
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "callback url is not parseable: " + raw
	}
	host := strings.ToLower(parsed.Hostname())
	switch host {
	case "localhost", "127.0.0.1", "::1":
		return "callback url points at a local address and will not be reachable by the gateway"
	}
	for _, suffix := range tunnelHosts {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return "callback url uses a tunnelling service the gateway may reject"
		}
	}
	return ""
}
