package payment

import "github.com/noah-isme/backend-booking/internal/obs"

// URWAYDiagnostics is a secret-free view of the URWAY configuration.
type URWAYDiagnostics struct {
	Configured      bool   `json:"configured"`
	Environment     string `json:"environment"`
	TerminalID      string `json:"terminalId"`
	PasswordLength  int    `json:"passwordLength"`
	SecretKeyLength int    `json:"secretKeyLength"`
	BaseURL         string `json:"baseUrl"`
	Endpoint        string `json:"endpoint"`
	ResponseURL     string `json:"responseUrl,omitempty"`
	Currency        string `json:"currency"`
	Country         string `json:"country"`
}

// ARBDiagnostics is a secret-free view of the ARB configuration.
type ARBDiagnostics struct {
	Configured        bool     `json:"configured"`
	Environment       string   `json:"environment"`
	TranportalID      string   `json:"tranportalId"`
	PasswordLength    int      `json:"passwordLength"`
	ResourceKeyLength int      `json:"resourceKeyLength"`
	KeyFormat         string   `json:"keyFormat,omitempty"`
	TranportalURL     string   `json:"tranportalUrl"`
	PaymentPageURL    string   `json:"paymentPageUrl"`
	ResponseURL       string   `json:"responseUrl,omitempty"`
	ErrorURL          string   `json:"errorUrl,omitempty"`
	CurrencyCode      string   `json:"currencyCode"`
	Warnings          []string `json:"warnings,omitempty"`
}

// Diagnostics groups both gateway views for the check-config endpoint.
type Diagnostics struct {
	URWAY URWAYDiagnostics `json:"urway"`
	ARB   ARBDiagnostics   `json:"arb"`
}

// DiagnosticInfo reports the URWAY configuration without revealing secrets.
func (c URWAYClient) DiagnosticInfo() URWAYDiagnostics {
	return URWAYDiagnostics{
		Configured:      c.Configured(),
		Environment:     c.Environment,
		TerminalID:      obs.Mask(c.Config.TerminalID),
		PasswordLength:  len(c.Config.Password),
		SecretKeyLength: len(c.Config.SecretKey),
		BaseURL:         c.Config.BaseURL,
		Endpoint:        c.Endpoint(),
		ResponseURL:     c.Config.ResponseURL,
		Currency:        c.Config.Currency,
		Country:         c.Config.Country,
	}
}
