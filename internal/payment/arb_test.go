package payment

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"regexp"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-booking/internal/config"
)

const arbTestKey = "00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff"

func arbClient(v *vendor) ARBClient {
	c := ARBClient{
		Config: config.ARBConfig{
			TranportalID:   "TP1",
			Password:       "arbpass",
			ResourceKey:    arbTestKey,
			TranportalURL:  "http://127.0.0.1:1/pg/payment/hosted.htm",
			PaymentPageURL: "https://pg.example/paymentpage.htm",
			ResponseURL:    "https://booking.example/payments/arb/callback",
			CurrencyCode:   "682",
		},
		Environment: config.EnvTest,
		Logger:      zerolog.Nop(),
	}
	if v != nil {
		c.Config.TranportalURL = v.URL + "/pg/payment/hosted.htm"
		c.HTTP = v.doer()
	}
	return c
}

func decryptEnvelope(t *testing.T, req ARBRequest) map[string]any {
	t.Helper()
	require.Regexp(t, regexp.MustCompile(`^[0-9A-F]+$`), req.TranData)
	plain, err := DecryptTransaction(req.TranData, arbTestKey)
	require.NoError(t, err)
	var txns []map[string]any
	require.NoError(t, json.Unmarshal([]byte(plain), &txns))
	require.Len(t, txns, 1)
	return txns[0]
}

func TestARBBuildEnvelope(t *testing.T) {
	in := validIntent()
	in.Lang = "en"
	in.UDF[0] = "booking-1"

	envelope, warnings, err := arbClient(nil).Build(in)
	require.NoError(t, err)
	require.Empty(t, warnings)
	require.Len(t, envelope, 1)
	require.Equal(t, "TP1", envelope[0].ID)
	require.Equal(t, "https://booking.example/payments/arb/callback", envelope[0].ResponseURL)
	require.Equal(t, envelope[0].ResponseURL, envelope[0].ErrorURL)

	txn := decryptEnvelope(t, envelope[0])
	require.Equal(t, "TP1", txn["id"])
	require.Equal(t, "arbpass", txn["password"])
	require.Equal(t, "1", txn["action"])
	require.Equal(t, "USA", txn["langid"])
	require.Equal(t, "682", txn["currencyCode"])
	require.Equal(t, "250.00", txn["amt"])
	require.Equal(t, "BK-1001", txn["trackId"])
	require.Equal(t, "booking-1", txn["udf1"])
}

func TestARBBuildOmitsLangWhenUnset(t *testing.T) {
	envelope, _, err := arbClient(nil).Build(validIntent())
	require.NoError(t, err)
	txn := decryptEnvelope(t, envelope[0])
	require.NotContains(t, txn, "langid")
}

func TestARBBuildWarnsOnUnreachableCallbacks(t *testing.T) {
	in := validIntent()
	in.Callbacks = CallbackURLs{
		Success: "http://localhost:3000/payments/arb/callback",
		Error:   "https://abc123.ngrok-free.app/payments/arb/error",
	}
	envelope, warnings, err := arbClient(nil).Build(in)
	require.NoError(t, err)
	require.Len(t, envelope, 1)
	require.Len(t, warnings, 2)
	require.Contains(t, warnings[0], "local address")
	require.Contains(t, warnings[1], "tunnelling")
}

func TestARBBuildRequiresResponseURL(t *testing.T) {
	client := arbClient(nil)
	client.Config.ResponseURL = ""
	_, _, err := client.Build(validIntent())
	var cfgErr *ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	require.Equal(t, "response url", cfgErr.Field)
}

func TestARBBuildRequiresCredentials(t *testing.T) {
	client := arbClient(nil)
	client.Config.ResourceKey = ""
	_, _, err := client.Build(validIntent())
	var cfgErr *ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	require.False(t, client.Configured())
}

func TestARBCreateSessionSendsArrayOfOne(t *testing.T) {
	var envelope []ARBRequest
	v := newVendor(t, func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.True(t, strings.HasPrefix(strings.TrimSpace(string(raw)), "["))
		require.NoError(t, json.Unmarshal(raw, &envelope))
		_, _ = w.Write([]byte(`[{"status":"1","result":"600202:https://pg.example/paymentpage.htm"}]`))
	})

	sess, err := arbClient(v).CreateSession(context.Background(), validIntent())
	require.NoError(t, err)
	require.Equal(t, "600202", sess.PaymentID)
	require.Equal(t, "https://pg.example/paymentpage.htm?PaymentID=600202", sess.RedirectURL)
	require.Equal(t, VendorARB, sess.Vendor)
	require.Len(t, envelope, 1)
	decryptEnvelope(t, envelope[0])
}

func TestARBResponseStrategies(t *testing.T) {
	cases := []struct {
		name     string
		body     string
		id       string
		redirect string
	}{
		{
			name:     "structured",
			body:     `{"paymentId":"P1","url":"https://pg.example/hosted.htm"}`,
			id:       "P1",
			redirect: "https://pg.example/hosted.htm?PaymentID=P1",
		},
		{
			name:     "structured without url uses payment page",
			body:     `{"paymentId":"P5"}`,
			id:       "P5",
			redirect: "https://pg.example/paymentpage.htm?PaymentID=P5",
		},
		{
			name:     "colon split",
			body:     `{"result":"P2:https://pg.example/hosted.htm?lang=en"}`,
			id:       "P2",
			redirect: "https://pg.example/hosted.htm?lang=en&PaymentID=P2",
		},
		{
			name:     "result url already carries id",
			body:     `{"result":"https://pg.example/hosted.htm?PaymentID=P3"}`,
			id:       "P3",
			redirect: "https://pg.example/hosted.htm?PaymentID=P3",
		},
		{
			name:     "bare colon string",
			body:     `600202:https://pg.example/hosted.htm`,
			id:       "600202",
			redirect: "https://pg.example/hosted.htm?PaymentID=600202",
		},
		{
			name:     "raw body",
			body:     `redirect to https://pg.example/hosted.htm?PaymentID=P4 now`,
			id:       "P4",
			redirect: "https://pg.example/hosted.htm?PaymentID=P4",
		},
	}
	client := arbClient(nil)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			id, redirect, err := client.parseResponse([]byte(tc.body))
			require.NoError(t, err)
			require.Equal(t, tc.id, id)
			require.Equal(t, tc.redirect, redirect)
			require.Equal(t, 1, strings.Count(strings.ToLower(redirect), "paymentid="))
		})
	}
}

func TestARBResponseVendorError(t *testing.T) {
	_, _, err := arbClient(nil).parseResponse([]byte(`[{"error":"IPAY0100124","errorText":"Problem occurred while validating merchant"}]`))
	var respErr *VendorResponseError
	require.True(t, errors.As(err, &respErr))
	require.Equal(t, "IPAY0100124", respErr.Code)
	require.Equal(t, "Problem occurred while validating merchant", respErr.Message)
	require.NotErrorIs(t, err, ErrNoPaymentID)
}

func TestARBResponseWithoutPaymentID(t *testing.T) {
	_, _, err := arbClient(nil).parseResponse([]byte(`{"status":"1","result":"pending"}`))
	var respErr *VendorResponseError
	require.True(t, errors.As(err, &respErr))
	require.ErrorIs(t, err, ErrNoPaymentID)
	require.Equal(t, http.StatusBadGateway, statusFor(err).HTTPStatus)
}

func TestEnsurePaymentIDAppendsOnce(t *testing.T) {
	cases := map[string]string{
		"https://pg.example/page":               "https://pg.example/page?PaymentID=ID9",
		"https://pg.example/page?lang=ar":       "https://pg.example/page?lang=ar&PaymentID=ID9",
		"https://pg.example/page?":              "https://pg.example/page?PaymentID=ID9",
		"https://pg.example/page?a=1&":          "https://pg.example/page?a=1&PaymentID=ID9",
		"https://pg.example/page?paymentid=ID9": "https://pg.example/page?PaymentID=ID9",
		"https://pg.example/page?PaymentID=ID9": "https://pg.example/page?PaymentID=ID9",
		"https://pg.example/page#top":           "https://pg.example/page?PaymentID=ID9#top",
		"https://pg.example/page?a=1#top":       "https://pg.example/page?a=1&PaymentID=ID9#top",
	}
	for in, want := range cases {
		got := ensurePaymentID(in, "ID9")
		require.Equal(t, want, got, in)
		require.Equal(t, want, ensurePaymentID(got, "ID9"), "second pass on %s", in)
		require.Equal(t, 1, strings.Count(got, "PaymentID="), in)
	}

	mixed := ensurePaymentID("https://pg.example/page?paymentId=X&PaymentID=ID9&paymentid=Y", "ID9")
	require.Equal(t, "https://pg.example/page?PaymentID=ID9", mixed)
}

func TestARBCurrencyCode(t *testing.T) {
	client := arbClient(nil)
	cases := map[string]string{
		"SAR": "682",
		"sar": "682",
		"USD": "840",
		"EUR": "978",
		"840": "840",
		"":    "682",
	}
	for in, want := range cases {
		got, err := client.currencyCode(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}

	for _, bad := range []string{"XYZ", "US", "84", "8400"} {
		_, err := client.currencyCode(bad)
		var verr *ValidationError
		require.True(t, errors.As(err, &verr), bad)
		require.Equal(t, "currency", verr.Field)
	}
}

func TestARBBuildKeepsRequestedCurrency(t *testing.T) {
	for in, want := range map[string]string{"USD": "840", "EUR": "978"} {
		intent := validIntent()
		intent.Currency = in
		envelope, _, err := arbClient(nil).Build(intent)
		require.NoError(t, err)
		txn := decryptEnvelope(t, envelope[0])
		require.Equal(t, want, txn["currencyCode"], in)
		require.Equal(t, "250.00", txn["amt"])
	}
}

func TestARBCreateSessionRejectsUnknownCurrencyWithoutCallingVendor(t *testing.T) {
	v := newVendor(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"paymentId":"P1"}`))
	})
	intent := validIntent()
	intent.Currency = "XYZ"

	_, err := arbClient(v).CreateSession(context.Background(), intent)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	require.Equal(t, "currency", verr.Field)
	require.Equal(t, http.StatusBadRequest, statusFor(err).HTTPStatus)
	require.Zero(t, v.calls.Load())
}

func TestARBDecodeCallback(t *testing.T) {
	plain := `[{"paymentId":"600202","transId":"TX77","trackId":"BK-1001","result":"CAPTURED","authRespCode":"00","responseCode":"05","amt":"250.00","ref":"RRN1","authCode":"AC1"}]`
	trandata, err := EncryptTransaction(plain, arbTestKey)
	require.NoError(t, err)

	ev, err := arbClient(nil).DecodeCallback(trandata)
	require.NoError(t, err)
	require.Equal(t, VendorARB, ev.Vendor)
	require.Equal(t, "BK-1001", ev.TrackID)
	require.Equal(t, "TX77", ev.TransactionID())
	require.Equal(t, "RRN1", ev.RRN)
	require.Equal(t, "250.00", ev.Amount)
	require.True(t, ev.Successful())
}

func TestARBDecodeCallbackRejectsGarbage(t *testing.T) {
	client := arbClient(nil)

	_, err := client.DecodeCallback("")
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))

	_, err = client.DecodeCallback("not-hex")
	require.Error(t, err)
}

func TestARBDiagnosticInfo(t *testing.T) {
	client := arbClient(nil)
	client.Config.ResponseURL = "http://localhost:8080/cb"
	d := client.DiagnosticInfo()
	require.True(t, d.Configured)
	require.Equal(t, KeyFormatHex64, d.KeyFormat)
	require.Equal(t, "***", d.TranportalID)
	require.Equal(t, len(arbTestKey), d.ResourceKeyLength)
	require.Len(t, d.Warnings, 1)

	raw, err := json.Marshal(d)
	require.NoError(t, err)
	require.NotContains(t, string(raw), arbTestKey)
	require.NotContains(t, string(raw), "arbpass")
}
