package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-booking/internal/common"
)

func signToken(t *testing.T, secret []byte, alg jwa.SignatureAlgorithm, role string, exp time.Time) string {
	t.Helper()
	now := time.Now()
	tok, err := jwt.NewBuilder().
		Issuer("booking-ops").
		Subject("ops@example.com").
		IssuedAt(now).
		Expiration(exp).
		Claim(RoleClaim, role).
		Build()
	require.NoError(t, err)
	signed, err := jwt.Sign(tok, jwt.WithKey(alg, secret))
	require.NoError(t, err)
	return string(signed)
}

func guardedHandler(g AdminGuard) (http.Handler, *string) {
	var subject string
	return g.Require(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject, _ = common.Subject(r.Context())
		w.WriteHeader(http.StatusOK)
	})), &subject
}

func TestAdminGuardAcceptsOperatorToken(t *testing.T) {
	secret := []byte("operator-secret")
	h, subject := guardedHandler(NewAdminGuard(string(secret), "booking-ops"))

	req := httptest.NewRequest(http.MethodGet, "/urway/check-config", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, secret, jwa.HS256, "admin", time.Now().Add(time.Minute)))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "ops@example.com", *subject)
}

func TestAdminGuardRejections(t *testing.T) {
	secret := []byte("operator-secret")
	cases := []struct {
		name   string
		header string
		want   int
	}{
		{"missing token", "", http.StatusUnauthorized},
		{"wrong secret", "Bearer " + signToken(t, []byte("other"), jwa.HS256, "admin", time.Now().Add(time.Minute)), http.StatusUnauthorized},
		{"wrong algorithm", "Bearer " + signToken(t, secret, jwa.HS512, "admin", time.Now().Add(time.Minute)), http.StatusUnauthorized},
		{"expired", "Bearer " + signToken(t, secret, jwa.HS256, "admin", time.Now().Add(-time.Hour)), http.StatusUnauthorized},
		{"not admin", "Bearer " + signToken(t, secret, jwa.HS256, "guest", time.Now().Add(time.Minute)), http.StatusForbidden},
	}
	h, _ := guardedHandler(NewAdminGuard(string(secret), "booking-ops"))
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/urway/check-config", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)
			require.Equal(t, tc.want, rr.Code)
		})
	}
}

func TestAdminGuardWithoutSecretForbids(t *testing.T) {
	h, _ := guardedHandler(NewAdminGuard("", ""))
	req := httptest.NewRequest(http.MethodGet, "/urway/check-config", nil)
	req.Header.Set("Authorization", "Bearer anything")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusForbidden, rr.Code)
}
