package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/noah-isme/backend-booking/internal/common"
)

var errNoToken = errors.New("auth: token missing")

// RoleClaim is the private claim carrying the operator role.
const RoleClaim = "role"

// AdminGuard admits requests bearing an HS256 token signed with Secret whose
// role claim equals Role. A guard without a secret admits nothing.
type AdminGuard struct {
	Secret    []byte
	Validator TokenValidator
	Role      string
	Now       func() time.Time
}

// NewAdminGuard returns a guard for HS256 operator tokens.
func NewAdminGuard(secret, issuer string) AdminGuard {
	return AdminGuard{
		Secret:    []byte(secret),
		Validator: TokenValidator{Issuer: issuer, ClockSkew: 30 * time.Second, Algorithm: jwa.HS256},
		Role:      "admin",
	}
}

// Require enforces a valid operator token before executing the next handler.
func (g AdminGuard) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject, err := g.authenticate(r)
		if err != nil {
			if appErr, ok := common.AsAppError(err); ok {
				common.WriteAppError(w, appErr)
				return
			}
			common.JSONFailure(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(common.WithSubject(r.Context(), subject)))
	})
}

func (g AdminGuard) authenticate(r *http.Request) (string, error) {
	if len(g.Secret) == 0 {
		return "", common.NewAppError("FORBIDDEN", "operator access disabled", http.StatusForbidden, nil)
	}
	token := extractBearer(r)
	if token == "" {
		return "", errNoToken
	}
	algorithm, err := extractTokenAlgorithm(token)
	if err != nil {
		return "", err
	}
	if g.Validator.Algorithm != "" && algorithm != g.Validator.Algorithm {
		return "", fmt.Errorf("auth: unexpected token algorithm %s", algorithm)
	}
	parsed, err := jwt.ParseString(token, jwt.WithKey(algorithm, g.Secret), jwt.WithValidate(false))
	if err != nil {
		return "", err
	}
	now := time.Now
	if g.Now != nil {
		now = g.Now
	}
	if err := g.Validator.Validate(parsed, algorithm, now()); err != nil {
		return "", err
	}
	if g.Role != "" {
		role, _ := parsed.PrivateClaims()[RoleClaim].(string)
		if role != g.Role {
			return "", common.NewAppError("FORBIDDEN", "insufficient permissions", http.StatusForbidden, nil)
		}
	}
	return parsed.Subject(), nil
}

func extractBearer(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

func extractTokenAlgorithm(token string) (jwa.SignatureAlgorithm, error) {
	message, err := jws.ParseString(token)
	if err != nil {
		return "", err
	}
	signatures := message.Signatures()
	if len(signatures) != 1 {
		return "", errors.New("auth: token must carry exactly one signature")
	}
	headers := signatures[0].ProtectedHeaders()
	if headers == nil {
		return "", errors.New("auth: token missing protected headers")
	}
	alg := headers.Algorithm()
	if alg == "" {
		return "", errors.New("auth: token missing algorithm")
	}
	if alg == jwa.NoSignature {
		return "", errors.New("auth: token uses none algorithm")
	}
	return alg, nil
}
