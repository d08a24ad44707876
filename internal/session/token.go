package session

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// expirySkew treats tokens about to expire as already expired, so a call
// issued now does not race the backend's clock.
const expirySkew = 10 * time.Second

// tokenExpired reports whether the access token's exp claim has passed.
// The signature is not checked; only the backend can do that. Tokens that
// do not parse as JWTs are left for the backend to judge.
func tokenExpired(token string) bool {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return time.Until(exp.Time) < expirySkew
}
