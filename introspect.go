package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// tokenExpiry reads the exp claim from a JWT-shaped token without verifying
// the signature. Opaque (non-JWT) tokens report ok=false and are left to the
// backend to judge.
func tokenExpiry(token string) (expiresAt time.Time, ok bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
