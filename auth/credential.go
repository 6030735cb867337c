package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Credential is a stored bearer token plus its expiry, when one could be read.
type Credential struct {
	Token     string
	ExpiresAt time.Time
}

// NewCredential inspects token for a JWT exp claim. Tokens that are not JWTs, or carry
// no exp, never expire on the client.
func NewCredential(token string) Credential {
	c := Credential{Token: token}
	if exp, ok := expiresAt(token); ok {
		c.ExpiresAt = exp
	}
	return c
}

// Expired reports whether the credential has a known expiry at or before now.
func (c Credential) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

func expiresAt(token string) (time.Time, bool) {
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
