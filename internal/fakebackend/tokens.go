package fakebackend

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// userClaims identify the account behind a bearer token.
type userClaims struct {
	UID int64 `json:"uid"`
	jwt.RegisteredClaims
}

type tokenIssuer struct {
	key    []byte
	ttl    time.Duration
	issuer string
	clock  func() time.Time
}

func (t tokenIssuer) issue(uid int64) (string, error) {
	now := t.clock()
	claims := userClaims{
		UID: uid,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   strconv.FormatInt(uid, 10),
			Issuer:    t.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.key)
}

func (t tokenIssuer) parse(token string) (*userClaims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(t.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.clock),
	)
	parsed, err := parser.ParseWithClaims(token, &userClaims{}, func(tok *jwt.Token) (any, error) {
		if tok.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", tok.Method.Alg())
		}
		return t.key, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*userClaims)
	if !ok || !parsed.Valid || claims.ID == "" {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}
