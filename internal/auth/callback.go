package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Callback tokens bind the callBackUrl handed to the generation API to
// this deployment, so /callback only accepts posts for tasks we actually
// submitted.

const audience = "purim-callback"

type CallbackClaims struct {
	jwt.RegisteredClaims
}

// NewCallbackToken mints a short-lived HS256 token embedded in the
// callback URL at submission time.
func NewCallbackToken(secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	cl := CallbackClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Audience:  []string{audience},
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, cl)
	return token.SignedString([]byte(secret))
}

// VerifyCallbackToken checks the token's signature, expiry and audience.
func VerifyCallbackToken(secret, tokenString string) error {
	if tokenString == "" {
		return errors.New("missing callback token")
	}

	token, err := jwt.ParseWithClaims(tokenString, &CallbackClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithAudience(audience))
	if err != nil {
		return fmt.Errorf("invalid callback token: %w", err)
	}
	if !token.Valid {
		return errors.New("invalid callback token")
	}
	return nil
}
