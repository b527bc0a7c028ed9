package utils

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TriggerIssuer is the issuer stamped into scheduler trigger tokens.
const TriggerIssuer = "roster-sync"

var ErrInvalidToken = errors.New("invalid or expired token")

// TriggerClaims identify the scheduler (or operator) calling the trigger API.
type TriggerClaims struct {
	Caller string `json:"caller"`
	jwt.RegisteredClaims
}

// GenerateToken signs an HS256 trigger token valid for ttl.
func GenerateToken(secret, caller string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("empty signing secret")
	}
	now := time.Now()
	claims := &TriggerClaims{
		Caller: caller,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    TriggerIssuer,
			Subject:   caller,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		ErrorLogger.WithError(err).Error("signing trigger token")
		return "", err
	}
	return signed, nil
}

func ParseToken(secret, tokenString string) (*TriggerClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &TriggerClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithIssuer(TriggerIssuer), jwt.WithExpirationRequired())

	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*TriggerClaims)
	if !ok || claims.Caller == "" {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}
