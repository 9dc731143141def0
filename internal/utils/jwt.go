package utils

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

// ErrMissingSubject is returned for tokens without a subject claim.
var ErrMissingSubject = errors.New("token has no subject")

// ParseToken validates the token and returns the external identity id from its subject.
func ParseToken(secret, tokenString string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}
	if !token.Valid {
		return "", jwt.ErrTokenInvalidClaims
	}
	if claims.Subject == "" {
		return "", ErrMissingSubject
	}
	return claims.Subject, nil
}
