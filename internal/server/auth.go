package server

import (
	"errors"
	"fmt"

	"github.com/deliverly/go-fanout/internal/hub"
	"github.com/golang-jwt/jwt/v5"
)

// AppClaims defines our custom JWT claims structure. The subject carries the
// user id and the role claim one of the four marketplace roles.
type AppClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

var errInvalidToken = errors.New("invalid token")

// NewTokenValidator returns the hub's credential check: HMAC-signed JWT with
// a subject and a known role.
func NewTokenValidator(jwtSecret string) hub.TokenValidator {
	return func(tokenString string) (string, hub.Role, error) {
		token, err := jwt.ParseWithClaims(tokenString, &AppClaims{}, func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return []byte(jwtSecret), nil
		})
		if err != nil || !token.Valid {
			return "", "", errInvalidToken
		}

		claims, ok := token.Claims.(*AppClaims)
		if !ok {
			return "", "", errInvalidToken
		}
		if claims.Subject == "" {
			return "", "", errors.New("token missing 'sub' claim")
		}
		role := hub.Role(claims.Role)
		if !hub.ValidRole(role) {
			return "", "", fmt.Errorf("unknown role '%s'", claims.Role)
		}
		return claims.Subject, role, nil
	}
}
