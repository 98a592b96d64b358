// Package auth verifies bearer tokens and extracts the account identity.
// The server trusts only identities minted here; a client-supplied account
// id is never accepted anywhere else.
package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"driftsend/internal/common"
)

// Claims carries the registered claims plus the verified account id.
type Claims struct {
	jwt.RegisteredClaims
	AccountID string `json:"account_id"`
}

// GenerateToken mints an HS256 token for the account, valid for the given
// duration. Used by the auth emitter upstream and by tests.
func GenerateToken(accountID string, secretKey []byte, validityDuration time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(validityDuration)),
		},
		AccountID: accountID,
	})
	return token.SignedString(secretKey)
}

// AccountIDFromToken validates the token signature and expiry and returns
// the embedded account id.
func AccountIDFromToken(tokenString string, secretKey []byte) (string, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, common.ErrUnauthorized
		}
		return secretKey, nil
	})
	if err != nil {
		return "", common.ErrUnauthorized
	}
	if !token.Valid || claims.AccountID == "" {
		return "", common.ErrUnauthorized
	}
	return claims.AccountID, nil
}
