package fanout

import (
	"errors"
	"fmt"

	"github.com/curvewatch/indexer/internal/common"
	gethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingToken   = errors.New("authentication token not provided")
	ErrInvalidToken   = errors.New("invalid token")
	ErrMissingAddress = errors.New("token carries no account address")
)

// Authenticator verifies HMAC-signed session tokens. The account address is
// read from the "address" claim, falling back to "sub".
type Authenticator struct {
	secret []byte
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

func (a *Authenticator) Verify(token string) (string, error) {
	if token == "" {
		return "", ErrMissingToken
	}
	if len(a.secret) == 0 {
		return "", fmt.Errorf("%w: no session secret configured", ErrInvalidToken)
	}

	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))
	if err != nil || !parsed.Valid {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	address, _ := claims["address"].(string)
	if address == "" {
		address, _ = claims["sub"].(string)
	}
	if !gethcommon.IsHexAddress(address) {
		return "", ErrMissingAddress
	}
	return common.NormalizeAddress(address), nil
}

// Sign issues a session token for address. It exists for tooling and tests;
// production tokens come from the account service sharing the secret.
func (a *Authenticator) Sign(address string, claims jwt.MapClaims) (string, error) {
	if claims == nil {
		claims = jwt.MapClaims{}
	}
	claims["address"] = address
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}
