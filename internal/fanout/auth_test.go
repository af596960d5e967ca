package fanout

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSecret  = "test-secret"
	testAccount = "0x00000000000000000000000000000000000000E1"
)

func TestAuthenticatorRoundTrip(t *testing.T) {
	auth := NewAuthenticator(testSecret)
	token, err := auth.Sign(testAccount, jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()})
	require.NoError(t, err)

	address, err := auth.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "0x00000000000000000000000000000000000000e1", address)
}

func TestAuthenticatorFallsBackToSubject(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": testAccount}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	address, err := NewAuthenticator(testSecret).Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "0x00000000000000000000000000000000000000e1", address)
}

func TestAuthenticatorRejects(t *testing.T) {
	auth := NewAuthenticator(testSecret)

	wrongSecret, err := NewAuthenticator("other").Sign(testAccount, nil)
	require.NoError(t, err)
	expired, err := auth.Sign(testAccount, jwt.MapClaims{"exp": time.Now().Add(-time.Minute).Unix()})
	require.NoError(t, err)
	noAddress, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"name": "alice"}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"address": testAccount}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{"empty", "", ErrMissingToken},
		{"garbage", "not-a-jwt", ErrInvalidToken},
		{"wrong secret", wrongSecret, ErrInvalidToken},
		{"expired", expired, ErrInvalidToken},
		{"unsigned", unsigned, ErrInvalidToken},
		{"no address", noAddress, ErrMissingAddress},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := auth.Verify(tt.token)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestAuthenticatorWithoutSecret(t *testing.T) {
	token, err := NewAuthenticator(testSecret).Sign(testAccount, nil)
	require.NoError(t, err)

	_, err = NewAuthenticator("").Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
