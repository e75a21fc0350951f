package sso

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hs256(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("not-checked"))
	require.NoError(t, err)
	return signed
}

func TestPeekExpiry(t *testing.T) {
	exp := time.Now().Add(30 * time.Second).Truncate(time.Second)

	got, err := PeekExpiry(hs256(t, jwt.MapClaims{"sub": "idp|1", "exp": exp.Unix()}))
	require.NoError(t, err)
	assert.True(t, exp.Equal(got))
}

func TestPeekExpiry_IgnoresSignature(t *testing.T) {
	token := hs256(t, jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()})
	tampered := token[:len(token)-2] + "xx"

	_, err := PeekExpiry(tampered)
	assert.NoError(t, err)
}

func TestPeekExpiry_Errors(t *testing.T) {
	_, err := PeekExpiry("not-a-jwt")
	assert.Error(t, err)

	_, err = PeekExpiry(hs256(t, jwt.MapClaims{"sub": "idp|1"}))
	assert.True(t, errors.Is(err, ErrNoExpiry))

	_, err = PeekExpiry(hs256(t, jwt.MapClaims{"exp": "tomorrow"}))
	assert.Error(t, err)
}
