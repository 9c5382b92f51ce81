package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenExpiry(t *testing.T) {
	t.Run("jwt with exp", func(t *testing.T) {
		exp := time.Now().Add(time.Hour).Truncate(time.Second)
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"exp": exp.Unix(),
		}).SignedString([]byte("k"))
		require.NoError(t, err)

		got, ok := tokenExpiry(token)
		require.True(t, ok)
		assert.True(t, got.Equal(exp))
	})

	t.Run("jwt without exp", func(t *testing.T) {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"sub": "1",
		}).SignedString([]byte("k"))
		require.NoError(t, err)

		_, ok := tokenExpiry(token)
		assert.False(t, ok)
	})

	t.Run("opaque token", func(t *testing.T) {
		_, ok := tokenExpiry("not-a-jwt")
		assert.False(t, ok)
	})
}
