package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signToken(t *testing.T, claims Claims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return tok
}

func TestParseClaims(t *testing.T) {
	exp := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	tok := signToken(t, Claims{
		UserID:       "u-1",
		Role:         "kitchen",
		RestaurantID: "rest-42",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	})

	t.Run("Reads claims without the signing key", func(t *testing.T) {
		c, err := ParseClaims(tok)
		require.NoError(t, err)
		assert.Equal(t, "rest-42", c.RestaurantID)
		assert.Equal(t, "kitchen", c.Role)
		assert.True(t, c.ExpiresAt.Time.Equal(exp))
	})

	t.Run("Empty token", func(t *testing.T) {
		_, err := ParseClaims("")
		assert.ErrorIs(t, err, ErrMissingToken)
	})

	t.Run("Malformed token", func(t *testing.T) {
		_, err := ParseClaims("not.a.jwt")
		assert.Error(t, err)
	})
}

func TestCheckToken(t *testing.T) {
	exp := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tok := signToken(t, Claims{
		RestaurantID:     "r",
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(exp)},
	})

	_, err := CheckToken(tok, exp.Add(-time.Minute))
	assert.NoError(t, err)

	c, err := CheckToken(tok, exp)
	assert.ErrorIs(t, err, ErrTokenExpired)
	assert.Equal(t, "r", c.RestaurantID)

	noExp := signToken(t, Claims{RestaurantID: "r"})
	_, err = CheckToken(noExp, time.Now())
	assert.NoError(t, err)
}

func TestHeader(t *testing.T) {
	h := Header("abc", "dev-1")
	assert.Equal(t, "Bearer abc", h.Get("Authorization"))
	assert.Equal(t, "dev-1", h.Get("X-Device-ID"))

	empty := Header("", "")
	assert.Empty(t, empty.Get("Authorization"))
	assert.Empty(t, empty.Get("X-Device-ID"))
}
