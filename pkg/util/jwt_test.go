package util

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTRoundTrip(t *testing.T) {
	token, err := GenerateJWT("user-1", "manager", "secret", time.Hour)
	require.NoError(t, err)

	claims, err := ParseJWT(token, "secret")
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "manager", claims.Role)
}

func TestParseJWTRejects(t *testing.T) {
	good, err := GenerateJWT("user-1", "user", "secret", time.Hour)
	require.NoError(t, err)
	expired, err := GenerateJWT("user-1", "user", "secret", -time.Minute)
	require.NoError(t, err)
	anonymous, err := GenerateJWT("", "user", "secret", time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{"wrong secret", good, jwt.ErrSignatureInvalid},
		{"expired", expired, jwt.ErrTokenExpired},
		{"no user", anonymous, jwt.ErrTokenMalformed},
		{"garbage", "not-a-token", jwt.ErrTokenMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			secret := "secret"
			if tt.name == "wrong secret" {
				secret = "other"
			}
			_, err := ParseJWT(tt.token, secret)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestExtractToken(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	assert.Empty(t, ExtractToken(r))

	r.Header.Set("Authorization", "Bearer abc")
	assert.Equal(t, "abc", ExtractToken(r))

	r.Header.Set("Authorization", "Basic abc")
	assert.Empty(t, ExtractToken(r))
}
