package jwtutil

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndParseToken(t *testing.T) {
	token, err := GenerateToken("secret", time.Minute, 42, "alex")
	require.NoError(t, err)

	claims, err := ParseToken("secret", token)
	require.NoError(t, err)
	assert.Equal(t, uint(42), claims.UserID)
	assert.Equal(t, "alex", claims.Username)
}

func TestParseTokenRejects(t *testing.T) {
	valid, err := GenerateToken("secret", time.Minute, 1, "a")
	require.NoError(t, err)
	expired, err := GenerateToken("secret", -time.Minute, 1, "a")
	require.NoError(t, err)
	noUser, err := GenerateToken("secret", time.Minute, 0, "a")
	require.NoError(t, err)

	tests := []struct {
		name   string
		secret string
		token  string
	}{
		{name: "wrong secret", secret: "other", token: valid},
		{name: "expired", secret: "secret", token: expired},
		{name: "missing user", secret: "secret", token: noUser},
		{name: "garbage", secret: "secret", token: "not-a-token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseToken(tt.secret, tt.token)
			assert.True(t, errors.Is(err, ErrInvalidToken))
		})
	}
}
