package util

import (
	"testing"
	"time"

	"studypath_backend/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTRoundTrip(t *testing.T) {
	user := &model.User{Email: "a@b.c"}
	user.ID = 42

	token, err := GenerateJWT(user, "test-secret", time.Hour)
	require.NoError(t, err)

	claims, err := ParseJWT(token, "test-secret")
	require.NoError(t, err)
	assert.Equal(t, uint(42), claims.UserID)
	assert.Equal(t, "a@b.c", claims.Email)
}

func TestJWTWrongSecret(t *testing.T) {
	user := &model.User{Email: "a@b.c"}
	token, err := GenerateJWT(user, "secret-one", time.Hour)
	require.NoError(t, err)

	_, err = ParseJWT(token, "secret-two")
	assert.Error(t, err)
}

func TestJWTExpired(t *testing.T) {
	user := &model.User{Email: "a@b.c"}
	token, err := GenerateJWT(user, "test-secret", -time.Minute)
	require.NoError(t, err)

	_, err = ParseJWT(token, "test-secret")
	assert.Error(t, err)
}
