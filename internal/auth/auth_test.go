package auth

import (
	"testing"

	"cropsight/config"
	"cropsight/internal/core/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	svc := NewTokenService(config.AuthConfig{JWTSecret: "test-secret", TokenTTLHours: 1})

	user := &models.User{Role: models.RoleFarmer}
	user.ID = 42

	token, err := svc.Issue(user)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := svc.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, uint(42), claims.UserID)
	assert.Equal(t, models.RoleFarmer, claims.Role)
	assert.Equal(t, "cropsight", claims.Issuer)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	issuer := NewTokenService(config.AuthConfig{JWTSecret: "secret-a"})
	verifier := NewTokenService(config.AuthConfig{JWTSecret: "secret-b"})

	user := &models.User{Role: models.RoleFarmer}
	user.ID = 1

	token, err := issuer.Issue(user)
	require.NoError(t, err)

	_, err = verifier.Verify(token)
	assert.Error(t, err)
}

func TestVerifyRejectsGarbage(t *testing.T) {
	svc := NewTokenService(config.AuthConfig{JWTSecret: "test-secret"})

	_, err := svc.Verify("not.a.token")
	assert.Error(t, err)
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	require.NoError(t, err)
	assert.NotEqual(t, "correct horse battery staple", hash)

	assert.True(t, CheckPassword(hash, "correct horse battery staple"))
	assert.False(t, CheckPassword(hash, "wrong password"))
}
