package utils

import (
	"testing"
	"time"

	"featureforge/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestJWTRoundTrip(t *testing.T) {
	user := &models.User{Model: gorm.Model{ID: 7}, Email: "alice@example.com"}

	token, err := GenerateJWTToken(user, "s3cret", time.Hour)
	require.NoError(t, err)

	claims, err := ParseJWTToken(token, "s3cret")
	require.NoError(t, err)
	assert.Equal(t, uint(7), claims.UserID)
	assert.Equal(t, "alice@example.com", claims.Email)

	_, err = ParseJWTToken(token, "other")
	assert.Error(t, err)
}

func TestJWTRejectsExpiredAndMissingSecret(t *testing.T) {
	user := &models.User{Model: gorm.Model{ID: 1}, Email: "a@example.com"}

	token, err := GenerateJWTToken(user, "s3cret", -time.Minute)
	require.NoError(t, err)
	_, err = ParseJWTToken(token, "s3cret")
	assert.Error(t, err)

	_, err = GenerateJWTToken(user, "", time.Hour)
	assert.Error(t, err)
}
