package service

import (
	"testing"
	"time"

	"github.com/aman-churiwal/ioc-gateway/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndValidate(t *testing.T) {
	svc := NewTokenService("secret", time.Hour)

	token, expires, err := svc.Issue("tenant-42", models.TierPlus)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expires, 5*time.Second)

	claims, err := svc.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "tenant-42", claims.TenantID)
	assert.Equal(t, models.TierPlus, claims.Tier)
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	token, _, err := NewTokenService("secret", time.Hour).Issue("t", models.TierFree)
	require.NoError(t, err)

	_, err = NewTokenService("other", time.Hour).Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateRejectsExpired(t *testing.T) {
	svc := NewTokenService("secret", time.Minute)
	svc.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	token, _, err := svc.Issue("t", models.TierFree)
	require.NoError(t, err)

	svc.now = time.Now
	_, err = svc.Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateRequiresIdentityClaims(t *testing.T) {
	svc := NewTokenService("secret", time.Hour)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"tenant_id": "t",
		"tier":      "gold",
		"exp":       time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = svc.Validate(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateRejectsNoneAlgorithm(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"tenant_id": "t", "tier": "admin"})
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = NewTokenService("secret", time.Hour).Validate(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestIssueRejectsBadInput(t *testing.T) {
	svc := NewTokenService("secret", time.Hour)

	_, _, err := svc.Issue("", models.TierFree)
	assert.Error(t, err)

	_, _, err = svc.Issue("t", models.Tier("gold"))
	assert.ErrorIs(t, err, ErrInvalidTier)
}
