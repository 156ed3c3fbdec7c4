package jwt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "realtime_chat/pkg/errors"
)

const secret = "test-secret"

func TestGenerateAndValidate(t *testing.T) {
	token, err := GenerateToken("u1", PurposeAccess, secret, "realtime-chat", time.Minute)
	require.NoError(t, err)

	claims, err := ValidateToken(token, secret)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, PurposeAccess, claims.Purpose)
	assert.Equal(t, "realtime-chat", claims.Issuer)
}

func TestValidateToken_WrongSecret(t *testing.T) {
	token, err := GenerateToken("u1", PurposeAccess, secret, "realtime-chat", time.Minute)
	require.NoError(t, err)

	_, err = ValidateToken(token, "other")
	assert.ErrorIs(t, err, apperrors.ErrInvalidToken)
}

func TestValidateToken_Expired(t *testing.T) {
	token, err := GenerateToken("u1", PurposeAccess, secret, "realtime-chat", -time.Minute)
	require.NoError(t, err)

	_, err = ValidateToken(token, secret)
	assert.ErrorIs(t, err, apperrors.ErrTokenExpired)
}

func TestValidatePurpose(t *testing.T) {
	token, err := GenerateToken("u1", PurposeVerifyEmail, secret, "realtime-chat", time.Minute)
	require.NoError(t, err)

	_, err = ValidatePurpose(token, secret, PurposeAccess)
	assert.ErrorIs(t, err, apperrors.ErrInvalidToken)

	claims, err := ValidatePurpose(token, secret, PurposeVerifyEmail)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
}

func TestGenerateSessionToken(t *testing.T) {
	token, err := GenerateSessionToken("u1", PurposeRefresh, 3, secret, "realtime-chat", time.Minute)
	require.NoError(t, err)

	claims, err := ValidatePurpose(token, secret, PurposeRefresh)
	require.NoError(t, err)
	assert.Equal(t, int64(3), claims.Session)
}
