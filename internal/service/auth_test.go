package service

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"realtime_chat/internal/domain"
	apperrors "realtime_chat/pkg/errors"
	"realtime_chat/pkg/logger"
)

type captureSender struct {
	mu    sync.Mutex
	codes map[string]string
}

func (s *captureSender) SendCode(_ context.Context, phone, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.codes == nil {
		s.codes = map[string]string{}
	}
	s.codes[phone] = code
	return nil
}

func (s *captureSender) code(phone string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.codes[phone]
}

func newTestAuth(env *testEnv, sender CodeSender) AuthService {
	audit := NewAuditService(env.repos.Audit, logger.NewNop())
	return NewAuthService(env.repos.User, env.repos.Verification, env.repos.Session, audit, sender, env.cfg.JWT, env.cfg.Auth, logger.NewNop())
}

func TestAuthService_EmailFlow(t *testing.T) {
	env := newTestEnv(t)
	auth := newTestAuth(env, nil)
	ctx := context.Background()

	var events []domain.AuthState
	stop := auth.OnAuthStateChange(func(s domain.AuthState) { events = append(events, s) })
	defer stop()

	reg, err := auth.RegisterEmail(ctx, "Ann@Example.com", "password1", "Ann")
	require.NoError(t, err)
	assert.Equal(t, "ann@example.com", reg.User.Email)
	assert.NotEmpty(t, reg.VerifyToken)

	_, err = auth.RegisterEmail(ctx, "ann@example.com", "password1", "Ann")
	assert.ErrorIs(t, err, apperrors.ErrUserAlreadyExists)

	_, err = auth.LoginEmail(ctx, "ann@example.com", "password1")
	assert.ErrorIs(t, err, apperrors.ErrForbidden, "unverified email")

	require.NoError(t, auth.VerifyEmail(ctx, reg.VerifyToken))

	_, err = auth.LoginEmail(ctx, "ann@example.com", "wrong-password")
	assert.ErrorIs(t, err, apperrors.ErrInvalidCredentials)

	login, err := auth.LoginEmail(ctx, "ann@example.com", "password1")
	require.NoError(t, err)
	assert.Equal(t, reg.User.ID, login.User.ID)

	userID, err := auth.ValidateToken(ctx, login.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, reg.User.ID, userID)

	_, err = auth.ValidateToken(ctx, login.RefreshToken)
	assert.ErrorIs(t, err, apperrors.ErrInvalidToken)

	require.Len(t, events, 1)
	assert.Equal(t, domain.AuthEventSignedIn, events[0].Event)
	assert.Equal(t, domain.AuthMethodEmail, events[0].Method)
}

func TestAuthService_RegisterValidation(t *testing.T) {
	env := newTestEnv(t)
	auth := newTestAuth(env, nil)

	tests := []struct {
		name, email, password, displayName string
	}{
		{"missing email", "", "password1", "Ann"},
		{"bad email", "ann", "password1", "Ann"},
		{"short password", "a@b.c", "short", "Ann"},
		{"missing name", "a@b.c", "password1", " "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := auth.RegisterEmail(context.Background(), tt.email, tt.password, tt.displayName)
			assert.ErrorIs(t, err, apperrors.ErrValidation)
		})
	}
}

func TestAuthService_SignOutRevokesTokens(t *testing.T) {
	env := newTestEnv(t)
	sender := &captureSender{}
	auth := newTestAuth(env, sender)
	ctx := context.Background()

	require.NoError(t, auth.RequestPhoneCode(ctx, "+15551234567"))
	login, err := auth.VerifyPhoneCode(ctx, "+15551234567", sender.code("+15551234567"), "Bob")
	require.NoError(t, err)

	refreshed, err := auth.RefreshToken(ctx, login.RefreshToken)
	require.NoError(t, err)
	_, err = auth.ValidateToken(ctx, refreshed.AccessToken)
	require.NoError(t, err)

	var events []domain.AuthState
	stop := auth.OnAuthStateChange(func(s domain.AuthState) { events = append(events, s) })
	defer stop()

	err = auth.SignOut(as("someone-else"), login.User.ID)
	assert.ErrorIs(t, err, apperrors.ErrForbidden)

	require.NoError(t, auth.SignOut(as(login.User.ID), login.User.ID))
	require.Len(t, events, 1)
	assert.Equal(t, domain.AuthEventSignedOut, events[0].Event)

	_, err = auth.ValidateToken(ctx, login.AccessToken)
	assert.ErrorIs(t, err, apperrors.ErrInvalidToken)
	_, err = auth.ValidateToken(ctx, refreshed.AccessToken)
	assert.ErrorIs(t, err, apperrors.ErrInvalidToken)
	_, err = auth.RefreshToken(ctx, login.RefreshToken)
	assert.ErrorIs(t, err, apperrors.ErrInvalidToken)

	again, err := func() (*LoginResponse, error) {
		require.NoError(t, auth.RequestPhoneCode(ctx, "+15551234567"))
		return auth.VerifyPhoneCode(ctx, "+15551234567", sender.code("+15551234567"), "")
	}()
	require.NoError(t, err)
	assert.Equal(t, login.User.ID, again.User.ID, "phone sign-in finds the existing user")
	_, err = auth.ValidateToken(ctx, again.AccessToken)
	assert.NoError(t, err)
}

func TestAuthService_PhoneCodeAttempts(t *testing.T) {
	env := newTestEnv(t)
	sender := &captureSender{}
	auth := newTestAuth(env, sender)
	ctx := context.Background()

	err := auth.RequestPhoneCode(ctx, "555-1234")
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = auth.VerifyPhoneCode(ctx, "+15550000000", "123456", "")
	assert.ErrorIs(t, err, apperrors.ErrInvalidCredentials)

	require.NoError(t, auth.RequestPhoneCode(ctx, "+15550000000"))
	good := sender.code("+15550000000")
	require.Len(t, good, 6)
	bad := "000000"
	if good == bad {
		bad = "111111"
	}

	for i := 0; i < env.cfg.Auth.PhoneCodeMaxAttempts; i++ {
		_, err = auth.VerifyPhoneCode(ctx, "+15550000000", bad, "")
		assert.ErrorIs(t, err, apperrors.ErrInvalidCredentials)
	}
	_, err = auth.VerifyPhoneCode(ctx, "+15550000000", good, "")
	assert.ErrorIs(t, err, apperrors.ErrRateLimited)

	_, err = auth.VerifyPhoneCode(ctx, "+15550000000", good, "")
	assert.ErrorIs(t, err, apperrors.ErrInvalidCredentials, "code is gone after lockout")
}

func TestAuthService_CodeExpires(t *testing.T) {
	env := newTestEnv(t)
	sender := &captureSender{}
	auth := newTestAuth(env, sender)
	ctx := context.Background()

	require.NoError(t, auth.RequestPhoneCode(ctx, "+15550000001"))
	env.redis.FastForward(2 * env.cfg.Auth.PhoneCodeTTL)

	_, err := auth.VerifyPhoneCode(ctx, "+15550000001", sender.code("+15550000001"), "")
	assert.ErrorIs(t, err, apperrors.ErrInvalidCredentials)
}

func TestAuthService_CurrentUserID(t *testing.T) {
	env := newTestEnv(t)
	auth := newTestAuth(env, nil)

	_, err := auth.CurrentUserID(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)

	id, err := auth.CurrentUserID(as("u1"))
	require.NoError(t, err)
	assert.Equal(t, "u1", id)
}
