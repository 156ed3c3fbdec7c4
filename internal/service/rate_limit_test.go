package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"realtime_chat/internal/domain"
	apperrors "realtime_chat/pkg/errors"
	"realtime_chat/pkg/logger"
)

func TestRateLimitService_Allow(t *testing.T) {
	env := newTestEnv(t)
	limiter := NewRateLimitService(env.repos.RateLimit, logger.NewNop())
	ctx := context.Background()
	rule := domain.RateLimitRule{Scope: domain.RateLimitScopePhone, Limit: 2, Window: time.Minute}

	require.NoError(t, limiter.Allow(ctx, rule, "+15550000000"))
	require.NoError(t, limiter.Allow(ctx, rule, "+15550000000"))
	assert.ErrorIs(t, limiter.Allow(ctx, rule, "+15550000000"), apperrors.ErrRateLimited)

	require.NoError(t, limiter.Allow(ctx, rule, "+15550000001"), "limits are per subject")

	env.redis.FastForward(2 * time.Minute)
	assert.NoError(t, limiter.Allow(ctx, rule, "+15550000000"))

	assert.NoError(t, limiter.Allow(ctx, domain.RateLimitRule{Scope: "off"}, "x"), "zero limit disables the rule")
}
