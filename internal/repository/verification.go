package repository

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "realtime_chat/pkg/errors"
	"realtime_chat/pkg/logger"
)

const (
	phoneCodePrefix = "phone_code:"
	sessionPrefix   = "session:generation:"
)

// VerificationRepository keeps one-time phone codes in Redis until they
// expire or are used.
type VerificationRepository interface {
	SaveCode(ctx context.Context, phone, code string, ttl time.Duration) error
	GetCode(ctx context.Context, phone string) (code string, attempts int, err error)
	IncrementAttempts(ctx context.Context, phone string) (int64, error)
	DeleteCode(ctx context.Context, phone string) error
}

type verificationRepository struct {
	redis *redis.Client
	log   logger.Logger
}

func NewVerificationRepository(redis *redis.Client, log logger.Logger) VerificationRepository {
	return &verificationRepository{redis: redis, log: log}
}

func (r *verificationRepository) SaveCode(ctx context.Context, phone, code string, ttl time.Duration) error {
	key := phoneCodePrefix + phone
	pipe := r.redis.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, "code", code, "attempts", 0)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		r.log.Error("Failed to save phone code", "error", err)
		return fmt.Errorf("%w: save phone code: %v", apperrors.ErrUnreachable, err)
	}
	return nil
}

func (r *verificationRepository) GetCode(ctx context.Context, phone string) (string, int, error) {
	values, err := r.redis.HGetAll(ctx, phoneCodePrefix+phone).Result()
	if err != nil {
		r.log.Error("Failed to get phone code", "error", err)
		return "", 0, fmt.Errorf("%w: get phone code: %v", apperrors.ErrUnreachable, err)
	}
	code, ok := values["code"]
	if !ok {
		return "", 0, fmt.Errorf("%w: no pending code", apperrors.ErrNotFound)
	}
	attempts, _ := strconv.Atoi(values["attempts"])
	return code, attempts, nil
}

func (r *verificationRepository) IncrementAttempts(ctx context.Context, phone string) (int64, error) {
	n, err := r.redis.HIncrBy(ctx, phoneCodePrefix+phone, "attempts", 1).Result()
	if err != nil {
		r.log.Error("Failed to count phone code attempt", "error", err)
		return 0, fmt.Errorf("%w: count attempt: %v", apperrors.ErrUnreachable, err)
	}
	return n, nil
}

func (r *verificationRepository) DeleteCode(ctx context.Context, phone string) error {
	if err := r.redis.Del(ctx, phoneCodePrefix+phone).Err(); err != nil {
		r.log.Error("Failed to delete phone code", "error", err)
		return fmt.Errorf("%w: delete phone code: %v", apperrors.ErrUnreachable, err)
	}
	return nil
}

// SessionRepository tracks each user's session generation. Signing out
// bumps it, which invalidates every token minted for an older generation.
type SessionRepository interface {
	Generation(ctx context.Context, userID string) (int64, error)
	Bump(ctx context.Context, userID string) (int64, error)
}

type sessionRepository struct {
	redis *redis.Client
	log   logger.Logger
}

func NewSessionRepository(redis *redis.Client, log logger.Logger) SessionRepository {
	return &sessionRepository{redis: redis, log: log}
}

func (r *sessionRepository) Generation(ctx context.Context, userID string) (int64, error) {
	n, err := r.redis.Get(ctx, sessionPrefix+userID).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		r.log.Error("Failed to read session generation", "error", err, "user_id", userID)
		return 0, fmt.Errorf("%w: read session: %v", apperrors.ErrUnreachable, err)
	}
	return n, nil
}

func (r *sessionRepository) Bump(ctx context.Context, userID string) (int64, error) {
	n, err := r.redis.Incr(ctx, sessionPrefix+userID).Result()
	if err != nil {
		r.log.Error("Failed to bump session generation", "error", err, "user_id", userID)
		return 0, fmt.Errorf("%w: bump session: %v", apperrors.ErrUnreachable, err)
	}
	return n, nil
}
