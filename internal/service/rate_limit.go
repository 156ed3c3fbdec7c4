package service

import (
	"context"
	"fmt"
	"time"

	"realtime_chat/internal/domain"
	"realtime_chat/internal/repository"
	apperrors "realtime_chat/pkg/errors"
	"realtime_chat/pkg/logger"
)

type RateLimitService interface {
	CheckLimit(ctx context.Context, key string, limit int) (bool, error)
	Increment(ctx context.Context, key string, window time.Duration) (int64, error)
	// Allow counts one hit for subject under rule and fails with
	// ErrRateLimited once the window's limit is exceeded.
	Allow(ctx context.Context, rule domain.RateLimitRule, subject string) error
}

type rateLimitService struct {
	rateLimitRepo repository.RateLimitRepository
	log           logger.Logger
}

func NewRateLimitService(rateLimitRepo repository.RateLimitRepository, log logger.Logger) RateLimitService {
	return &rateLimitService{
		rateLimitRepo: rateLimitRepo,
		log:           log,
	}
}

func (s *rateLimitService) CheckLimit(ctx context.Context, key string, limit int) (bool, error) {
	return s.rateLimitRepo.CheckLimit(ctx, key, limit)
}

func (s *rateLimitService) Increment(ctx context.Context, key string, window time.Duration) (int64, error) {
	return s.rateLimitRepo.Increment(ctx, key, window)
}

func (s *rateLimitService) Allow(ctx context.Context, rule domain.RateLimitRule, subject string) error {
	if rule.Limit <= 0 {
		return nil
	}
	key := rule.Scope + ":" + subject
	count, err := s.rateLimitRepo.Increment(ctx, key, rule.Window)
	if err != nil {
		return err
	}
	if count > int64(rule.Limit) {
		s.log.Warn("Rate limit exceeded", "scope", rule.Scope, "subject", subject, "count", count)
		return fmt.Errorf("%w: %d requests per %s", apperrors.ErrRateLimited, rule.Limit, rule.Window)
	}
	return nil
}
