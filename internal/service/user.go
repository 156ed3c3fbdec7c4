package service

import (
	"context"
	"fmt"
	"strings"

	"realtime_chat/internal/domain"
	"realtime_chat/internal/repository"
	apperrors "realtime_chat/pkg/errors"
	"realtime_chat/pkg/logger"
)

type UserService interface {
	GetProfile(ctx context.Context, userID string) (*domain.Profile, error)
	UpdateProfile(ctx context.Context, userID string, displayName, avatarURL *string) (*domain.Profile, error)
	FindByEmail(ctx context.Context, email string) (*domain.Profile, error)
	FindByPhone(ctx context.Context, phone string) (*domain.Profile, error)
}

type userService struct {
	userRepo repository.UserRepository
	identity Identity
	log      logger.Logger
}

func NewUserService(userRepo repository.UserRepository, identity Identity, log logger.Logger) UserService {
	return &userService{
		userRepo: userRepo,
		identity: identity,
		log:      log,
	}
}

func (s *userService) GetProfile(ctx context.Context, userID string) (*domain.Profile, error) {
	if err := domain.ValidateUserID(userID); err != nil {
		return nil, err
	}
	return s.userRepo.GetByID(ctx, userID)
}

func (s *userService) UpdateProfile(ctx context.Context, userID string, displayName, avatarURL *string) (*domain.Profile, error) {
	if err := requireSelf(ctx, s.identity, userID); err != nil {
		return nil, err
	}
	if displayName != nil {
		trimmed := strings.TrimSpace(*displayName)
		if trimmed == "" {
			return nil, fmt.Errorf("%w: display name is required", apperrors.ErrValidation)
		}
		if len(trimmed) > 100 {
			return nil, fmt.Errorf("%w: display name is too long (max 100 characters)", apperrors.ErrValidation)
		}
		displayName = &trimmed
	}

	if err := s.userRepo.UpdateProfile(ctx, userID, displayName, avatarURL); err != nil {
		return nil, err
	}
	return s.userRepo.GetByID(ctx, userID)
}

func (s *userService) FindByEmail(ctx context.Context, email string) (*domain.Profile, error) {
	if strings.TrimSpace(email) == "" {
		return nil, fmt.Errorf("%w: email is required", apperrors.ErrValidation)
	}
	return s.userRepo.GetByEmail(ctx, email)
}

func (s *userService) FindByPhone(ctx context.Context, phone string) (*domain.Profile, error) {
	phone = strings.TrimSpace(phone)
	if !phonePattern.MatchString(phone) {
		return nil, fmt.Errorf("%w: phone must be in E.164 format", apperrors.ErrValidation)
	}
	return s.userRepo.GetByPhone(ctx, phone)
}
