package service

import (
	"context"
	"fmt"
	"time"

	"realtime_chat/internal/connectivity"
	"realtime_chat/internal/domain"
	"realtime_chat/internal/repository"
	apperrors "realtime_chat/pkg/errors"
	"realtime_chat/pkg/logger"
)

// PresenceService writes a user's own online flag. Each write overwrites the
// last one; several devices of one user are not reconciled.
type PresenceService interface {
	SetPresence(ctx context.Context, userID string, status domain.Presence) error
	GetPresence(ctx context.Context, userID string) (domain.Presence, error)
	// Track mirrors monitor transitions into userID's presence until the
	// returned stop func runs. Stop writes offline.
	Track(ctx context.Context, userID string, monitor *connectivity.Monitor) func()
}

type presenceService struct {
	userRepo repository.UserRepository
	identity Identity
	log      logger.Logger
	now      func() time.Time
}

func NewPresenceService(userRepo repository.UserRepository, identity Identity, log logger.Logger) PresenceService {
	return &presenceService{
		userRepo: userRepo,
		identity: identity,
		log:      log,
		now:      time.Now,
	}
}

func (s *presenceService) SetPresence(ctx context.Context, userID string, status domain.Presence) error {
	if !status.Valid() {
		return fmt.Errorf("%w: unknown presence %q", apperrors.ErrValidation, status)
	}
	if err := requireSelf(ctx, s.identity, userID); err != nil {
		return err
	}
	return s.userRepo.SetPresence(ctx, userID, status, s.now().UTC())
}

func (s *presenceService) GetPresence(ctx context.Context, userID string) (domain.Presence, error) {
	profile, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return "", err
	}
	return profile.Presence, nil
}

func (s *presenceService) Track(ctx context.Context, userID string, monitor *connectivity.Monitor) func() {
	write := func(online bool) {
		status := domain.PresenceOffline
		if online {
			status = domain.PresenceOnline
		}
		if err := s.SetPresence(ctx, userID, status); err != nil {
			s.log.Warn("Failed to write presence", "error", err, "user_id", userID, "presence", status)
		}
	}

	write(monitor.Online())
	unsubscribe := monitor.Subscribe(write)

	return func() {
		unsubscribe()
		// ctx may already be done when the caller is tearing down.
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := s.SetPresence(stopCtx, userID, domain.PresenceOffline); err != nil {
			s.log.Warn("Failed to write presence", "error", err, "user_id", userID, "presence", domain.PresenceOffline)
		}
	}
}
