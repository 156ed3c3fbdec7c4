package service

import (
	"context"
	"fmt"

	"realtime_chat/internal/domain"
	"realtime_chat/internal/repository"
	apperrors "realtime_chat/pkg/errors"
	"realtime_chat/pkg/logger"
)

type ContactService interface {
	// AddFriend links owner and friend in both directions. Edges that
	// already exist are kept; the missing ones are written in one commit.
	AddFriend(ctx context.Context, ownerID, friendID string) (*domain.Contact, error)
	// RemoveFriend deletes only the owner's edge.
	RemoveFriend(ctx context.Context, ownerID, friendID string) error
	ListFriends(ctx context.Context, ownerID string) ([]*domain.Contact, error)
	WatchFriends(ownerID string, fn func([]*domain.Contact), onErr func(error)) (Subscription, error)
}

type contactService struct {
	contactRepo repository.ContactRepository
	userRepo    repository.UserRepository
	audit       AuditService
	identity    Identity
	log         logger.Logger
}

func NewContactService(contactRepo repository.ContactRepository, userRepo repository.UserRepository, audit AuditService, identity Identity, log logger.Logger) ContactService {
	return &contactService{
		contactRepo: contactRepo,
		userRepo:    userRepo,
		audit:       audit,
		identity:    identity,
		log:         log,
	}
}

func (s *contactService) AddFriend(ctx context.Context, ownerID, friendID string) (*domain.Contact, error) {
	if err := domain.ValidateUserID(friendID); err != nil {
		return nil, err
	}
	if ownerID == friendID {
		return nil, fmt.Errorf("%w: cannot add yourself", apperrors.ErrValidation)
	}
	if err := requireSelf(ctx, s.identity, ownerID); err != nil {
		return nil, err
	}

	owner, err := s.userRepo.GetByID(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	friend, err := s.userRepo.GetByID(ctx, friendID)
	if err != nil {
		return nil, err
	}

	forward, err := s.existingEdge(ctx, ownerID, friendID)
	if err != nil {
		return nil, err
	}
	backward, err := s.existingEdge(ctx, friendID, ownerID)
	if err != nil {
		return nil, err
	}

	var edges []*domain.Contact
	if forward == nil {
		forward = &domain.Contact{OwnerID: ownerID, FriendID: friendID, FriendName: friend.DisplayName, FriendAvatarURL: friend.AvatarURL}
		edges = append(edges, forward)
	}
	if backward == nil {
		edges = append(edges, &domain.Contact{OwnerID: friendID, FriendID: ownerID, FriendName: owner.DisplayName, FriendAvatarURL: owner.AvatarURL})
	}
	if len(edges) == 0 {
		return forward, nil
	}

	if err := s.contactRepo.CreateEdges(ctx, edges...); err != nil {
		if apperrors.KindOf(err) != apperrors.KindConflict {
			return nil, err
		}
		// A concurrent add of the same pair committed first.
		edge, getErr := s.contactRepo.Get(ctx, ownerID, friendID)
		if getErr != nil {
			return nil, err
		}
		s.log.Info("Contact already added concurrently", "owner_id", ownerID, "friend_id", friendID)
		return edge, nil
	}

	logAudit(ctx, s.audit, s.log, ownerID, domain.EventTypeContactAdded, friendID, map[string]interface{}{
		"edges": len(edges),
	})

	return s.contactRepo.Get(ctx, ownerID, friendID)
}

func (s *contactService) existingEdge(ctx context.Context, ownerID, friendID string) (*domain.Contact, error) {
	edge, err := s.contactRepo.Get(ctx, ownerID, friendID)
	switch apperrors.KindOf(err) {
	case apperrors.KindNone:
		return edge, nil
	case apperrors.KindNotFound:
		return nil, nil
	default:
		return nil, err
	}
}

func (s *contactService) RemoveFriend(ctx context.Context, ownerID, friendID string) error {
	if err := domain.ValidateUserID(friendID); err != nil {
		return err
	}
	if err := requireSelf(ctx, s.identity, ownerID); err != nil {
		return err
	}
	if err := s.contactRepo.Delete(ctx, ownerID, friendID); err != nil {
		return err
	}
	logAudit(ctx, s.audit, s.log, ownerID, domain.EventTypeContactRemoved, friendID, nil)
	return nil
}

func (s *contactService) ListFriends(ctx context.Context, ownerID string) ([]*domain.Contact, error) {
	if err := requireSelf(ctx, s.identity, ownerID); err != nil {
		return nil, err
	}
	return s.contactRepo.ListByOwner(ctx, ownerID)
}

func (s *contactService) WatchFriends(ownerID string, fn func([]*domain.Contact), onErr func(error)) (Subscription, error) {
	if err := domain.ValidateUserID(ownerID); err != nil {
		return nil, err
	}
	return s.contactRepo.Watch(ownerID, fn, onErr)
}
