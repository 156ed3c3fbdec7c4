package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"realtime_chat/internal/connectivity"
	"realtime_chat/internal/domain"
	"realtime_chat/internal/metrics"
	"realtime_chat/internal/repository"
	apperrors "realtime_chat/pkg/errors"
	"realtime_chat/pkg/logger"
)

// Subscription is a live feed. Cancel is idempotent and no callback runs
// after it returns. It must not be called from inside the feed's callback.
type Subscription interface {
	Cancel()
}

// ChatService synchronizes two-party conversations. The store orders
// messages; the service never assigns timestamps or reorders.
type ChatService interface {
	ConversationID(a, b string) (string, error)
	// AppendMessage writes one message authored by the caller and returns
	// its server-assigned id. Nothing is queued or retried on failure.
	AppendMessage(ctx context.Context, conversationID, authorID string, payload domain.Payload) (string, error)
	// Subscribe returns immediately; onUpdate receives the full ordered log
	// once and again after every change.
	Subscribe(conversationID string, onUpdate func(*domain.Snapshot), onErr func(error)) (Subscription, error)
	DeleteMessage(ctx context.Context, conversationID, messageID, requesterID string) error
	ListMessages(ctx context.Context, conversationID string) ([]*domain.Message, error)
}

type chatService struct {
	chatRepo repository.ChatRepository
	audit    AuditService
	identity Identity
	monitor  *connectivity.Monitor
	cfg      ChatOptions
	log      logger.Logger
}

type ChatOptions struct {
	MaxMessageLength int
	WriteTimeout     time.Duration
}

func NewChatService(chatRepo repository.ChatRepository, audit AuditService, identity Identity, monitor *connectivity.Monitor, cfg ChatOptions, log logger.Logger) ChatService {
	return &chatService{
		chatRepo: chatRepo,
		audit:    audit,
		identity: identity,
		monitor:  monitor,
		cfg:      cfg,
		log:      log,
	}
}

func (s *chatService) ConversationID(a, b string) (string, error) {
	return domain.DeriveConversationID(a, b)
}

func (s *chatService) AppendMessage(ctx context.Context, conversationID, authorID string, payload domain.Payload) (string, error) {
	id, err := s.appendMessage(ctx, conversationID, authorID, payload)
	if err != nil {
		metrics.AppendFailures.WithLabelValues(string(apperrors.KindOf(err))).Inc()
		return "", err
	}
	metrics.MessagesAppended.WithLabelValues(string(payload.Kind())).Inc()
	return id, nil
}

func (s *chatService) appendMessage(ctx context.Context, conversationID, authorID string, payload domain.Payload) (string, error) {
	if _, _, err := domain.ConversationParticipants(conversationID); err != nil {
		return "", err
	}
	if !domain.IsParticipant(conversationID, authorID) {
		return "", fmt.Errorf("%w: author is not a participant of %s", apperrors.ErrValidation, conversationID)
	}
	if err := payload.Validate(s.cfg.MaxMessageLength); err != nil {
		return "", err
	}

	caller, err := s.identity.CurrentUserID(ctx)
	if err != nil {
		return "", err
	}
	if caller != authorID {
		return "", fmt.Errorf("%w: author does not match the signed-in user", apperrors.ErrUnauthorized)
	}

	if s.monitor != nil && !s.monitor.Online() {
		return "", fmt.Errorf("%w: offline, message not sent", apperrors.ErrUnreachable)
	}

	if s.cfg.WriteTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.WriteTimeout)
		defer cancel()
	}

	message := &domain.Message{
		ConversationID: conversationID,
		AuthorID:       caller,
		Payload:        payload,
	}
	if err := s.chatRepo.CreateMessage(ctx, message); err != nil {
		return "", unconfirmed(err)
	}

	s.log.Debug("Message appended", "conversation_id", conversationID, "message_id", message.ID)
	return message.ID, nil
}

func (s *chatService) Subscribe(conversationID string, onUpdate func(*domain.Snapshot), onErr func(error)) (Subscription, error) {
	if _, _, err := domain.ConversationParticipants(conversationID); err != nil {
		return nil, err
	}

	// Deliveries for one subscription are serial, so prev needs no lock.
	var prev []*domain.Message
	sub, err := s.chatRepo.WatchMessages(conversationID, func(messages []*domain.Message) {
		added, removed := domain.DiffMessageIDs(prev, messages)
		prev = messages
		metrics.SnapshotsDelivered.Inc()
		onUpdate(&domain.Snapshot{
			ConversationID: conversationID,
			Messages:       messages,
			Added:          added,
			Removed:        removed,
		})
	}, onErr)
	if err != nil {
		return nil, err
	}

	metrics.ActiveSubscriptions.Inc()
	return &countedSubscription{Subscription: sub}, nil
}

func (s *chatService) DeleteMessage(ctx context.Context, conversationID, messageID, requesterID string) error {
	if _, _, err := domain.ConversationParticipants(conversationID); err != nil {
		return err
	}
	if messageID == "" {
		return fmt.Errorf("%w: message id is required", apperrors.ErrValidation)
	}
	if err := requireSelf(ctx, s.identity, requesterID); err != nil {
		return err
	}

	message, err := s.chatRepo.GetMessageByID(ctx, messageID)
	if err != nil {
		return err
	}
	if message.ConversationID != conversationID {
		return fmt.Errorf("%w: message %s in %s", apperrors.ErrNotFound, messageID, conversationID)
	}
	if message.AuthorID != requesterID {
		return fmt.Errorf("%w: only the author can delete a message", apperrors.ErrForbidden)
	}

	if err := s.chatRepo.DeleteMessage(ctx, messageID); err != nil {
		return unconfirmed(err)
	}
	metrics.MessagesDeleted.Inc()

	logAudit(ctx, s.audit, s.log, requesterID, domain.EventTypeMessageDeleted, messageID, map[string]interface{}{
		"conversation_id": conversationID,
	})
	return nil
}

func (s *chatService) ListMessages(ctx context.Context, conversationID string) ([]*domain.Message, error) {
	if _, _, err := domain.ConversationParticipants(conversationID); err != nil {
		return nil, err
	}
	return s.chatRepo.GetMessages(ctx, conversationID)
}

// unconfirmed maps a write whose outcome is unknown to ErrUnreachable.
func unconfirmed(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		if apperrors.KindOf(err) != apperrors.KindUnreachable {
			return fmt.Errorf("%w: %v", apperrors.ErrUnreachable, err)
		}
	}
	return err
}

type countedSubscription struct {
	Subscription
	once sync.Once
}

func (s *countedSubscription) Cancel() {
	s.Subscription.Cancel()
	s.once.Do(metrics.ActiveSubscriptions.Dec)
}
