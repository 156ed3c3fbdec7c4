package repository

import (
	"context"
	"fmt"

	"realtime_chat/internal/docstore"
	"realtime_chat/internal/domain"
	"realtime_chat/pkg/logger"
)

// ChatRepository stores conversation messages. Messages are append-only:
// there is no update path, only create and hard delete.
type ChatRepository interface {
	CreateMessage(ctx context.Context, message *domain.Message) error
	GetMessages(ctx context.Context, conversationID string) ([]*domain.Message, error)
	GetMessageByID(ctx context.Context, messageID string) (*domain.Message, error)
	DeleteMessage(ctx context.Context, messageID string) error
	WatchMessages(conversationID string, fn func([]*domain.Message), onErr func(error)) (docstore.Subscription, error)
}

type chatRepository struct {
	store docstore.Store
	log   logger.Logger
}

func NewChatRepository(store docstore.Store, log logger.Logger) ChatRepository {
	return &chatRepository{store: store, log: log}
}

func messagesQuery(conversationID string) docstore.Query {
	return docstore.Query{
		Collection: CollectionMessages,
		Where:      []docstore.Condition{docstore.Eq("conversation_id", conversationID)},
	}
}

// CreateMessage fills in ID and CreatedAt from the store.
func (r *chatRepository) CreateMessage(ctx context.Context, message *domain.Message) error {
	data := map[string]interface{}{
		"conversation_id": message.ConversationID,
		"author_id":       message.AuthorID,
		"kind":            string(message.Payload.Kind()),
	}
	if message.Payload.Media != nil {
		data["media_url"] = message.Payload.Media.URL
		data["media_kind"] = string(message.Payload.Media.Kind)
	} else {
		data["text"] = message.Payload.Text
	}

	doc, err := r.store.Add(ctx, CollectionMessages, data)
	if err != nil {
		r.log.Error("Failed to create message", "error", err, "conversation_id", message.ConversationID)
		return err
	}

	message.ID = doc.ID
	message.CreatedAt = doc.CreatedAt
	return nil
}

func (r *chatRepository) GetMessages(ctx context.Context, conversationID string) ([]*domain.Message, error) {
	docs, err := r.store.Get(ctx, messagesQuery(conversationID))
	if err != nil {
		r.log.Error("Failed to get messages", "error", err, "conversation_id", conversationID)
		return nil, err
	}
	return messagesFromDocuments(docs), nil
}

func (r *chatRepository) GetMessageByID(ctx context.Context, messageID string) (*domain.Message, error) {
	doc, err := r.store.GetByID(ctx, CollectionMessages, messageID)
	if err != nil {
		return nil, err
	}
	return messageFromDocument(doc), nil
}

func (r *chatRepository) DeleteMessage(ctx context.Context, messageID string) error {
	if err := r.store.Delete(ctx, CollectionMessages, messageID); err != nil {
		r.log.Error("Failed to delete message", "error", err, "message_id", messageID)
		return err
	}
	return nil
}

func (r *chatRepository) WatchMessages(conversationID string, fn func([]*domain.Message), onErr func(error)) (docstore.Subscription, error) {
	sub, err := r.store.SubscribeOrdered(messagesQuery(conversationID), func(docs []*docstore.Document) {
		fn(messagesFromDocuments(docs))
	}, docstore.WithErrorHandler(onErr))
	if err != nil {
		return nil, fmt.Errorf("watch messages: %w", err)
	}
	return sub, nil
}

func messagesFromDocuments(docs []*docstore.Document) []*domain.Message {
	messages := make([]*domain.Message, 0, len(docs))
	for _, doc := range docs {
		messages = append(messages, messageFromDocument(doc))
	}
	return messages
}

func messageFromDocument(doc *docstore.Document) *domain.Message {
	m := &domain.Message{
		ID:             doc.ID,
		ConversationID: getString(doc.Data, "conversation_id"),
		AuthorID:       getString(doc.Data, "author_id"),
		CreatedAt:      doc.CreatedAt,
	}
	if domain.MessageKind(getString(doc.Data, "kind")) == domain.MessageKindMedia {
		m.Payload = domain.MediaPayload(getString(doc.Data, "media_url"), domain.MediaKind(getString(doc.Data, "media_kind")))
	} else {
		m.Payload = domain.TextPayload(getString(doc.Data, "text"))
	}
	return m
}
