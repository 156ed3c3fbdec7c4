package repository

import (
	"context"
	"fmt"

	"realtime_chat/internal/docstore"
	"realtime_chat/internal/domain"
	"realtime_chat/pkg/logger"
)

type ContactRepository interface {
	ListByOwner(ctx context.Context, ownerID string) ([]*domain.Contact, error)
	Get(ctx context.Context, ownerID, friendID string) (*domain.Contact, error)
	// CreateEdges writes all edges in one atomic commit.
	CreateEdges(ctx context.Context, edges ...*domain.Contact) error
	Delete(ctx context.Context, ownerID, friendID string) error
	Watch(ownerID string, fn func([]*domain.Contact), onErr func(error)) (docstore.Subscription, error)
}

type contactRepository struct {
	store docstore.Store
	log   logger.Logger
}

func NewContactRepository(store docstore.Store, log logger.Logger) ContactRepository {
	return &contactRepository{store: store, log: log}
}

// contactID is the document id of the owner->friend edge. User ids never
// contain the conversation separator, so the pair is unambiguous.
func contactID(ownerID, friendID string) string {
	return ownerID + domain.ConversationSeparator + friendID
}

func contactsQuery(ownerID string) docstore.Query {
	return docstore.Query{
		Collection: CollectionContacts,
		Where:      []docstore.Condition{docstore.Eq("owner_id", ownerID)},
	}
}

func (r *contactRepository) ListByOwner(ctx context.Context, ownerID string) ([]*domain.Contact, error) {
	docs, err := r.store.Get(ctx, contactsQuery(ownerID))
	if err != nil {
		r.log.Error("Failed to list contacts", "error", err, "owner_id", ownerID)
		return nil, err
	}
	return contactsFromDocuments(docs), nil
}

func (r *contactRepository) Get(ctx context.Context, ownerID, friendID string) (*domain.Contact, error) {
	doc, err := r.store.GetByID(ctx, CollectionContacts, contactID(ownerID, friendID))
	if err != nil {
		return nil, err
	}
	return contactFromDocument(doc), nil
}

func (r *contactRepository) CreateEdges(ctx context.Context, edges ...*domain.Contact) error {
	writes := make([]docstore.Write, 0, len(edges))
	for _, edge := range edges {
		edge.ID = contactID(edge.OwnerID, edge.FriendID)
		writes = append(writes, docstore.Create(CollectionContacts, edge.ID, map[string]interface{}{
			"owner_id":          edge.OwnerID,
			"friend_id":         edge.FriendID,
			"friend_name":       edge.FriendName,
			"friend_avatar_url": optionalString(edge.FriendAvatarURL),
		}))
	}

	if err := r.store.Commit(ctx, writes...); err != nil {
		r.log.Error("Failed to create contacts", "error", err, "edges", len(edges))
		return err
	}
	return nil
}

func (r *contactRepository) Delete(ctx context.Context, ownerID, friendID string) error {
	if err := r.store.Delete(ctx, CollectionContacts, contactID(ownerID, friendID)); err != nil {
		r.log.Error("Failed to delete contact", "error", err, "owner_id", ownerID, "friend_id", friendID)
		return err
	}
	return nil
}

func (r *contactRepository) Watch(ownerID string, fn func([]*domain.Contact), onErr func(error)) (docstore.Subscription, error) {
	sub, err := r.store.SubscribeOrdered(contactsQuery(ownerID), func(docs []*docstore.Document) {
		fn(contactsFromDocuments(docs))
	}, docstore.WithErrorHandler(onErr))
	if err != nil {
		return nil, fmt.Errorf("watch contacts: %w", err)
	}
	return sub, nil
}

func contactsFromDocuments(docs []*docstore.Document) []*domain.Contact {
	contacts := make([]*domain.Contact, 0, len(docs))
	for _, doc := range docs {
		contacts = append(contacts, contactFromDocument(doc))
	}
	return contacts
}

func contactFromDocument(doc *docstore.Document) *domain.Contact {
	return &domain.Contact{
		ID:              doc.ID,
		OwnerID:         getString(doc.Data, "owner_id"),
		FriendID:        getString(doc.Data, "friend_id"),
		FriendName:      getString(doc.Data, "friend_name"),
		FriendAvatarURL: getStringPtr(doc.Data, "friend_avatar_url"),
		CreatedAt:       doc.CreatedAt,
	}
}
