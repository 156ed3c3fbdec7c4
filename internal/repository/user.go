package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"realtime_chat/internal/docstore"
	"realtime_chat/internal/domain"
	apperrors "realtime_chat/pkg/errors"
	"realtime_chat/pkg/logger"
)

type UserRepository interface {
	// Create stores the profile and its credentials in one commit.
	Create(ctx context.Context, profile *domain.Profile, creds *domain.Credentials) error
	GetByID(ctx context.Context, id string) (*domain.Profile, error)
	GetByEmail(ctx context.Context, email string) (*domain.Profile, error)
	GetByPhone(ctx context.Context, phone string) (*domain.Profile, error)
	UpdateProfile(ctx context.Context, id string, displayName, avatarURL *string) error
	SetPresence(ctx context.Context, id string, presence domain.Presence, at time.Time) error
	GetCredentials(ctx context.Context, userID string) (*domain.Credentials, error)
	GetCredentialsByEmail(ctx context.Context, email string) (*domain.Credentials, error)
	MarkEmailVerified(ctx context.Context, userID string) error
}

type userRepository struct {
	store docstore.Store
	log   logger.Logger
}

func NewUserRepository(store docstore.Store, log logger.Logger) UserRepository {
	return &userRepository{store: store, log: log}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (r *userRepository) Create(ctx context.Context, profile *domain.Profile, creds *domain.Credentials) error {
	if profile.Presence == "" {
		profile.Presence = domain.PresenceOffline
	}
	profile.Email = normalizeEmail(profile.Email)

	writes := []docstore.Write{
		docstore.Create(CollectionUsers, profile.ID, map[string]interface{}{
			"display_name": profile.DisplayName,
			"email":        profile.Email,
			"phone":        profile.Phone,
			"avatar_url":   optionalString(profile.AvatarURL),
			"presence":     string(profile.Presence),
		}),
	}
	if creds != nil {
		creds.UserID = profile.ID
		creds.Email = normalizeEmail(creds.Email)
		writes = append(writes, docstore.Create(CollectionCredentials, profile.ID, map[string]interface{}{
			"email":          creds.Email,
			"password_hash":  creds.PasswordHash,
			"email_verified": creds.EmailVerified,
			"phone":          creds.Phone,
		}))
	}

	if err := r.store.Commit(ctx, writes...); err != nil {
		if apperrors.KindOf(err) == apperrors.KindConflict {
			r.log.Warn("User already exists", "user_id", profile.ID)
			return fmt.Errorf("%w: %s", apperrors.ErrUserAlreadyExists, profile.ID)
		}
		r.log.Error("Failed to create user", "error", err, "user_id", profile.ID)
		return err
	}

	created, err := r.GetByID(ctx, profile.ID)
	if err != nil {
		return err
	}
	*profile = *created
	return nil
}

func (r *userRepository) GetByID(ctx context.Context, id string) (*domain.Profile, error) {
	doc, err := r.store.GetByID(ctx, CollectionUsers, id)
	if err != nil {
		return nil, err
	}
	return profileFromDocument(doc), nil
}

func (r *userRepository) findOne(ctx context.Context, collection, field, value string) (*docstore.Document, error) {
	docs, err := r.store.Get(ctx, docstore.Query{
		Collection: collection,
		Where:      []docstore.Condition{docstore.Eq(field, value)},
		Limit:      1,
	})
	if err != nil {
		r.log.Error("Failed to look up user", "error", err, "collection", collection, "field", field)
		return nil, err
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("%w: user with %s", apperrors.ErrNotFound, field)
	}
	return docs[0], nil
}

func (r *userRepository) GetByEmail(ctx context.Context, email string) (*domain.Profile, error) {
	doc, err := r.findOne(ctx, CollectionUsers, "email", normalizeEmail(email))
	if err != nil {
		return nil, err
	}
	return profileFromDocument(doc), nil
}

func (r *userRepository) GetByPhone(ctx context.Context, phone string) (*domain.Profile, error) {
	doc, err := r.findOne(ctx, CollectionUsers, "phone", phone)
	if err != nil {
		return nil, err
	}
	return profileFromDocument(doc), nil
}

func (r *userRepository) UpdateProfile(ctx context.Context, id string, displayName, avatarURL *string) error {
	partial := map[string]interface{}{}
	if displayName != nil {
		partial["display_name"] = *displayName
	}
	if avatarURL != nil {
		partial["avatar_url"] = *avatarURL
	}
	if len(partial) == 0 {
		return nil
	}

	if err := r.store.Update(ctx, CollectionUsers, id, partial); err != nil {
		r.log.Error("Failed to update profile", "error", err, "user_id", id)
		return err
	}
	return nil
}

// SetPresence overwrites the previous value; the last write wins.
func (r *userRepository) SetPresence(ctx context.Context, id string, presence domain.Presence, at time.Time) error {
	err := r.store.Update(ctx, CollectionUsers, id, map[string]interface{}{
		"presence":            string(presence),
		"presence_changed_at": formatTime(at),
	})
	if err != nil {
		r.log.Error("Failed to set presence", "error", err, "user_id", id, "presence", presence)
		return err
	}
	return nil
}

func (r *userRepository) GetCredentials(ctx context.Context, userID string) (*domain.Credentials, error) {
	doc, err := r.store.GetByID(ctx, CollectionCredentials, userID)
	if err != nil {
		return nil, err
	}
	return credentialsFromDocument(doc), nil
}

func (r *userRepository) GetCredentialsByEmail(ctx context.Context, email string) (*domain.Credentials, error) {
	doc, err := r.findOne(ctx, CollectionCredentials, "email", normalizeEmail(email))
	if err != nil {
		return nil, err
	}
	return credentialsFromDocument(doc), nil
}

func (r *userRepository) MarkEmailVerified(ctx context.Context, userID string) error {
	if err := r.store.Update(ctx, CollectionCredentials, userID, map[string]interface{}{"email_verified": true}); err != nil {
		r.log.Error("Failed to mark email verified", "error", err, "user_id", userID)
		return err
	}
	return nil
}

func profileFromDocument(doc *docstore.Document) *domain.Profile {
	presence := domain.Presence(getString(doc.Data, "presence"))
	if !presence.Valid() {
		presence = domain.PresenceOffline
	}
	return &domain.Profile{
		ID:                doc.ID,
		DisplayName:       getString(doc.Data, "display_name"),
		Email:             getString(doc.Data, "email"),
		Phone:             getString(doc.Data, "phone"),
		AvatarURL:         getStringPtr(doc.Data, "avatar_url"),
		Presence:          presence,
		PresenceChangedAt: getTime(doc.Data, "presence_changed_at"),
		CreatedAt:         doc.CreatedAt,
		UpdatedAt:         doc.UpdatedAt,
	}
}

func credentialsFromDocument(doc *docstore.Document) *domain.Credentials {
	return &domain.Credentials{
		UserID:        doc.ID,
		Email:         getString(doc.Data, "email"),
		PasswordHash:  getString(doc.Data, "password_hash"),
		EmailVerified: getBool(doc.Data, "email_verified"),
		Phone:         getString(doc.Data, "phone"),
	}
}
