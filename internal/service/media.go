package service

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"realtime_chat/internal/domain"
	"realtime_chat/internal/metrics"
	"realtime_chat/internal/objectstore"
	"realtime_chat/internal/repository"
	apperrors "realtime_chat/pkg/errors"
	"realtime_chat/pkg/logger"
)

type MediaService interface {
	Upload(ctx context.Context, ownerID, filename string, data []byte) (*domain.MediaRef, error)
	// SendMedia uploads data and appends it to the conversation as a media
	// message.
	SendMedia(ctx context.Context, conversationID, authorID, filename string, data []byte) (*domain.MediaRef, string, error)
	UploadAvatar(ctx context.Context, userID, filename string, data []byte) (*domain.Profile, error)
}

type MediaOptions struct {
	MaxBytes      int64
	UploadTimeout time.Duration
}

type mediaService struct {
	objects  objectstore.Store
	chat     ChatService
	userRepo repository.UserRepository
	identity Identity
	cfg      MediaOptions
	log      logger.Logger
}

func NewMediaService(objects objectstore.Store, chat ChatService, userRepo repository.UserRepository, identity Identity, cfg MediaOptions, log logger.Logger) MediaService {
	return &mediaService{
		objects:  objects,
		chat:     chat,
		userRepo: userRepo,
		identity: identity,
		cfg:      cfg,
		log:      log,
	}
}

func (s *mediaService) Upload(ctx context.Context, ownerID, filename string, data []byte) (*domain.MediaRef, error) {
	if err := requireSelf(ctx, s.identity, ownerID); err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: file is empty", apperrors.ErrValidation)
	}
	if s.cfg.MaxBytes > 0 && int64(len(data)) > s.cfg.MaxBytes {
		return nil, fmt.Errorf("%w: file exceeds %d bytes", apperrors.ErrValidation, s.cfg.MaxBytes)
	}

	mt := mimetype.Detect(data)
	kind := MediaKindOf(mt.String())
	ext := mt.Extension()
	if ext == "" {
		ext = strings.ToLower(filepath.Ext(filename))
	}
	objectPath := path.Join("media", ownerID, uuid.NewString()+ext)

	if s.cfg.UploadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.UploadTimeout)
		defer cancel()
	}

	url, err := s.objects.Upload(ctx, objectPath, data, mt.String())
	if err != nil {
		s.log.Error("Failed to upload media", "error", err, "owner_id", ownerID, "path", objectPath)
		return nil, unconfirmed(err)
	}
	metrics.MediaUploadedBytes.WithLabelValues(string(kind)).Add(float64(len(data)))

	s.log.Info("Media uploaded", "owner_id", ownerID, "path", objectPath, "mime", mt.String(), "size", len(data))
	return &domain.MediaRef{URL: url, Kind: kind}, nil
}

func (s *mediaService) SendMedia(ctx context.Context, conversationID, authorID, filename string, data []byte) (*domain.MediaRef, string, error) {
	if !domain.IsParticipant(conversationID, authorID) {
		return nil, "", fmt.Errorf("%w: author is not a participant of %s", apperrors.ErrValidation, conversationID)
	}

	ref, err := s.Upload(ctx, authorID, filename, data)
	if err != nil {
		return nil, "", err
	}
	id, err := s.chat.AppendMessage(ctx, conversationID, authorID, domain.MediaPayload(ref.URL, ref.Kind))
	if err != nil {
		return ref, "", err
	}
	return ref, id, nil
}

func (s *mediaService) UploadAvatar(ctx context.Context, userID, filename string, data []byte) (*domain.Profile, error) {
	if MediaKindOf(mimetype.Detect(data).String()) != domain.MediaKindImage {
		return nil, fmt.Errorf("%w: avatar must be an image", apperrors.ErrValidation)
	}
	ref, err := s.Upload(ctx, userID, filename, data)
	if err != nil {
		return nil, err
	}
	if err := s.userRepo.UpdateProfile(ctx, userID, nil, &ref.URL); err != nil {
		return nil, err
	}
	return s.userRepo.GetByID(ctx, userID)
}

// MediaKindOf maps a MIME type to the message media kind.
func MediaKindOf(mimeType string) domain.MediaKind {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return domain.MediaKindImage
	case strings.HasPrefix(mimeType, "video/"):
		return domain.MediaKindVideo
	case strings.HasPrefix(mimeType, "audio/"):
		return domain.MediaKindAudio
	default:
		return domain.MediaKindDocument
	}
}
