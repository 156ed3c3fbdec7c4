package service

import (
	"realtime_chat/internal/config"
	"realtime_chat/internal/connectivity"
	"realtime_chat/internal/objectstore"
	"realtime_chat/internal/repository"
	"realtime_chat/pkg/logger"
)

type Services struct {
	Auth      AuthService
	User      UserService
	Chat      ChatService
	Contact   ContactService
	Presence  PresenceService
	Media     MediaService
	Call      CallService
	RateLimit RateLimitService
	Audit     AuditService
}

// Deps are the collaborators built by the application before services.
type Deps struct {
	Objects    objectstore.Store
	Monitor    *connectivity.Monitor
	CodeSender CodeSender
}

func NewServices(repos *repository.Repositories, deps Deps, cfg *config.Config, log logger.Logger) *Services {
	audit := NewAuditService(repos.Audit, log)
	auth := NewAuthService(repos.User, repos.Verification, repos.Session, audit, deps.CodeSender, cfg.JWT, cfg.Auth, log)

	chat := NewChatService(repos.Chat, audit, auth, deps.Monitor, ChatOptions{
		MaxMessageLength: cfg.Chat.MaxMessageLength,
		WriteTimeout:     cfg.Chat.WriteTimeout,
	}, log)

	services := &Services{
		Auth:     auth,
		User:     NewUserService(repos.User, auth, log),
		Chat:     chat,
		Contact:  NewContactService(repos.Contact, repos.User, audit, auth, log),
		Presence: NewPresenceService(repos.User, auth, log),
		Media: NewMediaService(deps.Objects, chat, repos.User, auth, MediaOptions{
			MaxBytes:      cfg.Media.MaxBytes,
			UploadTimeout: cfg.Media.UploadTimeout,
		}, log),
		Call:      NewCallService(repos.Call, repos.User, audit, auth, log),
		RateLimit: NewRateLimitService(repos.RateLimit, log),
		Audit:     audit,
	}

	log.Info("Services initialized")
	return services
}
