package repository

import (
	"github.com/redis/go-redis/v9"

	"realtime_chat/internal/docstore"
	"realtime_chat/pkg/logger"
)

type Repositories struct {
	User         UserRepository
	Chat         ChatRepository
	Contact      ContactRepository
	Call         CallRepository
	Audit        AuditRepository
	RateLimit    RateLimitRepository
	Verification VerificationRepository
	Session      SessionRepository
}

func NewRepositories(store docstore.Store, redis *redis.Client, log logger.Logger) *Repositories {
	repos := &Repositories{
		User:         NewUserRepository(store, log),
		Chat:         NewChatRepository(store, log),
		Contact:      NewContactRepository(store, log),
		Call:         NewCallRepository(store, log),
		Audit:        NewAuditRepository(store, log),
		RateLimit:    NewRateLimitRepository(redis, log),
		Verification: NewVerificationRepository(redis, log),
		Session:      NewSessionRepository(redis, log),
	}

	log.Info("Repositories initialized")
	return repos
}
