package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"realtime_chat/internal/config"
	"realtime_chat/internal/connectivity"
	"realtime_chat/internal/service"
	"realtime_chat/pkg/logger"
)

type Handlers struct {
	Health    *HealthHandler
	Auth      *AuthHandler
	User      *UserHandler
	Contact   *ContactHandler
	Chat      *ChatHandler
	Call      *CallHandler
	WebSocket *WebSocketHandler
}

func NewHandlers(services *service.Services, store connectivity.Pinger, monitor *connectivity.Monitor, cfg *config.Config, log logger.Logger) *Handlers {
	return &Handlers{
		Health:    NewHealthHandler(store, monitor, cfg),
		Auth:      NewAuthHandler(services.Auth, services.RateLimit, cfg.RateLimit, log),
		User:      NewUserHandler(services.User, services.Presence, services.Media, cfg.Media, log),
		Contact:   NewContactHandler(services.Contact, log),
		Chat:      NewChatHandler(services.Chat, services.Media, cfg.Media, log),
		Call:      NewCallHandler(services.Call, log),
		WebSocket: NewWebSocketHandler(services.Auth, services.Chat, services.Contact, services.Presence, services.Call, monitor, cfg, log),
	}
}

// invalidRequest answers a request whose body or form could not be bound.
func invalidRequest(c *gin.Context, log logger.Logger, err error) {
	log.Warn("Invalid request", "error", err, "path", c.FullPath())
	c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
}

// fail hands err to the error middleware, which picks the status code.
func fail(c *gin.Context, err error) {
	_ = c.Error(err)
}
