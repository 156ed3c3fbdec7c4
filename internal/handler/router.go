package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"realtime_chat/internal/config"
	"realtime_chat/internal/domain"
	"realtime_chat/internal/middleware"
	"realtime_chat/pkg/logger"
)

// RouterOptions carries the pieces the router needs besides handlers.
type RouterOptions struct {
	Auth      *middleware.AuthMiddleware
	RateLimit *middleware.RateLimitMiddleware
	// MediaDir is served under /media when set.
	MediaDir string
}

func NewRouter(handlers *Handlers, opts RouterOptions, cfg *config.Config, log logger.Logger) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.CORS(cfg.Server.AllowedOrigins))
	router.Use(middleware.RequestLogger(log))
	router.Use(middleware.ErrorHandler())

	router.GET("/health", handlers.Health.Check)
	router.GET("/server-info", handlers.Health.ServerInfo)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if opts.MediaDir != "" {
		router.Static("/media", opts.MediaDir)
	}

	authLimit := opts.RateLimit.Limit(domain.RateLimitRule{
		Scope:  domain.RateLimitScopeIP,
		Limit:  cfg.RateLimit.AuthLimit,
		Window: cfg.RateLimit.AuthWindow,
	})
	requireAuth := opts.Auth.RequireAuth()

	v1 := router.Group("/api/v1")
	{
		public := v1.Group("/auth")
		public.Use(authLimit)
		{
			public.POST("/register", handlers.Auth.Register)
			public.POST("/verify-email", handlers.Auth.VerifyEmail)
			public.POST("/login", handlers.Auth.Login)
			public.POST("/phone/code", handlers.Auth.RequestPhoneCode)
			public.POST("/phone/verify", handlers.Auth.VerifyPhoneCode)
			public.POST("/refresh", handlers.Auth.RefreshToken)
		}

		protected := v1.Group("")
		protected.Use(requireAuth)
		{
			protected.POST("/auth/logout", handlers.Auth.Logout)

			users := protected.Group("/users")
			{
				users.GET("/me", handlers.User.GetMe)
				users.PUT("/me", handlers.User.UpdateMe)
				users.PUT("/me/presence", handlers.User.SetPresence)
				users.POST("/me/avatar", handlers.User.UploadAvatar)
				users.GET("/lookup", handlers.User.Lookup)
				users.GET("/:id", handlers.User.GetUser)
			}

			contacts := protected.Group("/contacts")
			{
				contacts.GET("", handlers.Contact.List)
				contacts.POST("", handlers.Contact.Add)
				contacts.DELETE("/:friendId", handlers.Contact.Remove)
			}

			conversations := protected.Group("/conversations/:peerId")
			{
				conversations.GET("/messages", handlers.Chat.GetMessages)
				conversations.POST("/messages", handlers.Chat.SendMessage)
				conversations.POST("/media", handlers.Chat.SendMedia)
				conversations.DELETE("/messages/:messageId", handlers.Chat.DeleteMessage)
			}

			calls := protected.Group("/calls")
			{
				calls.POST("", handlers.Call.Start)
				calls.GET("/:id", handlers.Call.Get)
				calls.POST("/:id/answer", handlers.Call.Answer)
				calls.POST("/:id/candidates", handlers.Call.AddCandidate)
				calls.DELETE("/:id", handlers.Call.HangUp)
			}
		}
	}

	ws := router.Group("/ws")
	ws.Use(requireAuth)
	{
		ws.GET("/conversations/:peerId", handlers.WebSocket.HandleConversation)
		ws.GET("/calls/:id", handlers.WebSocket.HandleCall)
		ws.GET("/incoming-calls", handlers.WebSocket.HandleIncoming)
		ws.GET("/contacts", handlers.WebSocket.HandleContacts)
	}

	return router
}
