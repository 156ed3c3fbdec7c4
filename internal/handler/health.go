package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"realtime_chat/internal/config"
	"realtime_chat/internal/connectivity"
)

type HealthHandler struct {
	store    connectivity.Pinger
	monitor  *connectivity.Monitor
	hostIP   string
	port     int
	mediaURL string
}

func NewHealthHandler(store connectivity.Pinger, monitor *connectivity.Monitor, cfg *config.Config) *HealthHandler {
	return &HealthHandler{
		store:    store,
		monitor:  monitor,
		hostIP:   config.GetLocalIP(),
		port:     cfg.Server.Port,
		mediaURL: cfg.Media.BaseURL,
	}
}

// Check answers 200 while the store responds and 503 otherwise.
func (h *HealthHandler) Check(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "degraded",
			"service": "realtime-chat",
			"store":   "unreachable",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "realtime-chat",
		"store":   "ok",
	})
}

// ServerInfo tells clients where the API, sockets and media live.
func (h *HealthHandler) ServerInfo(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"host_ip":      h.hostIP,
		"api_base":     "/api/v1",
		"ws_base":      "/ws",
		"media_base":   h.mediaURL,
		"store_online": h.monitor.Online(),
		"port":         h.port,
	})
}
