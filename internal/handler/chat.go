package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"realtime_chat/internal/config"
	"realtime_chat/internal/domain"
	"realtime_chat/internal/middleware"
	"realtime_chat/internal/service"
	"realtime_chat/pkg/logger"
)

// ChatHandler serves the conversation between the caller and :peerId.
type ChatHandler struct {
	chatService  service.ChatService
	mediaService service.MediaService
	maxUpload    int64
	log          logger.Logger
}

func NewChatHandler(chatService service.ChatService, mediaService service.MediaService, cfg config.MediaConfig, log logger.Logger) *ChatHandler {
	return &ChatHandler{
		chatService:  chatService,
		mediaService: mediaService,
		maxUpload:    cfg.MaxBytes,
		log:          log,
	}
}

func (h *ChatHandler) conversationID(c *gin.Context) (string, bool) {
	id, err := h.chatService.ConversationID(middleware.UserID(c), c.Param("peerId"))
	if err != nil {
		fail(c, err)
		return "", false
	}
	return id, true
}

func (h *ChatHandler) GetMessages(c *gin.Context) {
	conversationID, ok := h.conversationID(c)
	if !ok {
		return
	}

	messages, err := h.chatService.ListMessages(c.Request.Context(), conversationID)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"conversation_id": conversationID,
		"messages":        messages,
	})
}

type SendMessageRequest struct {
	Text  string           `json:"text"`
	Media *domain.MediaRef `json:"media"`
}

func (h *ChatHandler) SendMessage(c *gin.Context) {
	conversationID, ok := h.conversationID(c)
	if !ok {
		return
	}

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, h.log, err)
		return
	}

	id, err := h.chatService.AppendMessage(c.Request.Context(), conversationID, middleware.UserID(c), domain.Payload{
		Text:  req.Text,
		Media: req.Media,
	})
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"id": id, "conversation_id": conversationID})
}

func (h *ChatHandler) SendMedia(c *gin.Context) {
	conversationID, ok := h.conversationID(c)
	if !ok {
		return
	}

	filename, data, err := readUpload(c, h.maxUpload)
	if err != nil {
		fail(c, err)
		return
	}

	ref, id, err := h.mediaService.SendMedia(c.Request.Context(), conversationID, middleware.UserID(c), filename, data)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"id": id, "conversation_id": conversationID, "media": ref})
}

func (h *ChatHandler) DeleteMessage(c *gin.Context) {
	conversationID, ok := h.conversationID(c)
	if !ok {
		return
	}

	err := h.chatService.DeleteMessage(c.Request.Context(), conversationID, c.Param("messageId"), middleware.UserID(c))
	if err != nil {
		fail(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
