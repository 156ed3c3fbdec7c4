package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"realtime_chat/internal/middleware"
	"realtime_chat/internal/service"
	"realtime_chat/pkg/logger"
)

type ContactHandler struct {
	contactService service.ContactService
	log            logger.Logger
}

func NewContactHandler(contactService service.ContactService, log logger.Logger) *ContactHandler {
	return &ContactHandler{
		contactService: contactService,
		log:            log,
	}
}

func (h *ContactHandler) List(c *gin.Context) {
	contacts, err := h.contactService.ListFriends(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, contacts)
}

type AddContactRequest struct {
	FriendID string `json:"friend_id" binding:"required"`
}

func (h *ContactHandler) Add(c *gin.Context) {
	var req AddContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, h.log, err)
		return
	}

	contact, err := h.contactService.AddFriend(c.Request.Context(), middleware.UserID(c), req.FriendID)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, contact)
}

func (h *ContactHandler) Remove(c *gin.Context) {
	if err := h.contactService.RemoveFriend(c.Request.Context(), middleware.UserID(c), c.Param("friendId")); err != nil {
		fail(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
