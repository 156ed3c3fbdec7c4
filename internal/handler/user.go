package handler

import (
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"realtime_chat/internal/config"
	"realtime_chat/internal/domain"
	"realtime_chat/internal/middleware"
	"realtime_chat/internal/service"
	apperrors "realtime_chat/pkg/errors"
	"realtime_chat/pkg/logger"
)

type UserHandler struct {
	userService     service.UserService
	presenceService service.PresenceService
	mediaService    service.MediaService
	maxUpload       int64
	log             logger.Logger
}

func NewUserHandler(userService service.UserService, presenceService service.PresenceService, mediaService service.MediaService, cfg config.MediaConfig, log logger.Logger) *UserHandler {
	return &UserHandler{
		userService:     userService,
		presenceService: presenceService,
		mediaService:    mediaService,
		maxUpload:       cfg.MaxBytes,
		log:             log,
	}
}

func (h *UserHandler) GetMe(c *gin.Context) {
	profile, err := h.userService.GetProfile(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, profile)
}

type UpdateMeRequest struct {
	DisplayName *string `json:"display_name"`
	AvatarURL   *string `json:"avatar_url"`
}

func (h *UserHandler) UpdateMe(c *gin.Context) {
	var req UpdateMeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, h.log, err)
		return
	}

	profile, err := h.userService.UpdateProfile(c.Request.Context(), middleware.UserID(c), req.DisplayName, req.AvatarURL)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, profile)
}

func (h *UserHandler) GetUser(c *gin.Context) {
	profile, err := h.userService.GetProfile(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, profile)
}

// Lookup finds a user by ?email= or ?phone=.
func (h *UserHandler) Lookup(c *gin.Context) {
	var (
		profile *domain.Profile
		err     error
	)
	switch {
	case c.Query("email") != "":
		profile, err = h.userService.FindByEmail(c.Request.Context(), c.Query("email"))
	case c.Query("phone") != "":
		profile, err = h.userService.FindByPhone(c.Request.Context(), c.Query("phone"))
	default:
		err = fmt.Errorf("%w: email or phone is required", apperrors.ErrValidation)
	}
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, profile)
}

type SetPresenceRequest struct {
	Presence domain.Presence `json:"presence" binding:"required"`
}

func (h *UserHandler) SetPresence(c *gin.Context) {
	var req SetPresenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, h.log, err)
		return
	}

	if err := h.presenceService.SetPresence(c.Request.Context(), middleware.UserID(c), req.Presence); err != nil {
		fail(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *UserHandler) UploadAvatar(c *gin.Context) {
	filename, data, err := readUpload(c, h.maxUpload)
	if err != nil {
		fail(c, err)
		return
	}

	profile, err := h.mediaService.UploadAvatar(c.Request.Context(), middleware.UserID(c), filename, data)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, profile)
}

// readUpload reads the multipart "file" field. Reading stops one byte past
// limit so the media service can reject oversized files.
func readUpload(c *gin.Context, limit int64) (string, []byte, error) {
	header, err := c.FormFile("file")
	if err != nil {
		return "", nil, fmt.Errorf("%w: file field is required", apperrors.ErrValidation)
	}

	f, err := header.Open()
	if err != nil {
		return "", nil, fmt.Errorf("%w: open upload: %v", apperrors.ErrValidation, err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return "", nil, fmt.Errorf("%w: read upload: %v", apperrors.ErrValidation, err)
	}
	return header.Filename, data, nil
}
