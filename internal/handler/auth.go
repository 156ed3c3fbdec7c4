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

type AuthHandler struct {
	authService      service.AuthService
	rateLimitService service.RateLimitService
	phoneRule        domain.RateLimitRule
	log              logger.Logger
}

func NewAuthHandler(authService service.AuthService, rateLimitService service.RateLimitService, cfg config.RateLimitConfig, log logger.Logger) *AuthHandler {
	return &AuthHandler{
		authService:      authService,
		rateLimitService: rateLimitService,
		phoneRule: domain.RateLimitRule{
			Scope:  domain.RateLimitScopePhone,
			Limit:  cfg.PhoneLimit,
			Window: cfg.PhoneWindow,
		},
		log: log,
	}
}

type RegisterRequest struct {
	Email       string `json:"email" binding:"required,email"`
	Password    string `json:"password" binding:"required"`
	DisplayName string `json:"display_name" binding:"required"`
}

type VerifyEmailRequest struct {
	Token string `json:"token" binding:"required"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type PhoneCodeRequest struct {
	Phone string `json:"phone" binding:"required"`
}

type PhoneVerifyRequest struct {
	Phone       string `json:"phone" binding:"required"`
	Code        string `json:"code" binding:"required"`
	DisplayName string `json:"display_name"`
}

type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

func (h *AuthHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, h.log, err)
		return
	}

	resp, err := h.authService.RegisterEmail(c.Request.Context(), req.Email, req.Password, req.DisplayName)
	if err != nil {
		h.log.Warn("Registration failed", "error", err, "email", req.Email)
		fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

func (h *AuthHandler) VerifyEmail(c *gin.Context) {
	var req VerifyEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, h.log, err)
		return
	}

	if err := h.authService.VerifyEmail(c.Request.Context(), req.Token); err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Email verified"})
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, h.log, err)
		return
	}

	resp, err := h.authService.LoginEmail(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		h.log.Warn("Login failed", "error", err, "email", req.Email)
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (h *AuthHandler) RequestPhoneCode(c *gin.Context) {
	var req PhoneCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, h.log, err)
		return
	}

	if err := h.rateLimitService.Allow(c.Request.Context(), h.phoneRule, req.Phone); err != nil {
		fail(c, err)
		return
	}

	if err := h.authService.RequestPhoneCode(c.Request.Context(), req.Phone); err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"message": "Code sent"})
}

func (h *AuthHandler) VerifyPhoneCode(c *gin.Context) {
	var req PhoneVerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, h.log, err)
		return
	}

	resp, err := h.authService.VerifyPhoneCode(c.Request.Context(), req.Phone, req.Code, req.DisplayName)
	if err != nil {
		h.log.Warn("Phone verification failed", "error", err)
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (h *AuthHandler) RefreshToken(c *gin.Context) {
	var req RefreshTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, h.log, err)
		return
	}

	resp, err := h.authService.RefreshToken(c.Request.Context(), req.RefreshToken)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (h *AuthHandler) Logout(c *gin.Context) {
	if err := h.authService.SignOut(c.Request.Context(), middleware.UserID(c)); err != nil {
		fail(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
