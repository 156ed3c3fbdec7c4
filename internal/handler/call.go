package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v4"

	"realtime_chat/internal/middleware"
	"realtime_chat/internal/service"
	"realtime_chat/pkg/logger"
)

type CallHandler struct {
	callService service.CallService
	log         logger.Logger
}

func NewCallHandler(callService service.CallService, log logger.Logger) *CallHandler {
	return &CallHandler{
		callService: callService,
		log:         log,
	}
}

type StartCallRequest struct {
	CalleeID string                    `json:"callee_id" binding:"required"`
	Offer    webrtc.SessionDescription `json:"offer"`
}

func (h *CallHandler) Start(c *gin.Context) {
	var req StartCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, h.log, err)
		return
	}

	call, err := h.callService.StartCall(c.Request.Context(), middleware.UserID(c), req.CalleeID, req.Offer)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, call)
}

func (h *CallHandler) Get(c *gin.Context) {
	call, err := h.callService.GetCall(c.Request.Context(), c.Param("id"), middleware.UserID(c))
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, call)
}

type AnswerCallRequest struct {
	Answer webrtc.SessionDescription `json:"answer"`
}

func (h *CallHandler) Answer(c *gin.Context) {
	var req AnswerCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, h.log, err)
		return
	}

	if err := h.callService.AnswerCall(c.Request.Context(), c.Param("id"), middleware.UserID(c), req.Answer); err != nil {
		fail(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *CallHandler) AddCandidate(c *gin.Context) {
	var candidate webrtc.ICECandidateInit
	if err := c.ShouldBindJSON(&candidate); err != nil {
		invalidRequest(c, h.log, err)
		return
	}

	if err := h.callService.AddCandidate(c.Request.Context(), c.Param("id"), middleware.UserID(c), candidate); err != nil {
		fail(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *CallHandler) HangUp(c *gin.Context) {
	if err := h.callService.HangUp(c.Request.Context(), c.Param("id"), middleware.UserID(c)); err != nil {
		fail(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
