package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tsudoi-app/tsudoi/backend/internal/circles"
)

type circlePayload struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	OwnerID     string    `json:"owner_id"`
	InviteCode  string    `json:"invite_code"`
	CreatedAt   time.Time `json:"created_at"`
}

func toCirclePayload(circle circles.Circle) circlePayload {
	return circlePayload{
		ID:          circle.ID,
		Name:        circle.Name,
		Description: circle.Description,
		OwnerID:     circle.OwnerID,
		InviteCode:  circle.InviteCode,
		CreatedAt:   circle.CreatedAt,
	}
}

type joinRequestPayload struct {
	ID         string     `json:"id"`
	CircleID   string     `json:"circle_id"`
	UserID     string     `json:"user_id"`
	Status     string     `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	ReviewedAt *time.Time `json:"reviewed_at,omitempty"`
	ReviewedBy string     `json:"reviewed_by,omitempty"`
}

func toJoinRequestPayload(request circles.JoinRequest) joinRequestPayload {
	return joinRequestPayload{
		ID:         request.ID,
		CircleID:   request.CircleID,
		UserID:     request.UserID,
		Status:     string(request.Status),
		CreatedAt:  request.CreatedAt,
		ReviewedAt: request.ReviewedAt,
		ReviewedBy: request.ReviewedBy,
	}
}

type createCirclePayload struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (h *httpHandler) handleCreateCircle(c *gin.Context) {
	userID := c.GetString(userIDContextKey)

	var request createCirclePayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Name) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	circle, err := h.circles.CreateCircle(c.Request.Context(), userID, request.Name, request.Description)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toCirclePayload(circle))
}

func (h *httpHandler) handleListCircles(c *gin.Context) {
	userID := c.GetString(userIDContextKey)

	listed, err := h.circles.ListCircles(c.Request.Context(), userID)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	payload := make([]circlePayload, 0, len(listed))
	for _, circle := range listed {
		payload = append(payload, toCirclePayload(circle))
	}
	c.JSON(http.StatusOK, gin.H{"circles": payload})
}

type joinByCodePayload struct {
	InviteCode string `json:"invite_code"`
}

func (h *httpHandler) handleJoinByCode(c *gin.Context) {
	userID := c.GetString(userIDContextKey)

	var request joinByCodePayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.InviteCode) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	circle, err := h.circles.JoinByCode(c.Request.Context(), userID, request.InviteCode)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, toCirclePayload(circle))
}

func (h *httpHandler) handleRegenerateInviteCode(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	circleID := c.Param("circleID")

	code, err := h.circles.RegenerateInviteCode(c.Request.Context(), circleID, userID)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"invite_code": code})
}

func (h *httpHandler) handleRequestJoin(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	circleID := c.Param("circleID")

	request, err := h.circles.RequestJoin(c.Request.Context(), circleID, userID)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toJoinRequestPayload(request))
}

func (h *httpHandler) handleListJoinRequests(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	circleID := c.Param("circleID")

	listed, err := h.circles.ListJoinRequests(c.Request.Context(), circleID, userID)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	payload := make([]joinRequestPayload, 0, len(listed))
	for _, request := range listed {
		payload = append(payload, toJoinRequestPayload(request))
	}
	c.JSON(http.StatusOK, gin.H{"join_requests": payload})
}

type reviewJoinRequestPayload struct {
	Approve bool `json:"approve"`
}

func (h *httpHandler) handleReviewJoinRequest(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	requestID := c.Param("requestID")

	var request reviewJoinRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	if err := h.circles.ReviewJoinRequest(c.Request.Context(), requestID, userID, request.Approve); err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "reviewed"})
}
