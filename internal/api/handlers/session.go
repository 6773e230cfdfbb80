package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/tradegate/tradegate/internal/models"
	"github.com/tradegate/tradegate/internal/services/supervisor"
)

// SessionHandler exposes the session lifecycle over HTTP.
type SessionHandler struct {
	supervisor *supervisor.Supervisor
}

func NewSessionHandler(sup *supervisor.Supervisor) *SessionHandler {
	return &SessionHandler{supervisor: sup}
}

type CreateSessionRequest struct {
	UserID          string `json:"user_id" binding:"required"`
	DurationMinutes int    `json:"duration_minutes" binding:"required"`
	LossLimit       string `json:"loss_limit" binding:"required"`
}

type SessionResponse struct {
	Status   string                   `json:"status"`
	Data     *models.TradingSession   `json:"data,omitempty"`
	Sessions []*models.TradingSession `json:"sessions,omitempty"`
}

// CreateSession provisions a new session in the pending state.
func (h *SessionHandler) CreateSession(c *gin.Context) {
	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	lossLimit, err := decimal.NewFromString(req.LossLimit)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "loss_limit must be a decimal number"})
		return
	}

	session, err := h.supervisor.CreateSession(c.Request.Context(), req.UserID, req.DurationMinutes, lossLimit)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, SessionResponse{Status: "success", Data: session})
}

type sessionActionRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

// StartSession activates a pending session; the loss-limit clock starts here.
func (h *SessionHandler) StartSession(c *gin.Context) {
	h.transition(c, h.supervisor.StartSession)
}

// StopSession ends a session at the user's request.
func (h *SessionHandler) StopSession(c *gin.Context) {
	h.transition(c, h.supervisor.StopSession)
}

// EmergencyStopSession ends a session and liquidates its open positions.
func (h *SessionHandler) EmergencyStopSession(c *gin.Context) {
	h.transition(c, h.supervisor.EmergencyStopSession)
}

func (h *SessionHandler) transition(c *gin.Context, op func(ctx context.Context, sessionID, userID string) (*models.TradingSession, error)) {
	sessionID := c.Param("id")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session ID is required"})
		return
	}

	var req sessionActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	session, err := op(c.Request.Context(), sessionID, req.UserID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, SessionResponse{Status: "success", Data: session})
}

// GetSession returns one session owned by the requesting user.
func (h *SessionHandler) GetSession(c *gin.Context) {
	sessionID := c.Param("id")
	userID := c.Query("user_id")
	if sessionID == "" || userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session ID and user_id are required"})
		return
	}

	session, err := h.supervisor.GetSession(c.Request.Context(), sessionID, userID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, SessionResponse{Status: "success", Data: session})
}

// GetActiveSession returns the user's currently open session, if any.
func (h *SessionHandler) GetActiveSession(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id query parameter is required"})
		return
	}

	session, err := h.supervisor.ActiveSession(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, SessionResponse{Status: "success", Data: session})
}

// ListSessionHistory returns the user's sessions, newest first.
func (h *SessionHandler) ListSessionHistory(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id query parameter is required"})
		return
	}

	limit := 20
	if limitStr := c.Query("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = l
		}
	}

	sessions, err := h.supervisor.SessionHistory(c.Request.Context(), userID, limit)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, SessionResponse{Status: "success", Sessions: sessions})
}
