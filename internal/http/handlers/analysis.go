package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/arfor-backend/internal/http/middleware"
	"github.com/yungbote/arfor-backend/internal/http/response"
	"github.com/yungbote/arfor-backend/internal/services"
)

type AnalysisHandler struct {
	analyses services.AnalysisService
}

func NewAnalysisHandler(analyses services.AnalysisService) *AnalysisHandler {
	return &AnalysisHandler{analyses: analyses}
}

type startRequest struct {
	Ticker string `json:"ticker"`
}

func bindTicker(c *gin.Context) (string, bool) {
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Ticker == "" {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", errors.New("Body must be JSON with a ticker field"))
		return "", false
	}
	return req.Ticker, true
}

// POST /api/analyze
func (h *AnalysisHandler) Start(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.RespondError(c, http.StatusUnauthorized, "unauthorized", errors.New("Not authenticated"))
		return
	}
	ticker, ok := bindTicker(c)
	if !ok {
		return
	}
	res, err := h.analyses.Start(c.Request.Context(), userID, ticker)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, res)
}

// POST /api/analyze/demo
func (h *AnalysisHandler) StartDemo(c *gin.Context) {
	ticker, ok := bindTicker(c)
	if !ok {
		return
	}
	res, err := h.analyses.StartDemo(c.Request.Context(), c.ClientIP(), ticker)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, res)
}

// POST /api/analyze/:id/cancel
func (h *AnalysisHandler) Cancel(c *gin.Context) {
	id := c.Param("id")
	res, err := h.analyses.Cancel(c.Request.Context(), id)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	status := http.StatusOK
	if res == services.CancelForwarded {
		status = http.StatusAccepted
	}
	c.JSON(status, gin.H{"status": string(res), "analysis_id": id})
}

// GET /api/analyze/:id/status
func (h *AnalysisHandler) Status(c *gin.Context) {
	snap, err := h.analyses.Status(c.Param("id"))
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, snap)
}
