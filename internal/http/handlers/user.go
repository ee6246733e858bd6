package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/arfor-backend/internal/http/middleware"
	"github.com/yungbote/arfor-backend/internal/http/response"
	"github.com/yungbote/arfor-backend/internal/services"
)

type UserHandler struct {
	usage services.UsageService
}

func NewUserHandler(usage services.UsageService) *UserHandler {
	return &UserHandler{usage: usage}
}

func requireUser(c *gin.Context) (uuid.UUID, bool) {
	id, ok := middleware.UserID(c)
	if !ok {
		response.RespondError(c, http.StatusUnauthorized, "unauthorized", errors.New("Not authenticated"))
	}
	return id, ok
}

// GET /api/user/profile
func (uh *UserHandler) Profile(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	p, err := uh.usage.Profile(c.Request.Context(), userID)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, p)
}

func queryInt(c *gin.Context, key string, def, lo, hi int) (int, bool) {
	raw := c.Query(key)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < lo || n > hi {
		return 0, false
	}
	return n, true
}

// GET /api/user/analyses?page=&limit=
func (uh *UserHandler) ListAnalyses(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	page, ok := queryInt(c, "page", 1, 1, 1<<20)
	if !ok {
		response.RespondError(c, http.StatusBadRequest, "invalid_page", errors.New("page must be a positive integer"))
		return
	}
	limit, ok := queryInt(c, "limit", services.DefaultPageSize, 1, services.MaxPageSize)
	if !ok {
		response.RespondError(c, http.StatusBadRequest, "invalid_limit", errors.New("limit must be between 1 and 100"))
		return
	}
	out, err := uh.usage.ListAnalyses(c.Request.Context(), userID, page, limit)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, out)
}

// GET /api/user/analyses/:id
func (uh *UserHandler) GetAnalysis(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusNotFound, "analysis_not_found", errors.New("Analysis not found"))
		return
	}
	out, err := uh.usage.GetAnalysis(c.Request.Context(), userID, id)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, out)
}

// DELETE /api/user/account
func (uh *UserHandler) DeleteAccount(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	if err := uh.usage.DeleteAccount(c.Request.Context(), userID); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"deleted": true})
}
