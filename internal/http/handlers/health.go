package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	db             Pinger
	llmConfigured  bool
	webhookEnabled bool
}

func NewHealthHandler(db Pinger, llmConfigured, webhookEnabled bool) *HealthHandler {
	return &HealthHandler{db: db, llmConfigured: llmConfigured, webhookEnabled: webhookEnabled}
}

// GET /healthcheck
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

// GET /api/health
func (h *HealthHandler) Status(c *gin.Context) {
	checks := gin.H{
		"llm_configured":     h.llmConfigured,
		"webhook_configured": h.webhookEnabled,
	}
	healthy := h.llmConfigured && h.webhookEnabled
	if h.db != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		ok := h.db.Ping(ctx) == nil
		checks["database"] = ok
		healthy = healthy && ok
	}
	status := "ok"
	if !healthy {
		status = "degraded"
	}
	c.JSON(http.StatusOK, gin.H{"status": status, "checks": checks})
}
