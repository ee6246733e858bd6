package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/arfor-backend/internal/http/response"
	"github.com/yungbote/arfor-backend/internal/observability"
	"github.com/yungbote/arfor-backend/internal/platform/logger"
	"github.com/yungbote/arfor-backend/internal/realtime"
	"github.com/yungbote/arfor-backend/internal/services"
)

// RealtimeHandler serves a session's event stream. The unguessable session
// id is the only credential.
type RealtimeHandler struct {
	log       *logger.Logger
	analyses  services.AnalysisService
	keepalive time.Duration
}

func NewRealtimeHandler(log *logger.Logger, analyses services.AnalysisService, keepalive time.Duration) *RealtimeHandler {
	return &RealtimeHandler{
		log:       log.With("handler", "RealtimeHandler"),
		analyses:  analyses,
		keepalive: keepalive,
	}
}

// GET /api/analyze/:id/stream
func (h *RealtimeHandler) Stream(c *gin.Context) {
	id := c.Param("id")
	sess, err := h.analyses.Session(id)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}

	reader := sess.Subscribe()
	defer reader.Close()
	m := observability.Current()
	m.SSEOpen()
	defer m.SSEClosed()

	h.log.Debug("Stream opened", "session_id", id, "replayed", reader.Pending())
	if err := realtime.Stream(c.Writer, c.Request, reader, h.keepalive); err != nil {
		h.log.Debug("Stream ended early", "session_id", id, "error", err)
	}
}
