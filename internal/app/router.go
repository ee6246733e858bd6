package app

import (
	"github.com/yungbote/arfor-backend/internal/config"
	"github.com/yungbote/arfor-backend/internal/http"
	"github.com/yungbote/arfor-backend/internal/observability"
	"github.com/yungbote/arfor-backend/internal/platform/logger"
)

const serviceName = "arfor"

func wireServer(log *logger.Logger, cfg config.HTTPConfig, handlers Handlers, middleware Middleware, metrics *observability.Metrics) *http.Server {
	return http.NewServer(http.RouterConfig{
		Log:             log,
		ServiceName:     serviceName,
		AllowedOrigins:  cfg.AllowedOrigins,
		Metrics:         metrics,
		AuthMiddleware:  middleware.Auth,
		AnalysisHandler: handlers.Analysis,
		RealtimeHandler: handlers.Realtime,
		UserHandler:     handlers.User,
		CheckoutHandler: handlers.Checkout,
		HealthHandler:   handlers.Health,
	})
}
