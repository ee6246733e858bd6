package app

import (
	"github.com/yungbote/arfor-backend/internal/config"
	httpMW "github.com/yungbote/arfor-backend/internal/http/middleware"
	"github.com/yungbote/arfor-backend/internal/platform/logger"
)

type Middleware struct {
	Auth *httpMW.AuthMiddleware
}

func wireMiddleware(log *logger.Logger, cfg config.AuthConfig) Middleware {
	log.Info("Wiring middleware...")
	if cfg.JWTSecret == "" {
		log.Warn("JWT_SECRET_KEY not set; authenticated routes will reject every request")
	}
	return Middleware{
		Auth: httpMW.NewAuthMiddleware(log, cfg.JWTSecret, cfg.Audience),
	}
}
