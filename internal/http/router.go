package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/arfor-backend/internal/http/handlers"
	httpMW "github.com/yungbote/arfor-backend/internal/http/middleware"
	"github.com/yungbote/arfor-backend/internal/observability"
	"github.com/yungbote/arfor-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log            *logger.Logger
	ServiceName    string
	AllowedOrigins []string
	Metrics        *observability.Metrics

	AuthMiddleware  *httpMW.AuthMiddleware
	AnalysisHandler *httpH.AnalysisHandler
	RealtimeHandler *httpH.RealtimeHandler
	UserHandler     *httpH.UserHandler
	CheckoutHandler *httpH.CheckoutHandler
	HealthHandler   *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.ServiceName != "" {
		r.Use(otelgin.Middleware(cfg.ServiceName))
	}
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.Metrics(cfg.Metrics))
	r.Use(httpMW.CORS(cfg.AllowedOrigins))

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))
	} else {
		r.GET("/metrics", func(c *gin.Context) { c.Status(http.StatusNotFound) })
	}

	api := r.Group("/api")
	{
		if cfg.HealthHandler != nil {
			api.GET("/health", cfg.HealthHandler.Status)
		}

		// Checkout (public; the webhook is verified by signature)
		if cfg.CheckoutHandler != nil {
			api.GET("/checkout/packs", cfg.CheckoutHandler.Packs)
			api.POST("/checkout/webhook", cfg.CheckoutHandler.Webhook)
		}

		// Analysis (public; secured by the session id)
		if cfg.AnalysisHandler != nil {
			api.POST("/analyze/demo", cfg.AnalysisHandler.StartDemo)
			api.POST("/analyze/:id/cancel", cfg.AnalysisHandler.Cancel)
			api.GET("/analyze/:id/status", cfg.AnalysisHandler.Status)
		}
		if cfg.RealtimeHandler != nil {
			api.GET("/analyze/:id/stream", cfg.RealtimeHandler.Stream)
		}
	}

	protected := api.Group("/")
	{
		if cfg.AuthMiddleware != nil {
			protected.Use(cfg.AuthMiddleware.RequireAuth())
		}

		if cfg.AnalysisHandler != nil {
			protected.POST("/analyze", cfg.AnalysisHandler.Start)
		}

		// User
		if cfg.UserHandler != nil {
			protected.GET("/user/profile", cfg.UserHandler.Profile)
			protected.GET("/user/analyses", cfg.UserHandler.ListAnalyses)
			protected.GET("/user/analyses/:id", cfg.UserHandler.GetAnalysis)
			protected.DELETE("/user/account", cfg.UserHandler.DeleteAccount)
		}
	}

	return r
}
