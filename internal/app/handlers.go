package app

import (
	"github.com/yungbote/arfor-backend/internal/config"
	"github.com/yungbote/arfor-backend/internal/data/db"
	httpH "github.com/yungbote/arfor-backend/internal/http/handlers"
	"github.com/yungbote/arfor-backend/internal/platform/logger"
)

type Handlers struct {
	Health   *httpH.HealthHandler
	Analysis *httpH.AnalysisHandler
	Realtime *httpH.RealtimeHandler
	User     *httpH.UserHandler
	Checkout *httpH.CheckoutHandler
}

func wireHandlers(log *logger.Logger, cfg *config.Config, database *db.Service, clients Clients, services Services) Handlers {
	log.Info("Wiring handlers...")
	llmConfigured := clients.LLM != nil && clients.LLM.Configured()
	return Handlers{
		Health:   httpH.NewHealthHandler(database, llmConfigured, cfg.Billing.WebhookSecret != ""),
		Analysis: httpH.NewAnalysisHandler(services.Analysis),
		Realtime: httpH.NewRealtimeHandler(log, services.Analysis, cfg.Sessions.KeepaliveInterval),
		User:     httpH.NewUserHandler(services.Usage),
		Checkout: httpH.NewCheckoutHandler(services.Purchases),
	}
}
