package app

import (
	"context"

	"github.com/google/uuid"

	"github.com/yungbote/arfor-backend/internal/config"
	"github.com/yungbote/arfor-backend/internal/data/repos"
	"github.com/yungbote/arfor-backend/internal/ledger"
	"github.com/yungbote/arfor-backend/internal/observability"
	"github.com/yungbote/arfor-backend/internal/orchestrator"
	"github.com/yungbote/arfor-backend/internal/pipeline"
	"github.com/yungbote/arfor-backend/internal/platform/logger"
	"github.com/yungbote/arfor-backend/internal/services"
	"github.com/yungbote/arfor-backend/internal/session"
)

type Services struct {
	Ledger    *ledger.Ledger
	Registry  *session.Registry
	Analysis  services.AnalysisService
	Usage     services.UsageService
	Purchases services.PurchaseService
}

func sessionOptions(cfg config.SessionConfig) session.Options {
	return session.Options{
		TTL:           cfg.TTL,
		SweepInterval: cfg.SweepInterval,
		HistoryCap:    cfg.HistoryCap,
		HistoryKeep:   cfg.HistoryKeep,
		ShutdownGrace: cfg.ShutdownGrace,
	}
}

func ledgerOptions(cfg config.BillingConfig, metrics *observability.Metrics) ledger.Options {
	opts := ledger.Options{
		FreeCredits:    cfg.FreeCredits,
		RefillInterval: cfg.RefillInterval,
	}
	if metrics != nil {
		opts.Observer = metrics
	}
	return opts
}

func wireServices(
	base context.Context,
	log *logger.Logger,
	cfg *config.Config,
	reposet repos.Repos,
	clients Clients,
	metrics *observability.Metrics,
) (Services, error) {
	log.Info("Wiring services...")

	l := ledger.New(reposet.Ledger, log, ledgerOptions(cfg.Billing, metrics))

	prompts, err := LoadPrompts(log, cfg.Pipeline)
	if err != nil {
		return Services{}, err
	}
	exec := pipeline.NewExecutor(log, NewInvoker(clients.LLM), prompts, cfg.Pipeline)
	records := services.NewRecordStore(reposet.Analyses)
	runner := orchestrator.NewRunner(log, orchestrator.New(log, exec, nil), records, l)

	registry := session.NewRegistry(log, sessionOptions(cfg.Sessions))
	metrics.RegisterActiveSessions(func() float64 { return float64(registry.Active()) })

	rdb := clients.limiterClient()
	analysis := services.NewAnalysisService(log, services.AnalysisServiceDeps{
		Registry: registry,
		Runner:   runner,
		Ledger:   l,
		Records:  records,
		Bus:      clients.Bus,
		StartLimit: services.NewLimiter(log, rdb, services.LimitRule{
			Name: "start", Limit: cfg.Billing.StartLimit, Window: cfg.Billing.StartWindow,
		}),
		DemoLimit: services.NewLimiter(log, rdb, services.LimitRule{
			Name: "demo", Limit: 1, Window: cfg.Billing.DemoWindow,
		}),
		InstanceID:  uuid.NewString(),
		BaseContext: base,
	})

	return Services{
		Ledger:    l,
		Registry:  registry,
		Analysis:  analysis,
		Usage:     services.NewUsageService(log, l, reposet.Analyses, reposet.Profiles),
		Purchases: services.NewPurchaseService(log, cfg.Billing, l, reposet.Profiles),
	}, nil
}
