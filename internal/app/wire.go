package app

import (
	"fmt"
	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tripledger/commission/internal/auth"
	"github.com/tripledger/commission/internal/domain"
	"github.com/tripledger/commission/internal/guard"
	"github.com/tripledger/commission/internal/handler"
	adminhandler "github.com/tripledger/commission/internal/handler/admin"
	"github.com/tripledger/commission/internal/infra"
	"github.com/tripledger/commission/internal/ledger"
	"github.com/tripledger/commission/internal/projection"
	"github.com/tripledger/commission/internal/provider"
	"github.com/tripledger/commission/internal/repository"
	"github.com/tripledger/commission/internal/service"
)

// Deps holds everything New needs from main.
type Deps struct {
	Pool          *pgxpool.Pool
	Config        *infra.Config
	JWTMgr        *auth.JWTManager
	ServiceTokens *auth.ServiceTokenManager
	// Projection backs the balance read model; nil disables it.
	Projection projection.Store
	Logger     *slog.Logger
}

// App is the assembled service graph.
type App struct {
	Router      chi.Router
	Commissions *service.CommissionService
	Payouts     *service.PayoutService
	Reconciler  *service.Reconciler
	Limiter     *guard.RateLimiter
}

// New wires repositories, the ledger engine, services and the HTTP router.
func New(deps Deps) (*App, error) {
	cfg := deps.Config
	logger := deps.Logger

	minimums, err := cfg.TierMinimums()
	if err != nil {
		return nil, err
	}
	numbers, err := domain.NewPayoutNumberGenerator(cfg.SnowflakeNode)
	if err != nil {
		return nil, fmt.Errorf("payout numbers: %w", err)
	}

	// Repositories
	ownerRepo := repository.NewOwnerRepository()
	commissionRepo := repository.NewCommissionRepository()
	payoutRepo := repository.NewPayoutRepository()
	adjustmentRepo := repository.NewAdjustmentRepository()
	outboxRepo := repository.NewOutboxRepository()

	// Ledger engine
	engine := ledger.NewEngine(ownerRepo, commissionRepo, payoutRepo, adjustmentRepo, outboxRepo, numbers)

	// Processors. Rails without one are settled by hand.
	stripe := provider.NewStripeProvider(cfg.StripeSecretKey, cfg.StripeWebhookSecret)
	rails := provider.NewRegistry()
	if cfg.StripeSecretKey != "" {
		rails.Register(stripe, domain.MethodStripe)
	}

	balances := projection.NewBalances(deps.Projection, cfg.RedisTTL, logger)
	limiter := guard.NewRateLimiter(cfg.PayoutRateLimit, cfg.PayoutRateWindow)
	breaker := guard.NewCircuitBreaker(cfg.ProcessorFailures, cfg.ProcessorResetAfter)

	// Services
	reconciler := service.NewReconciler(deps.Pool, engine, ownerRepo, balances, logger, cfg.ReconcileBatchSize, cfg.ReconcileAutoRepair)
	commissionSvc := service.NewCommissionService(deps.Pool, engine, ownerRepo, commissionRepo, balances, logger)
	payoutSvc := service.NewPayoutService(deps.Pool, engine, ownerRepo, payoutRepo, rails, stripe, limiter, breaker,
		reconciler, balances, service.PayoutPolicy{Minimums: minimums, Attempts: cfg.AllocationRetries}, logger)

	// Handlers
	payoutHandler := handler.NewPayoutHandler(payoutSvc, commissionSvc)
	commissionHandler := handler.NewCommissionHandler(commissionSvc)
	internalHandler := handler.NewInternalHandler(commissionSvc, payoutSvc)
	webhookHandler := handler.NewWebhookHandler(payoutSvc, logger)

	// Admin handlers
	payoutAdmin := adminhandler.NewPayoutAdminHandler(payoutSvc)
	ownerAdmin := adminhandler.NewOwnerAdminHandler(payoutSvc, reconciler)

	r := chi.NewRouter()

	// Global middleware (order matters)
	r.Use(handler.Recovery(logger))
	r.Use(handler.RequestID)
	r.Use(handler.RequestLogger(logger))
	r.Use(handler.CORSWithOrigins(cfg.CORSAllowedOrigins))
	r.Use(handler.JSONContentType)

	// Health (no auth)
	r.Get("/health", handler.HealthHandler(deps.Pool))

	// Webhooks (no auth; the signature is checked against the raw body)
	r.Post("/webhooks/stripe", webhookHandler.HandleStripeWebhook)

	// Agent and affiliate routes
	r.Group(func(r chi.Router) {
		r.Use(auth.AuthenticateOwner(deps.JWTMgr))

		r.Route("/payouts", func(r chi.Router) {
			r.Post("/", payoutHandler.RequestPayout)
			r.Get("/", payoutHandler.ListPayouts)
			r.Get("/{id}", payoutHandler.GetPayout)
		})
		r.Get("/balance", payoutHandler.GetBalance)
		r.Route("/commissions", func(r chi.Router) {
			r.Get("/", commissionHandler.ListCommissions)
			r.Get("/summary", commissionHandler.Summary)
		})
	})

	// Collaborator routes
	r.Route("/internal", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(auth.AuthenticateService(deps.ServiceTokens, auth.ScopeCommissionsWrite))
			r.Post("/owners", internalHandler.RegisterOwner)
			r.Post("/commissions", internalHandler.RecordCommission)
			r.Post("/commissions/{id}/release", internalHandler.ReleaseCommission)
			r.Post("/commissions/{id}/cancel", internalHandler.CancelCommission)
		})
		r.Group(func(r chi.Router) {
			r.Use(auth.AuthenticateService(deps.ServiceTokens, auth.ScopeSettlementsWrite))
			r.Post("/payouts/{id}/settlement", internalHandler.ReportSettlement)
			r.Post("/payouts/{id}/handoff", internalHandler.HandOff)
		})
	})

	// Admin routes
	r.Route("/admin", func(r chi.Router) {
		r.Use(auth.AuthenticateAdmin(deps.JWTMgr))

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(auth.AllAdminRoles()...))
			r.Get("/payouts/{id}", payoutAdmin.GetPayout)
			r.Get("/owners/{id}/reconcile", ownerAdmin.VerifyBalance)
		})

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(auth.WriteRoles()...))
			r.Post("/payouts/{id}/fail", payoutAdmin.ForceFail)
			r.Patch("/owners/{id}/tier", ownerAdmin.UpdateTier)
			r.Post("/owners/{id}/reconcile", ownerAdmin.RepairBalance)
			r.Post("/reconcile/sweep", ownerAdmin.Sweep)
		})
	})

	return &App{
		Router:      r,
		Commissions: commissionSvc,
		Payouts:     payoutSvc,
		Reconciler:  reconciler,
		Limiter:     limiter,
	}, nil
}
