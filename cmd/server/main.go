package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/magnetlab/backend/internal/config"
	"github.com/magnetlab/backend/internal/handler"
	appMiddleware "github.com/magnetlab/backend/internal/middleware"
	"github.com/magnetlab/backend/internal/repository"
	"github.com/magnetlab/backend/internal/service"
	"github.com/magnetlab/backend/pkg/payment"
)

func main() {
	// Load .env file if present (for local development)
	_ = godotenv.Load()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := log.Logger

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("config error")
	}

	ctx := context.Background()

	db, err := repository.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("database error")
	}
	defer db.Close()

	if err := repository.RunMigrations(ctx, db); err != nil {
		logger.Fatal().Err(err).Msg("migration error")
	}
	logger.Info().Msg("database connected & migrated")

	// Repositories
	tenantRepo := repository.NewTenantRepository(db)
	subRepo := repository.NewSubscriptionRepository(db)
	brandRepo := repository.NewBrandRepository(db)

	// Billing gateway
	gateway := payment.NewStripeGateway(cfg.StripeAPIKey, cfg.StripeWebhookSecret, cfg.PlanPriceIDs)

	// Services
	authSvc := service.NewAuthService(cfg.JWTSecret, tenantRepo, subRepo, logger)
	entitlementSvc := service.NewEntitlementService(subRepo, logger)
	lifecycleSvc := service.NewLifecycleService(subRepo, tenantRepo, gateway, cfg.CheckoutSuccessURL, cfg.CheckoutCancelURL, logger)
	brandSvc := service.NewBrandService(brandRepo, entitlementSvc, logger)
	reconciler := service.NewReconciler(subRepo, tenantRepo, gateway, logger)

	// Handlers
	healthHandler := handler.NewHealthHandler(db)
	plansHandler := handler.NewPlansHandler()
	authHandler := handler.NewAuthHandler(authSvc)
	billingHandler := handler.NewBillingHandler(entitlementSvc, lifecycleSvc)
	webhookHandler := handler.NewWebhookHandler(gateway, reconciler, logger)
	brandHandler := handler.NewBrandHandler(brandSvc)

	// Build router
	r := chi.NewRouter()

	// Global middleware
	r.Use(appMiddleware.Recovery(logger))
	r.Use(appMiddleware.Logger(logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Stripe-Signature"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Global rate limiter (20 req/sec per IP, burst of 40)
	globalRL := appMiddleware.NewRateLimiter(20, 40)
	r.Use(globalRL.Middleware())

	// Health check and public routes (no auth)
	r.Get("/health", healthHandler.Check)
	r.Get("/api/plans", plansHandler.List)
	r.Post("/api/webhooks/billing", webhookHandler.HandleBilling)

	// Auth routes
	r.Group(func(r chi.Router) {
		r.Use(appMiddleware.StrictRateLimiter())
		r.Post("/api/auth/register", authHandler.Register)
		r.Post("/api/auth/login", authHandler.Login)
	})

	// Protected API routes
	r.Group(func(r chi.Router) {
		r.Use(appMiddleware.Auth(authSvc))

		r.Get("/api/auth/me", authHandler.Me)

		// Billing
		r.Get("/api/billing/entitlements", billingHandler.Entitlements)
		r.Post("/api/billing/usage", billingHandler.ConsumeUnit)
		r.Post("/api/billing/checkout", billingHandler.Checkout)
		r.Post("/api/billing/cancel", billingHandler.Cancel)
		r.Post("/api/billing/reactivate", billingHandler.Reactivate)
		r.Post("/api/billing/plan", billingHandler.ChangePlan)

		// Brands
		r.Get("/api/brands", brandHandler.List)
		r.Post("/api/brands", brandHandler.Create)
		r.Delete("/api/brands/{id}", brandHandler.Delete)
	})

	// Start server
	addr := fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		logger.Info().Msg("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(ctx)
	}()

	logger.Info().Str("addr", addr).Msg("server listening")
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		logger.Fatal().Err(err).Msg("server error")
	}
}
