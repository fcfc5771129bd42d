package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	sdkapp "github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/mesafoods/checkout/internal/domain/billing"
	"github.com/mesafoods/checkout/internal/domain/checkout"
	"github.com/mesafoods/checkout/internal/domain/coupon"
	"github.com/mesafoods/checkout/internal/domain/order"
	"github.com/mesafoods/checkout/internal/domain/payment"
	"github.com/mesafoods/checkout/internal/handler"
	"github.com/mesafoods/checkout/internal/provider"
	"github.com/mesafoods/checkout/internal/storage/postgres"
	"github.com/mesafoods/checkout/pkg/events"
	"github.com/mesafoods/checkout/pkg/health"
	"github.com/mesafoods/checkout/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles
// graceful shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, _ *sdkapp.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.DatabaseCheck(pool))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Repositories.
	orderRepo := postgres.NewOrderRepository(pool)
	couponRepo := postgres.NewCouponRepository(pool)
	planRepo := postgres.NewPlanRepository(pool)
	subRepo := postgres.NewSubscriptionRepository(pool)

	// Payment provider client.
	gateway := provider.New(provider.Config{
		BaseURL:  cfg.Provider.BaseURL,
		APIKey:   cfg.Provider.APIKey,
		Currency: cfg.Provider.Currency,
		Timeout:  cfg.Provider.Timeout,
	})

	// Domain services.
	bus := events.NewBus()
	urls := payment.ReturnURLs{
		Success: cfg.Checkout.SuccessURL,
		Cancel:  cfg.Checkout.CancelURL,
	}
	couponValidator := coupon.NewRepoValidator(couponRepo)
	checkoutSvc := checkout.NewService(gateway, orderRepo, couponRepo, couponValidator, bus, urls)
	billingSvc := billing.NewService(gateway, planRepo, subRepo, bus, urls)

	// Fulfilment hooks listen on the bus; for now we just log new orders.
	ordersSub := bus.Subscribe(checkout.OrdersTable, nil, func(e events.Event) {
		o, ok := e.Record.(*order.Order)
		if !ok {
			return
		}
		lg.Info("order event",
			zap.String("action", string(e.Action)),
			zap.String("order_id", o.ID),
			zap.String("company_id", o.CompanyID),
		)
	})
	defer ordersSub.Unsubscribe()

	// Router: health endpoints + API routes on one server.
	mux := chi.NewRouter()
	mux.Get("/livez", healthSvc.LiveEndpoint)
	mux.Get("/readyz", healthSvc.ReadyEndpoint)
	mux.Route("/api", func(r chi.Router) {
		handler.New(checkoutSvc, billingSvc).Register(r)
	})

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", "Authorization"},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimit(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.LogRequests(),
		),
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}
