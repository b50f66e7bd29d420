// Command billingd runs the billing HTTP service: catalog and session API,
// the Stripe webhook endpoint and a Prometheus metrics endpoint.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/mihaimyh/gobilling/pkg/api"
	"github.com/mihaimyh/gobilling/pkg/authz"
	"github.com/mihaimyh/gobilling/pkg/billing"
	"github.com/mihaimyh/gobilling/pkg/billing/catalog"
	"github.com/mihaimyh/gobilling/pkg/billing/events"
	"github.com/mihaimyh/gobilling/pkg/billing/identity"
	"github.com/mihaimyh/gobilling/pkg/billing/ledger"
	zerologadapter "github.com/mihaimyh/gobilling/pkg/billing/logger/zerolog"
	prommetrics "github.com/mihaimyh/gobilling/pkg/billing/metrics/prometheus"
	"github.com/mihaimyh/gobilling/pkg/billing/stripe"
	"github.com/mihaimyh/gobilling/pkg/billing/subscription"
	"github.com/mihaimyh/gobilling/storage/postgres"
	rediscache "github.com/mihaimyh/gobilling/storage/redis"
)

const shutdownTimeout = 15 * time.Second

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	zl := zerolog.New(os.Stderr).With().Timestamp().Str("service", "billingd").Logger()
	if env("LOG_PRETTY", "") == "true" {
		zl = zl.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	log := zerologadapter.NewLogger(zl)

	if err := run(log); err != nil {
		zl.Fatal().Err(err).Msg("billingd exited")
	}
}

func run(log billing.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := prommetrics.NewMetrics(registry, "gobilling")

	// Storage
	dsn := env("DATABASE_URL", "")
	if dsn == "" {
		return errors.New("DATABASE_URL is required")
	}
	pgStore, err := postgres.New(ctx, postgres.Config{ConnectionString: dsn})
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pgStore.Close()
	if env("DB_MIGRATE", "true") == "true" {
		if err := pgStore.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	var store billing.Store = pgStore
	if redisAddr := env("REDIS_ADDR", ""); redisAddr != "" {
		client := goredis.NewClient(&goredis.Options{
			Addr:     redisAddr,
			Password: env("REDIS_PASSWORD", ""),
			DB:       envInt("REDIS_DB", 0),
		})
		cache, err := rediscache.New(client, pgStore, rediscache.DefaultConfig())
		if err != nil {
			return fmt.Errorf("redis cache: %w", err)
		}
		store = cache
		log.Info("redis catalog cache enabled", billing.Field{Key: "addr", Value: redisAddr})
	}

	// Payment provider
	provider, err := stripe.NewClient(stripe.Config{
		APIKey:        env("STRIPE_API_KEY", ""),
		WebhookSecret: env("STRIPE_WEBHOOK_SECRET", ""),
		Logger:        log,
		Metrics:       metrics,
	})
	if err != nil {
		return fmt.Errorf("stripe client: %w", err)
	}

	// Authorization notifier
	var notifier billing.AccessNotifier = billing.NoopNotifier{}
	if authURL := env("AUTH_SERVICE_URL", ""); authURL != "" {
		notifier, err = authz.NewNotifier(authz.Config{
			URL:    authURL,
			APIKey: env("AUTH_SERVICE_API_KEY", ""),
			Logger: log,
		})
		if err != nil {
			return fmt.Errorf("authz notifier: %w", err)
		}
	} else {
		log.Warn("AUTH_SERVICE_URL not set, access notifications disabled")
	}

	// Domain services
	identities := identity.NewMapper(store, log)
	history := ledger.New(store, log, metrics)
	catalogSvc := catalog.New(store, provider, log)
	subscriptions := subscription.New(store, provider, history, log)
	processor := events.NewProcessor(identities, history, store, provider, notifier, log, metrics)

	handler, err := api.NewHandler(api.Config{
		Catalog:        catalogSvc,
		Subscriptions:  subscriptions,
		Ledger:         history,
		WebhookHandler: provider.WebhookHandler(processor),
		GetUserID:      api.FromHeader(env("USER_ID_HEADER", "X-User-ID")),
		IsSuperuser:    api.SuperuserFromHeader("X-Admin-Token", env("ADMIN_TOKEN", "")),
		Logger:         log,
	})
	if err != nil {
		return fmt.Errorf("api handler: %w", err)
	}

	root := chi.NewRouter()
	root.Mount("/", handler.Router())
	root.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	addr := env("LISTEN_ADDR", ":8080")
	server := &http.Server{
		Addr:              addr,
		Handler:           root,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("billingd listening", billing.Field{Key: "addr", Value: addr})
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
	}
	return nil
}

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
