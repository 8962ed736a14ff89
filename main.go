package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Amund211/weakcache/internal/adapters/cache"
	"github.com/Amund211/weakcache/internal/adapters/resourceprovider"
	"github.com/Amund211/weakcache/internal/app"
	"github.com/Amund211/weakcache/internal/config"
	"github.com/Amund211/weakcache/internal/domain"
	"github.com/Amund211/weakcache/internal/logging"
	"github.com/Amund211/weakcache/internal/ports"
	"github.com/Amund211/weakcache/internal/ratelimiting"
	"github.com/Amund211/weakcache/internal/reaper"
	"github.com/Amund211/weakcache/internal/reporting"
	"github.com/Amund211/weakcache/internal/telemetry"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	// Minimal container images ship without CA certificates
	_ "golang.org/x/crypto/x509roots/fallback"
)

const serviceName = "weakcache"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	instanceID := uuid.New().String()
	logger := slog.New(
		logging.NewTracingLogHandler(slog.NewJSONHandler(os.Stdout, nil)),
	).With("instanceID", instanceID)

	fail := func(msg string, args ...any) {
		logger.Error(msg, args...)
		os.Exit(1)
	}

	config, err := config.ConfigFromEnv()
	if err != nil {
		fail("Failed to load config", "error", err.Error())
	}
	logger.Info("Loaded config", "config", config.NonSensitiveString())

	if config.OTelEnabled() {
		shutdown, err := telemetry.SetupOTelSDK(ctx, serviceName)
		if err != nil {
			fail("Failed to initialize OpenTelemetry", "error", err.Error())
		}
		defer func() {
			// The signal context is already cancelled here
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				logger.Error("Failed to shut down OpenTelemetry", "error", err.Error())
			}
		}()
		logger.Info("Initialized OpenTelemetry")
	}

	sentryMiddleware, flush, err := reporting.NewSentryMiddlewareOrMock(config)
	if err != nil {
		fail("Failed to initialize Sentry", "error", err.Error())
	}
	defer flush()
	logger.Info("Initialized Sentry middleware")

	resourceCache, err := cache.New[domain.Resource](
		config.RollingLifetime(),
		cache.WithPanicHandler(func(ctx context.Context, event cache.Event, recovered any) {
			reporting.Report(ctx, fmt.Errorf("cache subscriber panicked: %v", recovered), map[string]string{
				"event": event.String(),
			})
		}),
	)
	if err != nil {
		fail("Failed to initialize cache", "error", err.Error())
	}

	stopCacheMetrics, err := telemetry.RegisterCacheMetrics(ctx, otel.Meter("weakcache/cache"), "resources", resourceCache)
	if err != nil {
		fail("Failed to register cache metrics", "error", err.Error())
	}
	defer func() {
		if err := stopCacheMetrics(); err != nil {
			logger.Error("Failed to unregister cache metrics", "error", err.Error())
		}
	}()

	resourceReaper := reaper.New(resourceCache, reaper.Config{
		Interval:       config.ReapInterval(),
		RemovalTimeout: config.RemovalTimeout(),
	}, logger.With("component", "reaper"))

	provider := resourceprovider.NewSynthetic(config.ResourceSizeBytes(), time.Now)

	getResource := app.BuildGetResourceWithCache(resourceCache, provider)
	listEntries := app.BuildListEntries(resourceCache)
	removeEntry := app.BuildRemoveEntry(resourceCache, resourceReaper, config.RemovalTimeout())

	ipLimiter, stopIPLimiter := ratelimiting.NewTokenBucketRateLimiter(
		ratelimiting.RefillPerSecond(8),
		ratelimiting.BurstSize(480),
	)
	defer stopIPLimiter()
	ipRateLimiter := ratelimiting.NewRequestBasedRateLimiter(ipLimiter, ratelimiting.IPKeyFunc)

	// Removals queue for the exclusive table lock, keep them rare
	removalLimiter, stopRemovalLimiter := ratelimiting.NewTokenBucketRateLimiter(
		ratelimiting.RefillPerSecond(0.5),
		ratelimiting.BurstSize(10),
	)
	defer stopRemovalLimiter()
	removalRateLimiter := ratelimiting.NewRequestBasedRateLimiter(removalLimiter, ratelimiting.IPKeyFunc)

	mux := http.NewServeMux()
	mux.HandleFunc(
		"GET /v1/resources/{key}",
		ports.MakeGetResourceHandler(
			getResource,
			ipRateLimiter,
			logger.With("port", "resources"),
			sentryMiddleware,
		),
	)
	mux.HandleFunc(
		"GET /v1/entries",
		ports.MakeGetEntriesHandler(
			listEntries,
			ipRateLimiter,
			logger.With("port", "entries"),
			sentryMiddleware,
		),
	)
	mux.HandleFunc(
		"DELETE /v1/entries/{key}",
		ports.MakeDeleteEntryHandler(
			removeEntry,
			removalRateLimiter,
			logger.With("port", "delete_entry"),
			sentryMiddleware,
		),
	)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", config.Port()),
		Handler:           otelhttp.NewHandler(mux, serviceName),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return resourceReaper.Run(gctx)
	})
	g.Go(func() error {
		err := server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	logger.Info("Init complete", "port", config.Port())
	if err := g.Wait(); err != nil {
		logger.Error("Shutting down after error", "error", err.Error())
		return
	}
	logger.Info("Server shutdown")
}
