// Package main is the entry point for the facetz server.
//
// The bootstrap sequence is:
//  1. Load configuration from environment variables.
//  2. Connect to PostgreSQL via pgxpool and apply migrations.
//  3. Build the choice cache (Redis when REDIS_URL is set, memory otherwise).
//  4. Create the repository and service, reading the catalog version and
//     subscribing to catalog invalidations.
//  5. Start the HTTP server (:8080) and gRPC server (:9090) concurrently.
//  6. Wait for SIGINT/SIGTERM, then gracefully shut down both servers.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/matt-riley/facetz/internal/cache"
	"github.com/matt-riley/facetz/internal/config"
	"github.com/matt-riley/facetz/internal/logging"
	"github.com/matt-riley/facetz/internal/metrics"
	"github.com/matt-riley/facetz/internal/middleware"
	"github.com/matt-riley/facetz/internal/repository"
	"github.com/matt-riley/facetz/internal/server"
	"github.com/matt-riley/facetz/internal/service"
	"github.com/matt-riley/facetz/internal/tracing"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const (
	shutdownTimeout       = 10 * time.Second
	httpReadHeaderTimeout = 5 * time.Second
	httpReadTimeout       = 30 * time.Second
	httpIdleTimeout       = 2 * time.Minute
	redisKeyPrefix        = "facetz:choices:"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logging.New(cfg.LogLevel)
	slog.SetDefault(log)

	shutdownTracer, err := tracing.Init(context.Background())
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(ctx); err != nil {
			log.Error("tracer shutdown error", "err", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	if cfg.RunMigrations {
		if err := runMigrations(ctx, pool); err != nil {
			return err
		}
	}

	m := metrics.New()
	metrics.RegisterPoolMetrics(m.Registry, pool)

	store, closeStore, err := newChoiceStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	choices := cache.NewChoiceCache(store, cfg.ChoiceCacheTTL,
		cache.WithLogger(logging.Component(log, "cache")),
		cache.WithResultHook(m.RecordChoiceCache),
	)

	repo := repository.NewPostgresRepository(pool)
	svc, err := service.New(ctx, repo,
		service.WithLogger(logging.Component(log, "service")),
		service.WithChoiceCache(choices),
		service.WithPageSize(cfg.DefaultPerPage, cfg.MaxPerPage),
		service.WithResyncInterval(cfg.CatalogResyncInterval),
		service.WithHooks(m.AddSkippedDefinitions, m.RecordCatalogError, m.SetCatalogVersion, m.IncCatalogInvalidations, m.RecordDroppedSelection),
	)
	if err != nil {
		return fmt.Errorf("init service: %w", err)
	}

	limiter := middleware.NewRateLimiter(ctx, float64(cfg.RateLimit), middleware.WithRejectHook(m.IncRateLimited))
	defer limiter.Stop()

	apiHandler := server.NewHTTPHandler(svc,
		server.WithMaxJSONBodySize(cfg.MaxJSONBodySize),
		server.WithMetrics(m),
	)
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           otelhttp.NewHandler(newHTTPHandler(apiHandler, limiter, log), "facetz-http"),
		ReadHeaderTimeout: httpReadHeaderTimeout,
		ReadTimeout:       httpReadTimeout,
		IdleTimeout:       httpIdleTimeout,
	}

	grpcServer := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			middleware.UnaryRequestLoggingInterceptor(log),
			middleware.UnaryRateLimitInterceptor(limiter),
			m.UnaryServerInterceptor(),
		),
	)
	server.RegisterFacetServiceServer(grpcServer, server.NewGRPCServer(svc))
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(server.FacetServiceName, healthpb.HealthCheckResponse_SERVING)

	httpListener, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen HTTP %s: %w", cfg.HTTPAddr, err)
	}
	defer httpListener.Close()

	grpcListener, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen gRPC %s: %w", cfg.GRPCAddr, err)
	}
	defer grpcListener.Close()

	serveErrCh := make(chan error, 2)
	go func() {
		if err := httpServer.Serve(httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErrCh <- fmt.Errorf("serve HTTP: %w", err)
		}
	}()
	go func() {
		if err := grpcServer.Serve(grpcListener); err != nil {
			serveErrCh <- fmt.Errorf("serve gRPC: %w", err)
		}
	}()

	log.Info("server started", "http_addr", cfg.HTTPAddr, "grpc_addr", cfg.GRPCAddr, "catalog_version", svc.CatalogVersion())

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-serveErrCh:
	}
	stop()
	healthServer.Shutdown()

	log.Info("server shutting down")

	httpShutdownCtx, cancelHTTP := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelHTTP()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		if serveErr != nil {
			return serveErr
		}
		return fmt.Errorf("shutdown HTTP: %w", err)
	}

	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(shutdownTimeout):
		grpcServer.Stop()
	}

	return serveErr
}

// newHTTPHandler rate limits the catalog API and logs every request. Health
// checks and metric scrapes are never limited.
func newHTTPHandler(apiHandler http.Handler, limiter *middleware.RateLimiter, log *slog.Logger) http.Handler {
	limitedAPIHandler := middleware.HTTPRateLimit(limiter)(apiHandler)

	mux := http.NewServeMux()
	mux.Handle("/v1/", limitedAPIHandler)
	mux.Handle("GET /healthz", apiHandler)
	mux.Handle("GET /metrics", apiHandler)

	return middleware.HTTPRequestLogging(log)(mux)
}

func newChoiceStore(ctx context.Context, cfg config.Config) (cache.Store, func(), error) {
	if cfg.RedisURL == "" {
		return cache.NewMemoryStore(cfg.ChoiceCacheSize), func() {}, nil
	}

	store, err := cache.NewRedisStore(ctx, cfg.RedisURL, redisKeyPrefix)
	if err != nil {
		return nil, nil, fmt.Errorf("connect redis: %w", err)
	}
	slog.Info("choice cache backed by redis")
	return store, func() { _ = store.Close() }, nil
}
