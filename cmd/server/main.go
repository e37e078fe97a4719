// Package main is the entry point for the rollout server.
//
// Usage:
//
//	server                         run the HTTP and gRPC servers
//	server migrate                 apply database migrations and exit
//	server create-api-key [env]    mint an API key for env (default ENVIRONMENT)
//
// The serve bootstrap sequence is:
//  1. Load configuration from environment variables and .env.
//  2. Connect to PostgreSQL via pgxpool, migrating first if MIGRATE_ON_START.
//  3. Build the usage sinks (Postgres and/or a Redis stream) behind a
//     background dispatcher.
//  4. Create the repository and the evaluation service for ENVIRONMENT.
//  5. Start the HTTP server (:8080) and gRPC server (:9090) concurrently.
//  6. Wait for SIGINT/SIGTERM, then drain both servers and the usage queue.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"google.golang.org/grpc"

	"github.com/matt-riley/rollout/internal/config"
	"github.com/matt-riley/rollout/internal/logging"
	"github.com/matt-riley/rollout/internal/metrics"
	"github.com/matt-riley/rollout/internal/middleware"
	"github.com/matt-riley/rollout/internal/repository"
	"github.com/matt-riley/rollout/internal/server"
	"github.com/matt-riley/rollout/internal/service"
	"github.com/matt-riley/rollout/internal/tracing"
	"github.com/matt-riley/rollout/internal/usage"
)

const (
	serviceName           = "rollout"
	shutdownTimeout       = 10 * time.Second
	httpReadHeaderTimeout = 5 * time.Second
	httpReadTimeout       = 30 * time.Second
	httpIdleTimeout       = 2 * time.Minute
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		slog.Error("server failed", "error", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logging.New(logging.Options{
		Level:       cfg.LogLevel,
		Format:      cfg.LogFormat,
		Service:     serviceName,
		Environment: cfg.Environment,
	})
	slog.SetDefault(log)

	command := "serve"
	if len(args) > 0 {
		command = args[0]
	}

	switch command {
	case "serve":
		return serve(ctx, cfg, log)
	case "migrate":
		return withPool(ctx, cfg, runMigrations)
	case "create-api-key":
		environment := cfg.Environment
		if len(args) > 1 {
			environment = args[1]
		}
		return withPool(ctx, cfg, func(pool *pgxpool.Pool) error {
			return createAPIKey(ctx, repository.NewPostgresRepository(pool), environment, stdout)
		})
	default:
		return fmt.Errorf("unknown command %q (want serve, migrate or create-api-key)", command)
	}
}

func withPool(ctx context.Context, cfg config.Config, fn func(*pgxpool.Pool) error) error {
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()
	return fn(pool)
}

func serve(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	shutdownTracer, err := tracing.Init(ctx, tracing.Options{
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Tracing.ServiceName,
		Environment: cfg.Environment,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(ctx); err != nil {
			log.Error("tracer shutdown error", "error", err)
		}
	}()

	local, err := cfg.Location()
	if err != nil {
		return fmt.Errorf("local time zone: %w", err)
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	if cfg.MigrateOnStart {
		if err := runMigrations(pool); err != nil {
			return err
		}
	}

	repo := repository.NewPostgresRepository(pool)
	m := metrics.New()
	metrics.RegisterPoolMetrics(m.Registry, pool)

	serviceOpts := []service.Option{
		service.WithLogger(log),
		service.WithLocalTimeZone(local),
		service.WithDecisionHook(m.RecordDecision),
		service.WithScheduleHook(m.RecordScheduleMutation),
		service.WithTracking(cfg.Usage.TrackingEnabled),
	}

	if cfg.Usage.TrackingEnabled {
		recorder, closeSinks, err := usageRecorder(ctx, cfg, repo)
		if err != nil {
			return err
		}
		defer closeSinks()

		dispatcher, err := usage.NewDispatcher(recorder,
			usage.WithQueueSize(cfg.Usage.QueueSize),
			usage.WithWorkers(cfg.Usage.Workers),
			usage.WithRecordTimeout(cfg.Usage.RecordTimeout),
			usage.WithLogger(log),
			usage.WithOutcomeHook(m.RecordUsageEvent),
		)
		if err != nil {
			return fmt.Errorf("init usage dispatcher: %w", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := dispatcher.Close(ctx); err != nil {
				log.Error("usage dispatcher shutdown error", "error", err)
			}
		}()
		serviceOpts = append(serviceOpts, service.WithUsageQueue(dispatcher))
	}

	svc, err := service.New(repo, cfg.Environment, serviceOpts...)
	if err != nil {
		return fmt.Errorf("init service: %w", err)
	}

	limiter := middleware.NewRateLimiter(ctx, cfg.AuthRateLimit)
	defer limiter.Stop()
	authOpts := []middleware.AuthOption{
		middleware.WithOnAuthFailure(m.IncAuthFailures),
		middleware.WithRateLimiter(limiter),
		middleware.WithRequiredEnvironment(cfg.Environment),
	}
	tokenValidator := &apiKeyTokenValidator{lookup: repo}

	apiHandler := server.NewHTTPHandler(svc,
		server.WithMetrics(m),
		server.WithHealthCheck(pool.Ping),
		server.WithMaxJSONBodySize(cfg.MaxJSONBodySize),
	)
	httpHandler := middleware.HTTPRequestLogging(log)(newHTTPHandler(apiHandler, tokenValidator, authOpts...))

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           otelhttp.NewHandler(httpHandler, "rollout-http"),
		ReadHeaderTimeout: httpReadHeaderTimeout,
		ReadTimeout:       httpReadTimeout,
		IdleTimeout:       httpIdleTimeout,
	}

	grpcServer := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			middleware.UnaryRequestLoggingInterceptor(log),
			middleware.UnaryBearerAuthInterceptor(tokenValidator, authOpts...),
			m.UnaryServerInterceptor(),
		),
	)
	server.RegisterEvaluatorServer(grpcServer, server.NewGRPCServer(svc))

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

	log.Info("server started",
		"http_addr", cfg.HTTPAddr,
		"grpc_addr", cfg.GRPCAddr,
		"usage_tracking", svc.TrackingEnabled(),
	)

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-serveErrCh:
	}

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

// usageRecorder builds the configured usage sinks. The returned func
// releases any connections the sinks hold.
func usageRecorder(ctx context.Context, cfg config.Config, repo *repository.PostgresRepository) (usage.Recorder, func(), error) {
	var sinks usage.Fanout
	closeFn := func() {}

	if cfg.Usage.UsesSink(config.SinkPostgres) {
		sinks = append(sinks, repo)
	}
	if cfg.Usage.UsesSink(config.SinkRedis) {
		client, err := usage.ConnectRedis(ctx, cfg.Redis.URL, cfg.Redis.RetryAttempts, cfg.Redis.RetryInterval)
		if err != nil {
			return nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		closeFn = func() { _ = client.Close() }
		sinks = append(sinks, usage.NewRedisStreamSink(client, cfg.Redis.UsageStream, cfg.Redis.UsageStreamMaxLen))
	}

	if len(sinks) == 1 {
		return sinks[0], closeFn, nil
	}
	return sinks, closeFn, nil
}

// newHTTPHandler puts the /v1 API behind bearer auth and leaves /healthz and
// /metrics public.
func newHTTPHandler(apiHandler http.Handler, tokenValidator middleware.TokenValidator, opts ...middleware.AuthOption) http.Handler {
	protectedAPIHandler := middleware.HTTPBearerAuthMiddleware(tokenValidator, opts...)(apiHandler)

	mux := http.NewServeMux()
	mux.Handle("/v1/", protectedAPIHandler)
	mux.Handle("GET /healthz", apiHandler)
	mux.Handle("GET /metrics", apiHandler)

	return mux
}
