package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/xela07ax/webhook-gate/internal/audit"
	"github.com/xela07ax/webhook-gate/internal/connectors"
	"github.com/xela07ax/webhook-gate/internal/engine"
	"github.com/xela07ax/webhook-gate/internal/infra"
	"github.com/xela07ax/webhook-gate/internal/policy"
	"github.com/xela07ax/webhook-gate/internal/ratelimit"
	"github.com/xela07ax/webhook-gate/internal/repository/postgres"
	"github.com/xela07ax/webhook-gate/internal/risk"
	"github.com/xela07ax/webhook-gate/internal/signature"
)

func main() {
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("gate stopped with error", zap.Error(err))
	}
}

func run(cfg *infra.Config, logger *zap.Logger) error {
	if cfg.Gate.WebhookSecret == "" {
		return errors.New("gate.webhook_secret is required")
	}

	// Контекст фоновых горутин: подписка на политики, чистка окон
	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 1. Трассировка
	shutdownTracer, err := infra.InitTracer(cfg.Tracing, logger)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	// 2. Хранилища: Postgres (аудит, политики) и Redis (окна допуска, сигналы)
	db, err := postgres.Open(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	pingCtx, pingCancel := context.WithTimeout(appCtx, 5*time.Second)
	err = db.PingContext(pingCtx)
	pingCancel()
	if err != nil {
		return fmt.Errorf("database unreachable: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	// 3. Метрики
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	engineMetrics := engine.NewMetrics(reg)
	policyMetrics := policy.NewMetrics(reg)

	// 4. Аудит пишется в фоне пачками
	trail := audit.NewTrail(postgres.NewAuditRepo(db), logger, audit.TrailOptions{
		BufferSize:    cfg.Engine.AuditBufferSize,
		FlushInterval: cfg.Engine.AuditFlushInterval,
	})
	trail.Start()
	defer trail.Stop()

	// 5. Stage 1: подпись, допуск, политики
	limits := ratelimit.Limits{
		Global:     ratelimit.Rule(cfg.Limits.Global),
		Sender:     ratelimit.Rule(cfg.Limits.Sender),
		Repository: ratelimit.Rule(cfg.Limits.Repository),
		Delivery:   ratelimit.Rule(cfg.Limits.Delivery),
	}
	var store ratelimit.WindowStore = ratelimit.NewMemoryStore()
	if cfg.Gate.RedisAdmission {
		store = ratelimit.NewRedisStore(rdb, limits.MaxWindow(), logger)
	}
	limiter := ratelimit.NewLimiter(store, limits, logger)
	go limiter.StartSweeper(appCtx, cfg.Gate.SweepInterval)

	resolver := policy.NewMemoResolver(postgres.NewPolicyRepo(db), rdb, logger)
	if err := resolver.Refresh(appCtx); err != nil {
		return fmt.Errorf("initial policy load: %w", err)
	}
	go resolver.Listen(appCtx)

	verifier := signature.NewVerifier(trail, logger, signature.WithMaxAge(cfg.Gate.SignatureMaxAge))
	gate := policy.NewGate(verifier, limiter, resolver, trail, policyMetrics, logger)

	// 6. Реестр действий: GitHub API или двойники, если токена нет
	checks := []engine.HealthCheck{engine.StorageCheck(db), engine.RedisCheck(rdb)}

	var registry *connectors.Registry
	if cfg.GitHub.Token != "" {
		client, err := connectors.NewGitHubClient(appCtx, cfg.GitHub.Token, cfg.GitHub.BaseURL)
		if err != nil {
			return fmt.Errorf("github client: %w", err)
		}
		registry = connectors.NewRegistry()
		if err := connectors.NewGitHubActions(client, cfg.GitHub.Reviewers, logger).Register(registry); err != nil {
			return fmt.Errorf("register github actions: %w", err)
		}
		checks = append(checks, engine.GitHubCheck(client))
	} else {
		logger.Warn("github token is not configured, actions run in dry-run mode")
		registry = connectors.NewMockRegistry()
	}

	// Классификатор — внешний сервис, для гейта важен только его health
	if cfg.Health.ClassifierAddr != "" {
		conn, err := grpc.NewClient(cfg.Health.ClassifierAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return fmt.Errorf("classifier client: %w", err)
		}
		defer conn.Close()
		checks = append(checks, engine.GRPCHealthCheck("classifier", conn, ""))
	}

	// 7. Стадии 2-5
	deliberator := engine.NewDeliberator(risk.NewAnalyzer(logger), registry, logger)
	hydrator := engine.NewHydrator(resolver, checks, cfg.Health.Timeout, trail, logger)

	delays := engine.DefaultDiagnosisDelays()
	delays.RateLimit = cfg.Engine.RateLimitDelay
	delays.Network = cfg.Engine.NetworkDelay
	delays.Unclassified = cfg.Engine.NetworkDelay

	reliability := engine.NewReliabilityWrapper(engine.ReliabilitySettings{
		Name:                "github-actions",
		RPS:                 cfg.Engine.DispatchRPS,
		Burst:               cfg.Engine.DispatchBurst,
		MaxHalfOpenRequests: uint32(cfg.Engine.CBMaxRequests),
		Interval:            cfg.Engine.CBInterval,
		OpenTimeout:         cfg.Engine.CBTimeout,
		ConsecutiveFailures: engine.DefaultReliabilitySettings().ConsecutiveFailures,
	}, engineMetrics)

	executor := engine.NewExecutor(registry, reliability, trail, engineMetrics, logger, engine.ExecutorOptions{
		ActionTimeout: cfg.Engine.ActionTimeout,
		Delays:        delays,
	})
	optimizer := engine.NewOptimizer(cfg.Engine.TimelinessTarget, logger)

	orchestrator := engine.NewOrchestrator(gate, deliberator, hydrator, executor, optimizer, trail, engineMetrics, logger)

	// 8. HTTP: вебхуки и метрики
	gateway := engine.NewGateway(orchestrator, cfg.Gate.WebhookSecret, cfg.Server.MaxBodyBytes, logger)
	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      engine.NewRouter(gateway),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	metricsSrv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler:           metricsMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("webhook gate started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("gate listen: %w", err)
		}
	}()
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("metrics listen: %w", err)
		}
	}()

	// 9. Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-stop:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-errCh:
		return err
	}

	// Даем 10 секунд на завершение активных прогонов
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("gate shutdown failed", zap.Error(err))
	}
	_ = metricsSrv.Shutdown(shutdownCtx)

	logger.Info("webhook gate exited properly", zap.Int64("audit_dropped", trail.Dropped()))
	return nil
}
