package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/webhook-gate/internal/console/handler"
	"github.com/xela07ax/webhook-gate/internal/console/server"
	"github.com/xela07ax/webhook-gate/internal/console/service"
	"github.com/xela07ax/webhook-gate/internal/infra"
	"github.com/xela07ax/webhook-gate/internal/infra/auth"
	"github.com/xela07ax/webhook-gate/internal/repository/postgres"
)

func main() {
	// 1. Конфиг и логгер
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	// 2. Ключ подписи токенов операторов
	privateKey, err := auth.LoadKeyPair(cfg.Auth.PrivateKey, cfg.Auth.PublicKey)
	if err != nil {
		logger.Fatal("console signing key", zap.Error(err))
	}

	// 3. Ресурсы
	db, err := postgres.Open(cfg.Database)
	if err != nil {
		logger.Fatal("database config", zap.Error(err))
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := db.PingContext(ctx); err != nil {
		cancel()
		logger.Fatal("database unreachable", zap.Error(err))
	}
	cancel()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	defer rdb.Close()

	// 4. Слои (Dependency Injection)
	authSvc := service.NewAuthService(postgres.NewUserRepo(db), privateKey, cfg.Auth.TokenTTL)
	policySvc := service.NewPolicyService(postgres.NewPolicyRepo(db), rdb, logger)
	auditSvc := service.NewAuditService(postgres.NewAuditRepo(db))

	console := server.NewConsoleServer(
		logger,
		authSvc,
		handler.NewAuthHandler(authSvc, logger),
		handler.NewPolicyHandler(policySvc, logger),
		handler.NewDashboardHandler(auditSvc, logger),
		handler.NewAuditHandler(auditSvc, logger),
	)

	// 5. Запуск
	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      console,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("console API started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("console listen", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("console shutdown failed", zap.Error(err))
	}
	logger.Info("console exited properly")
}
