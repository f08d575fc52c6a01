package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/hearthos/service-accounts-go/internal/account"
	"github.com/hearthos/service-accounts-go/internal/account/repo"
	"github.com/hearthos/service-accounts-go/internal/mailer"
	"github.com/hearthos/service-accounts-go/internal/router"
	"github.com/hearthos/service-accounts-go/internal/session"
	"github.com/hearthos/service-accounts-go/internal/twofactor"
	"github.com/hearthos/service-accounts-go/pkg/database"
	"github.com/hearthos/service-accounts-go/pkg/utilities"
)

func main() {
	// load .env file if present so os.Getenv picks values from it
	// this is best-effort: if no .env exists, continue (use defaults or real env)
	_ = godotenv.Load()

	// init logger
	lg, err := utilities.Init(utilities.ConfigFromEnv())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Sync()

	sugar := lg.Sugar()
	sugar.Info("starting service-accounts-go")

	// init db
	cfg := database.ConfigFromEnv()
	sqlDB, err := database.Connect(cfg)
	if err != nil {
		sugar.Fatalf("db connect: %v", err)
	}
	defer sqlDB.Close()

	// wrap with sqlx for convenience in repos
	sqlxDB := sqlx.NewDb(sqlDB, "postgres")

	accountRepo := repo.NewAccountRepo(sqlxDB, nil)
	if err := accountRepo.EnsureTable(context.Background()); err != nil {
		sugar.Fatalf("ensure accounts table: %v", err)
	}

	// session registry
	sessCfg := session.ConfigFromEnv()
	redisClient := redis.NewClient(&redis.Options{
		Addr:     sessCfg.Addr,
		Password: sessCfg.Password,
		DB:       sessCfg.DB,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		sugar.Fatalf("redis connect: %v", err)
	}
	registry := session.NewRegistry(redisClient, sugar, sessCfg.TTL)

	// external collaborators
	provider := twofactor.NewClient(twofactor.ConfigFromEnv(), sugar)
	notifier := mailer.NewMailer(mailer.ConfigFromEnv(), sugar)

	svc := account.NewService(account.ConfigFromEnv(), accountRepo, registry, provider, notifier, sugar)
	handler := account.NewHandler(svc, sugar)

	// graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := os.Getenv("LISTEN_ADDR")
	if addr == "" {
		addr = "0.0.0.0:8431"
	}
	srv := &http.Server{
		Addr:    addr,
		Handler: router.RegisterRoutes(sugar, handler),
	}

	// run server in background
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Fatalf("http server failed: %v", err)
		}
	}()

	sugar.Infow("service is running", "addr", addr)

	<-ctx.Done()

	sugar.Info("shutting down")

	// give a short grace period for cleanup
	doneCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(doneCtx); err != nil {
		sugar.Warnf("http server shutdown failed: %v", err)
	}
	if err := sqlDB.PingContext(doneCtx); err != nil {
		sugar.Warnf("db ping on shutdown failed: %v", err)
	}

	sugar.Info("goodbye")
}
