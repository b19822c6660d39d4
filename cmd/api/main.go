package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/evanshlom/AwsAiProd/internal/app/migrate"
	httpx "github.com/evanshlom/AwsAiProd/internal/http"
	awsplatform "github.com/evanshlom/AwsAiProd/internal/platform/aws"
	"github.com/evanshlom/AwsAiProd/internal/repository"
	"github.com/evanshlom/AwsAiProd/internal/repository/dynamo"
	"github.com/evanshlom/AwsAiProd/internal/repository/postgres"
	"github.com/evanshlom/AwsAiProd/internal/service/chat"
	"github.com/evanshlom/AwsAiProd/internal/service/deploy"
	"github.com/evanshlom/AwsAiProd/internal/service/evaluate"
	"github.com/evanshlom/AwsAiProd/internal/service/events"
	"github.com/evanshlom/AwsAiProd/internal/service/jobs"
	"github.com/evanshlom/AwsAiProd/internal/service/reconcile"
	"github.com/evanshlom/AwsAiProd/internal/service/validate"
	"github.com/evanshlom/AwsAiProd/internal/ws"
	"github.com/evanshlom/AwsAiProd/pkg/config"
	"github.com/evanshlom/AwsAiProd/pkg/logger"
)

func main() {
	cfg := config.LoadAPIConfig()
	log := logger.New("api", logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clients, err := awsplatform.NewClients(ctx, cfg.AWSRegion)
	if err != nil {
		log.Error("failed to configure aws clients", "error", err)
		os.Exit(1)
	}

	var (
		repo     *postgres.Repository
		dbHealth func(context.Context) error
		runs     repository.ReconcileRunRepository
		jobRepo  repository.JobRepository
	)
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		runner, err := migrate.New(pool, cfg.DatabaseURL, cfg.MigrationsDir, log)
		if err != nil {
			log.Error("failed to configure migrations", "error", err)
			os.Exit(1)
		}
		defer runner.Close()
		if err := runner.Ping(ctx); err != nil {
			log.Error("database ping failed", "error", err)
			os.Exit(1)
		}
		if err := runner.Ensure(ctx); err != nil {
			log.Error("migrations failed", "error", err)
			os.Exit(1)
		}
		repo = postgres.New(pool)
		runs, jobRepo, dbHealth = repo, repo, pool.Ping
	} else {
		log.Warn("DATABASE_URL not set; run audit and job records are disabled")
	}

	var conversations repository.ConversationRepository
	switch strings.ToLower(strings.TrimSpace(cfg.ConversationStore)) {
	case "", "dynamodb":
		conversations = dynamo.NewConversations(clients.DynamoDB, cfg.ConversationTable)
	case "postgres":
		if repo == nil {
			log.Error("CONVERSATION_STORE=postgres requires DATABASE_URL")
			os.Exit(1)
		}
		conversations = repo
	case "none":
		log.Warn("conversation persistence disabled")
	default:
		log.Error("unsupported conversation store", "store", cfg.ConversationStore)
		os.Exit(1)
	}

	models := awsplatform.NewTitanInvoker(clients.Runtime)
	customizations := awsplatform.NewCustomizations(clients.Bedrock)

	hub := ws.NewHub()
	defer hub.Stop()
	eventSvc := events.New(hub, log.With("component", "events"))
	reconciler := reconcile.New(awsplatform.NewStacks(clients.CloudFormation), eventSvc, log, cfg)

	svc := httpx.Services{
		Chat:      chat.New(models, conversations, log.With("component", "chat"), cfg),
		Validate:  validate.New(awsplatform.NewObjects(clients.S3), log.With("component", "validate")),
		Launcher:  jobs.NewLauncher(customizations, jobRepo, log.With("component", "jobs"), cfg),
		JobStatus: jobs.NewStatusReader(customizations, jobRepo, log.With("component", "jobs"), cfg),
		Evaluate:  evaluate.New(models, log.With("component", "evaluate"), cfg),
		Deploy:    deploy.New(reconciler, runs, log.With("component", "deploy")),
		Events:    eventSvc,
	}

	var limiter httpx.RateLimiter
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter = redisLimiter
		}
	}
	if strings.TrimSpace(cfg.OperatorJWTSecret) == "" {
		log.Warn("OPERATOR_JWT_SECRET not set; operator routes will reject every request")
	}

	router := httpx.NewRouter(log, svc, limiter, cfg.OperatorJWTSecret, dbHealth)
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("api server starting", "addr", cfg.Addr, "env", cfg.Environment, "deployment", reconciler.Name())
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("api server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
