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

	"github.com/trackline/issue-api/internal/config"
	httpserver "github.com/trackline/issue-api/internal/http"
	"github.com/trackline/issue-api/internal/http/handlers"
	"github.com/trackline/issue-api/internal/llm"
	"github.com/trackline/issue-api/internal/notify"
	"github.com/trackline/issue-api/internal/queue"
	"github.com/trackline/issue-api/internal/repository"
	"github.com/trackline/issue-api/internal/retry"
	"github.com/trackline/issue-api/internal/service"
	"github.com/trackline/issue-api/internal/worker"
)

func main() {
	logger := log.New(os.Stdout, "[issue-api] ", log.LstdFlags|log.LUTC|log.Lmicroseconds)
	if err := config.LoadDotEnv(".env", ".env.local"); err != nil {
		logger.Printf("failed loading .env files: %v", err)
	}
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, repoCloser := setupRepository(ctx, cfg, logger)
	defer repoCloser()

	producer, consumer, queueCloser := setupQueue(ctx, cfg, logger)
	defer queueCloser()

	enricher := setupEnricher(cfg, logger)

	notifier := notify.NewSlackNotifier(notify.SlackNotifierConfig{
		WebhookURL: cfg.SlackWebhookURL,
	})
	if !notifier.Enabled() {
		logger.Printf("SLACK_WEBHOOK_URL not configured, creation notifications disabled")
	}

	issuesService := service.NewIssuesService(repo, producer, notifier, logger)
	api := handlers.NewAPI(issuesService)

	handler := httpserver.NewRouter(httpserver.RouterDependencies{
		API:            api,
		Logger:         logger,
		AuthToken:      cfg.AuthToken,
		CORSOrigins:    cfg.CORSAllowedOrigins,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	})

	if cfg.WorkerEnabled {
		policy := retry.NewPolicy(
			cfg.EnrichMaxRetries,
			time.Duration(cfg.EnrichRetryBaseDelayMS)*time.Millisecond,
		)
		processor := worker.NewProcessor(consumer, repo, enricher, policy, logger)
		go processor.Start(ctx)
		logger.Printf("enrichment worker enabled and started")
	} else {
		logger.Printf("enrichment worker disabled by configuration")
	}

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Printf("api listening on :%s", cfg.Port)
		errChan <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Printf("shutdown signal received")
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("server failed: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
}

func setupRepository(
	ctx context.Context,
	cfg config.Config,
	logger *log.Logger,
) (repository.IssueRepository, func()) {
	if cfg.DatabaseURL == "" {
		logger.Printf("DATABASE_URL not configured, using in-memory repository")
		return repository.NewMemoryIssueRepository(), func() {}
	}

	pgRepo, err := repository.NewPostgresIssueRepository(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Printf("failed to initialize postgres repository, fallback to memory: %v", err)
		return repository.NewMemoryIssueRepository(), func() {}
	}
	logger.Printf("postgres repository initialized")
	return pgRepo, func() {
		pgRepo.Close()
	}
}

func setupQueue(
	ctx context.Context,
	cfg config.Config,
	logger *log.Logger,
) (queue.Producer, queue.Consumer, func()) {
	var (
		baseProducer queue.Producer
		consumer     queue.Consumer
		baseCloser   = func() {}
	)

	if cfg.RedisAddr == "" {
		logger.Printf("REDIS_ADDR not configured, using local queue fallback")
		local := queue.NewLocalQueue(512, logger)
		baseProducer = local
		consumer = local
	} else {
		streams, err := queue.NewStreamsQueue(ctx, queue.StreamsConfig{
			Addr:      cfg.RedisAddr,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			Stream:    cfg.RedisStream,
			DLQStream: cfg.RedisDLQ,
			RetrySet:  cfg.RedisRetrySet,
			Group:     cfg.RedisGroup,
			Consumer:  cfg.RedisConsumer,
		})
		if err != nil {
			logger.Printf("failed to initialize redis streams queue, fallback to local: %v", err)
			local := queue.NewLocalQueue(512, logger)
			baseProducer = local
			consumer = local
		} else {
			logger.Printf("redis streams queue initialized")
			baseProducer = streams
			consumer = streams
			baseCloser = func() {
				_ = streams.Close()
			}
		}
	}

	producer := baseProducer
	batchingCloser := func() {}
	if cfg.QueueBatchingEnabled {
		batching := queue.NewBatchingProducer(ctx, baseProducer, queue.BatchingConfig{
			MaxBatchSize:       cfg.QueueBatchSize,
			FlushInterval:      time.Duration(cfg.QueueBatchFlushMS) * time.Millisecond,
			FlushTimeout:       time.Duration(cfg.QueueBatchFlushTimeoutMS) * time.Millisecond,
			QueueCapacity:      cfg.QueueBatchQueueCapacity,
			MaxInFlightBatches: cfg.QueueBatchMaxInFlight,
		})
		producer = batching
		batchingCloser = batching.Close
		logger.Printf(
			"queue batching enabled size=%d flush_ms=%d queue_capacity=%d max_in_flight=%d",
			cfg.QueueBatchSize,
			cfg.QueueBatchFlushMS,
			cfg.QueueBatchQueueCapacity,
			cfg.QueueBatchMaxInFlight,
		)
	}

	return producer, consumer, func() {
		batchingCloser()
		baseCloser()
	}
}

// setupEnricher resolves the provider selection once at startup. A nil return
// means enrichment runs on the local fallback only.
func setupEnricher(cfg config.Config, logger *log.Logger) llm.Enricher {
	timeout := time.Duration(cfg.LLMTimeoutMS) * time.Millisecond

	switch cfg.LLMProvider {
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			logger.Printf("LLM_PROVIDER=openai but OPENAI_API_KEY not set, enrichment falls back locally")
			return nil
		}
		logger.Printf("using openai enrichment provider")
		return llm.NewOpenAIClient(llm.OpenAIClientConfig{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
			Model:   cfg.LLMModel,
			Timeout: timeout,
		})
	case "anthropic":
		if cfg.AnthropicAPIKey == "" {
			logger.Printf("LLM_PROVIDER=anthropic but ANTHROPIC_API_KEY not set, enrichment falls back locally")
			return nil
		}
		logger.Printf("using anthropic enrichment provider")
		return llm.NewAnthropicClient(llm.AnthropicClientConfig{
			APIKey:  cfg.AnthropicAPIKey,
			BaseURL: cfg.AnthropicBaseURL,
			Model:   cfg.LLMModel,
			Timeout: timeout,
		})
	case "":
		logger.Printf("LLM_PROVIDER not set, enrichment uses local fallback")
		return nil
	default:
		logger.Printf("unknown LLM_PROVIDER %q, enrichment uses local fallback", cfg.LLMProvider)
		return nil
	}
}
