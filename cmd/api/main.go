package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"inkwell/api/internal/agent"
	"inkwell/api/internal/app"
	"inkwell/api/internal/authpw"
	"inkwell/api/internal/blob"
	"inkwell/api/internal/config"
	"inkwell/api/internal/jobs"
	"inkwell/api/internal/retrieval"
	"inkwell/api/internal/scrape"
	"inkwell/api/internal/session"
	"inkwell/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	dataStore := store.NewPostgresStore(db)
	accounts := authpw.NewService(dataStore)

	pgfts := retrieval.NewPgFTS(db)
	var meiliClient *retrieval.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = retrieval.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	retrievalService := retrieval.NewService(meiliClient, pgfts)

	var blobs *blob.Store
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		blobs, err = blob.NewStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			log.Printf("WARNING: object storage unavailable, file sources disabled: %v", err)
			blobs = nil
		}
	}

	providers := map[string]agent.Provider{}
	if cfg.AnthropicAPIKey != "" {
		providers["anthropic"] = agent.NewAnthropic(cfg.AnthropicAPIKey)
	}
	if cfg.OpenAIAPIKey != "" {
		providers["openai"] = agent.NewOpenAI(cfg.OpenAIAPIKey)
	}
	if len(providers) == 0 {
		log.Printf("WARNING: no provider API keys configured, generation will fail")
	}

	mux := jobs.NewMux()

	deps := app.Deps{
		Store:     dataStore,
		Accounts:  accounts,
		Sessions:  dataStore,
		Retrieval: retrievalService,
		Queue:     nil,
		Tools:     agent.NewToolbox(retrievalService, dataStore, cfg.WebSearchAPIKey),
		Providers: providers,
		Fetcher:   scrape.NewFetcher(cfg.ScrapeWithChrome),
	}
	if blobs != nil {
		deps.Blobs = blobs
	}

	// Redis backs refresh sessions and the job queue when configured;
	// otherwise sessions live in Postgres and jobs run in-process.
	var queueStop func()
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Using Redis for refresh sessions and the job queue")
		redisSessions, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer redisSessions.Close()
		deps.Sessions = redisSessions

		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("invalid redis url: %v", err)
		}
		queue := jobs.NewRedisQueue(redis.NewClient(opts), mux)
		queue.Start(ctx, 4)
		queueStop = queue.Wait
		deps.Queue = queue
	} else {
		log.Printf("Using PostgreSQL refresh sessions and the in-process job queue")
		queue := jobs.NewMemoryQueue(mux)
		queue.Start(ctx, 4)
		queueStop = queue.Wait
		deps.Queue = queue
	}

	service := app.New(cfg, deps)
	service.RegisterJobHandlers(mux)
	service.StartSweeper(ctx)

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Inkwell API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	<-ctx.Done()
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
	queueStop()
}
