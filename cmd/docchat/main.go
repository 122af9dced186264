package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"docchat/internal/api"
	"docchat/internal/config"
	"docchat/internal/crawler"
	"docchat/internal/index"
	"docchat/internal/llm"
	"docchat/internal/repository"
	"docchat/internal/service"
	"docchat/internal/session"
)

var (
	configPath = flag.String("config", "", "Path to config file")
)

func main() {
	flag.Parse()

	// .env is optional, real environments set variables directly
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	if err := os.MkdirAll(cfg.Storage.UploadsDir, 0755); err != nil {
		logger.Fatal("Failed to create uploads directory", zap.Error(err))
	}

	db, err := repository.NewDB(cfg.Storage.DatabasePath)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	// Restore the index aggregate and conversation memory
	store := index.New(repository.NewStateRepository(db), logger)
	if err := store.Restore(); err != nil {
		logger.Fatal("Failed to restore index state", zap.Error(err))
	}
	handle := index.NewHandle(store)

	sessions := session.NewStore(repository.NewSessionRepository(db), cfg.Session, logger)
	if err := sessions.Load(); err != nil {
		logger.Fatal("Failed to restore sessions", zap.Error(err))
	}
	sessions.Sweep()

	// Wire the services
	client := llm.NewClient(cfg.LLM)
	batcher := service.NewBatcher(client, cfg.Index.EmbedBatch)
	pipeline := service.NewPipeline(handle, batcher, cfg.Index, logger)
	planner := service.NewPlanner(handle, cfg.Index.TopK, logger)
	askService := service.NewAskService(planner, batcher, client, sessions, logger)
	siteCrawler := crawler.New(cfg.Crawler, logger)

	handler := api.NewHandler(handle, pipeline, askService, sessions, siteCrawler, cfg.Storage.UploadsDir, logger)
	router := api.SetupRouter(handler, api.RouterConfig{
		AllowOrigins: []string{"*"},
	})

	srv := &http.Server{
		Addr:         cfg.Address(),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("Starting docchat server", zap.String("address", cfg.Address()))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	// Persist state on the way out; in-memory was authoritative until now
	if err := handle.Load().Persist(); err != nil {
		logger.Error("Failed to persist index state", zap.Error(err))
	}
	if err := sessions.Persist(); err != nil {
		logger.Error("Failed to persist sessions", zap.Error(err))
	}

	logger.Info("Server exited")
}
