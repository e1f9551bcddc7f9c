package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/myrespondr/orgdocs/internal/blobstore"
	"github.com/myrespondr/orgdocs/internal/config"
	"github.com/myrespondr/orgdocs/internal/database"
	"github.com/myrespondr/orgdocs/internal/repository"
	"github.com/myrespondr/orgdocs/internal/signing"
	"github.com/myrespondr/orgdocs/internal/worker"
)

// main runs the reconcile worker. Unlike the API server it requires every
// backend: without the metadata store and blob store there is nothing to
// reconcile.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatalf("ORGDOCS_DATABASE_URL is required")
	}
	if cfg.RedisAddr == "" {
		log.Fatalf("ORGDOCS_REDIS_ADDR is required")
	}

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("connect database: %v", err)
	}
	defer pool.Close()
	if err := database.EnsureSchema(ctx, pool); err != nil {
		log.Fatalf("ensure schema: %v", err)
	}
	repo := repository.NewDocumentRepository(pool)

	store, err := buildBlobStore(ctx, cfg)
	if err != nil {
		log.Fatalf("init blob store: %v", err)
	}

	server := asynq.NewServer(asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, asynq.Config{
		Concurrency: 2,
	})
	processor := worker.NewProcessor(repo, store)

	go func() {
		<-ctx.Done()
		server.Shutdown()
	}()

	log.Printf("reconcile worker running")
	if err := server.Run(processor.Handler()); err != nil {
		log.Printf("worker stopped: %v", err)
		os.Exit(1)
	}
}

func buildBlobStore(ctx context.Context, cfg *config.Config) (blobstore.Store, error) {
	if cfg.StorageBackend == "local" {
		return blobstore.NewLocal(cfg.LocalDir, signing.NewSigner(cfg.SigningSecret), cfg.PublicBaseURL)
	}
	s3, err := blobstore.NewS3(cfg.S3Endpoint, cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3Region, cfg.S3UseSSL, cfg.Bucket)
	if err != nil {
		return nil, err
	}
	if err := s3.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	return s3, nil
}
