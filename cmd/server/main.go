package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/myrespondr/orgdocs/internal/api"
	"github.com/myrespondr/orgdocs/internal/blobstore"
	"github.com/myrespondr/orgdocs/internal/config"
	"github.com/myrespondr/orgdocs/internal/database"
	"github.com/myrespondr/orgdocs/internal/identity"
	"github.com/myrespondr/orgdocs/internal/queue"
	"github.com/myrespondr/orgdocs/internal/repository"
	"github.com/myrespondr/orgdocs/internal/signing"
)

// main wires configuration into concrete backends and hands them to the API
// server as interfaces. A missing backend is logged and left nil; the server
// starts anyway and reports the misconfiguration per request.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	var (
		repo     api.DocumentRepo
		profiles api.ProfileReader
	)
	if cfg.DatabaseURL != "" {
		pool, err := database.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("connect database: %v", err)
		}
		defer pool.Close()
		if err := database.EnsureSchema(ctx, pool); err != nil {
			log.Fatalf("ensure schema: %v", err)
		}
		repo = repository.NewDocumentRepository(pool)
		profiles = repository.NewProfileRepository(pool)
	} else {
		log.Printf("ORGDOCS_DATABASE_URL not set; metadata writes will fail")
	}

	var provider api.IdentityProvider
	if cfg.AuthURL != "" && cfg.AuthKey != "" {
		provider = identity.New(cfg.AuthURL, cfg.AuthKey)
	} else {
		log.Printf("identity provider not configured; sign-in will fail")
	}

	blob, local := buildBlobStore(ctx, cfg)

	var orphans api.OrphanQueue
	if cfg.RedisAddr != "" {
		client := asynq.NewClient(asynq.RedisClientOpt{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer client.Close()
		orphans = queue.NewClient(client)
	}

	srv := api.New(cfg, repo, profiles, provider, blob, orphans, local)
	if err := srv.Run(ctx); err != nil {
		log.Printf("server stopped: %v", err)
		os.Exit(1)
	}
}

func buildBlobStore(ctx context.Context, cfg *config.Config) (blobstore.Store, *blobstore.LocalStore) {
	switch cfg.StorageBackend {
	case "local":
		local, err := blobstore.NewLocal(cfg.LocalDir, signing.NewSigner(cfg.SigningSecret), cfg.PublicBaseURL)
		if err != nil {
			log.Fatalf("init local blob store: %v", err)
		}
		return local, local
	default:
		if cfg.S3Endpoint == "" || cfg.S3AccessKey == "" || cfg.S3SecretKey == "" {
			log.Printf("blob store credentials not set; uploads will fail")
			return nil, nil
		}
		s3, err := blobstore.NewS3(cfg.S3Endpoint, cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3Region, cfg.S3UseSSL, cfg.Bucket)
		if err != nil {
			log.Fatalf("init blob store: %v", err)
		}
		if err := s3.EnsureBucket(ctx); err != nil {
			log.Fatalf("ensure bucket: %v", err)
		}
		return s3, nil
	}
}
