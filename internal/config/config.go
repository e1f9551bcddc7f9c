// Package config centralizes how the service reads environment variables and
// exposes them as typed values. A .env file in the working directory is
// honored for local development.
package config

import (
	"crypto/rand"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config represents runtime configuration for the API server and worker.
// Fields are fixed at startup and never mutated afterwards; handlers receive
// the struct explicitly rather than reading the environment themselves.
type Config struct {
	Address   string
	StaticDir string

	// Identity provider (primary project).
	AuthURL string
	AuthKey string

	// Metadata store.
	DatabaseURL string

	// Blob store. Backend is "s3" or "local"; the S3 fields may point at a
	// different backend than auth when uploads are routed separately.
	StorageBackend string
	S3Endpoint     string
	S3AccessKey    string
	S3SecretKey    string
	S3Region       string
	S3UseSSL       bool
	LocalDir       string
	PublicBaseURL  string
	SigningSecret  []byte

	Bucket         string
	MaxUploadBytes int64
	AllowedTypes   []string
	SignedURLTTL   time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

const (
	defaultAddress     = ":8080"
	defaultStaticDir   = "web"
	defaultBucket      = "organization-documents"
	defaultMaxUpload   = 50 << 20 // 50 MiB
	defaultBackend     = "s3"
	defaultLocalDir    = "data/blobs"
	defaultBaseURL     = "http://localhost:8080"
	defaultSignedTTL   = 15 * time.Minute
	defaultHTTPTimeout = 60 * time.Second
)

// Load reads configuration from environment variables falling back to
// defaults. Missing store credentials are not an error here: the server must
// still start and report misconfiguration per request.
func Load() (*Config, error) {
	_ = godotenv.Load()
	cfg := &Config{
		Address:        readEnv("ORGDOCS_ADDRESS", defaultAddress),
		StaticDir:      readEnv("ORGDOCS_STATIC_DIR", defaultStaticDir),
		AuthURL:        strings.TrimRight(readEnv("ORGDOCS_AUTH_URL", ""), "/"),
		AuthKey:        readEnv("ORGDOCS_AUTH_KEY", ""),
		DatabaseURL:    readEnv("ORGDOCS_DATABASE_URL", ""),
		StorageBackend: readEnv("ORGDOCS_STORAGE_BACKEND", defaultBackend),
		S3Endpoint:     readEnv("ORGDOCS_S3_ENDPOINT", ""),
		S3AccessKey:    readEnv("ORGDOCS_S3_ACCESS_KEY", ""),
		S3SecretKey:    readEnv("ORGDOCS_S3_SECRET_KEY", ""),
		S3Region:       readEnv("ORGDOCS_S3_REGION", "us-east-1"),
		S3UseSSL:       parseBool("ORGDOCS_S3_USE_SSL", false),
		LocalDir:       readEnv("ORGDOCS_LOCAL_DIR", defaultLocalDir),
		PublicBaseURL:  strings.TrimRight(readEnv("ORGDOCS_PUBLIC_BASE_URL", defaultBaseURL), "/"),
		SigningSecret:  parseSecret("ORGDOCS_SIGNING_SECRET"),
		Bucket:         readEnv("ORGDOCS_BUCKET", defaultBucket),
		MaxUploadBytes: parseInt64("ORGDOCS_MAX_UPLOAD_BYTES", defaultMaxUpload),
		AllowedTypes:   parseList("ORGDOCS_ALLOWED_TYPES", ""),
		SignedURLTTL:   parseDuration("ORGDOCS_SIGNED_URL_TTL", defaultSignedTTL),
		RedisAddr:      readEnv("ORGDOCS_REDIS_ADDR", ""),
		RedisPassword:  readEnv("ORGDOCS_REDIS_PASSWORD", ""),
		RedisDB:        parseInt("ORGDOCS_REDIS_DB", 0),
		ReadTimeout:    parseDuration("ORGDOCS_READ_TIMEOUT", defaultHTTPTimeout),
		WriteTimeout:   parseDuration("ORGDOCS_WRITE_TIMEOUT", defaultHTTPTimeout),
	}
	if cfg.SigningSecret == nil {
		cfg.SigningSecret = randomSecret()
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUpload
	}
	if cfg.SignedURLTTL <= 0 {
		cfg.SignedURLTTL = defaultSignedTTL
	}
	return cfg, nil
}

func readEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func parseList(key, def string) []string {
	val := readEnv(key, def)
	if val == "" {
		return nil
	}
	out := strings.Split(val, ",")
	for i := range out {
		out[i] = strings.TrimSpace(out[i])
	}
	return out
}

func parseInt64(key string, def int64) int64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			return parsed
		}
	}
	return def
}

func parseInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return def
}

func parseBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			return parsed
		}
	}
	return def
}

func parseDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			return parsed
		}
	}
	return def
}

func parseSecret(key string) []byte {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return []byte(v)
	}
	return nil
}

func randomSecret() []byte {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return []byte("orgdocs-ephemeral-secret")
	}
	return buf
}
