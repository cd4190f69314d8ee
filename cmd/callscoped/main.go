// Command callscoped is the callscope platform service. It ingests analysis
// results uploaded by CI, stores them, serves the query API and receives
// GitHub webhooks.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/callscope/callscope/internal/api"
	"github.com/callscope/callscope/internal/catalog"
	"github.com/callscope/callscope/internal/githubapp"
	"github.com/callscope/callscope/internal/ingestion"
	"github.com/callscope/callscope/internal/platform"
	"github.com/callscope/callscope/internal/webhook"
)

type serverConfig struct {
	ListenAddr     string
	DatabaseURL    string
	StorageBackend string
	StorageDir     string
	GCSBucket      string
	S3             ingestion.S3Config
	APIKey         string
	WebhookSecret  string
	GitHubAppID    int64
	GitHubKeyPath  string
}

func loadServerConfig() (serverConfig, error) {
	cfg := serverConfig{
		ListenAddr:     envOrDefault("LISTEN_ADDR", ":8080"),
		DatabaseURL:    envOrDefault("DATABASE_URL", "postgres://localhost:5432/callscope?sslmode=disable"),
		StorageBackend: envOrDefault("STORAGE_BACKEND", "local"),
		StorageDir:     envOrDefault("STORAGE_DIR", "/tmp/callscope-data"),
		GCSBucket:      os.Getenv("GCS_BUCKET"),
		S3: ingestion.S3Config{
			Bucket:    os.Getenv("S3_BUCKET"),
			Region:    os.Getenv("S3_REGION"),
			Endpoint:  os.Getenv("S3_ENDPOINT"),
			AccessKey: os.Getenv("S3_ACCESS_KEY"),
			SecretKey: os.Getenv("S3_SECRET_KEY"),
		},
		APIKey:        os.Getenv("CALLSCOPE_API_KEY"),
		WebhookSecret: os.Getenv("GITHUB_WEBHOOK_SECRET"),
		GitHubKeyPath: os.Getenv("GITHUB_PRIVATE_KEY_PATH"),
	}
	if v := os.Getenv("GITHUB_APP_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return cfg, fmt.Errorf("GITHUB_APP_ID: %w", err)
		}
		cfg.GitHubAppID = id
	}
	switch cfg.StorageBackend {
	case "local":
	case "gcs":
		if cfg.GCSBucket == "" {
			return cfg, errors.New("STORAGE_BACKEND=gcs requires GCS_BUCKET")
		}
	case "s3":
		if cfg.S3.Bucket == "" {
			return cfg, errors.New("STORAGE_BACKEND=s3 requires S3_BUCKET")
		}
	default:
		return cfg, fmt.Errorf("unknown STORAGE_BACKEND %q (want local, gcs or s3)", cfg.StorageBackend)
	}
	return cfg, nil
}

func newStorage(ctx context.Context, cfg serverConfig) (ingestion.StorageClient, error) {
	switch cfg.StorageBackend {
	case "gcs":
		return ingestion.NewGCSStorage(ctx, cfg.GCSBucket)
	case "s3":
		return ingestion.NewS3Storage(ctx, cfg.S3)
	default:
		return ingestion.NewLocalStorage(cfg.StorageDir), nil
	}
}

func newPublisher(cfg serverConfig) (*githubapp.Publisher, error) {
	if cfg.GitHubAppID == 0 || cfg.GitHubKeyPath == "" {
		return nil, nil
	}
	pemBytes, err := os.ReadFile(cfg.GitHubKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read GitHub App key: %w", err)
	}
	return githubapp.NewPublisher(cfg.GitHubAppID, pemBytes)
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("callscoped exited", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg, err := loadServerConfig()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	if err := platform.AutoMigrate(db, logger); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	storage, err := newStorage(ctx, cfg)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}

	catalogSvc := catalog.NewService(db)
	ingestionSvc := ingestion.NewService(catalogSvc, storage, logger)

	opts := api.Options{Cache: api.NewResultCacheFromEnv(), Logger: logger}
	publisher, err := newPublisher(cfg)
	if err != nil {
		return fmt.Errorf("github app: %w", err)
	}
	if publisher != nil {
		opts.Publisher = publisher
		logger.Info("check run publishing enabled", "app_id", cfg.GitHubAppID)
	}
	apiHandler := api.NewHandler(catalogSvc, ingestionSvc, opts)

	mux := http.NewServeMux()
	apiHandler.RegisterRoutes(mux)
	apiHandler.RegisterWriteRoutes(mux, api.APIKeyAuth(cfg.APIKey))
	if cfg.WebhookSecret != "" {
		mux.Handle("POST /v1/webhooks/github", webhook.NewHandler([]byte(cfg.WebhookSecret), catalogSvc, ingestionSvc, logger))
	} else {
		logger.Warn("GITHUB_WEBHOOK_SECRET not set; webhook endpoint disabled")
	}
	if cfg.APIKey == "" {
		logger.Warn("CALLSCOPE_API_KEY not set; write endpoints are unauthenticated")
	}
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", healthHandler(db))

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.CORS(api.RequestLogger(logger)(mux)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting callscoped", "addr", cfg.ListenAddr, "storage", cfg.StorageBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

type pinger interface {
	PingContext(ctx context.Context) error
}

func healthHandler(db pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := db.PingContext(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "database unreachable"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
