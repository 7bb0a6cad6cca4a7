// Package bootstrap assembles the shared runtime for the api, worker, and
// bookctl binaries.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/tkendall99/bedtime-solved/internal/adapter/repo"
	"github.com/tkendall99/bedtime-solved/internal/books"
	"github.com/tkendall99/bedtime-solved/internal/infra"
	"github.com/tkendall99/bedtime-solved/internal/infra/credentials"
	"github.com/tkendall99/bedtime-solved/internal/pipeline"
	"github.com/tkendall99/bedtime-solved/internal/providers"
	"github.com/tkendall99/bedtime-solved/internal/providers/openrouter"
	"github.com/tkendall99/bedtime-solved/internal/providers/synthetic"
	"github.com/tkendall99/bedtime-solved/internal/queue"
	"github.com/tkendall99/bedtime-solved/internal/storage"
)

// Deps holds the long-lived connections and repositories.
type Deps struct {
	Pool        *pgxpool.Pool
	SQL         *infra.SQLRunner
	Redis       *redis.Client
	Books       *repo.BookRepositoryPG
	Jobs        *repo.JobRepositoryPG
	Pages       *repo.PageRepositoryPG
	Credentials *credentials.Store
	Store       storage.Store
	// FileStore is set only for the file backend, which serves its own
	// signed URLs.
	FileStore *storage.FileStore
	Notifier  queue.Notifier

	cfg    *infra.Config
	logger zerolog.Logger
}

// Open connects to Postgres and, when configured, Redis. An unreachable
// Redis degrades to polling instead of failing startup.
func Open(ctx context.Context, cfg *infra.Config, logger zerolog.Logger) (*Deps, error) {
	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	runner := infra.NewSQLRunner(pool, logger)

	store, fileStore, err := NewStore(cfg, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}

	rdb, err := infra.NewRedisClient(ctx, cfg)
	if err != nil {
		logger.Warn().Err(err).Msg("bootstrap: redis unavailable, falling back to polling")
		rdb = nil
	}

	return &Deps{
		Pool:        pool,
		SQL:         runner,
		Redis:       rdb,
		Books:       repo.NewBookRepository(runner),
		Jobs:        repo.NewJobRepository(runner),
		Pages:       repo.NewPageRepository(runner),
		Credentials: credentials.NewStore(runner),
		Store:       store,
		FileStore:   fileStore,
		Notifier:    queue.New(rdb, cfg.RedisQueueKey),
		cfg:         cfg,
		logger:      logger,
	}, nil
}

func (d *Deps) Close() {
	if d.Redis != nil {
		_ = d.Redis.Close()
	}
	d.Pool.Close()
}

// NewStore selects the artifact store from STORAGE_BACKEND.
func NewStore(cfg *infra.Config, logger zerolog.Logger) (storage.Store, *storage.FileStore, error) {
	switch cfg.StorageBackend {
	case "supabase":
		s, err := storage.NewSupabaseStore(storage.SupabaseOptions{
			BaseURL:    cfg.SupabaseURL,
			ServiceKey: cfg.SupabaseServiceKey,
			HTTPClient: &http.Client{Timeout: cfg.ProviderTimeout},
			Logger:     &logger,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("configure supabase storage: %w", err)
		}
		return s, nil, nil
	default:
		base := cfg.StoragePath
		if abs, err := filepath.Abs(base); err == nil {
			base = abs
		}
		if cfg.StorageSigningSecret == "" {
			logger.Warn().Msg("bootstrap: STORAGE_SIGNING_SECRET empty, signed urls will not survive a restart")
		}
		fs, err := storage.NewFileStore(storage.FileStoreOptions{
			BasePath:      base,
			PublicBaseURL: cfg.PublicBaseURL,
			SigningSecret: cfg.StorageSigningSecret,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("configure file storage: %w", err)
		}
		return fs, fs, nil
	}
}

// NewProviders returns OpenRouter clients when a key is configured or stored,
// and the synthetic generators otherwise.
func NewProviders(ctx context.Context, cfg *infra.Config, creds *credentials.Store, logger zerolog.Logger) (providers.TextGenerator, providers.ImageGenerator, error) {
	key, err := credentials.ResolveOpenRouterKey(ctx, creds, cfg.OpenRouterAPIKey)
	if err != nil {
		logger.Warn().Err(err).Msg("bootstrap: failed to load openrouter key from store")
		key = ""
	}
	if strings.TrimSpace(key) == "" {
		logger.Warn().Msg("bootstrap: openrouter api key missing, using synthetic generators")
		return synthetic.NewTextGenerator(), synthetic.NewImageGenerator(), nil
	}

	policy := providers.DefaultRetryPolicy().WithRetries(cfg.ProviderMaxRetries)
	policy.Timeout = cfg.ProviderTimeout
	if budget := policy.MaxDuration(); budget > cfg.PipelineStepTimeout {
		logger.Warn().Dur("retry_budget", budget).Dur("step_timeout", cfg.PipelineStepTimeout).
			Msg("bootstrap: provider retries can outlast the step timeout")
	}
	base := openrouter.Options{
		APIKey:     key,
		BaseURL:    cfg.OpenRouterBaseURL,
		Referer:    cfg.OpenRouterReferer,
		Title:      cfg.OpenRouterTitle,
		Retry:      policy,
		HTTPClient: &http.Client{Timeout: cfg.ProviderTimeout},
		Logger:     &logger,
	}

	textOpts := base
	textOpts.Model = cfg.OpenRouterTextModel
	text, err := openrouter.NewTextClient(textOpts)
	if err != nil {
		return nil, nil, fmt.Errorf("configure text client: %w", err)
	}
	imageOpts := base
	imageOpts.Model = cfg.OpenRouterImageModel
	image, err := openrouter.NewImageClient(imageOpts)
	if err != nil {
		return nil, nil, fmt.Errorf("configure image client: %w", err)
	}
	logger.Info().Str("text_model", text.Model()).Str("image_model", image.Model()).Msg("bootstrap: using openrouter")
	return text, image, nil
}

// Processor wires the pipeline over these deps.
func (d *Deps) Processor(ctx context.Context) (*pipeline.Processor, error) {
	text, image, err := NewProviders(ctx, d.cfg, d.Credentials, d.logger)
	if err != nil {
		return nil, err
	}
	return pipeline.NewProcessor(pipeline.Options{
		Books:        d.Books,
		Jobs:         d.Jobs,
		Pages:        d.Pages,
		Store:        d.Store,
		Text:         text,
		Image:        image,
		Logger:       &d.logger,
		StepTimeout:  d.cfg.PipelineStepTimeout,
		RetryBackoff: d.cfg.JobRetryBackoff,
	})
}

func (d *Deps) BookService() *books.Service {
	return books.NewService(books.Options{
		Books:        d.Books,
		Jobs:         d.Jobs,
		Pages:        d.Pages,
		Store:        d.Store,
		Notifier:     d.Notifier,
		MaxAttempts:  d.cfg.JobMaxAttempts,
		SignedURLTTL: d.cfg.SignedURLTTL,
		Logger:       &d.logger,
	})
}
