package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/tkendall99/bedtime-solved/internal/bootstrap"
	"github.com/tkendall99/bedtime-solved/internal/http/handlers"
	"github.com/tkendall99/bedtime-solved/internal/http/httpapi"
	"github.com/tkendall99/bedtime-solved/internal/infra"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)
	if cfg.AdminAPIKey == "" {
		logger.Fatal().Msg("api: ADMIN_API_KEY is required")
	}

	ctx := context.Background()
	deps, err := bootstrap.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: startup failed")
	}
	defer deps.Close()

	processor, err := deps.Processor(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: failed to configure pipeline")
	}

	app := &handlers.App{
		Books:         deps.BookService(),
		Jobs:          processor,
		Notifier:      deps.Notifier,
		Ping:          deps.Pool.Ping,
		PublicBaseURL: cfg.PublicBaseURL,
		Logger:        logger,
	}
	// Supabase signed URLs point at Supabase; only the file backend is served here.
	if deps.FileStore != nil {
		app.Files = deps.FileStore
	}

	router := httpapi.NewRouter(app, httpapi.Options{
		AdminAPIKey:     cfg.AdminAPIKey,
		CORSOrigins:     cfg.CORSAllowedOrigins,
		RateLimitPerMin: cfg.RateLimitPerMin,
		Logger:          logger,
	})
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("api: listening on :%s", cfg.Port)
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("api: http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("api: failed to shutdown server")
	}
	logger.Info().Msg("api: stopped")
}
