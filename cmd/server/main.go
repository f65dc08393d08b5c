// Command server runs the image-bot backend: the HTTP API chat gateways
// relay requests to, the job poll loops tracking the image-generation
// backend, and the terminal-job archive.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/pixelrelay/go-imagebot-backend/internal/backend"
	"github.com/pixelrelay/go-imagebot-backend/internal/config"
	httpapi "github.com/pixelrelay/go-imagebot-backend/internal/http"
	"github.com/pixelrelay/go-imagebot-backend/internal/i18n"
	"github.com/pixelrelay/go-imagebot-backend/internal/notify"
	"github.com/pixelrelay/go-imagebot-backend/internal/observability"
	"github.com/pixelrelay/go-imagebot-backend/internal/orchestrator"
	"github.com/pixelrelay/go-imagebot-backend/internal/registry"
	"github.com/pixelrelay/go-imagebot-backend/internal/repo"
	"github.com/pixelrelay/go-imagebot-backend/internal/sysutil"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := config.MustLoad()

	// Logging
	sysutil.SetLogLevel(cfg.LogLevel)
	zerolog.TimeFieldFormat = time.RFC3339
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	logger := log.With().Str("service", cfg.OTEL.ServiceName).Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Tracing
	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		logger.Fatal().Err(err).Msg("otel setup failed")
	}

	// Persistence (archive, preferences, event dedup)
	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.DBPath).Msg("database open failed")
	}
	if err := repo.AutoMigrate(db); err != nil {
		logger.Fatal().Err(err).Msg("database migration failed")
	}

	// Image backend client
	client := backend.New(backend.Options{
		BaseURL:        cfg.Backend.BaseURL,
		RequestTimeout: cfg.Backend.RequestTimeout,
		Logger:         logger,
	})

	// Live job registry and its retention sweeper
	reg := registry.New(registry.Options{
		Retention: cfg.Jobs.Retention,
		MaxActive: cfg.Jobs.MaxActive,
		Logger:    logger,
	})
	go reg.RunSweeper(ctx, time.Minute)
	go purgeDedupLoop(ctx, db, logger)

	// Localized notifications through the chat gateway
	prefs, err := i18n.NewPrefs(cfg.Intake.DefaultLanguage, repo.PrefStore{DB: db})
	if err != nil {
		logger.Fatal().Err(err).Msg("language preference load failed")
	}
	var gateway notify.ChatGateway
	if cfg.Gateway.WebhookURL != "" {
		gateway = notify.NewWebhookGateway(notify.WebhookOptions{
			URL:     cfg.Gateway.WebhookURL,
			Token:   cfg.Gateway.Token,
			Timeout: cfg.Gateway.Timeout,
			Logger:  logger,
		})
	} else {
		logger.Warn().Msg("GATEWAY_WEBHOOK_URL not set; notifications will only be logged")
		gateway = notify.LogGateway{Logger: logger}
	}
	notifier := notify.New(gateway, prefs, logger)

	// Orchestrator: one poll loop per in-flight job
	orc := orchestrator.New(ctx, orchestrator.Options{
		Backend:     client,
		Registry:    reg,
		Notifier:    notifier,
		Archiver:    repo.JobArchiver{DB: db},
		Jobs:        cfg.Jobs,
		MaxImageDim: cfg.Images.MaxDimension,
		Logger:      logger,
	})

	// HTTP API
	gin.SetMode(cfg.GinMode)
	engine := gin.New()
	httpapi.RegisterRoutes(engine, httpapi.Services{
		Jobs:      orc,
		Directory: reg,
		Info:      client,
		Ack:       notifier,
		Prefs:     prefs,
		DB:        db,
	}, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           engine,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		logger.Info().Str("addr", srv.Addr).Str("version", version).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown failed")
	}

	// Poll loops observe ctx cancellation (via signal.NotifyContext above);
	// wait for them so in-flight terminal notifications finish.
	orc.Wait()

	if err := shutdownOTel(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("otel shutdown failed")
	}
	logger.Info().Msg("server stopped")
}

// purgeDedupLoop removes expired chat-event dedup rows every hour.
func purgeDedupLoop(ctx context.Context, db *gorm.DB, logger zerolog.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := repo.PurgeExpiredEvents(ctx, db)
			if err != nil {
				logger.Warn().Err(err).Msg("event dedup purge failed")
			} else if n > 0 {
				logger.Debug().Int64("purged", n).Msg("event dedup rows purged")
			}
		}
	}
}
