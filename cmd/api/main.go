package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/swagger"
	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"scrubapi/docs"
	"scrubapi/internal/config"
	"scrubapi/internal/contentstore"
	"scrubapi/internal/database"
	"scrubapi/internal/database/migration"
	"scrubapi/internal/hasher"
	handlers "scrubapi/internal/http/handler"
	"scrubapi/internal/http/middleware"
	"scrubapi/internal/ledger"
	"scrubapi/internal/logger"
	"scrubapi/internal/metrics"
	"scrubapi/internal/otel"
	"scrubapi/internal/repository/postgres"
	"scrubapi/internal/scanner"
	"scrubapi/internal/scrubber"
	"scrubapi/internal/service"
	"scrubapi/internal/storage"
	"scrubapi/internal/tempfile"
)

// scratchMaxAge is how old an orphaned scratch directory must be before the
// startup sweep removes it.
const scratchMaxAge = time.Hour

// @title Scrub API
// @version 1.0
// @description Uploads files, strips privacy-sensitive metadata and records provenance.
// @BasePath /
func main() {
	// Load configuration from environment variables (.env auto-loaded if present)
	cfg := config.Load()
	log := logger.New(os.Stdout, logger.LoadLocation(cfg.Location))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Str("event", "startup_failed").Msg("server stopped")
	}
}

func run(ctx context.Context, cfg *config.AppConfig, log zerolog.Logger) error {
	shutdownTracing, err := otel.Init(ctx, log)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			log.Warn().Err(err).Str("event", "tracing_shutdown_failed").Msg("tracing shutdown")
		}
	}()

	// Initialize PostgreSQL connection (with pooling via database/sql)
	db, err := database.NewPostgres(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := migration.EnsureMigrated(ctx, db, log, cfg.Database.Host); err != nil {
		return err
	}

	objStore, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		return err
	}

	registry, err := tempfile.NewRegistry(cfg.Upload.ScratchDir)
	if err != nil {
		return err
	}
	if n, err := registry.Sweep(time.Now().Add(-scratchMaxAge)); err != nil {
		log.Warn().Err(err).Str("event", "scratch_sweep_failed").Msg("scratch sweep")
	} else if n > 0 {
		log.Info().Int("removed", n).Str("event", "scratch_sweep").Msg("removed stale scratch directories")
	}

	pipelineMetrics, err := metrics.New(prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}

	runner, err := scrubber.NewRunner(cfg.Scrub)
	if err != nil {
		return err
	}
	probe := scrubber.NewProbe(runner, scrubber.ProbeOptions{
		Timeout:     cfg.Scrub.ProbeTimeout,
		NegativeTTL: cfg.Scrub.ProbeNegativeTTL,
		Logger:      log,
	})
	tools := []scrubber.Tool{scrubber.Mat2Tool, scrubber.ExifToolTool}
	for _, t := range tools {
		probe.Check(ctx, t)
	}
	strategies, err := scrubber.FromConfig(cfg.Scrub.Strategies, runner, probe)
	if err != nil {
		return err
	}
	scrub := scrubber.New(strategies,
		scrubber.ExtractorChain{scrubber.NewExifToolExtractor(runner, probe), scrubber.PDFExtractor{}},
		scrubber.Options{Timeout: cfg.Scrub.Timeout, Logger: log, Observe: pipelineMetrics.ObserveScrub},
	)

	hash, err := hasher.New(cfg.HashAlgorithm)
	if err != nil {
		return err
	}
	publisher, err := contentstore.New(cfg.ContentStore, log)
	if err != nil {
		return err
	}
	anchorer, err := ledger.New(cfg.Ledger, cfg.AppEnv, log)
	if err != nil {
		return err
	}

	log.Info().
		Str("event", "pipeline_configured").
		Str("runner", runner.Name()).
		Strs("strategies", scrub.Strategies()).
		Str("hash_algorithm", string(hash.Algorithm())).
		Str("content_store", publisher.Name()).
		Str("ledger_mode", string(anchorer.Mode())).
		Str("storage_backend", cfg.Storage.Backend).
		Msg("upload pipeline ready")

	fileSvc := service.NewFileService(service.Dependencies{
		Registry: registry,
		Scrubber: scrub,
		Scanner:  scanner.NewClamAV(cfg.Scan.ClamscanPath, runner, cfg.Scan.Timeout, log),
		Hasher:   hash,
		Storage:  objStore,
		Content:  publisher,
		Ledger:   anchorer,
		Repo:     postgres.NewFilePostgres(db),
		Metrics:  pipelineMetrics,
		Logger:   log,
	}, service.Limits{
		MaxSize:        cfg.Upload.MaxSize,
		AllowedTypes:   cfg.Upload.AllowedTypes,
		DownloadPrefix: cfg.Upload.DownloadPrefix,
		PresignExpiry:  cfg.Storage.PresignExpiry,
		StorageTimeout: cfg.Storage.Timeout,
		QueryTimeout:   cfg.Database.QueryTimeout,
	})

	app := fiber.New(fiber.Config{
		// Multipart framing needs headroom above the file itself; the service
		// enforces the exact limit.
		BodyLimit:    int(cfg.Upload.MaxSize) + 1<<20,
		ErrorHandler: handlers.ErrorHandler(),
	})

	promMW, err := middleware.NewPrometheusMiddleware(prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}

	// Register global middleware
	// RequestID middleware adds/propagates X-Request-ID and stores it in context
	app.Use(middleware.RequestID())
	app.Use(otelfiber.Middleware())
	// JSON Logger middleware for structured request logs
	app.Use(middleware.Logger(log))
	app.Use(promMW.Handler())

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	handlers.RegisterRoutes(app, db, fileSvc, probe, tools, middleware.Owner(cfg.Auth.JWTSecret))

	// Swagger UI with dynamic host and scheme
	app.Get("/swagger/*", func(c *fiber.Ctx) error {
		scheme := c.Protocol()
		if proto := c.Get("X-Forwarded-Proto"); proto != "" {
			scheme = strings.Split(proto, ",")[0]
		}

		docs.SwaggerInfo.Host = c.Get("Host")
		docs.SwaggerInfo.Schemes = []string{scheme}

		return swagger.HandlerDefault(c)
	})

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		log.Info().Str("event", "server_start").Str("addr", addr).Str("env", cfg.AppEnv).Msg("listening")
		errCh <- app.Listen(addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Str("event", "server_shutdown").Msg("shutting down")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}
