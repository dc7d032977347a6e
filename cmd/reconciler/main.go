package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/boddenberg/boleto-reconciler/internal/config"
	"github.com/boddenberg/boleto-reconciler/internal/domain"
	"github.com/boddenberg/boleto-reconciler/internal/handler"
	"github.com/boddenberg/boleto-reconciler/internal/infra/archive"
	"github.com/boddenberg/boleto-reconciler/internal/infra/cache"
	"github.com/boddenberg/boleto-reconciler/internal/infra/client"
	"github.com/boddenberg/boleto-reconciler/internal/infra/docproc"
	"github.com/boddenberg/boleto-reconciler/internal/infra/observability"
	"github.com/boddenberg/boleto-reconciler/internal/infra/resilience"
	"github.com/boddenberg/boleto-reconciler/internal/port"
	"github.com/boddenberg/boleto-reconciler/internal/service"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func main() {
	// --- Load .env file (for local development) ---
	_ = config.LoadDotEnv(".env")

	// --- Config ---
	cfg := config.Load()

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.Bool("vision_enabled", cfg.VisionEnabled),
		zap.Bool("ocr_enabled", cfg.OCREnabled),
		zap.Int("index_workers", cfg.IndexWorkers),
		zap.Int("max_retries", cfg.MaxRetries),
		zap.Int("rate_limit_retries", cfg.RateLimitRetries),
		zap.Duration("initial_backoff", cfg.InitialBackoff),
		zap.String("archive_sink", cfg.ArchiveSink),
		zap.Bool("auth_enabled", cfg.JWTSecret != ""),
	)

	// --- Tracing ---
	endpoint := ""
	if cfg.TracingEnabled {
		endpoint = cfg.OTLPEndpoint
	}
	shutdown, err := observability.InitTracer(endpoint, "boleto-reconciler")
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdown(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	// --- Cache ---
	extractionCache := cache.New[domain.ExtractedFields](cfg.ExtractionCacheTTL)
	defer extractionCache.Close()

	// --- Resilience ---
	resilienceCfg := resilience.Config{
		MaxRetries:       cfg.MaxRetries,
		RateLimitRetries: cfg.RateLimitRetries,
		InitialBackoff:   cfg.InitialBackoff,
		MaxBackoff:       cfg.MaxBackoff,
		MaxConcurrency:   cfg.MaxConcurrency,
	}

	// --- Document tooling ---
	toolkit := docproc.New(docproc.Config{
		Pdftotext:      cfg.PdftotextBin,
		Pdftoppm:       cfg.PdftoppmBin,
		Pdfseparate:    cfg.PdfseparateBin,
		Pdfunite:       cfg.PdfuniteBin,
		Img2pdf:        cfg.Img2pdfBin,
		Tesseract:      cfg.TesseractBin,
		TesseractLang:  cfg.TesseractLang,
		DPI:            cfg.RasterDPI,
		MaxConcurrency: cfg.MaxConcurrency,
	}, nil, resilience.NewLimiter(cfg.OCRRPS, 1), logger)

	// --- Vision ---
	var visionClient *client.VisionClient
	if cfg.VisionEnabled && cfg.GeminiAPIKey != "" {
		gen, err := client.NewGeminiGenerator(context.Background(), cfg.GeminiAPIKey)
		if err != nil {
			logger.Fatal("failed to create vision client", zap.Error(err))
		}
		visionClient = client.NewVisionClient(
			gen,
			cfg.GeminiModel,
			resilience.NewCircuitBreaker("vision"),
			resilienceCfg,
			resilience.NewLimiter(cfg.VisionRPS, cfg.VisionBurst),
			cfg.VisionTimeout,
			metrics,
			logger,
		)
		logger.Info("vision capability enabled", zap.String("model", cfg.GeminiModel))
	} else {
		logger.Warn("vision capability disabled: extraction and disambiguation degrade gracefully")
	}

	// --- Services ---
	strategies := service.StrategySet{
		Text:          toolkit,
		Raster:        toolkit,
		Filename:      true,
		CodeMinLength: cfg.CodeMinLength,
	}
	if cfg.OCREnabled {
		strategies.OCR = toolkit
	}
	var disambiguatorVision port.VisionDisambiguator
	if visionClient != nil {
		strategies.Vision = visionClient
		disambiguatorVision = visionClient
	}

	extractor := service.NewFieldExtractor(strategies.Build(), extractionCache, metrics, logger)

	tolerance, err := decimal.NewFromString(cfg.AmountTolerance)
	if err != nil {
		logger.Fatal("invalid AMOUNT_TOLERANCE", zap.String("value", cfg.AmountTolerance), zap.Error(err))
	}
	engine := service.NewMatchingEngine(service.MatchingConfig{
		CodeMinLength:      cfg.CodeMinLength,
		CodeTrailingDigits: cfg.CodeTrailingDigits,
		Tolerance:          tolerance,
	}, service.NewDisambiguator(toolkit, disambiguatorVision, logger), metrics, logger)

	// --- Output ---
	var sink port.ArchiveSink
	var archives handler.ArchiveStore
	switch cfg.ArchiveSink {
	case "gcs":
		gcs, err := archive.NewGCSSink(context.Background(), cfg.GCSBucket, cfg.GCSPrefix, logger)
		if err != nil {
			logger.Fatal("failed to create GCS sink", zap.Error(err))
		}
		defer gcs.Close()
		sink = gcs
		logger.Info("archives stored in GCS", zap.String("bucket", cfg.GCSBucket))
	default:
		local, err := archive.NewLocalSink(cfg.ArchiveDir, cfg.ArchiveBaseURL, logger)
		if err != nil {
			logger.Fatal("failed to create archive dir", zap.Error(err))
		}
		sink = local
		archives = local
		logger.Info("archives stored locally", zap.String("dir", cfg.ArchiveDir))
	}

	var report port.ReportWriter
	if cfg.ReportEnabled {
		report = archive.Report{}
	}

	reconciler := service.NewReconciler(
		toolkit,
		toolkit,
		extractor,
		engine,
		sink,
		report,
		service.ReconcilerConfig{IndexWorkers: cfg.IndexWorkers},
		metrics,
		logger,
	)

	// --- Router ---
	router := handler.NewRouter(reconciler, archives, handler.Options{
		MaxUploadBytes: cfg.MaxUploadBytes,
		JWTSecret:      cfg.JWTSecret,
	}, metrics, logger)

	// --- Server ---
	// No WriteTimeout: a run streams its progress for as long as it takes.
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       2 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	// --- Graceful shutdown ---
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("server forced shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}
