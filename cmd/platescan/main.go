package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vbonduro/platescan/internal/config"
	"github.com/vbonduro/platescan/internal/db"
	"github.com/vbonduro/platescan/internal/logging"
	"github.com/vbonduro/platescan/internal/previewstore/local"
	"github.com/vbonduro/platescan/internal/service"
	"github.com/vbonduro/platescan/internal/store"
	"github.com/vbonduro/platescan/internal/vision"
	claudevision "github.com/vbonduro/platescan/internal/vision/claude"
	geminivision "github.com/vbonduro/platescan/internal/vision/gemini"
	ollamavision "github.com/vbonduro/platescan/internal/vision/ollama"
	"github.com/vbonduro/platescan/internal/web"
	"github.com/vbonduro/platescan/internal/web/templates"
)

const closeTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, cleanup, err := logging.New(cfg.LogLevel, cfg.LogFormat, cfg.LogFile)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer cleanup()

	if err := run(cfg, logger); err != nil {
		logger.Error("platescan exited with error", "error", err)
		cleanup()
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		if err := database.Close(); err != nil {
			logger.Error("failed to close database", "error", err)
		}
	}()

	analyzer, err := newVisionAnalyzer(ctx, cfg, logger)
	if err != nil {
		return err
	}

	previews, err := local.NewLocalPreviewStore(cfg.PreviewPath)
	if err != nil {
		return fmt.Errorf("failed to initialize preview store: %w", err)
	}
	if n, err := previews.Purge(ctx); err != nil {
		return fmt.Errorf("failed to purge preview store: %w", err)
	} else if n > 0 {
		logger.Info("purged leftover previews", "count", n)
	}

	svc := service.NewAnalysisService(
		store.NewSessionStore(database),
		analyzer,
		previews,
		logger,
		service.WithAnalysisTimeout(cfg.AnalysisTimeout),
	)
	// A file-backed database may hold sessions whose previews were just purged.
	if n, err := svc.ReleaseIdle(ctx, 0); err != nil {
		return fmt.Errorf("failed to drop stale sessions: %w", err)
	} else if n > 0 {
		logger.Info("dropped stale sessions", "count", n)
	}
	server := web.NewServer(svc, templates.FS, logger, cfg.MaxImageBytes)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.ListenAndServe(gctx, cfg.ListenAddr)
	})
	g.Go(func() error {
		return svc.RunJanitor(gctx, sweepInterval(cfg.SessionTTL), cfg.SessionTTL)
	})
	serveErr := g.Wait()

	closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := svc.Close(closeCtx); err != nil {
		logger.Error("failed to release sessions", "error", err)
	}
	return serveErr
}

// sweepInterval checks for idle sessions a few times per TTL.
func sweepInterval(ttl time.Duration) time.Duration {
	interval := ttl / 4
	if interval < time.Second {
		return time.Second
	}
	return interval
}

func newVisionAnalyzer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (vision.Analyzer, error) {
	switch cfg.VisionBackend {
	case config.BackendClaude:
		logger.Info("using Claude vision backend", "model", cfg.ClaudeModel)
		return claudevision.NewClaudeAnalyzer(cfg.ClaudeAPIKey, cfg.ClaudeModel)
	case config.BackendOllama:
		logger.Info("using Ollama vision backend", "model", cfg.OllamaModel)
		return ollamavision.NewOllamaAnalyzer(cfg.OllamaHost, cfg.OllamaModel), nil
	default:
		logger.Info("using Gemini vision backend", "model", cfg.GeminiModel)
		return geminivision.NewGeminiAnalyzer(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	}
}
