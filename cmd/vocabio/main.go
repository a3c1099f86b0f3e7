package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/conorfennell/vocabio/internal/auth"
	"github.com/conorfennell/vocabio/internal/config"
	"github.com/conorfennell/vocabio/internal/domain"
	"github.com/conorfennell/vocabio/internal/review"
	"github.com/conorfennell/vocabio/internal/storage"
	"github.com/conorfennell/vocabio/internal/sync"
	"github.com/conorfennell/vocabio/internal/web"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "vocabio: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	// A missing .env is fine; real environment variables still apply.
	_ = godotenv.Load()

	// 1. Define and parse command-line flags
	fs := pflag.NewFlagSet("vocabio", pflag.ContinueOnError)
	configPath := fs.String("config", "vocabio.yaml", "Path to the YAML config file")
	addSource := fs.String("add-source", "", "Add a local directory or git URL as a deck source")
	runSync := fs.Bool("sync", false, "Sync all sources and exit unless --serve is set")
	serve := fs.Bool("serve", false, "Start the HTTP API")
	issueToken := fs.String("issue-token", "", "Issue a session token for the given user id")
	config.RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := config.Load(*configPath, fs)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Open the database
	db, err := storage.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()
	logger.Info("Database opened successfully", "path", cfg.Database.Path)

	syncer := sync.NewSyncer(db, cfg.Sync.ReposDir, logger)

	if *addSource != "" {
		if err := addNewSource(ctx, db, *addSource, logger); err != nil {
			return err
		}
	}

	if *issueToken != "" {
		session := auth.Issue(*issueToken, cfg.Review.SessionTTL, time.Now())
		if err := db.InsertSession(ctx, session); err != nil {
			return fmt.Errorf("failed to store session: %w", err)
		}
		logger.Info("Session issued", "user_id", session.UserID, "expires_at", session.ExpiresAt)
		fmt.Println(session.Token)
	}

	if *runSync {
		if _, err := syncer.Run(ctx); err != nil {
			return fmt.Errorf("sync failed: %w", err)
		}
	}

	if *serve {
		reviews := review.NewService(db, review.WithDueLimit(cfg.Review.DueLimit))
		return serveHTTP(ctx, cfg.Server.Addr, web.NewServer(db, reviews, syncer, logger), logger)
	}

	if *addSource == "" && *issueToken == "" && !*runSync {
		fs.Usage()
	}
	return nil
}

func newLogger(cfg config.Log) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
}

// addNewSource registers a source once; local paths are stored absolute.
func addNewSource(ctx context.Context, db *storage.DB, path string, logger *slog.Logger) error {
	sourceType := domain.DetectSourceType(path)
	if sourceType == domain.SourceLocal {
		abs, err := filepath.Abs(path)
		if err != nil {
			return fmt.Errorf("could not resolve path %s: %w", path, err)
		}
		path = abs
	}

	existing, err := db.FindSourceByPath(ctx, path)
	if err != nil {
		return fmt.Errorf("failed to check for existing source: %w", err)
	}
	if existing != nil {
		logger.Info("Source already exists", "id", existing.ID, "path", path)
		return nil
	}

	id, err := db.InsertSource(ctx, path, sourceType)
	if err != nil {
		return fmt.Errorf("failed to add source: %w", err)
	}
	logger.Info("Source added", "id", id, "path", path, "type", sourceType)
	return nil
}

func serveHTTP(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		logger.Info("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
