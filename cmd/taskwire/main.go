package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nhle/taskwire/internal/engine"
	"github.com/nhle/taskwire/internal/model"
	"github.com/nhle/taskwire/internal/registry"
	"github.com/nhle/taskwire/internal/secret"
	"github.com/nhle/taskwire/internal/source/email"
	"github.com/nhle/taskwire/internal/source/githubapp"
	"github.com/nhle/taskwire/internal/source/rss"
	"github.com/nhle/taskwire/internal/source/slack"
	"github.com/nhle/taskwire/internal/source/teams"
	"github.com/nhle/taskwire/internal/source/telegram"
	"github.com/nhle/taskwire/internal/store"
	"github.com/nhle/taskwire/internal/webhook"
)

func main() {
	configPath := flag.String("config", model.DefaultConfigPath(), "path to config file")
	dbPath := flag.String("db", "", "override database path")
	once := flag.Bool("once", false, "poll every source once and exit")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	flag.Parse()

	var lvl slog.Level
	switch *logLevel {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(log)

	if err := run(*configPath, *dbPath, *once, log); err != nil {
		log.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(configPath, dbPath string, once bool, log *slog.Logger) error {
	cfg, err := model.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if dbPath == "" {
		dbPath = cfg.Engine.DBPath
	}

	st, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	pool := webhook.NewPool(log)

	reg := registry.New()
	reg.RegisterBuiltin(rss.Metadata(), rss.New)
	reg.RegisterBuiltin(email.Metadata(), email.New)
	reg.RegisterBuiltin(telegram.Metadata(), telegram.New)
	reg.RegisterBuiltin(teams.Metadata(), teams.New)
	reg.RegisterBuiltin(githubapp.Metadata(), githubapp.New)
	reg.RegisterBuiltin(slack.Metadata(), slack.Factory(pool))
	for _, failure := range reg.Failures() {
		log.Warn("plugin rejected", "type", failure.Type, "error", failure.Err)
	}

	// Accepted items are logged until a task backend is attached.
	creator := engine.TaskCreatorFunc(func(ctx context.Context, sourceID string, item model.Item) (string, error) {
		log.Info("task created",
			"source", sourceID,
			"item", item.ID,
			"title", item.Title,
		)
		return "", nil
	})

	eng := engine.New(st, reg, secret.NewKeyring(), creator, pool, log)

	for _, src := range cfg.Sources {
		if src.PollIntervalSec == 0 {
			src.PollIntervalSec = cfg.Engine.PollIntervalSec
		}
		if err := eng.AddSource(src); err != nil {
			log.Error("skipping source", "source", src.ID, "error", err)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if once {
		return eng.RunOnce(ctx)
	}

	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("starting engine: %w", err)
	}
	log.Info("engine started", "sources", len(cfg.Sources), "db", dbPath)

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-eng.Fatal():
		log.Error("store failure, shutting down", "error", err)
		defer os.Exit(1)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	eng.Stop(shutdownCtx)
	return nil
}
