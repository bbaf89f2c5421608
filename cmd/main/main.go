package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/CTAG07/ecg/pkg/registry"
	"github.com/CTAG07/ecg/pkg/templating"
	"golang.org/x/sync/errgroup"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

const (
	configPath      = "./config.json"
	shutdownTimeout = 10 * time.Second
)

func main() {
	baseLogger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	actionChan := make(chan string, 1)

	go func() {
		osSignalChan := make(chan os.Signal, 1)
		signal.Notify(osSignalChan, syscall.SIGINT, syscall.SIGTERM)
		<-osSignalChan // Wait for a signal
		baseLogger.Info("OS signal received, initiating shutdown.")
		actionChan <- actionShutdown
	}()

	for {
		action, err := run(actionChan)
		if err != nil {
			baseLogger.Error("An error occurred during server run, shutting down.", "error", err)
			os.Exit(1)
		}

		if action != actionRestart {
			break
		}
		baseLogger.Info("--- Server Restarting ---")
	}

	baseLogger.Info("Emacs config generator has shut down.")
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// openSQLite opens dsn with driver and checks that the file is usable.
func openSQLite(driver, dsn string) (*sql.DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}
	if err = db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to %s database: %w", driver, err)
	}
	return db, nil
}

// openDB opens a SQLite database and applies schema to it.
func openDB(path string, schema func(*sql.DB) error) (*sql.DB, error) {
	db, err := initDB(path)
	if err != nil {
		return nil, err
	}
	if err = schema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set up schema: %w", err)
	}
	return db, nil
}

// run hosts both servers for one cycle, reloading config, registry and
// templates, and returns whenever the server is shut down or restarted.
func run(actionChan chan string) (string, error) {
	cm, err := NewConfigManager(configPath)
	if err != nil {
		return "", fmt.Errorf("failed to load configuration: %w", err)
	}
	config := cm.Get()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(config.Server.LogLevel)}))
	cm.SetLogger(logger)
	logger.Info("Starting server cycle...", "version", Version)

	reg, err := registry.Load(config.Generator.RegistryPath)
	if err != nil {
		return "", fmt.Errorf("failed to load option registry: %w", err)
	}
	logger.Info("Option registry loaded",
		"version", reg.Version(),
		"features", len(reg.Keys(registry.GroupFeature)),
		"languages", len(reg.Keys(registry.GroupLanguage)))

	tm, err := templating.NewTemplateManager(logger, config.Templates)
	if err != nil {
		return "", fmt.Errorf("failed to create template manager: %w", err)
	}

	if err = os.MkdirAll(config.Server.DataDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create data dir: %w", err)
	}

	authDB, err := openDB(config.Server.AuthDatabasePath, setupAuthSchema)
	if err != nil {
		return "", fmt.Errorf("failed to initialize auth database: %w", err)
	}
	defer func() {
		if err := authDB.Close(); err != nil {
			logger.Error("Failed to close auth database", "error", err)
		}
	}()

	var statsDB *sql.DB
	if config.Server.RecordStats {
		statsDB, err = openDB(config.Server.StatsDatabasePath, setupStatsSchema)
		if err != nil {
			return "", fmt.Errorf("failed to initialize stats database: %w", err)
		}
		defer func() {
			if err := statsDB.Close(); err != nil {
				logger.Error("Failed to close stats database", "error", err)
			}
		}()
	}

	server, err := NewServer(cm, logger, reg, tm, statsDB, authDB, actionChan)
	if err != nil {
		return "", fmt.Errorf("failed to create server object: %w", err)
	}

	siteHttpServer := &http.Server{Addr: config.Server.ServerAddr, Handler: server.siteMux}
	apiHttpServer := &http.Server{Addr: config.Server.ApiAddr, Handler: server.apiMux}

	g, gctx := errgroup.WithContext(context.Background())
	watchCtx, stopWatch := context.WithCancel(gctx)
	defer stopWatch()

	g.Go(func() error {
		logger.Info("Starting api server", "address", apiHttpServer.Addr)
		if err := apiHttpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("Starting site server", "address", siteHttpServer.Addr)
		if err := siteHttpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("site server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return tm.Watch(watchCtx)
	})

	var action string
	select {
	case action = <-actionChan: // API or OS signal.
	case <-gctx.Done():
		action = actionShutdown
	}

	logger.Info("Stopping servers for " + action + "...")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err = apiHttpServer.Shutdown(ctx); err != nil {
		logger.Error("Api server shutdown failed", "error", err)
	}
	if err = siteHttpServer.Shutdown(ctx); err != nil {
		logger.Error("Site server shutdown failed", "error", err)
	}
	stopWatch()

	if err = g.Wait(); err != nil {
		return "", err
	}
	logger.Info("HTTP servers stopped.")

	return action, nil
}
