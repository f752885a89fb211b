// plansite server: pricing, checkout and account pages for the plan terms.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kuitang/plansite/internal/app"
	"github.com/kuitang/plansite/internal/config"
	"github.com/kuitang/plansite/internal/db"
	"github.com/kuitang/plansite/internal/obs"
)

const (
	maintenanceInterval = 10 * time.Minute
	shutdownTimeout     = 10 * time.Second
)

func main() {
	obs.Init()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		obs.Pkg("main").Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	logger := obs.Pkg("main")

	flags, err := config.ParseFlags(args)
	if err != nil {
		return fmt.Errorf("parse flags: %w", err)
	}
	cfg, err := config.LoadConfig(flags)
	if err != nil {
		return err
	}
	cfg.PrintStartupSummary(stdout)

	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	a, err := app.New(cfg, database)
	if err != nil {
		return err
	}
	defer a.Close()

	maintCtx, cancelMaint := context.WithCancel(ctx)
	defer cancelMaint()
	a.Maintain(maintCtx)
	go a.RunMaintenance(maintCtx, maintenanceInterval)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           a.Handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.ListenAddr, "base_url", cfg.BaseURL)
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("server exited")
	return nil
}

// openDatabase opens the on-disk database, or a throwaway in-memory one when
// DATABASE_PATH is ":memory:".
func openDatabase(cfg *config.Config) (*db.DB, error) {
	if cfg.DatabasePath == db.InMemoryPath {
		return db.OpenInMemory()
	}
	return db.Open(cfg.DatabasePath, cfg.DatabaseKey)
}
