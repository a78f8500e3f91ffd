package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lockcoord/lockd/internal/config"
	"github.com/lockcoord/lockd/internal/httpapi"
	"github.com/lockcoord/lockd/internal/lockstore"
	lockdlog "github.com/lockcoord/lockd/internal/log"
)

var version = "dev"

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	addr := flag.String("addr", "", "listen address, overrides config file and default")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	lockdlog.Configure(lockdlog.Config{Level: "info", Service: "lockd"})
	logger := lockdlog.WithComponent("main")

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", *configPath).Msg("failed to load configuration")
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	cfg.Normalize()

	lockdlog.Configure(lockdlog.Config{Level: cfg.LogLevel, Service: "lockd"})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := lockstore.New(
		lockstore.WithTTL(cfg.TTL),
		lockstore.WithSweepPeriod(cfg.SweepPeriod),
		lockstore.WithWaitTick(cfg.WaitTick),
	)
	defer store.Close()

	api := httpapi.NewServer(store, cfg.MetricsEnabled)
	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: api.Handler(),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info().Str("addr", cfg.Addr).Msg("lockd listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal().Err(err).Msg("lockd exited with error")
	}
}
