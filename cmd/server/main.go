package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tierkv/pkg/api"
	"tierkv/pkg/checkpoint"
	"tierkv/pkg/config"
	"tierkv/pkg/core"
	"tierkv/pkg/evict"
	"tierkv/pkg/logging"
	"tierkv/pkg/network"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config (default: configs/tierkv.yaml if present)")
	restore := flag.Bool("restore", true, "load the latest checkpoint on start")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}
	logger := logging.MustNew(cfg.Log)
	defer func() { _ = logger.Sync() }()

	store, err := core.NewTieredStore(cfg.Storage, logger)
	if err != nil {
		logger.Fatal("open store", zap.Error(err))
	}

	ckpt := checkpoint.New(store, cfg.Checkpoint, core.FrequencyFilter{}, logger)
	if *restore {
		if path, step, err := ckpt.Latest(); err == nil {
			if _, err := ckpt.Restore(context.Background(), path); err != nil {
				logger.Fatal("restore checkpoint", zap.String("path", path), zap.Error(err))
			}
			logger.Info("restored checkpoint", zap.Int64("step", step))
		} else if !errors.Is(err, checkpoint.ErrNoCheckpoint) {
			logger.Warn("list checkpoints", zap.Error(err))
		}
	}

	evictor, err := evict.NewManager(store, cfg.Eviction, logger)
	if err != nil {
		logger.Fatal("eviction manager", zap.Error(err))
	}

	tcpServer := network.NewTCPServer(store, logger)
	httpServer := api.NewServer(store, api.Options{
		Checkpointer: ckpt,
		Evictor:      evictor,
		Logger:       logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	if cfg.Eviction.Enabled {
		g.Go(func() error {
			evictor.Run(ctx)
			return nil
		})
	}
	g.Go(func() error { return tcpServer.Start(cfg.Server.TCPAddr) })
	g.Go(func() error { return httpServer.Start(cfg.Server.Addr) })
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown", zap.Error(err))
		}
		return tcpServer.Close()
	})

	if err := g.Wait(); err != nil {
		logger.Error("server stopped", zap.Error(err))
	}

	// the hot tier is volatile; push it down before closing
	if err := store.FlushHot(); err != nil {
		logger.Error("flush hot tier", zap.Error(err))
	}
	if err := store.Close(); err != nil {
		logger.Error("close store", zap.Error(err))
	}
}
