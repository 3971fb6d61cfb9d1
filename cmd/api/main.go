package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hamed0406/healthwatch/internal/config"
	"github.com/hamed0406/healthwatch/internal/httpapi"
	apimw "github.com/hamed0406/healthwatch/internal/httpapi/middleware"
	"github.com/hamed0406/healthwatch/internal/logging"
	"github.com/hamed0406/healthwatch/internal/monitor"
)

func main() {
	cfg := config.FromEnv()
	logger, err := logging.NewWithOptions(logging.Options{
		Dir:    cfg.LogDir,
		Name:   "api",
		Level:  cfg.LogLevel,
		Stderr: cfg.LogStderr,
	})
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Error("api_exit", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	channels, err := config.LoadChannels(cfg.ChannelsFile)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mon, err := monitor.New(ctx, cfg, channels, logger)
	if err != nil {
		return err
	}

	hub := httpapi.NewHub(cfg.AllowedOrigins, logger)
	api := httpapi.NewServer(logger, mon, mon.MetricsHandler(), hub)
	srv := &http.Server{
		Addr: cfg.Addr,
		Handler: api.Router(
			apimw.Keys{Public: cfg.PublicAPIKeys, Admin: cfg.AdminAPIKeys},
			cfg.AllowedOrigins,
			cfg.PublicRPM, cfg.PublicBurst, cfg.AdminRPM, cfg.AdminBurst,
		),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return mon.Run(ctx) })
	g.Go(func() error {
		hub.Run(ctx, mon.Bus())
		return nil
	})
	g.Go(func() error {
		logger.Info("api_listen",
			zap.String("addr", cfg.Addr),
			zap.Int("channels", len(channels)),
			zap.String("storage", cfg.Storage),
			zap.String("coordination", cfg.Coordination),
			zap.String("instance", cfg.InstanceID))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		reloadOnHUP(ctx, cfg.ChannelsFile, mon, logger)
		return nil
	})

	err = g.Wait()
	logger.Info("api_stopped")
	return err
}

// reloadOnHUP re-reads the channel file on SIGHUP. A bad file keeps the
// current channel set.
func reloadOnHUP(ctx context.Context, path string, mon *monitor.Monitor, logger *zap.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			chs, err := config.LoadChannels(path)
			if err == nil {
				err = mon.SetChannels(chs)
			}
			if err != nil {
				logger.Warn("channels_reload_failed", zap.String("file", path), zap.Error(err))
				continue
			}
			logger.Info("channels_reloaded", zap.Int("channels", len(chs)))
		}
	}
}
