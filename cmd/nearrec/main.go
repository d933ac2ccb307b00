// Command nearrec 启动附近地点推荐 HTTP 服务。
//
// 配置见 settings 包：nearrec.yaml（或 NEARREC_CONFIG 指定的文件）加 NEARREC_* 环境变量。
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/rushteam/nearrec/logging"
	"github.com/rushteam/nearrec/settings"
)

func main() {
	cfg, err := settings.Load()
	if err != nil {
		bootLogger := zerolog.New(os.Stderr)
		bootLogger.Fatal().Err(err).Msg("load settings")
	}
	logger := logging.New(cfg.Log)

	a, err := build(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("build application")
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      a.handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", cfg.Server.Addr).
			Str("store", cfg.Store.Backend).
			Str("recall", cfg.Recall.Backend).
			Str("trait", cfg.Trait.Backend).
			Msg("nearrec listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("received shutdown signal")
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("http server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	if err := a.Close(); err != nil {
		logger.Error().Err(err).Msg("release resources")
	}
	logger.Info().Msg("nearrec stopped")
}
