// Package main запускает HTTP-сервер сервиса распределения лидов по заявкам.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/leadmatch/internal/attorney"
	"github.com/mmeshcher/leadmatch/internal/config"
	"github.com/mmeshcher/leadmatch/internal/handler"
	"github.com/mmeshcher/leadmatch/internal/intake"
	"github.com/mmeshcher/leadmatch/internal/repository"
	"github.com/mmeshcher/leadmatch/internal/service"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := repository.Open(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}

	var leads service.LeadDirectory = repo
	if cfg.LeadDirectoryAddress != "" {
		leads = intake.NewClient(cfg.LeadDirectoryAddress)
		sugar.Infow("using remote lead directory", "addr", cfg.LeadDirectoryAddress)
	}

	var attorneys *attorney.Directory
	if cfg.AttorneyDirectoryFile != "" {
		attorneys, err = attorney.Load(cfg.AttorneyDirectoryFile)
		if err != nil {
			sugar.Fatalw("attorney directory error", "error", err.Error())
		}
	}

	svc := service.NewService(repo, leads, logger, nil)
	defer svc.Close()

	h := handler.NewHandler(svc, attorneys, logger)

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Фоновая фиксация истёкших заявок
	g.Go(func() error {
		svc.StartExpirySweep(ctx, cfg.SweepInterval)
		return nil
	})

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting leadmatch server", "addr", cfg.RunAddress, "sweepInterval", cfg.SweepInterval)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
