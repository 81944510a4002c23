// Package main запускает HTTP-сервер сервиса fanpoints.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ekorolkova/fanpoints/internal/catalog"
	"github.com/ekorolkova/fanpoints/internal/config"
	"github.com/ekorolkova/fanpoints/internal/event"
	"github.com/ekorolkova/fanpoints/internal/fulfillment"
	"github.com/ekorolkova/fanpoints/internal/handler"
	"github.com/ekorolkova/fanpoints/internal/metrics"
	"github.com/ekorolkova/fanpoints/internal/middleware"
	"github.com/ekorolkova/fanpoints/internal/repository"
	"github.com/ekorolkova/fanpoints/internal/scheduler"
	"github.com/ekorolkova/fanpoints/internal/service"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}

	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		sugar.Fatalw("catalog load error", "error", err.Error())
	}

	var deliverer service.Deliverer
	if cfg.FulfillmentAddress != "" {
		deliverer = fulfillment.NewClient(cfg.FulfillmentAddress)
	}

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	bus := event.NewBus(256)

	svc := service.NewService(repo, cat, deliverer, bus, m, logger)
	defer svc.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := svc.SyncRewards(ctx); err != nil {
		sugar.Fatalw("reward sync error", "error", err.Error())
	}

	sched, err := scheduler.New(svc, logger, cfg.SweepTime)
	if err != nil {
		sugar.Fatalw("scheduler configuration error", "error", err.Error())
	}

	auth := middleware.NewGatewayAuth(cfg.GatewaySecret)
	h := handler.NewHandler(svc, logger, auth)

	r := h.SetupRouter(promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: r,
	}

	g, ctx := errgroup.WithContext(ctx)

	// Подписчик-заглушка слоя представления: события уходят в журнал.
	events := bus.Subscribe()
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				sugar.Infow("economy event",
					"kind", string(e.Kind),
					"userID", e.UserID,
					"delta", e.Delta,
					"rewardID", e.RewardID,
					"purchaseID", e.PurchaseID,
				)
			}
		}
	})

	// Запуск фоновых задач: ежедневное обнуление серий и повторная доставка.
	g.Go(func() error {
		return sched.Run(ctx)
	})

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting fanpoints server", "addr", cfg.RunAddress)
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
