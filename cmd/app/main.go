package main

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aquamarinepk/aqm"

	"github.com/duisenbekovayan/ordersync/internal/cache"
	"github.com/duisenbekovayan/ordersync/internal/config"
	"github.com/duisenbekovayan/ordersync/internal/delivery"
	"github.com/duisenbekovayan/ordersync/internal/engine"
	"github.com/duisenbekovayan/ordersync/internal/httpapi"
	"github.com/duisenbekovayan/ordersync/internal/kafka"
	"github.com/duisenbekovayan/ordersync/internal/models"
	"github.com/duisenbekovayan/ordersync/internal/natsbus"
	"github.com/duisenbekovayan/ordersync/internal/projector"
	"github.com/duisenbekovayan/ordersync/internal/reconciler"
	"github.com/duisenbekovayan/ordersync/internal/remote"
	"github.com/duisenbekovayan/ordersync/internal/storage"
	"github.com/duisenbekovayan/ordersync/internal/tracing"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logger := aqm.NewLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, tracing.Config{
		ExporterURL: cfg.OTelExporterURL,
		ServiceName: cfg.OTelServiceName,
	})
	if err != nil {
		log.Fatal(err)
	}

	// Cache
	medium, closeMedium, err := openMedium(cfg)
	if err != nil {
		log.Fatal(err)
	}
	store := cache.New(medium, cache.WithNamespace(cfg.CacheNamespace), cache.WithLogger(logger))

	// Remote services
	client, err := remote.NewClient(cfg.RemoteBaseURL, cfg.RemoteTimeout)
	if err != nil {
		log.Fatal(err)
	}

	orders := projector.New()
	tracker := delivery.NewTracker(client,
		delivery.WithRateLimit(cfg.DeliveryRateLimit, cfg.DeliveryRateBurst),
		delivery.WithRefreshAfter(cfg.DeliveryRefresh),
		delivery.WithLogger(logger),
	)
	eng := engine.New(client, store, orders, tracker,
		engine.WithCacheTTL(cfg.CacheTTL),
		engine.WithLogger(logger),
	)
	rec := reconciler.New(orders, tracker, client, logger)

	// Warm-up
	if _, err := eng.LoadOrders(ctx, models.ListQuery{}, false); err != nil {
		logger.Error("initial order load failed", "error", err)
	}
	go eng.RunPeriodic(ctx, cfg.RefreshInterval)

	// Push events
	closeEvents := startEvents(ctx, cfg, rec, logger)

	// HTTP
	api := httpapi.New(cfg.HTTPAddr, eng, orders, logger)
	go func() {
		if err := api.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = api.Shutdown(shutdownCtx)
	_ = closeEvents.Close()
	_ = closeMedium.Close()
	_ = shutdownTracing(shutdownCtx)
}

func openMedium(cfg config.Config) (cache.Medium, io.Closer, error) {
	switch cfg.CacheBackend {
	case config.CacheSQLite:
		s, err := storage.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case config.CachePostgres:
		pg, err := storage.New(storage.DSN(cfg.PG.Host, cfg.PG.Port, cfg.PG.User, cfg.PG.Password, cfg.PG.DB))
		if err != nil {
			return nil, nil, err
		}
		return pg, pg, nil
	default:
		return cache.NewMemory(), io.NopCloser(nil), nil
	}
}

func startEvents(ctx context.Context, cfg config.Config, rec *reconciler.Reconciler, logger aqm.Logger) io.Closer {
	switch cfg.EventsTransport {
	case config.TransportKafka:
		cons := kafka.NewConsumer(kafka.Config{
			Brokers:  cfg.Kafka.Brokers,
			Topic:    cfg.Kafka.Topic,
			GroupID:  cfg.Kafka.Group,
			DLQTopic: cfg.Kafka.DLQTopic,
		}, rec.HandleMessage, logger)
		go func() {
			if err := cons.Run(ctx); err != nil {
				logger.Error("kafka consumer stopped", "error", err)
			}
		}()
		return cons

	case config.TransportNATS:
		sub, err := natsbus.Connect(ctx, cfg.NATSURL, 0, logger)
		if err != nil {
			logger.Error("push events disabled", "error", err)
			return io.NopCloser(nil)
		}
		go func() {
			if err := sub.Run(ctx, cfg.NATSSubject, rec.HandleMessage); err != nil {
				logger.Error("nats subscriber stopped", "error", err)
			}
		}()
		return sub

	default:
		logger.Info("push events disabled")
		return io.NopCloser(nil)
	}
}
