package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/example/mealdelivery/gateway"
	"github.com/example/mealdelivery/pkg/config"
	"github.com/example/mealdelivery/pkg/discovery"
	"github.com/example/mealdelivery/pkg/events"
	"github.com/example/mealdelivery/pkg/grpc"
	"github.com/example/mealdelivery/pkg/logger"
	"github.com/example/mealdelivery/pkg/models"
	"github.com/example/mealdelivery/pkg/observability"
	"github.com/example/mealdelivery/pkg/order"
	"github.com/example/mealdelivery/pkg/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		panic(fmt.Sprintf("Failed to create logger: %v", err))
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("Service stopped with error", zap.Error(err))
	}
	log.Info("Service stopped")
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	log.Info("Starting order service",
		zap.String("name", cfg.Server.Name),
		zap.Int("port", cfg.Server.Port),
		zap.String("database", cfg.Database.Driver))

	shutdownTracing, err := observability.SetupTracing(ctx, &cfg.Tracing, cfg.Server.Name)
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			log.Warn("Tracer shutdown failed", zap.Error(err))
		}
	}()

	db, err := repository.Open(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	if err := repository.Migrate(db); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	repo := repository.NewGormRepository(db)

	opts := []order.Option{order.WithCurrency(cfg.Orders.Currency)}

	if cfg.Redis.Enabled {
		cache := repository.NewOrderCache(repository.NewRedisClient(&cfg.Redis), cfg.Redis.OrderTTL)
		defer cache.Close()
		if err := cache.Ping(ctx); err != nil {
			log.Warn("Redis connection failed, reads will fall through to the database", zap.Error(err))
		} else {
			log.Info("Redis connected successfully")
		}
		opts = append(opts, order.WithCache(cache))
	}

	var audit gateway.AuditReader
	if cfg.MongoDB.Enabled {
		auditLog, err := repository.NewMongoAuditLog(ctx, &cfg.MongoDB, cfg.Server.Name)
		if err != nil {
			return fmt.Errorf("failed to connect to mongodb: %w", err)
		}
		defer auditLog.Close(context.Background())
		opts = append(opts, order.WithAuditLog(auditLog))
		audit = auditLog
	}

	outboxLog := log.Named("outbox")
	var publisher events.Publisher = events.LogPublisher{Log: func(e models.OutboxEvent) {
		outboxLog.Info("Event published to log",
			zap.String("event_id", e.ID),
			zap.String("type", e.Type),
			zap.String("order_id", e.AggregateID))
	}}
	if cfg.Kafka.Enabled {
		kafkaPublisher := events.NewKafkaPublisher(events.NewKafkaWriter(&cfg.Kafka))
		defer kafkaPublisher.Close()
		publisher = kafkaPublisher
	}

	manager := order.NewManager(repo, log.Named("orders"), opts...)
	relay := events.NewRelay(repo.Outbox(), publisher, outboxLog, cfg.Outbox.Interval, cfg.Outbox.BatchSize)
	health := grpc.NewHealthServer(cfg.Server.Name, cfg.GRPC.Port, repo, log.Named("health"))

	gw := gateway.NewGateway(&cfg.Server, log.Named("gateway"), manager, audit)
	gw.SetupRoutes()

	if cfg.Etcd.Enabled {
		registry, err := discovery.NewRegistry(&cfg.Etcd, log.Named("discovery"))
		if err != nil {
			return fmt.Errorf("failed to connect to etcd: %w", err)
		}
		defer registry.Close()

		host, err := cfg.Server.Advertised()
		if err != nil {
			return err
		}
		instance := discovery.ServiceInstance{Name: cfg.Server.Name, Host: host, Port: cfg.Server.Port}
		if err := registry.Register(ctx, instance); err != nil {
			return fmt.Errorf("failed to register service: %w", err)
		}
		defer func() {
			if err := registry.Deregister(context.Background()); err != nil {
				log.Error("Failed to deregister service", zap.Error(err))
			}
		}()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(gw.Start)
	g.Go(health.Start)
	g.Go(func() error { return health.Watch(gctx) })
	g.Go(func() error { return relay.Run(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down")

		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		health.Stop()
		return gw.Shutdown(sctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
