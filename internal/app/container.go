package app

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/dig"

	"delivery-sync/internal/config"
	"delivery-sync/internal/engine"
	"delivery-sync/internal/gateway/rest"
	"delivery-sync/internal/http/debugserver"
	"delivery-sync/internal/logx"
	"delivery-sync/internal/metrics"
	"delivery-sync/internal/queue"
	"delivery-sync/internal/realtime"
	"delivery-sync/internal/repository"
	"delivery-sync/internal/store"
	"delivery-sync/internal/tracking"
)

// ContainerBuilder is a dig container builder.
type ContainerBuilder struct {
	dbOpen    func(context.Context, string) (*sql.DB, error)
	logFatalf func(string, ...interface{})
}

// NewContainerBuilder returns a new dig container builder
func NewContainerBuilder() *ContainerBuilder {
	return &ContainerBuilder{
		dbOpen:    repository.Open,
		logFatalf: log.Fatalf,
	}
}

// WithDBOpen sets the operation-log open function
func (b *ContainerBuilder) WithDBOpen(fn func(context.Context, string) (*sql.DB, error)) *ContainerBuilder {
	if fn != nil {
		b.dbOpen = fn
	}
	return b
}

// WithLogFatalf sets the log.Fatalf function
func (b *ContainerBuilder) WithLogFatalf(fn func(string, ...interface{})) *ContainerBuilder {
	if fn != nil {
		b.logFatalf = fn
	}
	return b
}

// MustBuild builds and returns a new dig container
func (b *ContainerBuilder) MustBuild(ctx context.Context) *dig.Container {
	container, err := b.build(ctx)
	if err != nil {
		b.logFatalf("failed to build container: %v", err)
	}
	return container
}

// build builds and returns a new dig container
func (b *ContainerBuilder) build(ctx context.Context) (*dig.Container, error) {
	container := dig.New()

	if err := registerCore(container, ctx); err != nil {
		return nil, fmt.Errorf("core: %w", err)
	}
	if err := registerStorage(container, b.dbOpen); err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	if err := registerGateway(container); err != nil {
		return nil, fmt.Errorf("gateway: %w", err)
	}
	if err := registerEngine(container); err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	if err := registerHTTP(container); err != nil {
		return nil, fmt.Errorf("http: %w", err)
	}
	return container, nil
}

// MustBuildContainer builds and returns a new dig container
func MustBuildContainer(ctx context.Context) *dig.Container {
	return NewContainerBuilder().MustBuild(ctx)
}

func provideAll(container *dig.Container, providers ...any) error {
	for _, provider := range providers {
		if err := container.Provide(provider); err != nil {
			return fmt.Errorf("provide %T: %w", provider, err)
		}
	}
	return nil
}

// telemetry bundles the registry with every counter the subsystems expose.
type telemetry struct {
	registry       *prometheus.Registry
	queue          queue.Metrics
	realtime       realtime.Metrics
	storeRejects   prometheus.Counter
	gatewayRetries prometheus.Counter
}

func newTelemetry() telemetry {
	registry := prometheus.NewRegistry()

	queueRetries := metrics.NewQueueRetriesTotal()
	queueDead := metrics.NewQueueDeadLetterTotal()
	queueFlushed := metrics.NewQueueFlushedTotal()
	rtReconnects := metrics.NewRealtimeReconnectsTotal()
	rtDropped := metrics.NewRealtimeDroppedTotal()
	rtStale := metrics.NewRealtimeStaleTotal()
	storeRejects := metrics.NewStoreInvariantRejectsTotal()
	gatewayRetries := metrics.NewGatewayRetriesTotal()

	registry.MustRegister(
		queueRetries, queueDead, queueFlushed,
		rtReconnects, rtDropped, rtStale,
		storeRejects, gatewayRetries,
	)

	return telemetry{
		registry: registry,
		queue: queue.Metrics{
			Retries:     queueRetries,
			DeadLetters: queueDead,
			Flushed:     queueFlushed,
		},
		realtime: realtime.Metrics{
			Reconnects: rtReconnects,
			Dropped:    rtDropped,
			Stale:      rtStale,
		},
		storeRejects:   storeRejects,
		gatewayRetries: gatewayRetries,
	}
}

func registerCore(container *dig.Container, ctx context.Context) error {
	return provideAll(container,
		func() context.Context { return ctx },
		func() *log.Logger { return log.Default() },
		NewLogger,
		config.Load,
		newTelemetry,
		func(tel telemetry) *prometheus.Registry { return tel.registry },
	)
}

func registerStorage(
	container *dig.Container,
	dbOpen func(context.Context, string) (*sql.DB, error),
) error {
	providerDB := func(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
		return dbOpen(ctx, cfg.Storage.Path)
	}
	return provideAll(container, providerDB, repository.NewOpLog)
}

func registerGateway(container *dig.Container) error {
	return provideAll(container,
		func(cfg *config.Config) *http.Client {
			return &http.Client{Timeout: cfg.Gateway.Timeout}
		},
		func(httpClient *http.Client, cfg *config.Config, logger logx.Logger) *rest.Client {
			return rest.NewClient(httpClient, cfg.Gateway.BaseURL, logger)
		},
		func(cfg *config.Config) *rest.TokenBucket {
			return rest.NewTokenBucketPerWindow(nil, cfg.Gateway.RateLimit, cfg.Gateway.RateWindow)
		},
		func(client *rest.Client, bucket *rest.TokenBucket) queue.Sender {
			return rest.NewLimitedSender(client, bucket)
		},
		func(client *rest.Client, cfg *config.Config, logger logx.Logger, tel telemetry) rest.Reader {
			return rest.NewRetryingReader(client, logger, tel.gatewayRetries, rest.RetryConfig{
				MaxAttempts: cfg.Gateway.RetryMaxAttempts,
				BaseDelay:   cfg.Gateway.RetryBaseDelay,
				MaxDelay:    cfg.Gateway.RetryMaxDelay,
			})
		},
	)
}

func registerEngine(container *dig.Container) error {
	return provideAll(container,
		func(logger logx.Logger, tel telemetry) *store.Store {
			return store.New(logger, tel.storeRejects)
		},
		func(oplog *repository.OpLog, sender queue.Sender, logger logx.Logger, tel telemetry, cfg *config.Config) *queue.Queue {
			return queue.New(oplog, sender, logger, tel.queue, queue.Config{
				Workers:     cfg.Queue.Workers,
				MaxAttempts: cfg.Queue.MaxAttempts,
				BaseDelay:   cfg.Queue.BaseDelay,
				MaxDelay:    cfg.Queue.MaxDelay,
			})
		},
		func() realtime.Dialer { return realtime.NewWebsocketDialer() },
		func(dialer realtime.Dialer, logger logx.Logger, tel telemetry, cfg *config.Config) *realtime.Manager {
			return realtime.NewManager(dialer, logger, tel.realtime, realtime.Config{
				URL:            cfg.Realtime.URL,
				BaseDelay:      cfg.Realtime.BaseDelay,
				MaxDelay:       cfg.Realtime.MaxDelay,
				StaleThreshold: cfg.Realtime.StaleThreshold,
			})
		},
		func(cfg *config.Config) *tracking.Interpolator {
			return tracking.New(tracking.Config{
				MinInterval:       cfg.Tracking.MinInterval,
				AnimationDuration: cfg.Tracking.AnimationDuration,
			})
		},
		engine.New,
	)
}

func registerHTTP(container *dig.Container) error {
	return provideAll(container,
		func(registry *prometheus.Registry, e *engine.Engine, logger logx.Logger) http.Handler {
			return debugserver.Handler(debugserver.Config{}, registry, e, logger)
		},
		func(cfg *config.Config, mux http.Handler) *http.Server {
			return &http.Server{
				Addr:              fmt.Sprintf(":%d", cfg.DebugPort),
				Handler:           mux,
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       15 * time.Second,
				WriteTimeout:      15 * time.Second,
				IdleTimeout:       60 * time.Second,
			}
		},
	)
}
