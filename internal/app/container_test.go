package app

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/dig"

	"delivery-sync/internal/config"
	"delivery-sync/internal/engine"
	"delivery-sync/internal/logx"
	"delivery-sync/internal/queue"
	"delivery-sync/internal/repository"
	"delivery-sync/internal/store"
)

func testConfig() *config.Config {
	return &config.Config{
		DebugPort: 8091,
		Storage:   config.Storage{Path: "delivery-sync.db"},
		Queue:     config.DefaultQueue(),
		Realtime:  config.DefaultRealtime(),
		Tracking:  config.DefaultTracking(),
		Gateway:   config.DefaultGateway(),
	}
}

func setupTestContainer(t *testing.T) *dig.Container {
	t.Helper()

	c := dig.New()

	providers := []struct {
		name     string
		provider any
	}{
		{"context", func() context.Context { return context.Background() }},
		{"stdlog", func() *log.Logger { return log.New(log.Writer(), "", 0) }},
		{"logger", func() logx.Logger { return logx.Nop() }},
		{"config", testConfig},
		{"telemetry", newTelemetry},
		{"registry", func(tel telemetry) *prometheus.Registry { return tel.registry }},
	}

	for _, p := range providers {
		err := c.Provide(p.provider)
		require.NoErrorf(t, err, "provide %s", p.name)
	}

	dir := t.TempDir()
	openDB := func(ctx context.Context, _ string) (*sql.DB, error) {
		return repository.Open(ctx, filepath.Join(dir, "oplog.db"))
	}
	require.NoError(t, registerStorage(c, openDB))
	require.NoError(t, registerGateway(c))
	require.NoError(t, registerEngine(c))
	require.NoError(t, registerHTTP(c))

	return c
}

func verifyServer(t *testing.T, srv *http.Server) {
	t.Helper()

	require.NotNil(t, srv, "http.Server is nil")
	require.Equal(t, ":8091", srv.Addr)
	require.Greater(t, srv.ReadHeaderTimeout, time.Duration(0))
	require.Greater(t, srv.ReadTimeout, time.Duration(0))
	require.Greater(t, srv.WriteTimeout, time.Duration(0))
	require.Greater(t, srv.IdleTimeout, time.Duration(0))
}

func TestRegisterAll_ProvidesEngineAndServer(t *testing.T) {
	t.Parallel()

	c := setupTestContainer(t)

	err := c.Invoke(func(
		srv *http.Server,
		e *engine.Engine,
		q *queue.Queue,
		st *store.Store,
	) {
		verifyServer(t, srv)
		require.NotNil(t, e)
		require.NotNil(t, q)
		require.NotNil(t, st)
	})
	require.NoError(t, err)
}

func TestProvideAll_Success(t *testing.T) {
	t.Parallel()

	c := dig.New()

	err := provideAll(c,
		func() context.Context { return context.Background() },
		func() time.Duration { return 3 * time.Second },
	)
	require.NoError(t, err)

	err = c.Invoke(func(ctx context.Context, d time.Duration) {
		require.NotNil(t, ctx)
		require.Equal(t, 3*time.Second, d)
	})
	require.NoError(t, err)
}

func TestProvideAll_InvalidProvider(t *testing.T) {
	t.Parallel()

	c := dig.New()

	type bad struct{}
	err := provideAll(c, bad{})
	require.Error(t, err)
}

func TestRegisterStorage_UsesDBOpen(t *testing.T) {
	t.Parallel()

	c := dig.New()
	ctx := context.Background()
	cfg := testConfig()
	cfg.Storage.Path = "custom.db"

	require.NoError(t, c.Provide(func() context.Context { return ctx }))
	require.NoError(t, c.Provide(func() *config.Config { return cfg }))

	var gotPath string
	openDB := func(gotCtx context.Context, path string) (*sql.DB, error) {
		require.Equal(t, ctx, gotCtx)
		gotPath = path
		return repository.Open(gotCtx, filepath.Join(t.TempDir(), "oplog.db"))
	}
	require.NoError(t, registerStorage(c, openDB))

	err := c.Invoke(func(db *sql.DB, oplog *repository.OpLog) {
		require.NotNil(t, db)
		require.NotNil(t, oplog)
		t.Cleanup(func() { _ = db.Close() })
	})
	require.NoError(t, err)
	require.Equal(t, "custom.db", gotPath)
}

func TestRegisterStorage_OpenError(t *testing.T) {
	t.Parallel()

	c := dig.New()
	require.NoError(t, c.Provide(func() context.Context { return context.Background() }))
	require.NoError(t, c.Provide(testConfig))

	openDB := func(context.Context, string) (*sql.DB, error) {
		return nil, fmt.Errorf("disk gone")
	}
	require.NoError(t, registerStorage(c, openDB))

	err := c.Invoke(func(db *sql.DB) { _ = db })
	require.Error(t, err)
	require.Contains(t, err.Error(), "disk gone")
}

func TestContainerBuilder_MustBuild_NoFatal(t *testing.T) {
	t.Parallel()

	builder := NewContainerBuilder().
		WithDBOpen(func(ctx context.Context, _ string) (*sql.DB, error) {
			return repository.Open(ctx, filepath.Join(t.TempDir(), "oplog.db"))
		}).
		WithLogFatalf(func(format string, args ...interface{}) {
			require.FailNowf(t, "logFatalf must not be called", format, args...)
		})

	c := builder.MustBuild(context.Background())
	require.NotNil(t, c)
}
