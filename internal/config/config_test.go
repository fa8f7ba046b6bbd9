package config_test

import (
	"os"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"

	"delivery-sync/internal/config"
)

func resetFlags(t *testing.T) {
	t.Helper()
	old := pflag.CommandLine
	pflag.CommandLine = pflag.NewFlagSet(os.Args[0], pflag.ContinueOnError)
	t.Cleanup(func() {
		pflag.CommandLine = old
	})
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"DEBUG_PORT", "OPLOG_PATH",
		"QUEUE_WORKERS", "QUEUE_MAX_ATTEMPTS", "QUEUE_BASE_DELAY", "QUEUE_MAX_DELAY",
		"REALTIME_URL", "REALTIME_BASE_DELAY", "REALTIME_MAX_DELAY", "REALTIME_STALE_THRESHOLD",
		"TRACKING_MIN_INTERVAL", "TRACKING_ANIMATION_DURATION",
		"GATEWAY_BASE_URL", "GATEWAY_TIMEOUT", "GATEWAY_RETRY_MAX_ATTEMPTS",
		"GATEWAY_RETRY_BASE_DELAY", "GATEWAY_RETRY_MAX_DELAY",
		"GATEWAY_RATE_LIMIT", "GATEWAY_RATE_WINDOW",
	} {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	resetFlags(t)
	clearEnv(t)

	cfg, err := config.Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	require.Equal(t, 8091, cfg.DebugPort)
	require.Equal(t, "delivery-sync.db", cfg.Storage.Path)

	require.Equal(t, 4, cfg.Queue.Workers)
	require.Equal(t, 5, cfg.Queue.MaxAttempts)
	require.Equal(t, time.Second, cfg.Queue.BaseDelay)
	require.Equal(t, 60*time.Second, cfg.Queue.MaxDelay)

	require.Equal(t, 2*time.Second, cfg.Realtime.BaseDelay)
	require.Equal(t, 30*time.Second, cfg.Realtime.MaxDelay)
	require.Equal(t, 45*time.Second, cfg.Realtime.StaleThreshold)

	require.Equal(t, 2*time.Second, cfg.Tracking.MinInterval)
	require.Equal(t, 2*time.Second, cfg.Tracking.AnimationDuration)

	require.Equal(t, 15*time.Second, cfg.Gateway.Timeout)
}

func TestLoad_EnvOverrides(t *testing.T) {
	resetFlags(t)
	clearEnv(t)

	t.Setenv("DEBUG_PORT", "9191")
	t.Setenv("OPLOG_PATH", "/tmp/ops.db")
	t.Setenv("QUEUE_WORKERS", "2")
	t.Setenv("QUEUE_MAX_ATTEMPTS", "3")
	t.Setenv("QUEUE_BASE_DELAY", "500ms")
	t.Setenv("QUEUE_MAX_DELAY", "10s")
	t.Setenv("REALTIME_STALE_THRESHOLD", "30s")
	t.Setenv("GATEWAY_TIMEOUT", "5s")

	cfg, err := config.Load()
	require.NoError(t, err)

	require.Equal(t, 9191, cfg.DebugPort)
	require.Equal(t, "/tmp/ops.db", cfg.Storage.Path)
	require.Equal(t, 2, cfg.Queue.Workers)
	require.Equal(t, 3, cfg.Queue.MaxAttempts)
	require.Equal(t, 500*time.Millisecond, cfg.Queue.BaseDelay)
	require.Equal(t, 10*time.Second, cfg.Queue.MaxDelay)
	require.Equal(t, 30*time.Second, cfg.Realtime.StaleThreshold)
	require.Equal(t, 5*time.Second, cfg.Gateway.Timeout)
}

func TestLoad_InvalidValues(t *testing.T) {
	cases := []struct {
		name string
		key  string
		val  string
	}{
		{name: "bad port", key: "DEBUG_PORT", val: "70000"},
		{name: "zero workers", key: "QUEUE_WORKERS", val: "0"},
		{name: "zero attempts", key: "QUEUE_MAX_ATTEMPTS", val: "0"},
		{name: "max below base", key: "QUEUE_MAX_DELAY", val: "1ms"},
		{name: "zero gateway timeout", key: "GATEWAY_TIMEOUT", val: "0s"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resetFlags(t)
			clearEnv(t)
			t.Setenv(tc.key, tc.val)

			_, err := config.Load()
			require.Error(t, err)
		})
	}
}

func TestLoad_IgnoresMalformedEnv(t *testing.T) {
	resetFlags(t)
	clearEnv(t)

	t.Setenv("QUEUE_WORKERS", "many")
	t.Setenv("QUEUE_BASE_DELAY", "soon")

	cfg, err := config.Load()
	require.NoError(t, err)
	require.Equal(t, 4, cfg.Queue.Workers)
	require.Equal(t, time.Second, cfg.Queue.BaseDelay)
}
