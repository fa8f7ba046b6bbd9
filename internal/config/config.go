package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

// Config stores sync-agent settings.
type Config struct {
	DebugPort int
	Storage   Storage
	Queue     Queue
	Realtime  Realtime
	Tracking  Tracking
	Gateway   Gateway
}

// Storage stores durable operation-log settings.
type Storage struct {
	Path string
}

// Queue stores pending-operation queue settings.
type Queue struct {
	Workers     int
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Realtime stores push-transport settings.
type Realtime struct {
	URL            string
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	StaleThreshold time.Duration
}

// Tracking stores location-smoothing settings.
type Tracking struct {
	MinInterval       time.Duration
	AnimationDuration time.Duration
}

// Gateway stores REST collaborator settings.
type Gateway struct {
	BaseURL          string
	Timeout          time.Duration
	RetryMaxAttempts int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration
	RateLimit        int
	RateWindow       time.Duration
}

// Load reads configuration in order: .env (if present) → environment → flags.
func Load() (*Config, error) {
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("warning: .env not loaded: %v", err)
	}

	cfg := &Config{
		DebugPort: DefaultDebugPort(),
		Storage:   DefaultStorage(),
		Queue:     DefaultQueue(),
		Realtime:  DefaultRealtime(),
		Tracking:  DefaultTracking(),
		Gateway:   DefaultGateway(),
	}

	cfg.DebugPort = envInt("DEBUG_PORT", cfg.DebugPort)
	cfg.Storage.Path = envString("OPLOG_PATH", cfg.Storage.Path)

	cfg.Queue.Workers = envInt("QUEUE_WORKERS", cfg.Queue.Workers)
	cfg.Queue.MaxAttempts = envInt("QUEUE_MAX_ATTEMPTS", cfg.Queue.MaxAttempts)
	cfg.Queue.BaseDelay = envDuration("QUEUE_BASE_DELAY", cfg.Queue.BaseDelay)
	cfg.Queue.MaxDelay = envDuration("QUEUE_MAX_DELAY", cfg.Queue.MaxDelay)

	cfg.Realtime.URL = envString("REALTIME_URL", cfg.Realtime.URL)
	cfg.Realtime.BaseDelay = envDuration("REALTIME_BASE_DELAY", cfg.Realtime.BaseDelay)
	cfg.Realtime.MaxDelay = envDuration("REALTIME_MAX_DELAY", cfg.Realtime.MaxDelay)
	cfg.Realtime.StaleThreshold = envDuration("REALTIME_STALE_THRESHOLD", cfg.Realtime.StaleThreshold)

	cfg.Tracking.MinInterval = envDuration("TRACKING_MIN_INTERVAL", cfg.Tracking.MinInterval)
	cfg.Tracking.AnimationDuration = envDuration("TRACKING_ANIMATION_DURATION", cfg.Tracking.AnimationDuration)

	cfg.Gateway.BaseURL = envString("GATEWAY_BASE_URL", cfg.Gateway.BaseURL)
	cfg.Gateway.Timeout = envDuration("GATEWAY_TIMEOUT", cfg.Gateway.Timeout)
	cfg.Gateway.RetryMaxAttempts = envInt("GATEWAY_RETRY_MAX_ATTEMPTS", cfg.Gateway.RetryMaxAttempts)
	cfg.Gateway.RetryBaseDelay = envDuration("GATEWAY_RETRY_BASE_DELAY", cfg.Gateway.RetryBaseDelay)
	cfg.Gateway.RetryMaxDelay = envDuration("GATEWAY_RETRY_MAX_DELAY", cfg.Gateway.RetryMaxDelay)
	cfg.Gateway.RateLimit = envInt("GATEWAY_RATE_LIMIT", cfg.Gateway.RateLimit)
	cfg.Gateway.RateWindow = envDuration("GATEWAY_RATE_WINDOW", cfg.Gateway.RateWindow)

	pflag.IntVarP(&cfg.DebugPort, "debug-port", "p", cfg.DebugPort, "debug HTTP port to listen on")
	pflag.StringVar(&cfg.Storage.Path, "oplog-path", cfg.Storage.Path, "path to the sqlite operation log")
	pflag.StringVar(&cfg.Gateway.BaseURL, "gateway-url", cfg.Gateway.BaseURL, "REST collaborator base URL")
	pflag.StringVar(&cfg.Realtime.URL, "realtime-url", cfg.Realtime.URL, "push transport websocket URL")
	pflag.Parse()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.DebugPort <= 0 || c.DebugPort > 65535 {
		return fmt.Errorf("invalid debug port: %d", c.DebugPort)
	}
	if c.Storage.Path == "" {
		return fmt.Errorf("oplog path must not be empty")
	}
	if c.Queue.Workers <= 0 {
		return fmt.Errorf("queue workers must be positive, got %d", c.Queue.Workers)
	}
	if c.Queue.MaxAttempts <= 0 {
		return fmt.Errorf("queue max attempts must be positive, got %d", c.Queue.MaxAttempts)
	}
	if c.Queue.BaseDelay <= 0 || c.Queue.MaxDelay < c.Queue.BaseDelay {
		return fmt.Errorf("invalid queue backoff: base=%s max=%s", c.Queue.BaseDelay, c.Queue.MaxDelay)
	}
	if c.Tracking.MinInterval <= 0 || c.Tracking.AnimationDuration <= 0 {
		return fmt.Errorf("invalid tracking intervals: min=%s animation=%s",
			c.Tracking.MinInterval, c.Tracking.AnimationDuration)
	}
	if c.Gateway.Timeout <= 0 {
		return fmt.Errorf("gateway timeout must be positive, got %s", c.Gateway.Timeout)
	}
	return nil
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
