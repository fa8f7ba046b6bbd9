package config

import "time"

const defaultDebugPort = 8091

var defaultStorage = Storage{
	Path: "delivery-sync.db",
}

var defaultQueue = Queue{
	Workers:     4,
	MaxAttempts: 5,
	BaseDelay:   time.Second,
	MaxDelay:    60 * time.Second,
}

var defaultRealtime = Realtime{
	URL:            "ws://localhost:8090/realtime",
	BaseDelay:      2 * time.Second,
	MaxDelay:       30 * time.Second,
	StaleThreshold: 45 * time.Second,
}

var defaultTracking = Tracking{
	MinInterval:       2 * time.Second,
	AnimationDuration: 2 * time.Second,
}

var defaultGateway = Gateway{
	BaseURL:          "http://localhost:8090",
	Timeout:          15 * time.Second,
	RetryMaxAttempts: 4,
	RetryBaseDelay:   150 * time.Millisecond,
	RetryMaxDelay:    2 * time.Second,
	RateLimit:        20,
	RateWindow:       time.Second,
}

// DefaultDebugPort returns the default debug HTTP port.
func DefaultDebugPort() int {
	return defaultDebugPort
}

// DefaultStorage returns the default operation-log storage settings.
func DefaultStorage() Storage {
	return defaultStorage
}

// DefaultQueue returns the default queue settings.
func DefaultQueue() Queue {
	return defaultQueue
}

// DefaultRealtime returns the default realtime transport settings.
func DefaultRealtime() Realtime {
	return defaultRealtime
}

// DefaultTracking returns the default tracking settings.
func DefaultTracking() Tracking {
	return defaultTracking
}

// DefaultGateway returns the default REST gateway settings.
func DefaultGateway() Gateway {
	return defaultGateway
}
