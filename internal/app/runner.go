package app

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"time"

	"go.uber.org/dig"

	"delivery-sync/internal/engine"
)

// MustRun starts the sync engine and the debug server using the provided
// DI container.
func MustRun(container *dig.Container) {
	if err := run(container); err != nil {
		switch {
		case errors.Is(err, context.Canceled):
			log.Println("shutdown requested, exiting")
			return
		case errors.Is(err, context.DeadlineExceeded):
			log.Println("startup aborted: startup timeout exceeded")
			return
		default:
			log.Fatalf("run error: %v", err)
		}
	}
}

func run(container *dig.Container) error {
	return container.Invoke(func(
		ctx context.Context,
		e *engine.Engine,
		server *http.Server,
		db *sql.DB,
		logger *log.Logger,
	) error {
		startDebugServer(server, logger)

		// network presence is assumed until the host reports otherwise
		e.SetOnline(true)
		err := e.Run(ctx)

		logger.Println("shutting down sync-agent...")
		gracefulShutdown(server, logger, 15*time.Second)
		closeResources(db, server, logger)
		return err
	})
}

func startDebugServer(server *http.Server, logger *log.Logger) {
	go func() {
		logger.Printf("sync-agent debug server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen error: %v", err)
		}
	}()
}

func gracefulShutdown(srv *http.Server, logger *log.Logger, timeout time.Duration) {
	shCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shCtx); err != nil {
		logger.Printf("graceful shutdown error: %v", err)
	}
}

func closeResources(db *sql.DB, server *http.Server, logger *log.Logger) {
	if err := server.Close(); err != nil {
		logger.Printf("server close error: %v", err)
	}
	if err := db.Close(); err != nil {
		logger.Printf("operation log close error: %v", err)
	}
}
