package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

const defaultShutdownTimeout = 30 * time.Second

// ShutdownFunc releases one dependency
type ShutdownFunc func(context.Context) error

// Closer is a named shutdown step
type Closer struct {
	Name  string
	Close ShutdownFunc
}

// GracefulShutdown blocks until SIGINT or SIGTERM and then calls Shutdown
func GracefulShutdown(logger *Logger, server *http.Server, timeout time.Duration, closers ...Closer) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()
	logger.Info("shutdown signal received")
	return Shutdown(logger, server, timeout, closers...)
}

// Shutdown stops accepting requests, waits for in-flight ones and then runs
// the closers concurrently. The whole sequence shares one deadline.
func Shutdown(logger *Logger, server *http.Server, timeout time.Duration, closers ...Closer) error {
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if server != nil {
		if err := server.Shutdown(ctx); err != nil {
			logger.WithError(err).Error("HTTP server shutdown failed")
			return fmt.Errorf("HTTP server shutdown failed: %w", err)
		}
		logger.Info("HTTP server drained")
	}

	var (
		mu   sync.Mutex
		errs []error
		wg   sync.WaitGroup
	)
	for _, c := range closers {
		wg.Add(1)
		go func(c Closer) {
			defer wg.Done()
			if err := c.Close(ctx); err != nil {
				logger.WithError(err).WithField("closer", c.Name).Error("shutdown step failed")
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", c.Name, err))
				mu.Unlock()
				return
			}
			logger.WithField("closer", c.Name).Info("shutdown step complete")
		}(c)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		logger.Warn("shutdown timeout reached")
		return fmt.Errorf("shutdown timeout reached: %w", ctx.Err())
	}

	mu.Lock()
	defer mu.Unlock()
	return errors.Join(errs...)
}
