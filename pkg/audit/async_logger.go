package audit

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/platinummonkey/tenantgate/pkg/observability"
)

const (
	defaultBufferSize = 256
	writeTimeout      = 5 * time.Second
)

// AsyncLogger hands events to a background worker so the request path
// never waits on the sink. Events are dropped when the buffer is full.
type AsyncLogger struct {
	sink   Logger
	events chan *Event
	logger *observability.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewAsyncLogger starts the worker. bufferSize <= 0 uses the default.
func NewAsyncLogger(sink Logger, bufferSize int, logger *observability.Logger) *AsyncLogger {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	a := &AsyncLogger{
		sink:   sink,
		events: make(chan *Event, bufferSize),
		logger: logger,
		done:   make(chan struct{}),
	}
	go a.run()
	return a
}

// Log enqueues event without blocking. The request context is not
// carried over; the worker writes with its own deadline.
func (a *AsyncLogger) Log(ctx context.Context, event *Event) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return fmt.Errorf("audit logger closed")
	}

	select {
	case a.events <- event:
		return nil
	default:
		a.logger.WithField("event_type", string(event.EventType)).Warn("audit buffer full, dropping event")
		return fmt.Errorf("audit buffer full")
	}
}

// Close stops accepting events, drains the buffer and closes the sink
func (a *AsyncLogger) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	close(a.events)
	a.mu.Unlock()

	<-a.done
	return a.sink.Close()
}

func (a *AsyncLogger) run() {
	defer close(a.done)
	for event := range a.events {
		a.write(event)
	}
}

func (a *AsyncLogger) write(event *Event) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.WithFields(map[string]interface{}{
				"panic": fmt.Sprint(r),
				"stack": string(debug.Stack()),
			}).Error("audit sink panicked")
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := a.sink.Log(ctx, event); err != nil {
		a.logger.WithError(err).WithField("event_type", string(event.EventType)).Error("failed to write audit event")
	}
}
