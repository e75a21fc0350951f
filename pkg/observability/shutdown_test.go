package observability

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShutdown_RunsEveryCloser(t *testing.T) {
	var calls int32
	closer := func(name string) Closer {
		return Closer{Name: name, Close: func(ctx context.Context) error {
			atomic.AddInt32(&calls, 1)
			return nil
		}}
	}

	err := Shutdown(NewLogger(ErrorLevel, &bytes.Buffer{}), &http.Server{}, time.Second,
		closer("database"), closer("redis"), closer("telemetry"))

	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestShutdown_JoinsNamedErrors(t *testing.T) {
	boom := errors.New("boom")

	err := Shutdown(NewLogger(ErrorLevel, &bytes.Buffer{}), nil, time.Second,
		Closer{Name: "database", Close: func(ctx context.Context) error { return boom }},
		Closer{Name: "redis", Close: func(ctx context.Context) error { return nil }},
	)

	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "database: boom")
	assert.NotContains(t, err.Error(), "redis")
}

func TestShutdown_Timeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	err := Shutdown(NewLogger(ErrorLevel, &bytes.Buffer{}), nil, 20*time.Millisecond,
		Closer{Name: "stuck", Close: func(ctx context.Context) error {
			<-release
			return nil
		}},
	)

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
