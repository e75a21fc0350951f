package audit

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"regexp"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenantgate/pkg/auth"
	"github.com/platinummonkey/tenantgate/pkg/contextkeys"
	"github.com/platinummonkey/tenantgate/pkg/observability"
)

type memoryLogger struct {
	mu     sync.Mutex
	events []*Event
	fail   error
	panics bool
	closed bool
}

func (m *memoryLogger) Log(ctx context.Context, event *Event) error {
	if m.panics {
		panic("sink exploded")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.events = append(m.events, event)
	return nil
}

func (m *memoryLogger) Close() error {
	m.closed = true
	return nil
}

func (m *memoryLogger) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func quietLogger() *observability.Logger {
	return observability.NewLogger(observability.ErrorLevel, io.Discard)
}

func TestNewEvent(t *testing.T) {
	req := httptest.NewRequest("PUT", "/api/roles/7", nil)
	req.Header.Set("User-Agent", "test-agent")
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")

	ctx, rc := auth.Attach(contextkeys.WithRequestID(req.Context(), "req-1"))
	rc.SetSession(&auth.Identity{Subject: "idp|ada"}, false)
	rc.SetProfile(&auth.Profile{ID: 11, TenantID: 3})
	req = req.WithContext(ctx)

	event := NewEvent(req, EventTypeRoleUpdate, EventStatusSuccess)

	assert.Equal(t, EventTypeRoleUpdate, event.EventType)
	assert.Equal(t, EventStatusSuccess, event.Status)
	assert.Equal(t, "idp|ada", event.IdentityID)
	require.NotNil(t, event.ProfileID)
	assert.Equal(t, int64(11), *event.ProfileID)
	require.NotNil(t, event.TenantID)
	assert.Equal(t, int64(3), *event.TenantID)
	assert.Equal(t, "req-1", event.RequestID)
	assert.Equal(t, "203.0.113.9", event.IPAddress)
	assert.Equal(t, "test-agent", event.UserAgent)
	assert.Equal(t, "PUT", event.Method)
	assert.Equal(t, "/api/roles/7", event.Path)
	assert.False(t, event.Timestamp.IsZero())
}

func TestNewEvent_Anonymous(t *testing.T) {
	req := httptest.NewRequest("GET", "/api/me", nil)
	req.RemoteAddr = "192.0.2.1:5555"

	event := NewEvent(req, EventTypeAccessDenied, EventStatusDenied)

	assert.Empty(t, event.IdentityID)
	assert.Nil(t, event.ProfileID)
	assert.Nil(t, event.TenantID)
	assert.Equal(t, "192.0.2.1", event.IPAddress)
}

func TestDBLogger_Log(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	logger, err := NewDBLogger(db)
	require.NoError(t, err)

	profileID := int64(11)
	event := &Event{
		EventType:    EventTypeRoleDelete,
		Status:       EventStatusSuccess,
		IdentityID:   "idp|ada",
		ProfileID:    &profileID,
		ResourceType: ResourceTypeRole,
		ResourceID:   "7",
		Metadata:     map[string]interface{}{"role": "Sales"},
		Changes:      &ChangeDetails{Before: map[string]interface{}{"name": "Sales"}},
	}

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO audit_events")).
		WithArgs(
			sqlmock.AnyArg(), EventTypeRoleDelete, EventStatusSuccess,
			sqlmock.AnyArg(), int64(11), nil,
			sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), `{"role":"Sales"}`, `{"before":{"name":"Sales"}}`,
		).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(42))

	require.NoError(t, logger.Log(context.Background(), event))
	assert.Equal(t, int64(42), event.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBLogger_InsertError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	logger, err := NewDBLogger(db)
	require.NoError(t, err)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO audit_events")).
		WillReturnError(errors.New("relation does not exist"))

	err = logger.Log(context.Background(), &Event{EventType: EventTypePlanDenied, Status: EventStatusDenied})
	assert.ErrorContains(t, err, "failed to insert audit event")
}

func TestNewDBLogger_RequiresDB(t *testing.T) {
	_, err := NewDBLogger(nil)
	assert.Error(t, err)
}

func TestAsyncLogger_DeliversAndDrainsOnClose(t *testing.T) {
	sink := &memoryLogger{}
	logger := NewAsyncLogger(sink, 16, quietLogger())

	for i := 0; i < 10; i++ {
		require.NoError(t, logger.Log(context.Background(), &Event{EventType: EventTypeAccessDenied}))
	}
	require.NoError(t, logger.Close())

	assert.Equal(t, 10, sink.count())
	assert.True(t, sink.closed)
	assert.Error(t, logger.Log(context.Background(), &Event{}))
	assert.NoError(t, logger.Close())
}

func TestAsyncLogger_DropsWhenFull(t *testing.T) {
	block := make(chan struct{})
	sink := &blockingLogger{release: block, started: make(chan struct{})}
	logger := NewAsyncLogger(sink, 1, quietLogger())

	// First event is taken by the worker and blocks; second fills the buffer.
	require.NoError(t, logger.Log(context.Background(), &Event{}))
	<-sink.started
	require.NoError(t, logger.Log(context.Background(), &Event{}))

	err := logger.Log(context.Background(), &Event{EventType: EventTypePlanDenied})
	assert.ErrorContains(t, err, "buffer full")

	close(block)
	require.NoError(t, logger.Close())
	assert.Equal(t, 2, sink.written)
}

func TestAsyncLogger_SurvivesSinkFailures(t *testing.T) {
	sink := &memoryLogger{panics: true}
	logger := NewAsyncLogger(sink, 4, quietLogger())
	require.NoError(t, logger.Log(context.Background(), &Event{}))
	require.NoError(t, logger.Log(context.Background(), &Event{}))
	require.NoError(t, logger.Close())

	failing := &memoryLogger{fail: errors.New("db down")}
	logger = NewAsyncLogger(failing, 4, quietLogger())
	require.NoError(t, logger.Log(context.Background(), &Event{}))
	require.NoError(t, logger.Close())
	assert.Equal(t, 0, failing.count())
}

type blockingLogger struct {
	release chan struct{}
	started chan struct{}
	once    sync.Once
	written int
}

func (b *blockingLogger) Log(ctx context.Context, event *Event) error {
	b.once.Do(func() { close(b.started) })
	<-b.release
	b.written++
	return nil
}

func (b *blockingLogger) Close() error { return nil }
