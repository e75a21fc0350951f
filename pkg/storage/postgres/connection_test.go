package postgres

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenantgate/pkg/observability"
)

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	return db, mock
}

func newTestManager(primary *sql.DB, replicas ...*sql.DB) *ConnectionManager {
	return &ConnectionManager{
		primary:  primary,
		replicas: replicas,
		logger:   observability.NewLogger(observability.ErrorLevel, &bytes.Buffer{}),
	}
}

func TestConnectionManager_ReplicaFallsBackToPrimary(t *testing.T) {
	primary, _ := newMockDB(t)
	defer primary.Close()

	cm := newTestManager(primary)
	assert.Same(t, primary, cm.Replica())
	assert.Same(t, primary, cm.Primary())
	assert.Equal(t, 0, cm.ReplicaCount())
}

func TestConnectionManager_ReplicaRoundRobin(t *testing.T) {
	primary, _ := newMockDB(t)
	r1, _ := newMockDB(t)
	r2, _ := newMockDB(t)
	defer primary.Close()

	cm := newTestManager(primary, r1, r2)

	seen := map[*sql.DB]int{}
	for i := 0; i < 10; i++ {
		seen[cm.Replica()]++
	}
	assert.Equal(t, 5, seen[r1])
	assert.Equal(t, 5, seen[r2])
	assert.Zero(t, seen[primary])
}

func TestConnectionManager_RemoveUnhealthyReplicas(t *testing.T) {
	primary, _ := newMockDB(t)
	healthy, healthyMock := newMockDB(t)
	broken, brokenMock := newMockDB(t)
	defer primary.Close()
	defer healthy.Close()

	healthyMock.ExpectPing()
	brokenMock.ExpectPing().WillReturnError(errors.New("connection refused"))
	brokenMock.ExpectClose()

	cm := newTestManager(primary, healthy, broken)
	removed := cm.RemoveUnhealthyReplicas(context.Background())

	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, cm.ReplicaCount())
	assert.Same(t, healthy, cm.Replica())
	assert.NoError(t, healthyMock.ExpectationsWereMet())
	assert.NoError(t, brokenMock.ExpectationsWereMet())
}

func TestConnectionManager_PublishStats(t *testing.T) {
	primary, _ := newMockDB(t)
	defer primary.Close()

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	cm := newTestManager(primary)
	cm.PublishStats(metrics)
	cm.PublishStats(nil)

	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.DBConnectionsActive))
}

func TestConnectionManager_Close(t *testing.T) {
	primary, primaryMock := newMockDB(t)
	replica, replicaMock := newMockDB(t)

	primaryMock.ExpectClose()
	replicaMock.ExpectClose()

	cm := newTestManager(primary, replica)
	require.NoError(t, cm.Close())
	assert.Equal(t, 0, cm.ReplicaCount())
	assert.NoError(t, primaryMock.ExpectationsWereMet())
	assert.NoError(t, replicaMock.ExpectationsWereMet())
}

func TestConnectionManager_Maintain(t *testing.T) {
	primary, _ := newMockDB(t)
	broken, brokenMock := newMockDB(t)
	defer primary.Close()

	brokenMock.ExpectPing().WillReturnError(errors.New("timeout"))
	brokenMock.ExpectClose()

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	cm := newTestManager(primary, broken)
	cm.Maintain(context.Background(), metrics)

	assert.Equal(t, 0, cm.ReplicaCount())
	assert.Same(t, primary, cm.Replica())
	assert.NoError(t, brokenMock.ExpectationsWereMet())
}
