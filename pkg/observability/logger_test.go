package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenantgate/pkg/contextkeys"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(WarnLevel, &buf)

	logger.Info("hidden")
	assert.Zero(t, buf.Len())

	logger.Warn("shown")
	entry := decodeLine(t, &buf)
	assert.Equal(t, "shown", entry["msg"])
	assert.Equal(t, "WARN", entry["level"])
}

func TestLogger_WithFieldsAndError(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(DebugLevel, &buf)

	logger.WithFields(map[string]interface{}{"tenant_id": 4, "key": "maxUsers"}).
		WithError(errors.New("boom")).
		Errorf("lookup failed for %s", "maxUsers")

	entry := decodeLine(t, &buf)
	assert.Equal(t, "lookup failed for maxUsers", entry["msg"])
	assert.Equal(t, float64(4), entry["tenant_id"])
	assert.Equal(t, "maxUsers", entry["key"])
	assert.Equal(t, "boom", entry["error"])
}

func TestLogger_WithNilErrorReturnsSameLogger(t *testing.T) {
	logger := NewLogger(InfoLevel, &bytes.Buffer{})
	assert.Same(t, logger, logger.WithError(nil))
}

func TestFromContext_AddsRequestFields(t *testing.T) {
	var buf bytes.Buffer
	ctx := WithLogger(context.Background(), NewLogger(InfoLevel, &buf))
	ctx = contextkeys.WithRequestID(ctx, "req-1")
	ctx = contextkeys.WithUserID(ctx, "idp|42")

	FromContext(ctx).Info("hello")

	entry := decodeLine(t, &buf)
	assert.Equal(t, "req-1", entry["request_id"])
	assert.Equal(t, "idp|42", entry["user_id"])
	assert.NotContains(t, entry, "trace_id")
}

func TestGetLogger_DefaultsWhenMissing(t *testing.T) {
	assert.NotNil(t, GetLogger(context.Background()))
}

func TestLogger_RedactsCredentials(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	logger.WithFields(map[string]interface{}{
		"access_token":  "eyJhbGciOi",
		"Authorization": "Bearer eyJhbGciOi",
		"identity":      "idp|42",
	}).Info("verify failed")

	entry := decodeLine(t, &buf)
	assert.Equal(t, "[REDACTED]", entry["access_token"])
	assert.Equal(t, "[REDACTED]", entry["Authorization"])
	assert.Equal(t, "idp|42", entry["identity"])
	assert.NotContains(t, buf.String(), "eyJhbGciOi")
}

func TestLogger_WithTenant(t *testing.T) {
	var buf bytes.Buffer
	NewLogger(InfoLevel, &buf).WithTenant(9).Info("denied")

	assert.Equal(t, float64(9), decodeLine(t, &buf)["tenant_id"])
}
