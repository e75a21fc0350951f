package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteCodedError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteCodedError(rec, http.StatusForbidden, "PLAN_LIMIT_REACHED", "limit reached",
		map[string]interface{}{"limit": 5, "current": 5, "resource": "Team Members"})

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "PLAN_LIMIT_REACHED", body.Error)
	assert.Equal(t, "limit reached", body.Message)
	assert.Equal(t, float64(5), body.Details["limit"])
	assert.Equal(t, "Team Members", body.Details["resource"])
}

func TestWriteCodedError_OmitsEmptyDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteCodedError(rec, http.StatusUnauthorized, "NO_CREDENTIALS", "authentication required", nil)

	var raw map[string]interface{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&raw))
	assert.NotContains(t, raw, "details")
}

func TestWriteInternalError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteInternalError(rec)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var body ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, CodeInternalError, body.Error)
}

func TestWriteHelpers(t *testing.T) {
	tests := []struct {
		name   string
		write  func(w http.ResponseWriter)
		status int
		code   string
	}{
		{"bad request", func(w http.ResponseWriter) { WriteBadRequest(w, "bad") }, http.StatusBadRequest, CodeBadRequest},
		{"not found", func(w http.ResponseWriter) { WriteNotFoundError(w, "gone") }, http.StatusNotFound, CodeNotFound},
		{"rate limited", func(w http.ResponseWriter) { WriteTooManyRequests(w, "slow down") }, http.StatusTooManyRequests, CodeRateLimited},
		{"plain message", func(w http.ResponseWriter) { WriteErrorMessage(w, http.StatusConflict, "dup") }, http.StatusConflict, "Conflict"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.write(rec)
			assert.Equal(t, tt.status, rec.Code)

			var body ErrorResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.Equal(t, tt.code, body.Error)
		})
	}
}

func TestWriteNoContent(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteNoContent(rec)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Zero(t, rec.Body.Len())
}
