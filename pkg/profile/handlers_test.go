package profile

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenantgate/pkg/auth"
)

func TestMeHandler(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	ctx, rc := auth.Attach(req.Context())
	rc.SetSession(&auth.Identity{Subject: "idp|ada", Email: "ada@example.com"}, false)
	rc.SetProfile(&auth.Profile{ID: 1, IdentityID: "idp|ada", TenantID: 7, Type: auth.ProfileTypeUser, Permissions: []string{}})

	rec := httptest.NewRecorder()
	MeHandler(rec, req.WithContext(ctx))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, false, body["isMobileRequest"])
	assert.Equal(t, "idp|ada", body["identity"].(map[string]interface{})["id"])
	assert.Equal(t, float64(7), body["profile"].(map[string]interface{})["tenant_id"])
}

func TestMeHandler_WithoutRequestContext(t *testing.T) {
	rec := httptest.NewRecorder()
	MeHandler(rec, httptest.NewRequest(http.MethodGet, "/api/me", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
