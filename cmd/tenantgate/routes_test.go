package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"

	"github.com/platinummonkey/tenantgate/pkg/middleware"
)

// trace records the stages a request passes through
type trace struct {
	steps []string
}

type traceStage struct {
	name string
	t    *trace
}

func (s traceStage) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.t.steps = append(s.t.steps, s.name)
		next.ServeHTTP(w, r)
	})
}

func (s traceStage) RequirePermission(permission string) func(http.Handler) http.Handler {
	return traceStage{name: "perm:" + permission, t: s.t}.Handler
}

func (s traceStage) Require(key string) func(http.Handler) http.Handler {
	return traceStage{name: "plan:" + key, t: s.t}.Handler
}

type traceRoles struct{ t *trace }

func (r traceRoles) ListRoles(w http.ResponseWriter, req *http.Request) {
	r.t.steps = append(r.t.steps, "list")
}
func (r traceRoles) GetRole(w http.ResponseWriter, req *http.Request) {
	r.t.steps = append(r.t.steps, "get")
}
func (r traceRoles) UpdateRole(w http.ResponseWriter, req *http.Request) {
	r.t.steps = append(r.t.steps, "update")
}
func (r traceRoles) DeleteRole(w http.ResponseWriter, req *http.Request) {
	r.t.steps = append(r.t.steps, "delete")
}

func newTracedRouter() (*mux.Router, *trace) {
	t := &trace{}
	c := middleware.NewComposer(traceStage{"session", t}, traceStage{"profile", t}, traceStage{"", t}, traceStage{"", t})
	handler := func(name string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) { t.steps = append(t.steps, name) }
	}

	router := mux.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.steps = append(t.steps, "route:"+routeTemplate(r))
			next.ServeHTTP(w, r)
		})
	})
	registerRoutes(router, c, routeHandlers{
		me:       handler("me"),
		decision: handler("decision"),
		logout:   handler("logout"),
		roles:    traceRoles{t},
	})
	return router, t
}

func TestRegisterRoutes(t *testing.T) {
	tests := []struct {
		method string
		path   string
		want   string
	}{
		{http.MethodGet, "/api/me", "route:/api/me session profile me"},
		{http.MethodGet, "/api/entitlements/maxUsers", "route:/api/entitlements/{key} session profile decision"},
		{http.MethodGet, "/api/roles", "route:/api/roles session profile perm:role.view list"},
		{http.MethodGet, "/api/roles/5", "route:/api/roles/{id:[0-9]+} session profile perm:role.view get"},
		{http.MethodPut, "/api/roles/5", "route:/api/roles/{id:[0-9]+} session profile perm:role.manage plan:customRoles update"},
		{http.MethodDelete, "/api/roles/5", "route:/api/roles/{id:[0-9]+} session profile perm:role.manage delete"},
		{http.MethodPost, "/api/session/logout", "route:/api/session/logout logout"},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			router, trace := newTracedRouter()
			router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(tt.method, tt.path, nil))
			assert.Equal(t, tt.want, strings.Join(trace.steps, " "))
		})
	}
}

func TestRegisterRoutes_Unmatched(t *testing.T) {
	router, trace := newTracedRouter()
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/roles/abc", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, trace.steps)
}
