package main

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/tenantgate/pkg/entitlements"
	"github.com/platinummonkey/tenantgate/pkg/middleware"
	"github.com/platinummonkey/tenantgate/pkg/rbac"
)

// roleAPI is the role-management surface served behind the pipeline
type roleAPI interface {
	ListRoles(w http.ResponseWriter, r *http.Request)
	GetRole(w http.ResponseWriter, r *http.Request)
	UpdateRole(w http.ResponseWriter, r *http.Request)
	DeleteRole(w http.ResponseWriter, r *http.Request)
}

// routeHandlers are the business handlers mounted by registerRoutes
type routeHandlers struct {
	me       http.HandlerFunc
	decision http.HandlerFunc
	logout   http.HandlerFunc
	roles    roleAPI
}

// registerRoutes mounts every API route. Everything except logout runs
// through the composed identity pipeline.
func registerRoutes(router *mux.Router, c *middleware.Composer, h routeHandlers) {
	// logout only clears cookies, so an expired session can still sign out
	router.HandleFunc("/api/session/logout", h.logout).Methods(http.MethodPost)

	c.HandleFunc(router, http.MethodGet, "/api/me", middleware.Route{}, h.me)
	c.HandleFunc(router, http.MethodGet, "/api/entitlements/{key}", middleware.Route{}, h.decision)

	c.HandleFunc(router, http.MethodGet, "/api/roles",
		middleware.Route{Permission: rbac.PermissionRoleView}, h.roles.ListRoles)
	c.HandleFunc(router, http.MethodGet, "/api/roles/{id:[0-9]+}",
		middleware.Route{Permission: rbac.PermissionRoleView}, h.roles.GetRole)
	c.HandleFunc(router, http.MethodPut, "/api/roles/{id:[0-9]+}",
		middleware.Route{Permission: rbac.PermissionRoleManage, Entitlement: entitlements.KeyCustomRoles}, h.roles.UpdateRole)
	c.HandleFunc(router, http.MethodDelete, "/api/roles/{id:[0-9]+}",
		middleware.Route{Permission: rbac.PermissionRoleManage}, h.roles.DeleteRole)
}

// routeTemplate labels metrics with the matched route instead of the raw path
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}
