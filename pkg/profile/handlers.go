package profile

import (
	"net/http"

	"github.com/platinummonkey/tenantgate/pkg/auth"
	"github.com/platinummonkey/tenantgate/pkg/httputil"
)

// MeHandler returns the caller's identity, profile and transport as
// resolved by the earlier stages
func MeHandler(w http.ResponseWriter, r *http.Request) {
	rc := auth.FromContext(r.Context())
	if rc == nil {
		httputil.WriteInternalError(w)
		return
	}
	_ = httputil.WriteJSON(w, http.StatusOK, rc.Snapshot())
}
