package entitlements

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/platinummonkey/tenantgate/pkg/httputil"
)

// Error codes written in 403 responses
const (
	CodePlanLimitReached  = "PLAN_LIMIT_REACHED"
	CodePlanFeatureLocked = "PLAN_FEATURE_LOCKED"
	CodePlanModuleLocked  = "PLAN_MODULE_LOCKED"
)

// ErrUnknownKey is returned for keys missing from the registry
var ErrUnknownKey = errors.New("unknown entitlement key")

// LimitError is a plan denial. Current and Limit are meaningful for count
// and value keys only.
type LimitError struct {
	Code     string
	Key      string
	Kind     ResourceKind
	Resource string
	Current  int64
	Limit    int64
}

func (e *LimitError) Error() string {
	switch e.Kind {
	case ResourceCount, ResourceValue:
		return fmt.Sprintf("plan limit reached for %s (%d/%d)", e.Resource, e.Current, e.Limit)
	default:
		return fmt.Sprintf("%s is not included in the current plan", e.Resource)
	}
}

// Details is the response payload for client UX
func (e *LimitError) Details() map[string]interface{} {
	details := map[string]interface{}{"resource": e.Resource}
	if e.Kind == ResourceCount || e.Kind == ResourceValue {
		details["limit"] = e.Limit
		details["current"] = e.Current
	}
	return details
}

// IsLimitError checks if an error is a plan denial
func IsLimitError(err error) bool {
	var le *LimitError
	return errors.As(err, &le)
}

// WriteLimitError writes the 403 for a plan denial, or a 500 for anything else
func WriteLimitError(w http.ResponseWriter, err error) {
	var le *LimitError
	if !errors.As(err, &le) {
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteCodedError(w, http.StatusForbidden, le.Code, le.Error(), le.Details())
}
