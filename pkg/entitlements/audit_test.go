package entitlements

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenantgate/pkg/audit"
	"github.com/platinummonkey/tenantgate/pkg/auth"
)

type capturedEvents struct {
	events []*audit.Event
}

func (c *capturedEvents) Log(ctx context.Context, event *audit.Event) error {
	c.events = append(c.events, event)
	return nil
}

func (c *capturedEvents) Close() error { return nil }

func TestRequire_AuditsPlanDenial(t *testing.T) {
	checker := &stubChecker{decision: &Decision{
		Kind: ResourceCount, Resource: "Team Members", Allowed: false,
		Current: int64Ptr(5), Limit: int64Ptr(5),
	}}
	sink := &capturedEvents{}
	m := newTestMiddleware(checker, &stubTenants{tenantID: 42}).WithAudit(sink)

	_, called := run(m, KeyMaxUsers, requestWith(&auth.Identity{Subject: "idp|1"}, nil))
	require.False(t, called)

	require.Len(t, sink.events, 1)
	event := sink.events[0]
	assert.Equal(t, audit.EventTypePlanDenied, event.EventType)
	assert.Equal(t, audit.EventStatusDenied, event.Status)
	assert.Equal(t, audit.ResourceTypeEntitlement, event.ResourceType)
	assert.Equal(t, KeyMaxUsers, event.ResourceID)
	require.NotNil(t, event.TenantID)
	assert.Equal(t, int64(42), *event.TenantID)
	assert.Equal(t, "Team Members", event.Metadata["resource"])
	assert.Equal(t, int64(5), event.Metadata["limit"])
}

func TestRequire_AllowedIsNotAudited(t *testing.T) {
	sink := &capturedEvents{}
	m := newTestMiddleware(&stubChecker{decision: &Decision{Allowed: true}}, &stubTenants{}).WithAudit(sink)

	_, called := run(m, KeyMaxUsers, requestWith(&auth.Identity{Subject: "idp|1"}, &auth.Profile{ID: 1, TenantID: 7}))

	assert.True(t, called)
	assert.Empty(t, sink.events)
}
