package audit

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/platinummonkey/tenantgate/pkg/auth"
	"github.com/platinummonkey/tenantgate/pkg/contextkeys"
)

// Logger is the interface for audit logging
type Logger interface {
	// Log records one event
	Log(ctx context.Context, event *Event) error

	// Close flushes buffered events and releases resources
	Close() error
}

// NopLogger discards every event. It is the default of every component
// that accepts an audit logger.
type NopLogger struct{}

func (NopLogger) Log(ctx context.Context, event *Event) error { return nil }
func (NopLogger) Close() error                                { return nil }

// NewEvent builds an event carrying the request's identity, profile and
// request metadata
func NewEvent(r *http.Request, eventType EventType, status EventStatus) *Event {
	ctx := r.Context()
	event := &Event{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Status:    status,
		RequestID: contextkeys.GetRequestID(ctx),
		IPAddress: clientIP(r),
		UserAgent: r.UserAgent(),
		Method:    r.Method,
		Path:      r.URL.Path,
		Metadata:  make(map[string]interface{}),
	}

	if identity := auth.GetIdentity(ctx); identity != nil {
		event.IdentityID = identity.Subject
	}
	if p := auth.GetProfile(ctx); p != nil {
		profileID, tenantID := p.ID, p.TenantID
		event.ProfileID = &profileID
		event.TenantID = &tenantID
	}
	return event
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return strings.TrimSpace(strings.Split(forwarded, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
