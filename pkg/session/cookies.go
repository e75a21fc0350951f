package session

import (
	"net/http"
	"time"

	"github.com/platinummonkey/tenantgate/pkg/auth"
)

// Cookie names and lifetimes of the browser transport
const (
	AccessTokenCookie  = "access_token"
	RefreshTokenCookie = "refresh_token"

	AccessTokenTTL  = time.Hour
	RefreshTokenTTL = 14 * 24 * time.Hour
)

// CookieManager writes the session cookie pair
type CookieManager struct {
	secure   bool
	sameSite http.SameSite
	domain   string
	now      func() time.Time
}

// NewCookieManager builds the cookie policy. Production cookies are Secure
// and SameSite=None so the SPA can call the API cross-site; development
// cookies are SameSite=Lax over plain HTTP.
func NewCookieManager(production bool, domain string) *CookieManager {
	cm := &CookieManager{
		secure:   production,
		sameSite: http.SameSiteLaxMode,
		domain:   domain,
		now:      time.Now,
	}
	if production {
		cm.sameSite = http.SameSiteNoneMode
	}
	return cm
}

// SetSession writes both cookies. Callers must pass a complete pair;
// an incomplete pair writes nothing.
func (cm *CookieManager) SetSession(w http.ResponseWriter, pair *auth.TokenPair) bool {
	if !pair.Complete() {
		return false
	}
	now := cm.now()
	access := cm.cookie(AccessTokenCookie, pair.AccessToken, now, AccessTokenTTL)
	refresh := cm.cookie(RefreshTokenCookie, pair.RefreshToken, now, RefreshTokenTTL)
	http.SetCookie(w, access)
	http.SetCookie(w, refresh)
	return true
}

// Clear expires both cookies
func (cm *CookieManager) Clear(w http.ResponseWriter) {
	for _, name := range []string{AccessTokenCookie, RefreshTokenCookie} {
		c := cm.cookie(name, "", time.Unix(0, 0), 0)
		c.MaxAge = -1
		http.SetCookie(w, c)
	}
}

func (cm *CookieManager) cookie(name, value string, now time.Time, ttl time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   cm.domain,
		Expires:  now.Add(ttl),
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   cm.secure,
		SameSite: cm.sameSite,
	}
}
