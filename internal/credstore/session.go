package credstore

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

// User is the authenticated principal the session belongs to, as returned by
// the platform's login and refresh endpoints.
type User struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
	Role  string `json:"role,omitempty"`
}

// Session is the persisted credential document: the token pair plus the
// principal it was issued to. Callers receive value copies; the authoritative
// session lives in the Store and is mutated only by a successful refresh, a
// fresh login, or logout.
type Session struct {
	// Token carries the access token, refresh token and expiry.
	Token oauth2.Token `json:"token"`

	// Principal is the user the token pair was issued to.
	Principal User `json:"principal"`

	// DeviceID is the identity of the device that wrote the session.
	// Stamped by Store.Save; empty for sessions written before binding
	// was configured.
	DeviceID string `json:"device_id,omitempty"`

	SavedAt time.Time `json:"saved_at"`
}

// HasAccessToken reports whether the session carries a non-empty access token.
func (s Session) HasAccessToken() bool {
	return s.Token.AccessToken != ""
}

// HasRefreshToken reports whether the session carries a non-empty refresh token.
func (s Session) HasRefreshToken() bool {
	return s.Token.RefreshToken != ""
}

// Expiry returns the access token's expiry. When the store carries no expiry
// timestamp it is recovered from the access token's JWT exp claim; the claim
// is read without signature verification since the client holds no signing
// key and uses the value only for proactive-refresh scheduling, never for
// authorization decisions. Returns the zero time when no expiry is known.
func (s Session) Expiry() time.Time {
	if !s.Token.Expiry.IsZero() {
		return s.Token.Expiry
	}
	return claimExpiry(s.Token.AccessToken)
}

// ExpiresWithin reports whether the session's expiry is known and falls
// inside the given lead window. An unknown expiry reports false: proactive
// refresh is skipped and the reactive 401 path takes over.
func (s Session) ExpiresWithin(lead time.Duration) bool {
	exp := s.Expiry()
	if exp.IsZero() {
		return false
	}
	return time.Until(exp) <= lead
}

func claimExpiry(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &claims); err != nil {
		return time.Time{}
	}
	if claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}
