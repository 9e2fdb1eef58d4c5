package pipeline

import "strings"

// Routes describes which request paths sit outside the authenticated
// pipeline and which of those get special treatment.
type Routes struct {
	// Public paths skip token attachment and refresh entirely. A pattern
	// ending in "/*" matches the prefix and everything under it.
	Public []string
	// Grant paths are the credential-submitting calls (login,
	// registration). A 401 there is a credentials failure, not an expired
	// session, and never starts a refresh.
	Grant []string
	// Refresh is the token refresh endpoint. It is public, but the current
	// access token is attached opportunistically when one exists, expired
	// or not.
	Refresh string
}

// DefaultRoutes returns the platform's standard route classes.
func DefaultRoutes() Routes {
	return Routes{
		Public:  []string{"/auth/login", "/auth/register", "/auth/refresh"},
		Grant:   []string{"/auth/login", "/auth/register"},
		Refresh: "/auth/refresh",
	}
}

func (r Routes) isPublic(path string) bool {
	for _, pattern := range r.Public {
		if matchRoute(pattern, path) {
			return true
		}
	}
	return false
}

func (r Routes) isGrant(path string) bool {
	for _, pattern := range r.Grant {
		if matchRoute(pattern, path) {
			return true
		}
	}
	return false
}

func (r Routes) isRefresh(path string) bool {
	return r.Refresh != "" && matchRoute(r.Refresh, path)
}

// matchRoute compares a path against a pattern. Patterns are literal paths,
// except that a trailing "/*" matches the prefix itself and any path below
// it: "/public/*" matches "/public", "/public/jobs" and "/public/jobs/7".
func matchRoute(pattern, path string) bool {
	if pattern == "" {
		return false
	}
	if prefix, ok := strings.CutSuffix(pattern, "/*"); ok {
		return path == prefix || strings.HasPrefix(path, prefix+"/")
	}
	return pattern == path
}
