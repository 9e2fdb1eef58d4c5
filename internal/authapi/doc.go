// Package authapi is the client for the platform's authentication endpoints:
// token refresh, login, registration and logout.
//
// # Refresh isolation
//
// RefreshClient owns the token-refresh call and is deliberately independent
// of the authenticated request pipeline: a refresh routed through the
// pipeline would observe its own 401 and recurse into another refresh. It
// keeps a bare http.Client with a fixed timeout so a hung refresh endpoint
// cannot hold the pipeline's pending queue indefinitely.
//
// # Authenticated operations
//
// Client carries login, registration and logout. These DO route through the
// pipeline (login and registration are declared public routes, so no token
// is attached), which is what gives a rejected login its CredentialsError
// shape instead of a session-expiry event.
package authapi
