// Package pipeline implements the authenticated request pipeline for the
// Medipanel platform: bearer-token attachment, proactive and reactive token
// refresh, single-flight refresh coordination, and typed classification of
// failed responses.
//
// # Transport
//
// Transport is an http.RoundTripper. Requests on public routes pass through
// untouched (the refresh endpoint opportunistically gets whatever access
// token is on hand); every other request gets the stored access token
// attached, refreshed first when it is inside the proactive lead window.
// A 401 triggers one coordinated refresh-and-retry per request; a second
// 401 ends the session.
//
// # Refresh coordination
//
// However many requests observe an expiring or rejected token at once,
// exactly one refresh call reaches the platform: the first caller to find
// the RefreshCoordinator idle leads the cycle and everyone else queues for
// its outcome. The queue is released in enqueue order, on success and on
// failure alike. A failed refresh still unblocks its waiters, which then
// proceed and take the server's definitive 401 instead of hanging.
//
// # Errors
//
// Failures surface as typed errors (NetworkError, AuthError, ForbiddenError,
// CredentialsError, APIError, AccountDisabledError). Response classification
// is a pure function of status and body; Client wraps an http.Client to
// apply it, so service wrappers receive typed errors instead of raw non-2xx
// responses.
package pipeline
