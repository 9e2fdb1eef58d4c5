package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/medipanel/medigate/internal/credstore"
)

const (
	// DefaultLeadTime is how far before expiry a token is refreshed
	// proactively.
	DefaultLeadTime = 2 * time.Minute
	// DefaultRequestTimeout bounds every HTTP call the pipeline makes,
	// the refresh call included.
	DefaultRequestTimeout = 30 * time.Second

	// maxReplayBody caps how much of a request body is buffered to make
	// the one 401-driven retry possible. Larger bodies forward as-is and
	// a 401 passes through instead of being retried.
	maxReplayBody = 8 << 20
	// maxErrorBody caps how much of an error response body is read for
	// classification.
	maxErrorBody = 1 << 20
)

// CredentialStore is the slice of the session store the pipeline needs.
type CredentialStore interface {
	Load(ctx context.Context) (credstore.Session, error)
	Save(ctx context.Context, sess credstore.Session) error
	Clear(ctx context.Context) error
}

var _ CredentialStore = (*credstore.Store)(nil)

// Refresher exchanges a refresh token for a new session.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (credstore.Session, error)
}

// RefresherFunc adapts a function to the Refresher interface.
type RefresherFunc func(ctx context.Context, refreshToken string) (credstore.Session, error)

func (f RefresherFunc) Refresh(ctx context.Context, refreshToken string) (credstore.Session, error) {
	return f(ctx, refreshToken)
}

// SessionState receives authentication transitions as the pipeline observes
// them: a successful refresh marks the session authenticated, a terminal
// 401 or failed refresh marks it unauthenticated.
type SessionState interface {
	MarkAuthenticated(user credstore.User)
	MarkUnauthenticated(reason string)
}

type noopSessionState struct{}

func (noopSessionState) MarkAuthenticated(credstore.User) {}
func (noopSessionState) MarkUnauthenticated(string)       {}

// Option configures a Transport.
type Option func(*Transport)

// WithBase sets the underlying RoundTripper requests are sent through.
func WithBase(rt http.RoundTripper) Option {
	return func(t *Transport) { t.base = rt }
}

// WithSessionState wires a session-state sink.
func WithSessionState(s SessionState) Option {
	return func(t *Transport) { t.sessions = s }
}

// WithRoutes sets the route classes.
func WithRoutes(r Routes) Option {
	return func(t *Transport) { t.routes = r }
}

// WithLeadTime sets the proactive refresh window.
func WithLeadTime(d time.Duration) Option {
	return func(t *Transport) { t.leadTime = d }
}

// WithRequestTimeout sets the per-call timeout.
func WithRequestTimeout(d time.Duration) Option {
	return func(t *Transport) { t.timeout = d }
}

// WithMetrics wires pipeline instrumentation.
func WithMetrics(m *Metrics) Option {
	return func(t *Transport) { t.metrics = m }
}

// Transport is the authenticated http.RoundTripper. See the package
// documentation for the request flow.
type Transport struct {
	base      http.RoundTripper
	store     CredentialStore
	refresher Refresher
	sessions  SessionState
	routes    Routes
	coord     *RefreshCoordinator
	ledger    *retryLedger
	leadTime  time.Duration
	timeout   time.Duration
	metrics   *Metrics
}

var _ http.RoundTripper = (*Transport)(nil)

// New builds a Transport around the given store and refresher.
func New(store CredentialStore, refresher Refresher, opts ...Option) (*Transport, error) {
	if store == nil {
		return nil, errors.New("pipeline: credential store is required")
	}
	if refresher == nil {
		return nil, errors.New("pipeline: refresher is required")
	}
	t := &Transport{
		base:      http.DefaultTransport,
		store:     store,
		refresher: refresher,
		sessions:  noopSessionState{},
		routes:    DefaultRoutes(),
		coord:     NewRefreshCoordinator(),
		ledger:    newRetryLedger(),
		leadTime:  DefaultLeadTime,
		timeout:   DefaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.base == nil {
		return nil, errors.New("pipeline: base transport must not be nil")
	}
	if t.timeout <= 0 {
		return nil, fmt.Errorf("pipeline: request timeout must be positive, got %s", t.timeout)
	}
	if t.leadTime < 0 {
		return nil, fmt.Errorf("pipeline: refresh lead time must not be negative, got %s", t.leadTime)
	}
	return t, nil
}

// Coordinator exposes the refresh coordinator, mainly so its state can be
// inspected.
func (t *Transport) Coordinator() *RefreshCoordinator { return t.coord }

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.routes.isPublic(req.URL.Path) {
		return t.roundTripPublic(req)
	}
	return t.roundTripAuthenticated(req)
}

// roundTripPublic forwards a request that needs no session. The refresh
// endpoint still gets the current access token when one exists: possession
// is what the platform checks there, not freshness.
func (t *Transport) roundTripPublic(req *http.Request) (*http.Response, error) {
	token := ""
	if t.routes.isRefresh(req.URL.Path) {
		if sess, err := t.store.Load(req.Context()); err == nil && sess.HasAccessToken() {
			token = sess.Token.AccessToken
		}
	}
	resp, err := t.send(req, token)
	if err != nil {
		return nil, t.networkError(req, err)
	}
	return resp, nil
}

func (t *Transport) roundTripAuthenticated(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	id := t.ledger.open()
	defer t.ledger.drop(id)

	replayable, err := prepareReplay(req)
	if err != nil {
		return nil, err
	}

	sess, err := t.freshSession(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := t.send(req, sess.Token.AccessToken)
	if err != nil {
		return nil, t.networkError(req, err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}
	if !replayable {
		// The body was too large to buffer and cannot be re-sent, so the
		// rejection passes through untouched.
		return resp, nil
	}
	return t.recoverUnauthorized(req, resp, id, sess.Token.AccessToken)
}

// freshSession returns the session to attach, refreshing first when the
// access token is missing or inside the lead window. Callers arriving while
// a refresh is running queue for its outcome instead of starting their own.
func (t *Transport) freshSession(ctx context.Context) (credstore.Session, error) {
	sess, err := t.store.Load(ctx)
	switch {
	case errors.Is(err, credstore.ErrNoSession):
		return credstore.Session{}, &AuthError{Reason: "not signed in"}
	case errors.Is(err, credstore.ErrDeviceMismatch):
		return credstore.Session{}, &AuthError{Reason: "stored session belongs to another device", Err: err}
	case err != nil:
		return credstore.Session{}, &AuthError{Reason: "reading stored session", Err: err}
	}

	if !t.needsProactiveRefresh(sess) {
		return sess, nil
	}

	if err := t.awaitRefresh(ctx, sess.Token.AccessToken); err != nil {
		return credstore.Session{}, err
	}

	// Re-read after waking: only the store is authoritative, and a failed
	// refresh clears it. Those callers proceed without credentials and take
	// the server's definitive 401.
	return t.loadLenient(ctx)
}

func (t *Transport) needsProactiveRefresh(sess credstore.Session) bool {
	if !sess.HasRefreshToken() {
		return false
	}
	if !sess.HasAccessToken() {
		return true
	}
	return sess.ExpiresWithin(t.leadTime)
}

// recoverUnauthorized is the reactive path: one coordinated refresh, then
// one retry of the original request. A second 401, a missing refresh token
// or a spent retry budget ends the session.
func (t *Transport) recoverUnauthorized(req *http.Request, resp *http.Response, id, sentToken string) (*http.Response, error) {
	ctx := req.Context()

	// The rejected response is replaced by either a retry or a typed
	// error; drain it so the connection can be reused.
	discardBody(resp)

	if t.ledger.hasRetried(id) {
		return nil, t.endSession(ctx, "session expired")
	}

	sess, err := t.loadLenient(ctx)
	if err != nil {
		return nil, err
	}
	if !sess.HasRefreshToken() {
		return nil, t.endSession(ctx, "session expired")
	}

	t.ledger.markRetried(id)
	t.metrics.retriedRequest()

	if err := t.awaitRefresh(ctx, sentToken); err != nil {
		return nil, err
	}

	fresh, err := t.loadLenient(ctx)
	if err != nil {
		return nil, err
	}
	retryReq, err := rewound(req)
	if err != nil {
		return nil, fmt.Errorf("pipeline: rewinding request for retry: %w", err)
	}
	slog.DebugContext(ctx, "retrying request after token refresh",
		"request_id", id, "method", req.Method, "path", req.URL.Path)

	resp, err = t.send(retryReq, fresh.Token.AccessToken)
	if err != nil {
		return nil, t.networkError(req, err)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		discardBody(resp)
		return nil, t.endSession(ctx, "session expired")
	}
	return resp, nil
}

// awaitRefresh joins the current refresh cycle, leading it if none is
// running, and blocks until the cycle resolves or ctx ends. The refresh
// itself runs detached: a caller that gives up waiting neither cancels the
// exchange nor strands the other waiters, and the buffered outcome channel
// means an abandoned waiter leaks nothing.
func (t *Transport) awaitRefresh(ctx context.Context, staleAccess string) error {
	lead, wait := t.coord.Enlist()
	if lead {
		go func() {
			t.coord.Finish(t.refreshCycle(context.WithoutCancel(ctx), staleAccess))
		}()
	} else {
		t.metrics.joinedRefresh()
	}

	t.metrics.waiterEnqueued()
	defer t.metrics.waiterReleased()

	select {
	case <-wait:
		// The outcome's error is deliberately not propagated: released
		// waiters proceed either way and the reactive path owns failures.
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// refreshCycle performs the one network exchange of a cycle and persists
// its result. The new session is saved before the queue wakes, so woken
// waiters re-reading the store see the new token. A cycle whose triggering
// token is already gone from the store is complete without any exchange:
// someone else refreshed between the trigger and this cycle starting.
func (t *Transport) refreshCycle(ctx context.Context, staleAccess string) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	sess, err := t.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("reading session for refresh: %w", err)
	}
	if staleAccess != "" && sess.HasAccessToken() && sess.Token.AccessToken != staleAccess {
		return nil
	}
	if !sess.HasRefreshToken() {
		return errors.New("no refresh token available")
	}

	grant, err := t.refresher.Refresh(ctx, sess.Token.RefreshToken)
	if err != nil {
		slog.ErrorContext(ctx, "token refresh failed", "error", err)
		if cerr := t.store.Clear(ctx); cerr != nil {
			slog.ErrorContext(ctx, "clearing stored session", "error", cerr)
		}
		t.sessions.MarkUnauthenticated("token refresh failed")
		t.metrics.refreshOutcome(false)
		return fmt.Errorf("refreshing session: %w", err)
	}

	// A logout may have raced the exchange; resurrecting the session it
	// cleared would be worse than dropping the new grant.
	if _, lerr := t.store.Load(ctx); errors.Is(lerr, credstore.ErrNoSession) {
		t.metrics.refreshOutcome(false)
		return errors.New("session ended during refresh")
	}

	if err := t.store.Save(ctx, grant); err != nil {
		// The platform may have rotated the refresh token during the
		// exchange, so losing this write can cost the session. Clearing on
		// a local persist error would guarantee that loss, so don't.
		slog.ErrorContext(ctx, "persisting refreshed session", "error", err)
		t.metrics.refreshOutcome(false)
		return fmt.Errorf("persisting refreshed session: %w", err)
	}

	t.sessions.MarkAuthenticated(grant.Principal)
	t.metrics.refreshOutcome(true)
	slog.InfoContext(ctx, "session refreshed",
		"user_id", grant.Principal.ID, "expires", grant.Expiry())
	return nil
}

// endSession is the terminal 401 outcome: the stored session is cleared,
// the state tracker notified, and the caller gets a session-expired error.
func (t *Transport) endSession(ctx context.Context, reason string) error {
	if err := t.store.Clear(ctx); err != nil {
		slog.ErrorContext(ctx, "clearing stored session", "error", err)
	}
	t.sessions.MarkUnauthenticated(reason)
	t.metrics.sessionEnded()
	return &AuthError{Reason: reason}
}

// loadLenient reads the store tolerating absence: waiters released by a
// failed refresh proceed without credentials and let the server's 401
// settle the matter.
func (t *Transport) loadLenient(ctx context.Context) (credstore.Session, error) {
	sess, err := t.store.Load(ctx)
	if err != nil {
		if errors.Is(err, credstore.ErrNoSession) || errors.Is(err, credstore.ErrDeviceMismatch) {
			return credstore.Session{}, nil
		}
		return credstore.Session{}, &AuthError{Reason: "reading stored session", Err: err}
	}
	return sess, nil
}

// send forwards one attempt through the base transport under the per-call
// timeout. The timeout's cancel is tied to the response body: RoundTrip
// returns before the body is consumed, and cancelling on return would kill
// the read.
func (t *Transport) send(req *http.Request, token string) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(req.Context(), t.timeout)
	out := req.Clone(ctx)
	if token != "" {
		out.Header.Set("Authorization", "Bearer "+token)
	} else {
		out.Header.Del("Authorization")
	}
	resp, err := t.base.RoundTrip(out)
	if err != nil {
		cancel()
		return nil, err
	}
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

func (t *Transport) networkError(req *http.Request, err error) error {
	// A cancellation the caller asked for is not a network failure.
	if errors.Is(err, context.Canceled) {
		return err
	}
	ne := classifyNetworkError(req.Method+" "+req.URL.Path, err)
	t.metrics.networkFailure(ne.Kind)
	return ne
}

// cancelOnClose releases a request's timeout context together with its
// response body.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnClose) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

// prepareReplay makes the request body re-sendable for the one 401-driven
// retry. Requests arriving through a server handler have no GetBody, so
// bodies up to maxReplayBody are buffered; beyond that the request forwards
// as-is and reports that it cannot be replayed.
func prepareReplay(req *http.Request) (replayable bool, err error) {
	if req.Body == nil || req.Body == http.NoBody {
		return true, nil
	}
	if req.GetBody != nil {
		return true, nil
	}

	buf, err := io.ReadAll(io.LimitReader(req.Body, maxReplayBody+1))
	if err != nil {
		req.Body.Close()
		return false, fmt.Errorf("pipeline: buffering request body: %w", err)
	}
	if len(buf) > maxReplayBody {
		// Stitch the consumed prefix back onto the stream and give up on
		// replay.
		req.Body = &joinedBody{
			Reader: io.MultiReader(bytes.NewReader(buf), req.Body),
			closer: req.Body,
		}
		return false, nil
	}

	req.Body.Close()
	req.Body = io.NopCloser(bytes.NewReader(buf))
	if req.ContentLength < 0 {
		req.ContentLength = int64(len(buf))
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(buf)), nil
	}
	return true, nil
}

// rewound returns a copy of req with a fresh body for another attempt.
func rewound(req *http.Request) (*http.Request, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return req, nil
	}
	if req.GetBody == nil {
		return nil, errors.New("request body cannot be replayed")
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, err
	}
	out := req.Clone(req.Context())
	out.Body = body
	return out, nil
}

type joinedBody struct {
	io.Reader
	closer io.Closer
}

func (b *joinedBody) Close() error { return b.closer.Close() }

// discardBody consumes and closes a response body so the underlying
// connection can be reused.
func discardBody(resp *http.Response) {
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	resp.Body.Close()
}
