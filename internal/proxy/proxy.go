// Package proxy implements the session ambassador: a local HTTP server that
// forwards platform API traffic through the authenticated pipeline, so UI
// processes on this machine never handle tokens themselves.
//
// Besides the forwarding surface it serves /healthz (liveness plus session
// state), /metrics (Prometheus) and /events (session-state transitions over
// SSE, for UIs that need to react to a lost session).
package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/medipanel/medigate/internal/observability/middleware"
	"github.com/medipanel/medigate/internal/pipeline"
	"github.com/medipanel/medigate/internal/sessionstate"
)

// Proxy is the ambassador server.
type Proxy struct {
	handler http.Handler
	server  *http.Server
	tracker *sessionstate.Tracker
	events  *sessionEvents
}

// Compile-time check that Proxy implements http.Handler
var _ http.Handler = (*Proxy)(nil)

// Option configures optional Proxy collaborators.
type Option func(*config)

type config struct {
	tracker  *sessionstate.Tracker
	registry *prometheus.Registry
}

// WithTracker wires the session-state tracker backing /healthz and /events.
func WithTracker(t *sessionstate.Tracker) Option {
	return func(c *config) { c.tracker = t }
}

// WithRegistry wires the Prometheus registry served on /metrics.
func WithRegistry(r *prometheus.Registry) Option {
	return func(c *config) { c.registry = r }
}

// forwardedHeaders lists the client headers allowed through to the platform.
// Everything else is dropped; in particular cookies and client-supplied
// Authorization headers never reach the upstream, the pipeline owns
// authentication.
var forwardedHeaders = map[string]bool{
	"Content-Type":    true,
	"Content-Length":  true,
	"Accept":          true,
	"Accept-Encoding": true,
	"Accept-Language": true,
	"User-Agent":      true,
	"X-Request-Id":    true,

	// W3C Trace Context for distributed tracing correlation.
	// Traceparent and Tracestate enable end-to-end trace propagation through
	// the ambassador. Baggage is excluded - it propagates application-level
	// context rather than tracing data.
	"Traceparent": true,
	"Tracestate":  true,
}

// New creates the ambassador server forwarding to the platform at baseURL,
// with transport (normally a *pipeline.Transport) handling authentication.
func New(transport http.RoundTripper, baseURL string, opts ...Option) (*Proxy, error) {
	if transport == nil {
		return nil, errors.New("transport is required")
	}

	upstream, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream URL: %w", err)
	}
	if upstream.Scheme == "" || upstream.Host == "" {
		return nil, fmt.Errorf("upstream URL %q has no scheme or host", baseURL)
	}

	cfg := config{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.tracker == nil {
		cfg.tracker = sessionstate.NewTracker()
	}
	if cfg.registry == nil {
		cfg.registry = prometheus.NewRegistry()
	}

	p := &Proxy{
		tracker: cfg.tracker,
		events:  newSessionEvents(cfg.tracker),
	}

	forwarder := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(upstream)
			scrubHeaders(pr.Out)
		},
		// FlushInterval: -1 disables automatic periodic flushing, flushing only when the backend flushes.
		// This eliminates buffering delays, critical for streaming responses (SSE) where clients
		// expect immediate data as soon as the upstream API sends it.
		FlushInterval: -1,
		Transport:     transport,
		ErrorHandler:  forwardErrorHandler,
	}

	mux := http.NewServeMux()
	mux.Handle("/v1/", forwarder)
	mux.HandleFunc("GET /healthz", p.handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.registry, promhttp.HandlerOpts{}))
	mux.Handle("GET /events", p.events)

	logger := slog.Default()

	p.handler = applyMiddlewares(mux,
		middleware.TraceContext,
		middleware.Logging(logger),
		Recovery,
	)

	return p, nil
}

// scrubHeaders reduces the outbound header set to the forwarding allowlist.
func scrubHeaders(out *http.Request) {
	scrubbed := make(http.Header, len(forwardedHeaders))
	for key, values := range out.Header {
		if forwardedHeaders[key] {
			scrubbed[key] = values
		}
	}
	out.Header = scrubbed
}

// forwardErrorHandler translates transport-level failures into JSON error
// responses. Upstream HTTP responses, 4xx and 5xx included, never reach it;
// the pipeline forwards those verbatim.
func forwardErrorHandler(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()

	// The client went away; nobody is reading this response.
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return
	}

	var authErr *pipeline.AuthError
	if errors.As(err, &authErr) {
		slog.InfoContext(ctx, "rejected unauthenticated request",
			"path", r.URL.Path, "reason", authErr.Reason)
		writeJSONError(ctx, w, authErr.Reason, http.StatusUnauthorized)
		return
	}

	var netErr *pipeline.NetworkError
	if errors.As(err, &netErr) {
		slog.ErrorContext(ctx, "upstream unreachable",
			"path", r.URL.Path, "kind", string(netErr.Kind), "error", err)
		writeJSONError(ctx, w, netErr.Message(), http.StatusBadGateway)
		return
	}

	slog.ErrorContext(ctx, "forwarding request failed", "path", r.URL.Path, "error", err)
	writeJSONError(ctx, w, "forwarding request failed", http.StatusBadGateway)
}

// healthResponse is the /healthz document.
type healthResponse struct {
	Status  string `json:"status"`
	Session string `json:"session"`
	Email   string `json:"email,omitempty"`
}

func (p *Proxy) handleHealth(w http.ResponseWriter, r *http.Request) {
	status, user := p.tracker.Current()

	resp := healthResponse{Status: "ok", Session: string(status)}
	if status == sessionstate.StatusAuthenticated {
		resp.Email = user.Email
	}

	writeJSON(r.Context(), w, resp, http.StatusOK)
}

// ServeHTTP implements http.Handler interface
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.handler.ServeHTTP(w, r)
}

// Start starts the HTTP server in the background and returns immediately.
// Returns a channel for runtime errors and a startup error if any.
//
// Startup errors (port in use, permission denied) are returned immediately.
// Runtime errors (network failures during operation) are sent to the error channel.
//
// The caller is responsible for calling Shutdown() to stop the server.
func (p *Proxy) Start(ctx context.Context, address string) (<-chan error, error) {
	// Startup phase: Create listener synchronously to catch port-in-use errors immediately
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", address, err)
	}

	p.server = &http.Server{
		Handler:      p,
		ReadTimeout:  30 * time.Second, // Inbound: Read entire client request (DoS protection against slow clients)
		WriteTimeout: 15 * time.Minute, // Inbound: Write entire response to client (allows long /events streams, still bounded)
		IdleTimeout:  90 * time.Second, // Inbound: Keep-alive wait for next request from client
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)

	go func() {
		err := p.server.Serve(listener)
		// Only report error if not from graceful shutdown
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	return errCh, nil
}

// Shutdown performs graceful shutdown of the HTTP server.
// Returns error if shutdown fails or times out.
func (p *Proxy) Shutdown(ctx context.Context) error {
	if p.server == nil {
		return nil
	}

	if err := p.server.Shutdown(ctx); err != nil {
		// Graceful shutdown failed - force close
		_ = p.server.Close()
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	return nil
}
