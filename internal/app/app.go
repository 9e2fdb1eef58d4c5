package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/medipanel/medigate/internal/authapi"
	"github.com/medipanel/medigate/internal/credstore"
	"github.com/medipanel/medigate/internal/pipeline"
	"github.com/medipanel/medigate/internal/proxy"
	"github.com/medipanel/medigate/internal/sessionstate"
)

// App orchestrates the lifecycle of the ambassador server and the pipeline
// behind it.
type App struct {
	cfg     *Config
	store   *credstore.Store
	tracker *sessionstate.Tracker
	proxy   *proxy.Proxy
}

// New creates a new App instance.
func New(cfg *Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// I/O deferred: the store only touches its backend on Load/Save.
	store, err := cfg.Auth.NewCredentialStore()
	if err != nil {
		return nil, fmt.Errorf("failed to create credential store: %w", err)
	}

	tracker := sessionstate.NewTracker()
	tracker.Subscribe(logSessionChanges)

	// The refresher uses its own plain HTTP client. Routing it through the
	// pipeline would deadlock the refresh it is part of.
	refresher, err := authapi.NewRefreshClient(cfg.Upstream.BaseURL,
		authapi.WithRefreshTimeout(cfg.Auth.RequestTimeout))
	if err != nil {
		return nil, fmt.Errorf("failed to create refresh client: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	transport, err := pipeline.New(store, refresher,
		pipeline.WithSessionState(tracker),
		pipeline.WithRoutes(cfg.Auth.Routes()),
		pipeline.WithLeadTime(cfg.Auth.RefreshLeadTime),
		pipeline.WithRequestTimeout(cfg.Auth.RequestTimeout),
		pipeline.WithMetrics(pipeline.NewMetrics(registry)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request pipeline: %w", err)
	}

	ambassador, err := proxy.New(transport, cfg.Upstream.BaseURL,
		proxy.WithTracker(tracker),
		proxy.WithRegistry(registry),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create proxy: %w", err)
	}

	return &App{
		cfg:     cfg,
		store:   store,
		tracker: tracker,
		proxy:   ambassador,
	}, nil
}

// Start starts all services and blocks until shutdown is triggered.
// Uses errgroup for runtime error monitoring and shutdown function collection for coordinated cleanup.
func (a *App) Start(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	// A session written by another device will never be usable here; say so
	// at startup instead of on the first failing request.
	if err := a.store.ValidateDeviceBinding(ctx); err != nil {
		slog.WarnContext(ctx, "stored session failed device binding check, sign in again on this device", "error", err)
	} else if sess, err := a.store.Load(ctx); err == nil {
		// Seed the tracker from storage so health and event consumers see
		// the signed-in principal before the first forwarded request.
		a.tracker.MarkAuthenticated(sess.Principal)
	}

	address := a.cfg.Server.Host + ":" + strconv.FormatUint(uint64(a.cfg.Server.Port), 10)
	var shutdownFuncs []func(context.Context) error

	// Startup phase: Start services
	slog.InfoContext(gCtx, "starting session ambassador", "address", address, "upstream", a.cfg.Upstream.BaseURL)
	proxyErrCh, err := a.proxy.Start(gCtx, address)
	if err != nil {
		return fmt.Errorf("proxy startup failed: %w", err)
	}
	shutdownFuncs = append(shutdownFuncs, a.proxy.Shutdown)

	// Monitor runtime errors - errgroup cancels context on first error
	g.Go(func() error {
		select {
		case err := <-proxyErrCh:
			if err != nil {
				slog.ErrorContext(gCtx, "proxy runtime error", "error", err)
				return fmt.Errorf("proxy: %w", err)
			}
			return nil
		case <-gCtx.Done():
			return nil
		}
	})

	slog.InfoContext(gCtx, "application ready", "address", address)

	runtimeErr := g.Wait()

	slog.InfoContext(gCtx, "shutting down services")

	// Shutdown phase: Stop all services
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Shutdown.Timeout)
	defer cancel()

	var errs []error
	if runtimeErr != nil {
		errs = append(errs, fmt.Errorf("runtime: %w", runtimeErr))
	}

	for i := len(shutdownFuncs) - 1; i >= 0; i-- {
		if err := shutdownFuncs[i](shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "service shutdown failed", "error", err)
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	slog.Info("application stopped")
	return nil
}

// logSessionChanges surfaces session transitions in the ambassador's log so
// an operator can tell why forwarded requests started failing.
func logSessionChanges(c sessionstate.Change) {
	switch c.Status {
	case sessionstate.StatusAuthenticated:
		slog.Info("session authenticated", "user_id", c.User.ID, "email", c.User.Email)
	case sessionstate.StatusUnauthenticated:
		slog.Warn("session ended, sign in with 'medigate login'", "reason", c.Reason)
	}
}
