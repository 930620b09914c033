// Package bridge runs the long-lived daemon: webhook ingress, the update
// worker pool, health and metrics endpoints, and periodic housekeeping.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/developingchet/wgd-bridge/internal/config"
	"github.com/developingchet/wgd-bridge/internal/dashboard"
	"github.com/developingchet/wgd-bridge/internal/pool"
	"github.com/developingchet/wgd-bridge/internal/storage"
	"github.com/developingchet/wgd-bridge/internal/webhook"
)

// Bridge wires the dashboard client, the ownership ledger, the worker pool
// and the HTTP endpoints together.
type Bridge struct {
	cfg       *config.Config
	dash      dashboard.Dashboard
	ledger    storage.Ledger
	pool      *pool.Pool
	observers dashboard.Observers
	log       zerolog.Logger
}

// New constructs a fully wired Bridge. Updates are delivered to the client
// first, so its caches drop before the ledger reacts.
func New(cfg *config.Config, dash dashboard.Dashboard, ledger storage.Ledger, log zerolog.Logger) (*Bridge, error) {
	observers := dashboard.Observers{dash}
	if ledger != nil {
		observers = append(observers, storage.RevokeObserver{Ledger: ledger, Log: log})
	}

	p, err := pool.New(pool.Config{
		Workers:    cfg.PoolWorkers,
		QueueDepth: cfg.PoolQueueDepth,
		MaxRetries: cfg.PoolMaxRetries,
		RetryBase:  cfg.PoolRetryBase,
	}, observers.ApplyUpdate, log)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	return &Bridge{
		cfg:       cfg,
		dash:      dash,
		ledger:    ledger,
		pool:      p,
		observers: observers,
		log:       log,
	}, nil
}

// Run starts all goroutines and blocks until ctx is cancelled or a fatal error occurs.
func (b *Bridge) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	b.pool.Start(gctx)

	g.Go(func() error {
		return serve(gctx, "webhook", b.cfg.WebhookAddr, b.webhookHandler(), b.log)
	})

	g.Go(func() error {
		return serve(gctx, "health", b.cfg.HealthAddr, b.healthHandler(), b.log)
	})

	if b.cfg.MetricsEnabled {
		g.Go(func() error {
			return serve(gctx, "metrics", b.cfg.MetricsAddr, metricsHandler(), b.log)
		})
	}

	if b.ledger != nil {
		janitor := NewJanitor(b.ledger, b.cfg.JanitorInterval, b.cfg.LedgerRetention, b.log)
		g.Go(func() error {
			return janitor.Run(gctx)
		})
	}

	if b.cfg.SnapshotInterval > 0 {
		refresher := NewRefresher(b.dash, b.cfg.SnapshotInterval, b.log)
		g.Go(func() error {
			return refresher.Run(gctx)
		})
	}

	err := g.Wait()
	b.pool.Stop()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (b *Bridge) webhookHandler() http.Handler {
	if b.cfg.WebhookSecret == "" {
		b.log.Warn().Msg("WGD_WEBHOOK_SECRET is empty; webhook requests will be rejected with 503")
	}
	return webhook.NewMux(webhook.NewHandler(b.cfg.WebhookSecret, b.pool, b.log))
}

// healthHandler serves /healthz (process alive) and /readyz (dashboard
// reachable, API key accepted and room left in the update queue).
func (b *Bridge) healthHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if depth := b.pool.Depth(); depth >= b.pool.Capacity() {
			http.Error(w, fmt.Sprintf("not ready: update queue full (%d)", depth), http.StatusServiceUnavailable)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout(b.cfg.HTTPTimeout))
		defer cancel()
		if err := b.dash.Handshake(ctx); err != nil {
			http.Error(w, "not ready: "+err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	return mux
}

func readyTimeout(d time.Duration) time.Duration {
	if d <= 0 || d > 10*time.Second {
		return 10 * time.Second
	}
	return d
}

func metricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// serve runs an HTTP server until ctx is cancelled.
func serve(ctx context.Context, name, addr string, h http.Handler, log zerolog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	log.Info().Str("addr", addr).Msgf("%s server started", name)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s server: %w", name, err)
	}
	return nil
}
