package bridge

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/developingchet/wgd-bridge/internal/dashboard"
	"github.com/developingchet/wgd-bridge/internal/metrics"
)

// Refresher periodically rebuilds the snapshot and publishes per-config
// peer and traffic gauges.
type Refresher struct {
	dash     dashboard.Dashboard
	interval time.Duration
	log      zerolog.Logger
}

// NewRefresher creates a Refresher.
func NewRefresher(dash dashboard.Dashboard, interval time.Duration, log zerolog.Logger) *Refresher {
	return &Refresher{dash: dash, interval: interval, log: log}
}

// Run refreshes immediately, then every interval until ctx is cancelled.
func (r *Refresher) Run(ctx context.Context) error {
	return every(ctx, r.interval, r.tick)
}

func (r *Refresher) tick(ctx context.Context) {
	snap, err := r.dash.Snapshot(ctx)
	if err != nil {
		if ctx.Err() == nil {
			r.log.Warn().Err(err).Msg("snapshot refresh failed")
		}
		return
	}
	publish(snap)
	t := snap.Totals()
	r.log.Debug().Int("configs", t.Configs).Int("peers", t.Peers).Int("active", t.ActivePeers).
		Msg("snapshot refreshed")
}

// publish replaces the snapshot gauges so removed configs disappear.
func publish(snap dashboard.Snapshot) {
	metrics.SnapshotPeers.Reset()
	metrics.SnapshotBytes.Reset()
	for name, view := range snap {
		t := dashboard.Snapshot{name: view}.Totals()
		metrics.SnapshotPeers.WithLabelValues(name, "active").Set(float64(t.ActivePeers))
		metrics.SnapshotPeers.WithLabelValues(name, "inactive").Set(float64(t.InactivePeers))
		metrics.SnapshotBytes.WithLabelValues(name, "rx").Set(float64(t.Rx))
		metrics.SnapshotBytes.WithLabelValues(name, "tx").Set(float64(t.Tx))
	}
}
