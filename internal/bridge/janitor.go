package bridge

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/developingchet/wgd-bridge/internal/metrics"
	"github.com/developingchet/wgd-bridge/internal/storage"
)

// every runs fn once, then on each tick until ctx is cancelled.
func every(ctx context.Context, interval time.Duration, fn func(context.Context)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	fn(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// Janitor keeps the ownership ledger bounded and its gauges current.
type Janitor struct {
	ledger    storage.Ledger
	interval  time.Duration
	retention time.Duration
	log       zerolog.Logger
}

// NewJanitor creates a Janitor. Revoked records older than retention are
// dropped on every pass.
func NewJanitor(ledger storage.Ledger, interval, retention time.Duration, log zerolog.Logger) *Janitor {
	return &Janitor{ledger: ledger, interval: interval, retention: retention, log: log}
}

// Run executes the janitor loop until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) error {
	return every(ctx, j.interval, func(context.Context) { j.sweep() })
}

func (j *Janitor) sweep() {
	log := j.log.With().Str("task", "janitor").Logger()

	if pruned, err := j.ledger.PruneRevoked(j.retention); err != nil {
		log.Warn().Err(err).Msg("pruning revoked ledger records failed")
	} else if pruned > 0 {
		log.Info().Int("count", pruned).Dur("retention", j.retention).Msg("pruned revoked ledger records")
	}

	if active, err := j.ledger.CountActive(""); err != nil {
		log.Warn().Err(err).Msg("counting active ledger records failed")
	} else {
		metrics.LedgerActivePeers.Set(float64(active))
	}

	if size, err := j.ledger.SizeBytes(); err != nil {
		log.Warn().Err(err).Msg("reading ledger size failed")
	} else {
		metrics.DBSizeBytes.Set(float64(size))
	}
}
