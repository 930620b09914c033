package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/developingchet/wgd-bridge/internal/dashboard"
	"github.com/developingchet/wgd-bridge/internal/metrics"
)

// Job is a unit of work for the worker pool: one pushed update to deliver.
type Job struct {
	Update     dashboard.Update
	EnqueuedAt time.Time
}

// event returns the metric label for the job.
func (j Job) event() string {
	if j.Update.Event == "" {
		return "unknown"
	}
	return j.Update.Event
}

// JobHandler delivers a single update. A non-nil error triggers a retry unless
// it is wrapped with backoff.Permanent.
type JobHandler func(ctx context.Context, u dashboard.Update) error

// Config holds worker pool configuration.
type Config struct {
	Workers    int
	QueueDepth int
	MaxRetries int
	RetryBase  time.Duration
}

// Pool is a bounded worker pool with inline retry.
type Pool struct {
	cfg      Config
	jobs     chan Job
	handler  JobHandler
	log      zerolog.Logger
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates a Pool with the given config and handler.
func New(cfg Config, handler JobHandler, log zerolog.Logger) (*Pool, error) {
	if cfg.Workers < 1 || cfg.Workers > 64 {
		return nil, fmt.Errorf("POOL_WORKERS must be 1–64, got %d", cfg.Workers)
	}
	if handler == nil {
		return nil, fmt.Errorf("pool handler is required")
	}
	if cfg.QueueDepth < 1 {
		cfg.QueueDepth = 256
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &Pool{
		cfg:     cfg,
		jobs:    make(chan Job, cfg.QueueDepth),
		handler: handler,
		log:     log,
	}, nil
}

// Start launches the worker goroutines. ctx controls worker lifetime.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

// Enqueue attempts a non-blocking send. Returns false if the buffer is full.
func (p *Pool) Enqueue(u dashboard.Update) bool {
	job := Job{Update: u, EnqueuedAt: time.Now()}
	select {
	case p.jobs <- job:
		metrics.JobsEnqueued.WithLabelValues(job.event()).Inc()
		metrics.WorkerQueueDepth.Set(float64(len(p.jobs)))
		return true
	default:
		metrics.JobsDropped.WithLabelValues("buffer_full").Inc()
		p.log.Warn().Str("delivery", u.DeliveryID).Str("event", u.Event).Str("config", u.Config).Msg("update dropped: queue full")
		return false
	}
}

// Stop closes the job channel and waits for all workers to drain.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		close(p.jobs)
	})
	p.wg.Wait()
}

// Depth returns the current number of pending jobs.
func (p *Pool) Depth() int {
	return len(p.jobs)
}

// Capacity returns the queue size.
func (p *Pool) Capacity() int {
	return cap(p.jobs)
}

// worker dequeues jobs and processes them with inline retry. Jobs are never
// re-enqueued, so Stop cannot race a send on the closed channel.
func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	log := p.log.With().Int("worker_id", id).Logger()

	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			metrics.WorkerQueueDepth.Set(float64(len(p.jobs)))
			p.process(ctx, job, log)
		}
	}
}

// process runs the handler with exponential backoff between attempts.
func (p *Pool) process(ctx context.Context, job Job, log zerolog.Logger) {
	b := p.newBackOff()
	event := job.event()

	for attempt := 0; ; attempt++ {
		err := p.handler(ctx, job.Update)
		if err == nil {
			metrics.JobsProcessed.WithLabelValues(event, "success").Inc()
			return
		}

		var perm *backoff.PermanentError
		if errors.As(err, &perm) || attempt >= p.cfg.MaxRetries {
			metrics.JobsProcessed.WithLabelValues(event, "error").Inc()
			log.Error().Err(err).Str("delivery", job.Update.DeliveryID).Str("event", job.Update.Event).Str("config", job.Update.Config).
				Int("attempts", attempt+1).Msg("update delivery failed")
			return
		}

		wait := b.NextBackOff()
		metrics.JobsProcessed.WithLabelValues(event, "retried").Inc()
		log.Warn().Err(err).Str("delivery", job.Update.DeliveryID).Str("event", job.Update.Event).Int("attempt", attempt+1).
			Dur("backoff", wait).Msg("retrying update delivery")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			metrics.JobsProcessed.WithLabelValues(event, "error").Inc()
			return
		case <-timer.C:
		}
	}
}

// newBackOff doubles from RetryBase, capped at five minutes, without jitter.
func (p *Pool) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.cfg.RetryBase
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = 5 * time.Minute
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}
