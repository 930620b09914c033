package metrics_test

import (
	"strings"
	"testing"

	"github.com/developingchet/wgd-bridge/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func collectors() []struct {
	name string
	c    prometheus.Collector
} {
	return []struct {
		name string
		c    prometheus.Collector
	}{
		{"wgd_bridge_api_calls_total", metrics.APICalls},
		{"wgd_bridge_api_duration_seconds", metrics.APIDuration},
		{"wgd_bridge_api_retries_total", metrics.APIRetries},
		{"wgd_bridge_cache_lookups_total", metrics.CacheLookups},
		{"wgd_bridge_mutations_total", metrics.PeerMutations},
		{"wgd_bridge_download_attempts_total", metrics.DownloadAttempts},
		{"wgd_bridge_webhook_events_total", metrics.WebhookEvents},
		{"wgd_bridge_jobs_enqueued_total", metrics.JobsEnqueued},
		{"wgd_bridge_jobs_dropped_total", metrics.JobsDropped},
		{"wgd_bridge_jobs_processed_total", metrics.JobsProcessed},
		{"wgd_bridge_worker_queue_depth", metrics.WorkerQueueDepth},
		{"wgd_bridge_snapshot_peers", metrics.SnapshotPeers},
		{"wgd_bridge_snapshot_bytes", metrics.SnapshotBytes},
		{"wgd_bridge_snapshot_duration_seconds", metrics.SnapshotDuration},
		{"wgd_bridge_ledger_active_peers", metrics.LedgerActivePeers},
		{"wgd_bridge_db_size_bytes", metrics.DBSizeBytes},
	}
}

// TestMetricCollectorsLint verifies every package-level collector is non-nil
// and passes Prometheus linting rules.
func TestMetricCollectorsLint(t *testing.T) {
	for _, tc := range collectors() {
		t.Run(tc.name, func(t *testing.T) {
			if tc.c == nil {
				t.Fatal("collector is nil")
			}
			lintErrs, err := testutil.CollectAndLint(tc.c)
			if err != nil {
				t.Errorf("CollectAndLint gather error: %v", err)
			}
			if len(lintErrs) > 0 {
				t.Errorf("prometheus lint errors: %v", lintErrs)
			}
		})
	}
}

// TestMetricNamesAndHelp uses Describe() rather than Gather() so Vec metrics
// with no observations are checked too.
func TestMetricNamesAndHelp(t *testing.T) {
	for _, tc := range collectors() {
		t.Run(tc.name, func(t *testing.T) {
			ch := make(chan *prometheus.Desc, 32)
			go func() {
				tc.c.Describe(ch)
				close(ch)
			}()

			found := false
			for d := range ch {
				s := d.String()
				if strings.Contains(s, `"`+tc.name+`"`) {
					found = true
					if strings.Contains(s, `help: ""`) {
						t.Errorf("descriptor for %s has an empty help string", tc.name)
					}
				}
			}
			if !found {
				t.Errorf("no descriptor named %q returned by Describe()", tc.name)
			}
		})
	}
}
