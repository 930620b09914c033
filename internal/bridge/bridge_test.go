package bridge

import (
	"bytes"
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/developingchet/wgd-bridge/internal/config"
	"github.com/developingchet/wgd-bridge/internal/dashboard"
	"github.com/developingchet/wgd-bridge/internal/metrics"
	"github.com/developingchet/wgd-bridge/internal/normalize"
	"github.com/developingchet/wgd-bridge/internal/storage"
	mocks "github.com/developingchet/wgd-bridge/internal/testutil"
	"github.com/developingchet/wgd-bridge/internal/webhook"
)

func testConfig() *config.Config {
	return &config.Config{
		HTTPTimeout:      time.Second,
		WebhookSecret:    "s3cret",
		WebhookAddr:      "127.0.0.1:0",
		HealthAddr:       "127.0.0.1:0",
		MetricsAddr:      "127.0.0.1:0",
		MetricsEnabled:   true,
		PoolWorkers:      1,
		PoolQueueDepth:   16,
		PoolMaxRetries:   1,
		PoolRetryBase:    time.Millisecond,
		LedgerRetention:  time.Hour,
		JanitorInterval:  time.Hour,
		SnapshotInterval: time.Hour,
	}
}

func TestHealthz(t *testing.T) {
	b, err := New(testConfig(), mocks.NewMockDashboard(), nil, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	rec := httptest.NewRecorder()
	b.healthHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Errorf("healthz: %d %q", rec.Code, rec.Body.String())
	}
}

func TestReadyzFollowsHandshake(t *testing.T) {
	dash := mocks.NewMockDashboard()
	b, err := New(testConfig(), dash, nil, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	h := b.healthHandler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("readyz with reachable dashboard: %d", rec.Code)
	}

	dash.SetError("Handshake", &dashboard.ErrUpstreamHTTP{Method: "GET", Path: "/api/handshake", Status: 401})
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("readyz with failing handshake: %d", rec.Code)
	}
}

func TestReadyzReportsFullQueue(t *testing.T) {
	cfg := testConfig()
	cfg.PoolQueueDepth = 1
	b, err := New(cfg, mocks.NewMockDashboard(), nil, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	// Not started, so the job stays queued.
	if !b.pool.Enqueue(dashboard.Update{Event: "peer_updated"}) {
		t.Fatal("enqueue failed")
	}
	rec := httptest.NewRecorder()
	b.healthHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable || !strings.Contains(rec.Body.String(), "queue full") {
		t.Errorf("readyz with full queue: %d %q", rec.Code, rec.Body.String())
	}
}

func TestWebhookDeliversToObservers(t *testing.T) {
	dash := mocks.NewMockDashboard()
	ledger := mocks.NewMockLedger()
	if err := ledger.Record(storage.PeerRecord{Owner: "alice", Config: "wg0", PeerID: "PK="}); err != nil {
		t.Fatal(err)
	}
	b, err := New(testConfig(), dash, ledger, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b.pool.Start(ctx)

	req := httptest.NewRequest(http.MethodPost, webhook.Path,
		bytes.NewBufferString(`{"event":"peer_deleted","config":"wg0","publicKey":"PK="}`))
	req.Header.Set("X-WGD-Secret", "s3cret")
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	b.webhookHandler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("webhook status %d", rec.Code)
	}

	b.pool.Stop()
	updates := dash.Updates()
	if len(updates) != 1 || updates[0].Config != "wg0" {
		t.Fatalf("client observer should see the update: %+v", updates)
	}
	if c, _ := ledger.CountActive("alice"); c != 0 {
		t.Error("ledger observer should revoke the deleted peer")
	}
}

func TestObserverFailureIsRetried(t *testing.T) {
	dash := mocks.NewMockDashboard()
	dash.SetError("ApplyUpdate", errors.New("transient"))
	b, err := New(testConfig(), dash, nil, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	b.pool.Start(context.Background())
	b.pool.Enqueue(dashboard.Update{Event: "peer_updated", Config: "wg0"})
	b.pool.Stop()

	if dash.Calls("ApplyUpdate") != 2 {
		t.Errorf("expected one retry, got %d calls", dash.Calls("ApplyUpdate"))
	}
	if len(dash.Updates()) != 1 {
		t.Error("retried update should be applied")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	b, err := New(testConfig(), mocks.NewMockDashboard(), mocks.NewMockLedger(), zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRunFailsOnBusyAddress(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	cfg := testConfig()
	cfg.HealthAddr = ln.Addr().String()
	b, err := New(cfg, mocks.NewMockDashboard(), nil, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.Run(ctx); err == nil {
		t.Error("expected bind error")
	}
}

func TestJanitorSweep(t *testing.T) {
	ledger := mocks.NewMockLedger()
	ledger.Size = 4096
	_ = ledger.Record(storage.PeerRecord{Owner: "a", Config: "wg0", PeerID: "OLD="})
	_ = ledger.Record(storage.PeerRecord{Owner: "a", Config: "wg0", PeerID: "LIVE="})
	_, _ = ledger.Revoke("wg0", "OLD=", time.Now().Add(-2*time.Hour))

	j := NewJanitor(ledger, time.Hour, time.Hour, zerolog.Nop())
	j.sweep()

	if rec, _ := ledger.Get("wg0", "OLD="); rec != nil {
		t.Error("revoked record past retention should be pruned")
	}
	if got := testutil.ToFloat64(metrics.LedgerActivePeers); got != 1 {
		t.Errorf("LedgerActivePeers: got %v", got)
	}
	if got := testutil.ToFloat64(metrics.DBSizeBytes); got != 4096 {
		t.Errorf("DBSizeBytes: got %v", got)
	}
}

func TestJanitorSurvivesLedgerErrors(t *testing.T) {
	ledger := mocks.NewMockLedger()
	ledger.SetError("PruneRevoked", errors.New("disk"))
	ledger.SetError("SizeBytes", errors.New("stat"))
	NewJanitor(ledger, time.Hour, time.Hour, zerolog.Nop()).sweep()
}

func TestRefresherPublishesGauges(t *testing.T) {
	dash := mocks.NewMockDashboard()
	now := time.Unix(1_700_000_000, 0)
	dash.Now = func() time.Time { return now }
	dash.AddPeer("wgA", normalize.Object{"publicKey": "A=", "latest_handshake": now.Unix() - 5, "rx": 100, "tx": 50})
	dash.AddPeer("wgA", normalize.Object{"publicKey": "B="})

	r := NewRefresher(dash, time.Hour, zerolog.Nop())
	r.tick(context.Background())

	if got := testutil.ToFloat64(metrics.SnapshotPeers.WithLabelValues("wgA", "active")); got != 1 {
		t.Errorf("active: got %v", got)
	}
	if got := testutil.ToFloat64(metrics.SnapshotPeers.WithLabelValues("wgA", "inactive")); got != 1 {
		t.Errorf("inactive: got %v", got)
	}
	if got := testutil.ToFloat64(metrics.SnapshotBytes.WithLabelValues("wgA", "rx")); got != 100 {
		t.Errorf("rx: got %v", got)
	}

	// A failing refresh keeps the last published values.
	dash.SetError("Snapshot", errors.New("down"))
	r.tick(context.Background())
	if got := testutil.ToFloat64(metrics.SnapshotBytes.WithLabelValues("wgA", "tx")); got != 50 {
		t.Errorf("tx after failed refresh: got %v", got)
	}
}

func TestEveryRunsImmediatelyAndStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := every(ctx, time.Hour, func(context.Context) {
		calls++
		cancel()
	})
	if err != nil || calls != 1 {
		t.Errorf("every: err=%v calls=%d", err, calls)
	}
}
