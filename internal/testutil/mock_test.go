package testutil

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/developingchet/wgd-bridge/internal/dashboard"
	"github.com/developingchet/wgd-bridge/internal/normalize"
	"github.com/developingchet/wgd-bridge/internal/storage"
)

var (
	_ dashboard.Dashboard = (*MockDashboard)(nil)
	_ storage.Ledger      = (*MockLedger)(nil)
)

func TestMockDashboard_PeerLifecycle(t *testing.T) {
	m := NewMockDashboard()
	ctx := context.Background()
	m.AddConfig("wg0", "10.0.5.1/24")

	pk, err := m.CreatePeer(ctx, "wg0", "alice", "")
	if err != nil {
		t.Fatal(err)
	}
	peers, _ := m.ListPeers(ctx, "wg0")
	if len(peers) != 1 || normalize.AllowedIP(peers[0]) != "10.0.5.2/32" {
		t.Fatalf("unexpected peers: %v", peers)
	}

	pc, err := m.GetPeerConfig(ctx, pk, "")
	if err != nil || !strings.Contains(pc.Content, "[Interface]") || pc.Config != "wg0" {
		t.Fatalf("GetPeerConfig: %+v err=%v", pc, err)
	}

	if err := m.DeletePeer(ctx, "", pk); err != nil {
		t.Fatal(err)
	}
	if m.PeerCount("wg0") != 0 {
		t.Error("peer should be gone")
	}
	var nf *dashboard.ErrNotFound
	if err := m.DeletePeer(ctx, "", pk); !errors.As(err, &nf) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := m.DeletePeer(ctx, "wg0", pk); err != nil {
		t.Errorf("delete with known config is idempotent, got %v", err)
	}
}

func TestMockDashboard_SnapshotTotals(t *testing.T) {
	m := NewMockDashboard()
	now := time.Unix(1_700_000_000, 0)
	m.Now = func() time.Time { return now }
	m.AddPeer("wg0", normalize.Object{"publicKey": "A=", "latest_handshake": now.Unix() - 10, "rx": 5, "tx": 7})
	m.AddPeer("wg0", normalize.Object{"publicKey": "B=", "latest_handshake": "Never"})

	tot, err := m.Totals(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	want := dashboard.Totals{Configs: 1, Peers: 2, ActivePeers: 1, InactivePeers: 1, Rx: 5, Tx: 7}
	if tot != want {
		t.Errorf("Totals: got %+v, want %+v", tot, want)
	}
}

func TestMockDashboard_ErrorInjection(t *testing.T) {
	m := NewMockDashboard()
	boom := errors.New("boom")
	m.SetError("Handshake", boom)

	if err := m.Handshake(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected injected error, got %v", err)
	}
	if err := m.Handshake(context.Background()); err != nil {
		t.Errorf("error should be consumed, got %v", err)
	}
	if m.Calls("Handshake") != 2 {
		t.Errorf("Calls: got %d", m.Calls("Handshake"))
	}
}

func TestMockLedger_RevokeAndCount(t *testing.T) {
	l := NewMockLedger()
	_ = l.Record(storage.PeerRecord{Owner: "a", Config: "wg0", PeerID: "P1="})
	_ = l.Record(storage.PeerRecord{Owner: "a", Config: "wg1", PeerID: "P1="})

	n, err := l.Revoke("", "P1=", time.Now().Add(-2*time.Hour))
	if err != nil || n != 2 {
		t.Fatalf("Revoke: n=%d err=%v", n, err)
	}
	if c, _ := l.CountActive("a"); c != 0 {
		t.Errorf("CountActive: got %d", c)
	}
	if p, _ := l.PruneRevoked(time.Hour); p != 2 {
		t.Errorf("PruneRevoked: got %d", p)
	}
}
