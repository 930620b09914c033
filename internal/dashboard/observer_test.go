package dashboard

import (
	"context"
	"errors"
	"testing"

	"github.com/developingchet/wgd-bridge/internal/dashboard/dashboardtest"
)

type recordingObserver struct {
	got []Update
	err error
}

func (r *recordingObserver) ApplyUpdate(_ context.Context, u Update) error {
	r.got = append(r.got, u)
	return r.err
}

func TestObserversFanOutAndAggregate(t *testing.T) {
	a := &recordingObserver{err: errors.New("a failed")}
	b := &recordingObserver{}
	c := &recordingObserver{err: errors.New("c failed")}
	obs := Observers{a, nil, b, c, NopObserver{}}

	err := obs.ApplyUpdate(context.Background(), Update{Event: "peer_updated"})
	if err == nil {
		t.Fatal("expected aggregated error")
	}
	for _, r := range []*recordingObserver{a, b, c} {
		if len(r.got) != 1 {
			t.Errorf("every observer must see the update, got %d", len(r.got))
		}
	}
	if (Observers{b}).ApplyUpdate(context.Background(), Update{}) != nil {
		t.Error("no failures should yield nil")
	}
}

func TestUpdateIdentifier(t *testing.T) {
	if (Update{PublicKey: "PK", PeerID: "7"}).Identifier() != "PK" {
		t.Error("public key should win")
	}
	if (Update{PeerID: "7"}).Identifier() != "7" {
		t.Error("peer id fallback")
	}
}

func TestClientApplyUpdateInvalidatesCache(t *testing.T) {
	srv, c := newFake(t)
	srv.AddConfig(dashboardtest.Config{Name: "wg0"})
	ctx := context.Background()

	if _, err := c.ListPeers(ctx, "wg0"); err != nil {
		t.Fatal(err)
	}
	srv.AddPeer("wg0", map[string]any{"id": "pushed"})

	if err := c.ApplyUpdate(ctx, Update{Event: "peer_created", Config: "wg0"}); err != nil {
		t.Fatal(err)
	}
	peers, err := c.ListPeers(ctx, "wg0")
	if err != nil {
		t.Fatal(err)
	}
	if len(peers) != 1 {
		t.Errorf("update should have invalidated the cached peer list, got %d peers", len(peers))
	}
}
