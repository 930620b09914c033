package dashboard

import (
	"context"
	"sort"
	"time"

	"github.com/developingchet/wgd-bridge/internal/metrics"
	"github.com/developingchet/wgd-bridge/internal/normalize"
)

// NormalizePeer builds a Peer from a raw record. A peer is active when its
// last handshake is at most window before now.
func NormalizePeer(config string, raw normalize.Object, now time.Time, window time.Duration) Peer {
	p := Peer{
		Config:        config,
		ID:            normalize.PeerID(raw),
		PublicKey:     normalize.PublicKey(raw),
		Name:          normalize.PeerName(raw),
		AllowedIP:     normalize.AllowedIP(raw),
		Rx:            normalize.Rx(raw),
		Tx:            normalize.Tx(raw),
		LastHandshake: normalize.LastHandshake(raw, now),
		Raw:           raw,
	}
	if p.ID == "" {
		p.ID = p.PublicKey
	}
	if p.LastHandshake != nil {
		p.Active = now.Unix()-*p.LastHandshake <= int64(window/time.Second)
	}
	return p
}

// Snapshot lists every configuration with its normalized peers. A
// configuration whose peer list cannot be fetched is included with no peers.
func (c *Client) Snapshot(ctx context.Context) (Snapshot, error) {
	start := time.Now()
	configs, err := c.ListConfigs(ctx)
	if err != nil {
		return nil, err
	}

	now := c.now()
	snap := make(Snapshot, len(configs))
	for _, raw := range configs {
		name := normalize.ConfigName(raw)
		if name == "" {
			continue
		}
		peers, err := c.peersOf(ctx, raw)
		if err != nil {
			c.log.Warn().Err(err).Str("config", name).Msg("peer list unavailable; snapshot partial")
		}
		view := ConfigView{Raw: raw, Peers: make([]Peer, 0, len(peers))}
		for _, p := range peers {
			view.Peers = append(view.Peers, NormalizePeer(name, p, now, c.cfg.ActiveWindow))
		}
		snap[name] = view
	}
	metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
	return snap, nil
}

// Totals builds a snapshot and folds it.
func (c *Client) Totals(ctx context.Context) (Totals, error) {
	snap, err := c.Snapshot(ctx)
	if err != nil {
		return Totals{}, err
	}
	return snap.Totals(), nil
}

// Totals folds the snapshot; it performs no I/O.
func (s Snapshot) Totals() Totals {
	t := Totals{Configs: len(s)}
	for _, view := range s {
		for _, p := range view.Peers {
			t.Peers++
			if p.Active {
				t.ActivePeers++
			} else {
				t.InactivePeers++
			}
			t.Rx += p.Rx
			t.Tx += p.Tx
		}
	}
	return t
}

// FindPeer returns the peer of config matching identifier by id or public
// key. An empty config searches every configuration in name order.
func (s Snapshot) FindPeer(config, identifier string) (Peer, bool) {
	if identifier == "" {
		return Peer{}, false
	}
	if config != "" {
		return findIn(s[config].Peers, identifier)
	}
	for _, name := range s.Names() {
		if p, ok := findIn(s[name].Peers, identifier); ok {
			return p, true
		}
	}
	return Peer{}, false
}

// Names returns the configuration names sorted.
func (s Snapshot) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func findIn(peers []Peer, identifier string) (Peer, bool) {
	for _, p := range peers {
		if p.Matches(identifier) {
			return p, true
		}
	}
	return Peer{}, false
}
