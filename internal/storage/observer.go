package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/developingchet/wgd-bridge/internal/dashboard"
)

// RevokeObserver revokes ledger records when a pushed update reports that a
// peer was removed from the dashboard.
type RevokeObserver struct {
	Ledger Ledger
	Log    zerolog.Logger
}

// IsPeerRemoval reports whether event names a peer deletion, for example
// "peer_deleted", "deletePeers" or "peer.removed".
func IsPeerRemoval(event string) bool {
	e := strings.ToLower(event)
	if !strings.Contains(e, "peer") {
		return false
	}
	return strings.Contains(e, "delet") || strings.Contains(e, "remov") || strings.Contains(e, "revok")
}

func (o RevokeObserver) ApplyUpdate(_ context.Context, u dashboard.Update) error {
	if o.Ledger == nil || !IsPeerRemoval(u.Event) {
		return nil
	}
	var total int
	for _, id := range identifiers(u) {
		n, err := o.Ledger.Revoke(u.Config, id, u.ReceivedAt)
		if err != nil {
			return fmt.Errorf("revoke %s/%s: %w", u.Config, id, err)
		}
		total += n
	}
	if total > 0 {
		o.Log.Info().Str("config", u.Config).Str("peer", u.Identifier()).Int("records", total).
			Msg("ledger records revoked by webhook")
	}
	return nil
}

// identifiers returns the distinct non-empty ids the update carries.
func identifiers(u dashboard.Update) []string {
	var ids []string
	for _, id := range []string{u.PublicKey, u.PeerID} {
		if id != "" && (len(ids) == 0 || ids[0] != id) {
			ids = append(ids, id)
		}
	}
	return ids
}
