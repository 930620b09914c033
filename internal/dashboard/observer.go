package dashboard

import (
	"context"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/developingchet/wgd-bridge/internal/normalize"
)

// Update is a pushed change notification, normalized from a webhook payload.
type Update struct {
	DeliveryID    string
	Event         string
	Config        string
	PublicKey     string
	PeerID        string
	Rx            int64
	Tx            int64
	LastHandshake *int64
	Raw           normalize.Object
	ReceivedAt    time.Time
}

// Identifier returns the public key, else the peer id.
func (u Update) Identifier() string {
	if u.PublicKey != "" {
		return u.PublicKey
	}
	return u.PeerID
}

// UpdateObserver receives pushed updates.
type UpdateObserver interface {
	ApplyUpdate(ctx context.Context, u Update) error
}

// NopObserver ignores every update.
type NopObserver struct{}

func (NopObserver) ApplyUpdate(context.Context, Update) error { return nil }

// Observers fans an update out to every observer in order. All observers run
// even when one fails; the failures are aggregated.
type Observers []UpdateObserver

func (o Observers) ApplyUpdate(ctx context.Context, u Update) error {
	var errs *multierror.Error
	for _, obs := range o {
		if obs == nil {
			continue
		}
		if err := obs.ApplyUpdate(ctx, u); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

// ApplyUpdate drops cached reads touched by the update so the next snapshot
// reflects it.
func (c *Client) ApplyUpdate(_ context.Context, u Update) error {
	c.invalidate(u.Config)
	c.log.Debug().Str("event", u.Event).Str("config", u.Config).Msg("cache invalidated by update")
	return nil
}
