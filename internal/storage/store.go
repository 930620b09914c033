package storage

import (
	"time"
)

// PeerRecord ties a dashboard peer to the owner it was issued for.
type PeerRecord struct {
	Owner     string
	Config    string
	PeerID    string
	Name      string
	CreatedAt time.Time
	RevokedAt time.Time // zero = active
}

// Active reports whether the record has not been revoked.
func (r PeerRecord) Active() bool {
	return r.RevokedAt.IsZero()
}

// Ledger is the persistence interface for peer ownership.
type Ledger interface {
	// Record stores rec under (Config, PeerID), replacing any previous record.
	// A zero CreatedAt is set to now.
	Record(rec PeerRecord) error
	// Get returns nil, nil when no record exists.
	Get(config, peerID string) (*PeerRecord, error)
	// Revoke marks matching active records revoked. An empty config matches
	// peerID in every configuration. Returns the number of records changed.
	Revoke(config, peerID string, at time.Time) (int, error)

	List() ([]PeerRecord, error)
	ListByOwner(owner string, includeRevoked bool) ([]PeerRecord, error)
	// CountActive counts non-revoked records; an empty owner counts all.
	CountActive(owner string) (int, error)

	// Janitor helpers
	PruneRevoked(olderThan time.Duration) (int, error)

	// Utility
	SizeBytes() (int64, error)
	Close() error
}
