package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	bolt "go.etcd.io/bbolt"
)

const (
	ledgerFile  = "ledger.db"
	bucketPeers = "peers"
	keySep      = "\x00"
)

type bboltLedger struct {
	db  *bolt.DB
	now func() time.Time
}

// NewBboltLedger opens (or creates) a bbolt database at dataDir/ledger.db.
func NewBboltLedger(dataDir string) (Ledger, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	path := filepath.Join(dataDir, ledgerFile)
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bbolt at %s: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(bucketPeers)); err != nil {
			return fmt.Errorf("create bucket %s: %w", bucketPeers, err)
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &bboltLedger{db: db, now: time.Now}, nil
}

// peerKey orders records by config, then peer id. NUL cannot appear in
// either part.
func peerKey(config, peerID string) []byte {
	return []byte(config + keySep + peerID)
}

func (l *bboltLedger) Record(rec PeerRecord) error {
	if rec.Config == "" || rec.PeerID == "" {
		return fmt.Errorf("record peer: config and peer id are required")
	}
	if strings.Contains(rec.Config, keySep) || strings.Contains(rec.PeerID, keySep) {
		return fmt.Errorf("record peer: invalid character in key")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = l.now()
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	if !rec.RevokedAt.IsZero() {
		rec.RevokedAt = rec.RevokedAt.UTC()
	}
	data, err := msgpack.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal PeerRecord: %w", err)
	}
	return l.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketPeers)).Put(peerKey(rec.Config, rec.PeerID), data)
	})
}

func (l *bboltLedger) Get(config, peerID string) (*PeerRecord, error) {
	var rec PeerRecord
	var found bool
	err := l.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(bucketPeers)).Get(peerKey(config, peerID))
		if v == nil {
			return nil
		}
		found = true
		return msgpack.Unmarshal(v, &rec)
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &rec, nil
}

func (l *bboltLedger) Revoke(config, peerID string, at time.Time) (int, error) {
	if peerID == "" {
		return 0, nil
	}
	if at.IsZero() {
		at = l.now()
	}
	at = at.UTC()

	var revoked int
	err := l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketPeers))
		updates := make(map[string][]byte)
		if err := b.ForEach(func(k, v []byte) error {
			cfg, id, ok := strings.Cut(string(k), keySep)
			if !ok || id != peerID || (config != "" && cfg != config) {
				return nil
			}
			var rec PeerRecord
			if err := msgpack.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("unmarshal PeerRecord for %s/%s: %w", cfg, id, err)
			}
			if !rec.Active() {
				return nil
			}
			rec.RevokedAt = at
			data, err := msgpack.Marshal(rec)
			if err != nil {
				return err
			}
			updates[string(k)] = data
			return nil
		}); err != nil {
			return err
		}
		// bbolt forbids mutating a bucket while iterating it.
		for k, data := range updates {
			if err := b.Put([]byte(k), data); err != nil {
				return err
			}
			revoked++
		}
		return nil
	})
	return revoked, err
}

func (l *bboltLedger) List() ([]PeerRecord, error) {
	return l.filter(func(PeerRecord) bool { return true })
}

func (l *bboltLedger) ListByOwner(owner string, includeRevoked bool) ([]PeerRecord, error) {
	return l.filter(func(r PeerRecord) bool {
		return r.Owner == owner && (includeRevoked || r.Active())
	})
}

func (l *bboltLedger) CountActive(owner string) (int, error) {
	recs, err := l.filter(func(r PeerRecord) bool {
		return r.Active() && (owner == "" || r.Owner == owner)
	})
	return len(recs), err
}

// filter returns matching records in key order.
func (l *bboltLedger) filter(keep func(PeerRecord) bool) ([]PeerRecord, error) {
	var result []PeerRecord
	err := l.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketPeers)).ForEach(func(k, v []byte) error {
			var rec PeerRecord
			if err := msgpack.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("unmarshal PeerRecord for %q: %w", k, err)
			}
			if keep(rec) {
				result = append(result, rec)
			}
			return nil
		})
	})
	return result, err
}

// ---- Janitor ---------------------------------------------------------------

func (l *bboltLedger) PruneRevoked(olderThan time.Duration) (int, error) {
	cutoff := l.now().Add(-olderThan)
	var pruned int
	err := l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketPeers))
		var toDelete [][]byte
		if err := b.ForEach(func(k, v []byte) error {
			var rec PeerRecord
			if err := msgpack.Unmarshal(v, &rec); err != nil {
				return nil // skip corrupt entries
			}
			if !rec.Active() && rec.RevokedAt.Before(cutoff) {
				key := make([]byte, len(k))
				copy(key, k)
				toDelete = append(toDelete, key)
			}
			return nil
		}); err != nil {
			return err
		}
		for _, k := range toDelete {
			if err := b.Delete(k); err != nil {
				return err
			}
			pruned++
		}
		return nil
	})
	return pruned, err
}

// ---- Utility ---------------------------------------------------------------

func (l *bboltLedger) SizeBytes() (int64, error) {
	info, err := os.Stat(l.db.Path())
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (l *bboltLedger) Close() error {
	return l.db.Close()
}
