package testutil

import (
	"sort"
	"sync"
	"time"

	"github.com/developingchet/wgd-bridge/internal/storage"
)

// MockLedger implements storage.Ledger with an in-memory map for testing.
// All methods are safe for concurrent use.
type MockLedger struct {
	mu   sync.Mutex
	recs map[[2]string]storage.PeerRecord

	// Error injection: method -> next error (consumed on first call)
	errors map[string]error

	// Size is the value returned by SizeBytes.
	Size int64
}

// NewMockLedger returns a zero-state MockLedger ready for use.
func NewMockLedger() *MockLedger {
	return &MockLedger{
		recs:   make(map[[2]string]storage.PeerRecord),
		errors: make(map[string]error),
		Size:   1024,
	}
}

// SetError injects an error to be returned on the next call to the named method.
func (m *MockLedger) SetError(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[method] = err
}

func (m *MockLedger) popError(method string) error {
	err := m.errors[method]
	delete(m.errors, method)
	return err
}

func (m *MockLedger) Record(rec storage.PeerRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popError("Record"); err != nil {
		return err
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	m.recs[[2]string{rec.Config, rec.PeerID}] = rec
	return nil
}

func (m *MockLedger) Get(config, peerID string) (*storage.PeerRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popError("Get"); err != nil {
		return nil, err
	}
	rec, ok := m.recs[[2]string{config, peerID}]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *MockLedger) Revoke(config, peerID string, at time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popError("Revoke"); err != nil {
		return 0, err
	}
	if at.IsZero() {
		at = time.Now()
	}
	var n int
	for k, rec := range m.recs {
		if k[1] != peerID || (config != "" && k[0] != config) || !rec.Active() {
			continue
		}
		rec.RevokedAt = at.UTC()
		m.recs[k] = rec
		n++
	}
	return n, nil
}

func (m *MockLedger) List() ([]storage.PeerRecord, error) {
	return m.filter("List", func(storage.PeerRecord) bool { return true })
}

func (m *MockLedger) ListByOwner(owner string, includeRevoked bool) ([]storage.PeerRecord, error) {
	return m.filter("ListByOwner", func(r storage.PeerRecord) bool {
		return r.Owner == owner && (includeRevoked || r.Active())
	})
}

func (m *MockLedger) CountActive(owner string) (int, error) {
	recs, err := m.filter("CountActive", func(r storage.PeerRecord) bool {
		return r.Active() && (owner == "" || r.Owner == owner)
	})
	return len(recs), err
}

func (m *MockLedger) filter(method string, keep func(storage.PeerRecord) bool) ([]storage.PeerRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popError(method); err != nil {
		return nil, err
	}
	var out []storage.PeerRecord
	for _, rec := range m.recs {
		if keep(rec) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Config != out[j].Config {
			return out[i].Config < out[j].Config
		}
		return out[i].PeerID < out[j].PeerID
	})
	return out, nil
}

func (m *MockLedger) PruneRevoked(olderThan time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popError("PruneRevoked"); err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-olderThan)
	var n int
	for k, rec := range m.recs {
		if !rec.Active() && rec.RevokedAt.Before(cutoff) {
			delete(m.recs, k)
			n++
		}
	}
	return n, nil
}

func (m *MockLedger) SizeBytes() (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popError("SizeBytes"); err != nil {
		return 0, err
	}
	return m.Size, nil
}

func (m *MockLedger) Close() error {
	return nil
}
