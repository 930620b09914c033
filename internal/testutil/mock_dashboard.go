package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/developingchet/wgd-bridge/internal/alloc"
	"github.com/developingchet/wgd-bridge/internal/dashboard"
	"github.com/developingchet/wgd-bridge/internal/normalize"
)

// MockDashboard implements dashboard.Dashboard with in-memory state for
// testing. All methods are safe for concurrent use.
type MockDashboard struct {
	mu sync.Mutex

	configs map[string]*mockConfig
	updates []dashboard.Update

	// Error injection: method -> next error (consumed on first call)
	errors map[string]error

	// Call counts per method
	calls map[string]int

	nextID int
	closed bool

	// Now and Window drive peer activity in Snapshot.
	Now    func() time.Time
	Window time.Duration
}

type mockConfig struct {
	address string
	peers   []normalize.Object
}

// NewMockDashboard returns a zero-state MockDashboard ready for use.
func NewMockDashboard() *MockDashboard {
	return &MockDashboard{
		configs: make(map[string]*mockConfig),
		errors:  make(map[string]error),
		calls:   make(map[string]int),
		Now:     time.Now,
		Window:  180 * time.Second,
	}
}

// AddConfig presets a configuration.
func (m *MockDashboard) AddConfig(name, address string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs[name] = &mockConfig{address: address}
}

// AddPeer presets a raw peer object on config, creating the config if needed.
func (m *MockDashboard) AddPeer(config string, raw normalize.Object) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.configs[config]
	if c == nil {
		c = &mockConfig{}
		m.configs[config] = c
	}
	c.peers = append(c.peers, raw)
}

// SetError injects an error to be returned on the next call to the named method.
// The error is consumed (returned once) and then cleared.
func (m *MockDashboard) SetError(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[method] = err
}

// Calls returns the total number of times the named method was called.
func (m *MockDashboard) Calls(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

// Updates returns every update passed to ApplyUpdate, in order.
func (m *MockDashboard) Updates() []dashboard.Update {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]dashboard.Update(nil), m.updates...)
}

// PeerCount returns the number of peers currently on config.
func (m *MockDashboard) PeerCount(config string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c := m.configs[config]; c != nil {
		return len(c.peers)
	}
	return 0
}

// Closed reports whether Close was called.
func (m *MockDashboard) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// enter counts the call and pops any injected error. Callers hold m.mu.
func (m *MockDashboard) enter(method string) error {
	m.calls[method]++
	err := m.errors[method]
	delete(m.errors, method)
	return err
}

func (m *MockDashboard) sortedNames() []string {
	names := make([]string, 0, len(m.configs))
	for n := range m.configs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// find returns the config and index of identifier; config may be empty.
func (m *MockDashboard) find(config, identifier string) (string, int) {
	names := []string{config}
	if config == "" {
		names = m.sortedNames()
	}
	for _, n := range names {
		c := m.configs[n]
		if c == nil {
			continue
		}
		for i, p := range c.peers {
			if normalize.PeerID(p) == identifier || normalize.PublicKey(p) == identifier {
				return n, i
			}
		}
	}
	return "", -1
}

// --- Dashboard interface implementation -------------------------------------

func (m *MockDashboard) Handshake(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enter("Handshake")
}

func (m *MockDashboard) ListConfigs(ctx context.Context) ([]normalize.Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ListConfigs"); err != nil {
		return nil, err
	}
	out := make([]normalize.Object, 0, len(m.configs))
	for _, n := range m.sortedNames() {
		out = append(out, normalize.Object{"Name": n, "Address": m.configs[n].address})
	}
	return out, nil
}

func (m *MockDashboard) ListConfigNames(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ListConfigNames"); err != nil {
		return nil, err
	}
	return m.sortedNames(), nil
}

func (m *MockDashboard) ListPeers(ctx context.Context, config string) ([]normalize.Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ListPeers"); err != nil {
		return nil, err
	}
	c := m.configs[config]
	if c == nil {
		return nil, &dashboard.ErrUpstreamAPI{Method: "GET", Path: "/api/getPeers/" + config, Message: "Configuration does not exist"}
	}
	return append([]normalize.Object{}, c.peers...), nil
}

func (m *MockDashboard) Snapshot(ctx context.Context) (dashboard.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("Snapshot"); err != nil {
		return nil, err
	}
	return m.snapshot(), nil
}

func (m *MockDashboard) snapshot() dashboard.Snapshot {
	now := m.Now()
	snap := make(dashboard.Snapshot, len(m.configs))
	for name, c := range m.configs {
		view := dashboard.ConfigView{
			Raw:   normalize.Object{"Name": name, "Address": c.address},
			Peers: make([]dashboard.Peer, 0, len(c.peers)),
		}
		for _, raw := range c.peers {
			view.Peers = append(view.Peers, dashboard.NormalizePeer(name, raw, now, m.Window))
		}
		snap[name] = view
	}
	return snap
}

func (m *MockDashboard) Totals(ctx context.Context) (dashboard.Totals, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("Totals"); err != nil {
		return dashboard.Totals{}, err
	}
	return m.snapshot().Totals(), nil
}

func (m *MockDashboard) EnsureConfig(ctx context.Context, spec dashboard.ConfigSpec) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("EnsureConfig"); err != nil {
		return err
	}
	if _, ok := m.configs[spec.Name]; !ok {
		m.configs[spec.Name] = &mockConfig{address: spec.Address}
	}
	return nil
}

func (m *MockDashboard) DeleteConfig(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("DeleteConfig"); err != nil {
		return err
	}
	delete(m.configs, name)
	return nil
}

func (m *MockDashboard) CreatePeer(ctx context.Context, config, name, allowedIP string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("CreatePeer"); err != nil {
		return "", err
	}
	c := m.configs[config]
	if c == nil {
		return "", &dashboard.ErrUpstreamAPI{Method: "POST", Path: "/api/addPeers/" + config, Message: "Configuration does not exist"}
	}
	if allowedIP == "" {
		allowedIP = m.suggest(config)
	}
	m.nextID++
	pk := fmt.Sprintf("MOCKPK%039d=", m.nextID)
	c.peers = append(c.peers, normalize.Object{
		"id":         pk,
		"publicKey":  pk,
		"name":       name,
		"allowed_ip": allowedIP,
	})
	return pk, nil
}

func (m *MockDashboard) DeletePeer(ctx context.Context, config, identifier string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("DeletePeer"); err != nil {
		return err
	}
	owner, i := m.find(config, identifier)
	if i < 0 {
		if config == "" {
			return &dashboard.ErrNotFound{ID: identifier}
		}
		return nil
	}
	c := m.configs[owner]
	c.peers = append(c.peers[:i], c.peers[i+1:]...)
	return nil
}

func (m *MockDashboard) GetPeerConfig(ctx context.Context, identifier, config string) (dashboard.PeerConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("GetPeerConfig"); err != nil {
		return dashboard.PeerConfig{}, err
	}
	owner, i := m.find(config, identifier)
	if i < 0 {
		return dashboard.PeerConfig{}, &dashboard.ErrNotFound{ID: identifier}
	}
	raw := m.configs[owner].peers[i]
	name := normalize.PeerName(raw)
	return dashboard.PeerConfig{
		Config:    owner,
		PublicKey: normalize.PublicKey(raw),
		FileName:  name + ".conf",
		Content:   fmt.Sprintf("[Interface]\nAddress = %s\n\n[Peer]\nPublicKey = %s\n", normalize.AllowedIP(raw), normalize.PublicKey(raw)),
	}, nil
}

func (m *MockDashboard) SuggestNextAddress(ctx context.Context, config string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("SuggestNextAddress"); err != nil {
		return "", err
	}
	return m.suggest(config), nil
}

func (m *MockDashboard) suggest(config string) string {
	var used, all []string
	for name, c := range m.configs {
		for _, p := range c.peers {
			ip := normalize.AllowedIP(p)
			all = append(all, ip)
			if name == config {
				used = append(used, ip)
			}
		}
	}
	var subnet string
	if c := m.configs[config]; c != nil {
		subnet = c.address
	}
	return alloc.Suggest(subnet, used, all)
}

func (m *MockDashboard) ApplyUpdate(ctx context.Context, u dashboard.Update) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ApplyUpdate"); err != nil {
		return err
	}
	m.updates = append(m.updates, u)
	return nil
}

func (m *MockDashboard) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
