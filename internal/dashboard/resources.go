package dashboard

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"

	"github.com/hashicorp/go-multierror"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"github.com/developingchet/wgd-bridge/internal/alloc"
	"github.com/developingchet/wgd-bridge/internal/cache"
	"github.com/developingchet/wgd-bridge/internal/metrics"
	"github.com/developingchet/wgd-bridge/internal/normalize"
)

// Handshake verifies the dashboard is reachable and accepts the API key.
func (c *Client) Handshake(ctx context.Context) error {
	_, err := c.request(ctx, http.MethodGet, pathHandshake, nil, nil)
	return err
}

// ListConfigs returns the raw configuration records, cached for CacheTTL.
func (c *Client) ListConfigs(ctx context.Context) ([]normalize.Object, error) {
	return cache.GetOrLoad(c.cache, cache.Key(kindConfigs), func() ([]normalize.Object, error) {
		v, err := c.request(ctx, http.MethodGet, pathListConfigs, nil, nil)
		if err != nil {
			return nil, fmt.Errorf("list configurations: %w", err)
		}
		list, ok := dataOf(v).([]any)
		if !ok {
			return nil, &ErrMalformedResponse{Op: "list configurations", Msg: "data is not a list"}
		}
		return normalize.Objects(list), nil
	})
}

// ListConfigNames returns the configuration names in upstream order.
func (c *Client) ListConfigNames(ctx context.Context) ([]string, error) {
	configs, err := c.ListConfigs(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(configs))
	for _, raw := range configs {
		if name := normalize.ConfigName(raw); name != "" {
			names = append(names, name)
		}
	}
	return names, nil
}

// ListPeers fetches the raw peers of config, trying each known listing
// endpoint until one answers with a peer list. Only successes are cached.
func (c *Client) ListPeers(ctx context.Context, config string) ([]normalize.Object, error) {
	return cache.GetOrLoad(c.cache, cache.Key(kindPeers, config), func() ([]normalize.Object, error) {
		var errs *multierror.Error
		for _, v := range peerListVariants(config) {
			resp, err := c.request(ctx, v.method, v.path, v.query, v.body)
			if err != nil {
				errs = multierror.Append(errs, fmt.Errorf("%s: %w", v.name, err))
				if ctx.Err() != nil {
					break
				}
				continue
			}
			peers, ok := peerList(resp)
			if !ok {
				errs = multierror.Append(errs, &ErrMalformedResponse{Op: v.name, Msg: "no peer list in response"})
				continue
			}
			return peers, nil
		}
		return nil, &ErrAttemptsExhausted{Op: "list peers of " + config, Errs: errs}
	})
}

// peerList accepts data:[...] or data:{Peers|peers|configurationPeers:[...]}.
func peerList(v any) ([]normalize.Object, bool) {
	switch d := dataOf(v).(type) {
	case []any:
		return normalize.Objects(d), true
	case map[string]any:
		if peers := normalize.ConfigPeers(d); peers != nil {
			return peers, true
		}
	}
	return nil, false
}

// peersOf returns the peers embedded in a configuration record, fetching
// them separately when the record carries no peers. Some dashboard versions
// send an empty placeholder list, so empty counts as absent.
func (c *Client) peersOf(ctx context.Context, raw normalize.Object) ([]normalize.Object, error) {
	if peers := normalize.ConfigPeers(raw); len(peers) > 0 {
		return peers, nil
	}
	name := normalize.ConfigName(raw)
	if name == "" {
		return nil, nil
	}
	return c.ListPeers(ctx, name)
}

// EnsureConfig creates spec.Name unless it already exists. A create that
// fails because the configuration "already" exists counts as success, which
// makes concurrent callers safe.
func (c *Client) EnsureConfig(ctx context.Context, spec ConfigSpec) error {
	if spec.Name == "" {
		return errors.New("ensure config: name is required")
	}

	configs, err := c.ListConfigs(ctx)
	if err != nil {
		c.log.Warn().Err(err).Str("config", spec.Name).Msg("listing configurations failed; attempting create")
	}
	for _, raw := range configs {
		if normalize.ConfigName(raw) == spec.Name {
			c.log.Debug().Str("config", spec.Name).Msg("configuration already present")
			return nil
		}
	}

	if spec.PrivateKey == "" {
		if spec.PrivateKey, err = generateKey(); err != nil {
			return fmt.Errorf("ensure config %s: %w", spec.Name, err)
		}
	}
	if spec.Protocol == "" {
		spec.Protocol = "wg"
	}
	body := map[string]any{
		"ConfigurationName": spec.Name,
		"Address":           spec.Address,
		"ListenPort":        spec.ListenPort,
		"PrivateKey":        spec.PrivateKey,
		"Protocol":          spec.Protocol,
	}
	_, err = c.request(ctx, http.MethodPost, pathAddConfig, nil, body)
	c.invalidate(spec.Name)
	if err != nil {
		if messageContains(err, "already") {
			metrics.PeerMutations.WithLabelValues("ensure_config", "exists").Inc()
			c.log.Info().Str("config", spec.Name).Msg("configuration created concurrently")
			return nil
		}
		metrics.PeerMutations.WithLabelValues("ensure_config", "error").Inc()
		return fmt.Errorf("ensure config %s: %w", spec.Name, err)
	}
	metrics.PeerMutations.WithLabelValues("ensure_config", "created").Inc()
	c.log.Info().Str("config", spec.Name).Str("address", spec.Address).Int("port", spec.ListenPort).Msg("configuration created")
	return nil
}

// DeleteConfig removes a configuration.
func (c *Client) DeleteConfig(ctx context.Context, name string) error {
	_, err := c.request(ctx, http.MethodPost, pathDeleteConfig, nil, map[string]any{"ConfigurationName": name})
	c.invalidate(name)
	if err != nil {
		metrics.PeerMutations.WithLabelValues("delete_config", "error").Inc()
		return fmt.Errorf("delete config %s: %w", name, err)
	}
	metrics.PeerMutations.WithLabelValues("delete_config", "ok").Inc()
	c.log.Info().Str("config", name).Msg("configuration deleted")
	return nil
}

// CreatePeer adds a peer and returns its public key, or its id when the
// dashboard does not echo a key. When the dashboard rejects the request over
// a missing or invalid address, a free address is allocated and the create is
// retried once.
func (c *Client) CreatePeer(ctx context.Context, config, name, allowedIP string) (string, error) {
	ident, err := c.addPeer(ctx, config, c.peerBody(name, allowedIP))
	if err == nil {
		return ident, nil
	}
	if !messageContains(err, "allowed_ip", "allowed ip", "allowedip", "address") {
		return "", fmt.Errorf("create peer in %s: %w", config, err)
	}

	errs := multierror.Append(nil, err)
	addr, aerr := c.SuggestNextAddress(ctx, config)
	if aerr != nil {
		errs = multierror.Append(errs, fmt.Errorf("allocate address: %w", aerr))
		return "", &ErrAttemptsExhausted{Op: "create peer in " + config, Errs: errs}
	}
	c.log.Info().Str("config", config).Str("allowed_ip", addr).Msg("retrying peer create with allocated address")

	ident, err = c.addPeer(ctx, config, c.peerBody(name, addr))
	if err == nil {
		return ident, nil
	}
	errs = multierror.Append(errs, err)
	return "", &ErrAttemptsExhausted{Op: "create peer in " + config, Errs: errs}
}

func (c *Client) peerBody(name, allowedIP string) map[string]any {
	body := map[string]any{"name": name}
	if allowedIP == "" {
		return body
	}
	body["allowed_ip"] = allowedIP
	if c.cfg.PeerKeepalive > 0 {
		body["keepalive"] = c.cfg.PeerKeepalive
	}
	if c.cfg.PeerDNS != "" {
		body["DNS"] = c.cfg.PeerDNS
	}
	return body
}

// addPeer performs one addPeers call. An empty data array is reported as
// malformed and never retried: the peer may exist upstream regardless.
func (c *Client) addPeer(ctx context.Context, config string, peer map[string]any) (string, error) {
	v, err := c.request(ctx, http.MethodPost, addPeersPath(config), nil, map[string]any{"peers": []any{peer}})
	c.invalidate(config)
	if err != nil {
		metrics.PeerMutations.WithLabelValues("create_peer", "error").Inc()
		return "", err
	}

	var created []normalize.Object
	switch d := dataOf(v).(type) {
	case []any:
		created = normalize.Objects(d)
	case map[string]any:
		created = []normalize.Object{d}
	}
	if len(created) == 0 {
		metrics.PeerMutations.WithLabelValues("create_peer", "malformed").Inc()
		return "", &ErrMalformedResponse{Op: "create peer in " + config, Msg: "no peer data returned"}
	}
	ident := normalize.PublicKey(created[0])
	if ident == "" {
		ident = normalize.PeerID(created[0])
	}
	if ident == "" {
		metrics.PeerMutations.WithLabelValues("create_peer", "malformed").Inc()
		return "", &ErrMalformedResponse{Op: "create peer in " + config, Msg: "peer has neither public key nor id"}
	}
	metrics.PeerMutations.WithLabelValues("create_peer", "ok").Inc()
	c.log.Info().Str("config", config).Str("peer", ident).Msg("peer created")
	return ident, nil
}

// DeletePeer removes a peer. With an empty config the peer is located by id or
// public key across every configuration; an unresolvable identifier is
// ErrNotFound.
func (c *Client) DeletePeer(ctx context.Context, config, identifier string) error {
	if identifier == "" {
		return &ErrNotFound{ID: identifier}
	}
	target := identifier
	if config == "" {
		resolved, raw, err := c.resolvePeer(ctx, identifier)
		if err != nil {
			return fmt.Errorf("delete peer: %w", err)
		}
		config = resolved
		if pk := normalize.PublicKey(raw); pk != "" {
			target = pk
		}
	}

	_, err := c.request(ctx, http.MethodPost, deletePeersPath(config), nil, map[string]any{"peers": []string{target}})
	c.invalidate(config)
	if err != nil {
		metrics.PeerMutations.WithLabelValues("delete_peer", "error").Inc()
		return fmt.Errorf("delete peer %s in %s: %w", identifier, config, err)
	}
	metrics.PeerMutations.WithLabelValues("delete_peer", "ok").Inc()
	c.log.Info().Str("config", config).Str("peer", target).Msg("peer deleted")
	return nil
}

// resolvePeer finds the configuration owning identifier (id or public key).
// Configurations are searched in name order so results are deterministic.
func (c *Client) resolvePeer(ctx context.Context, identifier string) (string, normalize.Object, error) {
	configs, err := c.ListConfigs(ctx)
	if err != nil {
		return "", nil, err
	}
	sorted := append([]normalize.Object(nil), configs...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return normalize.ConfigName(sorted[i]) < normalize.ConfigName(sorted[j])
	})
	for _, raw := range sorted {
		peers, err := c.peersOf(ctx, raw)
		if err != nil {
			c.log.Debug().Err(err).Str("config", normalize.ConfigName(raw)).Msg("peer list unavailable during lookup")
			continue
		}
		for _, p := range peers {
			if normalize.PeerID(p) == identifier || normalize.PublicKey(p) == identifier {
				return normalize.ConfigName(raw), p, nil
			}
		}
	}
	return "", nil, &ErrNotFound{ID: identifier}
}

// SuggestNextAddress proposes a free host address for a new peer of config.
// The result is advisory; the dashboard remains the authority.
func (c *Client) SuggestNextAddress(ctx context.Context, config string) (string, error) {
	configs, err := c.ListConfigs(ctx)
	if err != nil {
		return "", fmt.Errorf("suggest address: %w", err)
	}
	var (
		subnet    string
		used, all []string
	)
	for _, raw := range configs {
		name := normalize.ConfigName(raw)
		peers, err := c.peersOf(ctx, raw)
		if err != nil {
			c.log.Debug().Err(err).Str("config", name).Msg("peer list unavailable during allocation")
		}
		if name == config {
			subnet = normalize.ConfigAddress(raw)
		}
		for _, p := range peers {
			ip := normalize.AllowedIP(p)
			if ip == "" {
				continue
			}
			all = append(all, ip)
			if name == config {
				used = append(used, ip)
			}
		}
	}
	return alloc.Suggest(subnet, used, all), nil
}

// generateKey returns a fresh base64 WireGuard private key.
func generateKey() (string, error) {
	k, err := wgtypes.GeneratePrivateKey()
	if err != nil {
		return "", fmt.Errorf("generate private key: %w", err)
	}
	return k.String(), nil
}
