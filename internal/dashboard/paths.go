package dashboard

import (
	"net/http"
	"net/url"
	"strings"
)

const (
	pathHandshake    = "/api/handshake"
	pathListConfigs  = "/api/getWireguardConfigurations"
	pathAddConfig    = "/api/addWireguardConfiguration"
	pathDeleteConfig = "/api/deleteWireguardConfiguration"
	pathConfigInfo   = "/api/getWireguardConfigurationInfo"
)

// Cache kinds.
const (
	kindConfigs = "configs"
	kindPeers   = "peers"
)

func addPeersPath(config string) string    { return "/api/addPeers/" + url.PathEscape(config) }
func deletePeersPath(config string) string { return "/api/deletePeers/" + url.PathEscape(config) }
func downloadPath(config string) string    { return "/api/downloadPeer/" + url.PathEscape(config) }

// variant is one request shape for an operation the dashboard exposes under
// different names across versions.
type variant struct {
	name   string
	method string
	path   string
	query  url.Values
	body   any
}

// peerListVariants returns the peer listing endpoints, newest first.
func peerListVariants(config string) []variant {
	esc := url.PathEscape(config)
	return []variant{
		{name: "configInfo", method: http.MethodGet, path: pathConfigInfo, query: url.Values{"configurationName": {config}}},
		{name: "getPeers", method: http.MethodGet, path: "/api/getPeers/" + esc},
		{name: "getPeersList", method: http.MethodGet, path: "/api/getPeersList/" + esc},
		{name: "getWireguardConfiguration", method: http.MethodGet, path: "/api/getWireguardConfiguration/" + esc},
		{name: "getConfiguration", method: http.MethodGet, path: "/api/getConfiguration/" + esc},
		{name: "getConfigurationPeers", method: http.MethodGet, path: "/api/getConfigurationPeers/" + esc},
	}
}

// downloadVariants returns the peer config download shapes in the order they
// are tried.
func downloadVariants(config, publicKey string) []variant {
	path := downloadPath(config)
	get := func(param string) variant {
		return variant{name: "get:" + param, method: http.MethodGet, path: path, query: url.Values{param: {publicKey}}}
	}
	return []variant{
		get("id"),
		get("peer_id"),
		get("peerId"),
		get("publicKey"),
		get("public_key"),
		{name: "post:id", method: http.MethodPost, path: path, query: url.Values{"id": {publicKey}}, body: map[string]any{}},
	}
}

// endpointOf returns the metric label for path: the API method name without
// the /api/ prefix or any path parameter.
func endpointOf(path string) string {
	p := strings.TrimPrefix(path, "/api/")
	if i := strings.IndexByte(p, '/'); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "unknown"
	}
	return p
}
