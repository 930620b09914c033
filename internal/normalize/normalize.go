// Package normalize extracts stable values from dashboard records whose field
// names and encodings differ between WGDashboard versions and forks.
//
// Every function here is total: unknown shapes yield the documented default
// and nothing panics or returns an error.
package normalize

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Object is a decoded upstream JSON object.
type Object = map[string]any

// Field aliases, in lookup order.
var (
	PeerIDKeys    = []string{"id", "peer_id", "Id", "peerId"}
	PublicKeyKeys = []string{"publicKey", "public_key", "PublicKey"}
	AllowedIPKeys = []string{"allowed_ip", "AllowedIP", "AllowedIp", "allowed_ips", "allowedIPs"}
	PeerNameKeys  = []string{"name", "Name"}
	RxKeys        = []string{"transferRx", "TransferRx", "rx", "Rx", "receive", "ReceiveBytes", "download", "total_receive", "cumu_receive"}
	TxKeys        = []string{"transferTx", "TransferTx", "tx", "Tx", "sent", "TransmitBytes", "upload", "total_sent", "cumu_sent"}
	HandshakeKeys = []string{"LatestHandshake", "latestHandshake", "latest_handshake", "LastHandshake", "lastHandshake", "Handshake", "handshake"}

	ConfigNameKeys    = []string{"Name", "name", "ConfigurationName"}
	ConfigAddressKeys = []string{"Address", "address", "AddressIPv4", "AddressIpv4"}
	ConfigPeersKeys   = []string{"Peers", "peers", "configurationPeers"}
)

// First returns the first present, non-null value among keys.
func First(raw Object, keys ...string) (any, bool) {
	if raw == nil {
		return nil, false
	}
	for _, k := range keys {
		if v, ok := raw[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

// String returns the first non-empty scalar among keys rendered as a string.
// Nested objects and arrays are skipped.
func String(raw Object, keys ...string) string {
	if raw == nil {
		return ""
	}
	for _, k := range keys {
		if s, ok := scalarString(raw[k]); ok && s != "" {
			return s
		}
	}
	return ""
}

func scalarString(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x), true
	case json.Number:
		return x.String(), true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32), true
	case int:
		return strconv.Itoa(x), true
	case int64:
		return strconv.FormatInt(x, 10), true
	case uint64:
		return strconv.FormatUint(x, 10), true
	}
	return "", false
}

// PeerID returns the dashboard-internal peer id, or "" when absent.
func PeerID(raw Object) string {
	return String(raw, PeerIDKeys...)
}

// PublicKey returns the peer public key, or "" when absent.
func PublicKey(raw Object) string {
	for _, k := range PublicKeyKeys {
		if s, ok := raw[k].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

// AllowedIP returns the peer's assigned address(es). List values are joined
// with ", " the way WireGuard prints them.
func AllowedIP(raw Object) string {
	v, ok := First(raw, AllowedIPKeys...)
	if !ok {
		return ""
	}
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case []any:
		parts := make([]string, 0, len(x))
		for _, item := range x {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				parts = append(parts, strings.TrimSpace(s))
			}
		}
		return strings.Join(parts, ", ")
	}
	return ""
}

// Rx returns received bytes; 0 when absent or unparseable.
func Rx(raw Object) int64 {
	v, _ := First(raw, RxKeys...)
	return Bytes(v)
}

// Tx returns transmitted bytes; 0 when absent or unparseable.
func Tx(raw Object) int64 {
	v, _ := First(raw, TxKeys...)
	return Bytes(v)
}

// LastHandshake returns the last handshake as unix seconds, or nil.
func LastHandshake(raw Object, now time.Time) *int64 {
	v, ok := First(raw, HandshakeKeys...)
	if !ok {
		return nil
	}
	ts, ok := Unix(v, now)
	if !ok {
		return nil
	}
	return &ts
}

// PeerName returns the display name: the upstream name, else the last eight
// characters of the public key, else "(no-name)".
func PeerName(raw Object) string {
	if name := String(raw, PeerNameKeys...); name != "" {
		return name
	}
	pk := PublicKey(raw)
	if pk == "" {
		return "(no-name)"
	}
	if len(pk) > 8 {
		return pk[len(pk)-8:]
	}
	return pk
}

// ConfigName returns the configuration (interface) name, or "".
func ConfigName(raw Object) string {
	return String(raw, ConfigNameKeys...)
}

// ConfigAddress returns the first CIDR-looking address of a configuration.
func ConfigAddress(raw Object) string {
	for _, k := range ConfigAddressKeys {
		if s, ok := raw[k].(string); ok && strings.Contains(s, "/") {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

// ConfigPeers returns the peer objects embedded in a configuration record.
// Non-object list items are dropped.
func ConfigPeers(raw Object) []Object {
	for _, k := range ConfigPeersKeys {
		if list, ok := raw[k].([]any); ok {
			return Objects(list)
		}
	}
	return nil
}

// Objects keeps only the JSON objects of a decoded array.
func Objects(v any) []Object {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]Object, 0, len(list))
	for _, item := range list {
		if obj, ok := item.(map[string]any); ok {
			out = append(out, obj)
		}
	}
	return out
}
