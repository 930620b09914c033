package webhook

import (
	"bytes"
	"encoding/json"
	"mime"
	"mime/multipart"
	"net/url"
	"strings"
	"time"

	"github.com/developingchet/wgd-bridge/internal/dashboard"
	"github.com/developingchet/wgd-bridge/internal/normalize"
)

// Key aliases seen in WGDashboard builds and forks.
var (
	EventKeys  = []string{"event", "type", "action", "Event"}
	ConfigKeys = []string{"config", "configuration", "ConfigurationName", "configName", "ConfigName", "interface", "Interface"}

	// embeddedKeys hold form fields that may carry a JSON document.
	embeddedKeys = []string{"payload", "data", "event"}
)

const maxFormMemory = 1 << 20

// parsePayload decodes a webhook body: JSON first, then a form, then raw
// text. A nil or empty result means there was nothing to process.
func parsePayload(contentType string, body []byte) normalize.Object {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil
	}
	if obj, ok := parseJSON(trimmed); ok {
		return obj
	}

	mediaType, params, _ := mime.ParseMediaType(contentType)
	switch mediaType {
	case "application/x-www-form-urlencoded":
		if values, err := url.ParseQuery(string(trimmed)); err == nil {
			return fromForm(values)
		}
	case "multipart/form-data":
		if form, err := multipart.NewReader(bytes.NewReader(body), params["boundary"]).ReadForm(maxFormMemory); err == nil {
			defer func() { _ = form.RemoveAll() }()
			return fromForm(form.Value)
		}
	}

	return normalize.Object{"raw": string(trimmed)}
}

// parseJSON accepts any JSON document. Objects are returned as-is; anything
// else is wrapped as {"items": v}. JSON null counts as empty.
func parseJSON(b []byte) (normalize.Object, bool) {
	v, ok := decodeJSON(b)
	if !ok {
		return nil, false
	}
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case nil:
		return nil, true
	default:
		return normalize.Object{"items": t}, true
	}
}

// decodeJSON decodes exactly one JSON document, keeping numbers exact.
func decodeJSON(b []byte) (any, bool) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, false
	}
	if dec.More() {
		return nil, false
	}
	return v, true
}

// fromForm flattens form values to their first entry and merges any JSON
// object embedded in payload, data or event over the top.
func fromForm(values map[string][]string) normalize.Object {
	if len(values) == 0 {
		return nil
	}
	out := make(normalize.Object, len(values))
	for k, vs := range values {
		if len(vs) > 0 {
			out[k] = vs[0]
		}
	}
	for _, k := range embeddedKeys {
		s, ok := out[k].(string)
		if !ok {
			continue
		}
		v, ok := decodeJSON([]byte(strings.TrimSpace(s)))
		if !ok {
			continue
		}
		inner, ok := v.(map[string]any)
		if !ok {
			continue
		}
		for ik, iv := range inner {
			out[ik] = iv
		}
		// Drop the carrier field unless the embedded document replaced it.
		if cur, ok := out[k].(string); ok && cur == s {
			delete(out, k)
		}
	}
	return out
}

// toUpdate normalizes a parsed payload. The peer may sit under "peer", under
// "data" or at the top level.
func toUpdate(payload normalize.Object, now time.Time) dashboard.Update {
	peer := payload
	for _, k := range []string{"peer", "data"} {
		if p, ok := payload[k].(map[string]any); ok {
			peer = p
			break
		}
	}

	event := normalize.String(payload, EventKeys...)
	if event == "" {
		event = "unknown"
	}
	return dashboard.Update{
		Event:         event,
		Config:        normalize.String(payload, ConfigKeys...),
		PublicKey:     normalize.PublicKey(peer),
		PeerID:        normalize.PeerID(peer),
		Rx:            normalize.Rx(peer),
		Tx:            normalize.Tx(peer),
		LastHandshake: normalize.LastHandshake(peer, now),
		Raw:           payload,
		ReceivedAt:    now,
	}
}
