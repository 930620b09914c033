package dashboard

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"path"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/text/encoding/charmap"

	"github.com/developingchet/wgd-bridge/internal/metrics"
	"github.com/developingchet/wgd-bridge/internal/normalize"
)

const (
	interfaceMarker = "[Interface]"
	defaultFileName = "peer.conf"
)

// GetPeerConfig downloads the client configuration of a peer. identifier is
// an id or public key; config may be empty, in which case the owning
// configuration is looked up. Each request shape is tried once under its own
// timeout until one returns a body containing an [Interface] section.
func (c *Client) GetPeerConfig(ctx context.Context, identifier, config string) (PeerConfig, error) {
	if identifier == "" {
		return PeerConfig{}, &ErrNotFound{ID: identifier}
	}
	config, publicKey, err := c.resolveDownloadTarget(ctx, identifier, config)
	if err != nil {
		return PeerConfig{}, fmt.Errorf("get peer config: %w", err)
	}

	var errs *multierror.Error
	for _, v := range downloadVariants(config, publicKey) {
		pc, err := c.tryDownload(ctx, v)
		if err == nil {
			metrics.DownloadAttempts.WithLabelValues(v.name, "ok").Inc()
			pc.Config, pc.PublicKey = config, publicKey
			c.log.Debug().Str("config", config).Str("variant", v.name).Msg("peer config downloaded")
			return pc, nil
		}
		metrics.DownloadAttempts.WithLabelValues(v.name, "error").Inc()
		errs = multierror.Append(errs, fmt.Errorf("%s: %w", v.name, err))
		if ctx.Err() != nil {
			break
		}
	}
	return PeerConfig{}, &ErrAttemptsExhausted{Op: "download peer config", Errs: errs}
}

// resolveDownloadTarget maps identifier to (config, public key). With a known
// config an identifier missing from its peer list is used as the key as-is.
func (c *Client) resolveDownloadTarget(ctx context.Context, identifier, config string) (string, string, error) {
	if config == "" {
		resolved, raw, err := c.resolvePeer(ctx, identifier)
		if err != nil {
			return "", "", err
		}
		if pk := normalize.PublicKey(raw); pk != "" {
			return resolved, pk, nil
		}
		return resolved, identifier, nil
	}

	peers, err := c.ListPeers(ctx, config)
	if err != nil {
		c.log.Debug().Err(err).Str("config", config).Msg("peer list unavailable; using identifier as public key")
		return config, identifier, nil
	}
	for _, p := range peers {
		if normalize.PeerID(p) == identifier || normalize.PublicKey(p) == identifier {
			if pk := normalize.PublicKey(p); pk != "" {
				return config, pk, nil
			}
			break
		}
	}
	return config, identifier, nil
}

// tryDownload performs a single attempt of one variant.
func (c *Client) tryDownload(ctx context.Context, v variant) (_ PeerConfig, err error) {
	start := time.Now()
	defer func() { observeCall(endpointOf(v.path), err, time.Since(start)) }()

	resp, err := c.roundTrip(ctx, v.method, v.path, v.query, v.body)
	if err != nil {
		return PeerConfig{}, err
	}
	if resp.status < 200 || resp.status > 299 {
		return PeerConfig{}, c.httpError(v.method, v.path, resp)
	}

	if looksJSON(resp) {
		return c.fromEnvelope(v, resp)
	}
	text := decodeText(resp.body)
	if !strings.Contains(text, interfaceMarker) {
		return PeerConfig{}, &ErrMalformedResponse{Op: v.name, Msg: "body has no " + interfaceMarker + " section"}
	}
	return PeerConfig{
		FileName: confFileName(dispositionFileName(resp.header.Get("Content-Disposition"))),
		Content:  text,
	}, nil
}

// fromEnvelope reads {data:{file, fileName}} or a top-level {file, fileName}.
func (c *Client) fromEnvelope(v variant, resp *rawResponse) (PeerConfig, error) {
	parsed, err := decodeJSON(resp.body)
	if err != nil {
		return PeerConfig{}, &ErrMalformedResponse{Op: v.name, Msg: err.Error()}
	}
	if err := envelopeError(v.method, v.path, parsed); err != nil {
		return PeerConfig{}, err
	}
	obj, _ := parsed.(map[string]any)
	holder := obj
	if data, ok := obj["data"].(map[string]any); ok {
		holder = data
	}
	file, _ := holder["file"].(string)
	if file == "" {
		file, _ = obj["file"].(string)
	}
	if !strings.Contains(file, interfaceMarker) {
		return PeerConfig{}, &ErrMalformedResponse{Op: v.name, Msg: "envelope has no " + interfaceMarker + " file"}
	}
	name := normalize.String(holder, "fileName", "filename", "file_name")
	if name == "" {
		name = normalize.String(obj, "fileName", "filename", "file_name")
	}
	if name == "" {
		name = dispositionFileName(resp.header.Get("Content-Disposition"))
	}
	return PeerConfig{FileName: confFileName(name), Content: file}, nil
}

func looksJSON(resp *rawResponse) bool {
	ct, _, _ := mime.ParseMediaType(resp.header.Get("Content-Type"))
	if ct == "application/json" {
		return true
	}
	trimmed := bytes.TrimSpace(resp.body)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

// decodeText decodes UTF-8, falling back to Latin-1 for invalid input.
func decodeText(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	out, err := charmap.ISO8859_1.NewDecoder().Bytes(b)
	if err != nil {
		return string(bytes.ToValidUTF8(b, []byte("�")))
	}
	return string(out)
}

func dispositionFileName(header string) string {
	if header == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(header)
	if err != nil {
		return ""
	}
	return params["filename"]
}

// confFileName returns a safe base name ending in ".conf".
func confFileName(name string) string {
	name = strings.TrimSpace(strings.ReplaceAll(name, "\\", "/"))
	if name != "" {
		name = path.Base(name)
	}
	if name == "" || name == "." || name == "/" || name == ".." {
		return defaultFileName
	}
	if !strings.HasSuffix(strings.ToLower(name), ".conf") {
		name += ".conf"
	}
	return name
}
