// Package dashboard is the client for the WGDashboard HTTP API. It turns the
// dashboard's loosely specified responses into the stable Peer / Snapshot
// model and provides idempotent configuration and peer management.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/developingchet/wgd-bridge/internal/normalize"
)

// ConfigSpec describes a WireGuard configuration (interface) to ensure.
type ConfigSpec struct {
	Name       string
	Address    string // CIDR, e.g. "10.66.66.1/24"
	ListenPort int
	Protocol   string // "wg" or "awg"
	PrivateKey string // opaque; generated when empty
}

// Peer is a normalized dashboard peer.
type Peer struct {
	Config        string
	ID            string // upstream id, else the public key
	PublicKey     string
	Name          string
	AllowedIP     string
	Rx            int64
	Tx            int64
	LastHandshake *int64 // unix seconds, nil when never seen
	Active        bool
	Raw           normalize.Object
}

// Matches reports whether identifier names this peer by id or public key.
func (p Peer) Matches(identifier string) bool {
	if identifier == "" {
		return false
	}
	return p.ID == identifier || p.PublicKey == identifier || normalize.PeerID(p.Raw) == identifier
}

// ConfigView is one configuration inside a Snapshot.
type ConfigView struct {
	Raw   normalize.Object
	Peers []Peer
}

// Snapshot is a point-in-time view of every configuration keyed by name.
// It is rebuilt per call and never persisted.
type Snapshot map[string]ConfigView

// Totals is the aggregate of a Snapshot.
type Totals struct {
	Configs       int   `json:"configs" yaml:"configs"`
	Peers         int   `json:"peers" yaml:"peers"`
	ActivePeers   int   `json:"active_peers" yaml:"active_peers"`
	InactivePeers int   `json:"inactive_peers" yaml:"inactive_peers"`
	Rx            int64 `json:"rx" yaml:"rx"`
	Tx            int64 `json:"tx" yaml:"tx"`
}

// PeerConfig is a downloaded client configuration file.
type PeerConfig struct {
	Config    string
	PublicKey string
	FileName  string // always ends in ".conf"
	Content   string
}

// Dashboard is the WGDashboard API seam. All methods accept context for
// deadline control.
type Dashboard interface {
	// Reads
	Handshake(ctx context.Context) error
	ListConfigs(ctx context.Context) ([]normalize.Object, error)
	ListConfigNames(ctx context.Context) ([]string, error)
	ListPeers(ctx context.Context, config string) ([]normalize.Object, error)
	Snapshot(ctx context.Context) (Snapshot, error)
	Totals(ctx context.Context) (Totals, error)

	// Mutations
	EnsureConfig(ctx context.Context, spec ConfigSpec) error
	DeleteConfig(ctx context.Context, name string) error
	CreatePeer(ctx context.Context, config, name, allowedIP string) (string, error)
	DeletePeer(ctx context.Context, config, identifier string) error

	// Downloads and allocation
	GetPeerConfig(ctx context.Context, identifier, config string) (PeerConfig, error)
	SuggestNextAddress(ctx context.Context, config string) (string, error)

	UpdateObserver
	Close() error
}

// --- Typed errors -----------------------------------------------------------

// ErrTransport is returned when the dashboard could not be reached, after
// retries.
type ErrTransport struct {
	Method string
	Path   string
	Err    error
}

func (e *ErrTransport) Error() string {
	return fmt.Sprintf("%s %s: transport: %v", e.Method, e.Path, e.Err)
}

func (e *ErrTransport) Unwrap() error { return e.Err }

// ErrUpstreamHTTP is returned on a non-2xx response. Body is truncated and
// never carries credentials.
type ErrUpstreamHTTP struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *ErrUpstreamHTTP) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: HTTP %d", e.Method, e.Path, e.Status)
	}
	return fmt.Sprintf("%s %s: HTTP %d: %s", e.Method, e.Path, e.Status, e.Body)
}

// ErrUpstreamAPI is returned when a 2xx envelope carries status=false.
type ErrUpstreamAPI struct {
	Method  string
	Path    string
	Message string
}

func (e *ErrUpstreamAPI) Error() string {
	return fmt.Sprintf("%s %s: dashboard error: %s", e.Method, e.Path, e.Message)
}

// ErrNotFound is returned when an identifier cannot be resolved.
type ErrNotFound struct {
	ID string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("not found: %s", e.ID)
}

// ErrMalformedResponse is returned when a response lacks the expected shape
// or marker.
type ErrMalformedResponse struct {
	Op  string
	Msg string
}

func (e *ErrMalformedResponse) Error() string {
	return fmt.Sprintf("%s: malformed response: %s", e.Op, e.Msg)
}

// ErrAttemptsExhausted aggregates the failures of a multi-strategy operation.
type ErrAttemptsExhausted struct {
	Op   string
	Errs *multierror.Error
}

func (e *ErrAttemptsExhausted) Error() string {
	if e.Errs == nil || len(e.Errs.Errors) == 0 {
		return fmt.Sprintf("%s: all attempts failed", e.Op)
	}
	parts := make([]string, 0, len(e.Errs.Errors))
	for _, err := range e.Errs.Errors {
		parts = append(parts, err.Error())
	}
	return fmt.Sprintf("%s: all %d attempts failed: %s", e.Op, len(parts), strings.Join(parts, "; "))
}

func (e *ErrAttemptsExhausted) Unwrap() error {
	if e.Errs == nil {
		return nil
	}
	return e.Errs.ErrorOrNil()
}

// Attempts returns the per-attempt errors in order.
func (e *ErrAttemptsExhausted) Attempts() []error {
	if e.Errs == nil {
		return nil
	}
	return e.Errs.Errors
}

// upstreamMessage returns the dashboard's own wording for err, if any.
func upstreamMessage(err error) string {
	var apiErr *ErrUpstreamAPI
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	var httpErr *ErrUpstreamHTTP
	if errors.As(err, &httpErr) {
		return httpErr.Body
	}
	return ""
}

func messageContains(err error, needles ...string) bool {
	msg := strings.ToLower(upstreamMessage(err))
	if msg == "" {
		return false
	}
	for _, n := range needles {
		if strings.Contains(msg, n) {
			return true
		}
	}
	return false
}
