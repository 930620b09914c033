// Package webhook receives change notifications pushed by WGDashboard and
// hands them to the worker pool.
package webhook

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/developingchet/wgd-bridge/internal/dashboard"
	"github.com/developingchet/wgd-bridge/internal/metrics"
)

// Path is the route the dashboard posts to.
const Path = "/wgd/webhook"

const maxBodyBytes = 1 << 20

// SecretHeaders are checked in order; the first non-empty value wins.
var SecretHeaders = []string{
	"X-WGD-Secret",
	"X-WGDashboard-Secret",
	"X-WG-Dashboard-Secret",
	"X-WG-Secret",
}

// DeliveryHeaders carry a sender-chosen delivery id; one is generated when
// none is present.
var DeliveryHeaders = []string{"X-Delivery-Id", "X-Request-Id"}

var labelRe = regexp.MustCompile(`^[a-z0-9_.\-]{1,48}$`)

// Enqueuer accepts updates without blocking. It returns false when the update
// was dropped.
type Enqueuer interface {
	Enqueue(u dashboard.Update) bool
}

// Handler serves POST /wgd/webhook.
type Handler struct {
	secret string
	queue  Enqueuer
	log    zerolog.Logger
	now    func() time.Time
}

// NewHandler returns a Handler. An empty secret makes every request fail
// with 503 until one is configured.
func NewHandler(secret string, queue Enqueuer, log zerolog.Logger) *Handler {
	return &Handler{
		secret: secret,
		queue:  queue,
		log:    log,
		now:    time.Now,
	}
}

// NewMux mounts h at Path.
func NewMux(h *Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle(Path, h)
	return mux
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"detail": "method not allowed"})
		return
	}

	if h.secret == "" {
		metrics.WebhookEvents.WithLabelValues("none", "unconfigured").Inc()
		h.log.Warn().Msg("webhook rejected: secret not configured")
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"detail": "webhook secret not configured"})
		return
	}
	if !h.authorized(r) {
		metrics.WebhookEvents.WithLabelValues("none", "unauthorized").Inc()
		h.log.Info().Str("remote", r.RemoteAddr).Msg("webhook unauthorized: invalid secret")
		writeJSON(w, http.StatusUnauthorized, map[string]any{"detail": "unauthorized"})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			metrics.WebhookEvents.WithLabelValues("none", "too_large").Inc()
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]any{"detail": "payload too large"})
			return
		}
		metrics.WebhookEvents.WithLabelValues("none", "bad_request").Inc()
		writeJSON(w, http.StatusBadRequest, map[string]any{"detail": "unreadable body"})
		return
	}

	payload := parsePayload(r.Header.Get("Content-Type"), body)
	if len(payload) == 0 {
		// 200 so the dashboard does not retry forever.
		metrics.WebhookEvents.WithLabelValues("none", "empty").Inc()
		h.log.Warn().Msg("webhook: empty or invalid payload")
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "note": "empty payload"})
		return
	}

	u := toUpdate(payload, h.now())
	u.DeliveryID = deliveryID(r)
	w.Header().Set(DeliveryHeaders[0], u.DeliveryID)
	label := eventLabel(u.Event)
	h.log.Info().Str("delivery", u.DeliveryID).Str("event", u.Event).Str("config", u.Config).Str("peer", u.Identifier()).
		Int64("rx", u.Rx).Int64("tx", u.Tx).Msg("webhook received")

	if h.queue != nil && h.queue.Enqueue(u) {
		metrics.WebhookEvents.WithLabelValues(label, "accepted").Inc()
	} else {
		metrics.WebhookEvents.WithLabelValues(label, "dropped").Inc()
		h.log.Warn().Str("delivery", u.DeliveryID).Str("event", u.Event).Msg("webhook update dropped: queue unavailable")
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "delivery": u.DeliveryID})
}

// authorized compares the presented secret in constant time.
func (h *Handler) authorized(r *http.Request) bool {
	var got string
	for _, name := range SecretHeaders {
		if v := r.Header.Get(name); v != "" {
			got = v
			break
		}
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) == 1
}

func deliveryID(r *http.Request) string {
	for _, name := range DeliveryHeaders {
		if v := strings.TrimSpace(r.Header.Get(name)); v != "" && len(v) <= 128 {
			return v
		}
	}
	return uuid.NewString()
}

// eventLabel bounds metric cardinality for sender-controlled event names.
func eventLabel(event string) string {
	e := strings.ToLower(event)
	if labelRe.MatchString(e) {
		return e
	}
	return "other"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
