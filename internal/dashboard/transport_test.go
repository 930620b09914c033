package dashboard

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/developingchet/wgd-bridge/internal/dashboard/dashboardtest"
)

const testAPIKey = "test-api-key"

// newTestClient builds a Client with fast retries against baseURL.
func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c, err := NewClient(ClientConfig{
		BaseURL:       baseURL,
		APIKey:        testAPIKey,
		Timeout:       2 * time.Second,
		MaxRetries:    2,
		RetryInitial:  time.Millisecond,
		RetryMax:      5 * time.Millisecond,
		CacheTTL:      time.Minute,
		ActiveWindow:  180 * time.Second,
		PeerDNS:       "1.1.1.1",
		PeerKeepalive: 21,
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	if _, err := NewClient(ClientConfig{APIKey: "k"}, zerolog.Nop()); err == nil {
		t.Fatal("expected error for empty base URL")
	}
}

func TestNewClientDefaults(t *testing.T) {
	c, err := NewClient(ClientConfig{BaseURL: "http://dash.local/ ", MaxRetries: -1}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if c.cfg.BaseURL != "http://dash.local" {
		t.Errorf("BaseURL: got %q", c.cfg.BaseURL)
	}
	if c.cfg.Timeout != 20*time.Second || c.cfg.MaxRetries != 0 || c.ActiveWindow() != 180*time.Second {
		t.Errorf("unexpected defaults: %+v", c.cfg)
	}
	if c.limiter != nil {
		t.Error("rate limiter should be off by default")
	}
}

func TestRetriesTransientStatusThenSucceeds(t *testing.T) {
	srv := dashboardtest.NewServer(t, testAPIKey)
	srv.FailNext("handshake", http.StatusServiceUnavailable, http.StatusServiceUnavailable)
	c := newTestClient(t, srv.URL)

	if err := c.Handshake(context.Background()); err != nil {
		t.Fatalf("Handshake: %v", err)
	}
	if got := srv.Calls("handshake"); got != 3 {
		t.Errorf("expected 3 attempts (2 retries + success), got %d", got)
	}
}

func TestRetriesAreBounded(t *testing.T) {
	srv := dashboardtest.NewServer(t, testAPIKey)
	srv.FailNext("handshake", 502, 503, 504, 503)
	c := newTestClient(t, srv.URL)

	err := c.Handshake(context.Background())
	var httpErr *ErrUpstreamHTTP
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected ErrUpstreamHTTP, got %T: %v", err, err)
	}
	if httpErr.Status != 504 {
		t.Errorf("expected last status 504, got %d", httpErr.Status)
	}
	if got := srv.Calls("handshake"); got != 3 {
		t.Errorf("expected exactly MaxRetries+1 = 3 attempts, got %d", got)
	}
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	for _, status := range []int{400, 404, 500} {
		srv := dashboardtest.NewServer(t, testAPIKey)
		srv.FailNext("handshake", status)
		c := newTestClient(t, srv.URL)

		err := c.Handshake(context.Background())
		var httpErr *ErrUpstreamHTTP
		if !errors.As(err, &httpErr) || httpErr.Status != status {
			t.Fatalf("status %d: expected ErrUpstreamHTTP, got %v", status, err)
		}
		if httpErr.Method != http.MethodGet || httpErr.Path != pathHandshake {
			t.Errorf("status %d: error lacks method/path: %+v", status, httpErr)
		}
		if got := srv.Calls("handshake"); got != 1 {
			t.Errorf("status %d: expected 1 attempt, got %d", status, got)
		}
	}
}

func TestUnauthorizedIsUpstreamHTTP(t *testing.T) {
	srv := dashboardtest.NewServer(t, "other-key")
	c := newTestClient(t, srv.URL)

	err := c.Handshake(context.Background())
	var httpErr *ErrUpstreamHTTP
	if !errors.As(err, &httpErr) || httpErr.Status != http.StatusUnauthorized {
		t.Fatalf("expected 401 ErrUpstreamHTTP, got %v", err)
	}
}

func TestEnvelopeFailureIsUpstreamAPI(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status": false, "message": "Configuration does not exist"}`))
	}))
	defer srv.Close()
	c := newTestClient(t, srv.URL)

	err := c.Handshake(context.Background())
	var apiErr *ErrUpstreamAPI
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected ErrUpstreamAPI, got %T: %v", err, err)
	}
	if apiErr.Message != "Configuration does not exist" {
		t.Errorf("Message: got %q", apiErr.Message)
	}
}

func TestNonJSONSuccessIsMalformed(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte("<html>login</html>"))
	}))
	defer srv.Close()
	c := newTestClient(t, srv.URL)

	err := c.Handshake(context.Background())
	var malformed *ErrMalformedResponse
	if !errors.As(err, &malformed) {
		t.Fatalf("expected ErrMalformedResponse, got %T: %v", err, err)
	}
	if calls.Load() != 1 {
		t.Errorf("malformed responses must not be retried, got %d calls", calls.Load())
	}
}

func TestErrorBodyTruncatedAndScrubbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("key=" + r.Header.Get(apiKeyHeader) + " " + strings.Repeat("x", 2000)))
	}))
	defer srv.Close()
	c := newTestClient(t, srv.URL)

	err := c.Handshake(context.Background())
	var httpErr *ErrUpstreamHTTP
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected ErrUpstreamHTTP, got %v", err)
	}
	if len(httpErr.Body) > maxErrorBody+3 {
		t.Errorf("body not truncated: %d bytes", len(httpErr.Body))
	}
	if strings.Contains(err.Error(), testAPIKey) {
		t.Error("error text leaks the API key")
	}
}

func TestAttemptTimeoutIsRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
			return
		}
		_, _ = w.Write([]byte(`{"status": true}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	c.cfg.Timeout = 100 * time.Millisecond

	if err := c.Handshake(context.Background()); err != nil {
		t.Fatalf("expected success after timed-out attempt, got %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 attempts, got %d", calls.Load())
	}
}

func TestUnreachableIsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := newTestClient(t, url)
	err := c.Handshake(context.Background())
	var te *ErrTransport
	if !errors.As(err, &te) {
		t.Fatalf("expected ErrTransport, got %T: %v", err, err)
	}
}

func TestCanceledContextStopsRetrying(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.Handshake(ctx)
	var te *ErrTransport
	if !errors.As(err, &te) || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected ErrTransport wrapping context.Canceled, got %T: %v", err, err)
	}
	if calls.Load() > 1 {
		t.Errorf("canceled context should not retry, got %d calls", calls.Load())
	}
}

func TestDeadlineDuringBackoffKeepsLastFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	c.cfg.MaxRetries = 5
	c.cfg.RetryInitial = time.Second
	c.cfg.RetryMax = time.Second
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := c.Handshake(ctx)
	var te *ErrTransport
	if !errors.As(err, &te) {
		t.Fatalf("expected ErrTransport, got %T: %v", err, err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline in chain, got %v", err)
	}
	var he *ErrUpstreamHTTP
	if !errors.As(err, &he) || he.Status != http.StatusServiceUnavailable {
		t.Errorf("expected last 503 in chain, got %v", err)
	}
}

func TestRateLimiterGatesAttempts(t *testing.T) {
	l := newRateLimiter(60)
	if l.Limit() != 1 {
		t.Errorf("Limit: got %v, want 1/s", l.Limit())
	}
	if l.Burst() != 60 {
		t.Errorf("Burst: got %d, want 60", l.Burst())
	}

	srv := dashboardtest.NewServer(t, testAPIKey)
	c := newTestClient(t, srv.URL)
	c.limiter = newRateLimiter(1)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := c.Handshake(ctx); err != nil {
		t.Fatalf("first call within burst: %v", err)
	}
	if err := c.Handshake(ctx); err == nil {
		t.Error("second call should be refused by the limiter before the deadline")
	}
	if got := srv.Calls("handshake"); got != 1 {
		t.Errorf("limited call reached the server: %d calls", got)
	}
}

func TestEndpointOf(t *testing.T) {
	tests := map[string]string{
		"/api/handshake":             "handshake",
		"/api/addPeers/wg0":          "addPeers",
		"/api/downloadPeer/wg%2F0":   "downloadPeer",
		"/api/":                      "unknown",
		"/api/getPeersList/wg0/more": "getPeersList",
	}
	for in, want := range tests {
		if got := endpointOf(in); got != want {
			t.Errorf("endpointOf(%q): got %q, want %q", in, got, want)
		}
	}
}
