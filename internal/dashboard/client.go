package dashboard

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/developingchet/wgd-bridge/internal/cache"
)

// ClientConfig holds parameters for constructing a dashboard client.
type ClientConfig struct {
	BaseURL    string
	APIKey     string
	VerifyTLS  bool
	CACertPath string

	Timeout      time.Duration // per attempt
	MaxRetries   int           // additional attempts on transient failures
	RetryInitial time.Duration
	RetryMax     time.Duration

	CacheTTL        time.Duration
	RateLimitPerMin int // 0 disables client-side limiting
	MaxConns        int
	IdleConns       int

	ActiveWindow  time.Duration
	PeerDNS       string
	PeerKeepalive int
}

// Client implements Dashboard over HTTP. One Client is shared by the whole
// process; it is safe for concurrent use.
type Client struct {
	cfg     ClientConfig
	http    *http.Client
	limiter *rate.Limiter
	cache   *cache.Cache
	log     zerolog.Logger
	now     func() time.Time
}

var _ Dashboard = (*Client)(nil)

// NewClient constructs a Client. No request is made; use Handshake to verify
// connectivity.
func NewClient(cfg ClientConfig, log zerolog.Logger) (*Client, error) {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		return nil, errors.New("dashboard base URL is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryInitial <= 0 {
		cfg.RetryInitial = 250 * time.Millisecond
	}
	if cfg.RetryMax < cfg.RetryInitial {
		cfg.RetryMax = cfg.RetryInitial
	}
	if cfg.ActiveWindow <= 0 {
		cfg.ActiveWindow = 180 * time.Second
	}
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = 20
	}
	if cfg.IdleConns <= 0 {
		cfg.IdleConns = 8
	}

	tlsCfg := &tls.Config{
		InsecureSkipVerify: !cfg.VerifyTLS, //nolint:gosec // user-opted-in
	}
	if cfg.CACertPath != "" {
		pem, err := os.ReadFile(cfg.CACertPath)
		if err != nil {
			return nil, fmt.Errorf("read CA cert %s: %w", cfg.CACertPath, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no valid certificates in %s", cfg.CACertPath)
		}
		tlsCfg.RootCAs = pool
	}

	dialer := &net.Dialer{
		Timeout:   cfg.Timeout,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSClientConfig:       tlsCfg,
		TLSHandshakeTimeout:   10 * time.Second,
		MaxConnsPerHost:       cfg.MaxConns,
		MaxIdleConns:          cfg.IdleConns,
		MaxIdleConnsPerHost:   cfg.IdleConns,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	c := &Client{
		cfg:   cfg,
		http:  &http.Client{Transport: transport},
		cache: cache.New(cfg.CacheTTL),
		log:   log,
		now:   time.Now,
	}
	if cfg.RateLimitPerMin > 0 {
		c.limiter = newRateLimiter(cfg.RateLimitPerMin)
	}
	return c, nil
}

// newRateLimiter allows requestsPerMinute on average with a burst of the same
// size.
func newRateLimiter(requestsPerMinute int) *rate.Limiter {
	return rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), requestsPerMinute)
}

// Close releases idle connections and drops cached reads.
func (c *Client) Close() error {
	c.cache.Flush()
	c.http.CloseIdleConnections()
	return nil
}

// ActiveWindow returns the handshake age under which a peer counts as active.
func (c *Client) ActiveWindow() time.Duration { return c.cfg.ActiveWindow }

// invalidate drops the configs list and the peer list of config.
func (c *Client) invalidate(config string) {
	c.cache.Invalidate(kindConfigs)
	if config == "" {
		c.cache.Invalidate(kindPeers)
		return
	}
	c.cache.Invalidate(kindPeers, config)
}
