package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds all application configuration.
type Config struct {
	// WGDashboard connection
	APIBase       string        `koanf:"wgd_api_base"`
	APIToken      string        `koanf:"wgd_api_token"`
	VerifyTLS     bool          `koanf:"wgd_verify_tls"`
	CACert        string        `koanf:"wgd_ca_cert"`
	Interface     string        `koanf:"wgd_interface"`
	HTTPTimeout   time.Duration `koanf:"wgd_http_timeout"`
	MaxRetries    int           `koanf:"wgd_max_retries"`
	RetryInitial  time.Duration `koanf:"wgd_retry_initial"`
	RetryMax      time.Duration `koanf:"wgd_retry_max"`
	CacheTTL      time.Duration `koanf:"wgd_cache_ttl"`
	RateLimitRPM  int           `koanf:"wgd_rate_limit_per_min"`
	MaxConns      int           `koanf:"wgd_max_conns"`
	IdleConns     int           `koanf:"wgd_idle_conns"`
	ActiveWindow  time.Duration `koanf:"active_window"`
	PeerDNS       string        `koanf:"wgd_peer_dns"`
	PeerKeepalive int           `koanf:"wgd_peer_keepalive"`

	// Webhook ingress
	WebhookSecret string `koanf:"wgd_webhook_secret"`
	WebhookAddr   string `koanf:"webhook_addr"`

	// Worker Pool
	PoolWorkers    int           `koanf:"pool_workers"`
	PoolQueueDepth int           `koanf:"pool_queue_depth"`
	PoolMaxRetries int           `koanf:"pool_max_retries"`
	PoolRetryBase  time.Duration `koanf:"pool_retry_base"`

	// Storage
	DataDir         string        `koanf:"data_dir"`
	LedgerRetention time.Duration `koanf:"ledger_retention"`

	// Operational
	LogLevel         string        `koanf:"log_level"`
	LogFormat        string        `koanf:"log_format"`
	LogFile          string        `koanf:"log_file"`
	LogFileMaxSizeMB int           `koanf:"log_file_max_size_mb"`
	LogFileBackups   int           `koanf:"log_file_max_backups"`
	LogFileMaxAge    int           `koanf:"log_file_max_age_days"`
	MetricsEnabled   bool          `koanf:"metrics_enabled"`
	MetricsAddr      string        `koanf:"metrics_addr"`
	HealthAddr       string        `koanf:"health_addr"`
	JanitorInterval  time.Duration `koanf:"janitor_interval"`
	SnapshotInterval time.Duration `koanf:"snapshot_interval"`
}

// sanitise removes a single layer of matching surrounding quotes from all string
// fields. This normalises values from Docker --env-file which does not strip
// shell quoting.
func (c *Config) sanitise() {
	for _, s := range []*string{
		&c.APIBase, &c.APIToken, &c.CACert, &c.Interface, &c.PeerDNS,
		&c.WebhookSecret, &c.WebhookAddr, &c.DataDir,
		&c.LogLevel, &c.LogFormat, &c.LogFile, &c.MetricsAddr, &c.HealthAddr,
	} {
		*s = stripEnvQuotes(*s)
	}
	c.APIBase = strings.TrimRight(c.APIBase, "/")
}

// defaults sets sensible default values.
func defaults() map[string]interface{} {
	return map[string]interface{}{
		"wgd_verify_tls":         true,
		"wgd_interface":          "wg0",
		"wgd_http_timeout":       "20s",
		"wgd_max_retries":        2,
		"wgd_retry_initial":      "250ms",
		"wgd_retry_max":          "2s",
		"wgd_cache_ttl":          "3s",
		"wgd_rate_limit_per_min": 0,
		"wgd_max_conns":          20,
		"wgd_idle_conns":         8,
		"active_window":          "180s",
		"wgd_peer_dns":           "1.1.1.1",
		"wgd_peer_keepalive":     21,
		"webhook_addr":           ":8082",
		"pool_workers":           2,
		"pool_queue_depth":       256,
		"pool_max_retries":       2,
		"pool_retry_base":        "500ms",
		"data_dir":               "/data",
		"ledger_retention":       "720h",
		"log_level":              "info",
		"log_format":             "json",
		"log_file_max_size_mb":   10,
		"log_file_max_backups":   5,
		"log_file_max_age_days":  30,
		"metrics_enabled":        true,
		"metrics_addr":           ":9090",
		"health_addr":            ":8081",
		"janitor_interval":       "1h",
		"snapshot_interval":      "1m",
	}
}

// stripEnvQuotes removes a single layer of matching surrounding single or double
// quotes from s. Only symmetric pairs are stripped: 'x' → x, "x" → x.
// Unpaired or mismatched quotes are left as-is.
func stripEnvQuotes(s string) string {
	if len(s) < 2 {
		return s
	}
	if (s[0] == '\'' && s[len(s)-1] == '\'') ||
		(s[0] == '"' && s[len(s)-1] == '"') {
		return s[1 : len(s)-1]
	}
	return s
}

// Load reads configuration from environment variables, applying _FILE secret
// injection, and validates the result.
func Load() (*Config, error) {
	cfg, err := LoadUnvalidated()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadUnvalidated is Load without Validate. The CLI uses it for commands that
// only need a subset of the keys, such as healthcheck.
func LoadUnvalidated() (*Config, error) {
	// "." as delimiter keeps names like WGD_API_BASE flat: "wgd_api_base".
	k := koanf.New(".")

	if err := k.Load(&rawProvider{data: defaults()}, nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if err := k.Load(env.Provider("", ".", func(s string) string {
		return strings.ToLower(s)
	}), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	if err := injectFileSecrets(k); err != nil {
		return nil, fmt.Errorf("inject file secrets: %w", err)
	}

	cfg := &Config{}
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.sanitise()
	return cfg, nil
}

// Validate checks required fields and semantic constraints.
func (c *Config) Validate() error {
	if c.APIBase == "" {
		return fmt.Errorf("WGD_API_BASE is required")
	}
	u, err := url.Parse(c.APIBase)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("WGD_API_BASE must be an http:// or https:// URL; got %q", c.APIBase)
	}
	if c.APIToken == "" {
		return fmt.Errorf("WGD_API_TOKEN is required")
	}
	if c.Interface == "" {
		return fmt.Errorf("WGD_INTERFACE must not be empty")
	}

	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("WGD_HTTP_TIMEOUT must be > 0; got %s", c.HTTPTimeout)
	}
	if c.MaxRetries < 0 || c.MaxRetries > 10 {
		return fmt.Errorf("WGD_MAX_RETRIES must be 0–10; got %d", c.MaxRetries)
	}
	if c.RetryInitial <= 0 || c.RetryMax < c.RetryInitial {
		return fmt.Errorf("WGD_RETRY_INITIAL must be > 0 and <= WGD_RETRY_MAX; got %s / %s", c.RetryInitial, c.RetryMax)
	}
	if c.CacheTTL < 0 {
		return fmt.Errorf("WGD_CACHE_TTL must be >= 0; got %s", c.CacheTTL)
	}
	if c.RateLimitRPM < 0 {
		return fmt.Errorf("WGD_RATE_LIMIT_PER_MIN must be >= 0; got %d", c.RateLimitRPM)
	}
	if c.MaxConns < 1 || c.IdleConns < 0 {
		return fmt.Errorf("WGD_MAX_CONNS must be >= 1 and WGD_IDLE_CONNS >= 0; got %d / %d", c.MaxConns, c.IdleConns)
	}
	if c.ActiveWindow <= 0 {
		return fmt.Errorf("ACTIVE_WINDOW must be > 0; got %s", c.ActiveWindow)
	}
	if c.PeerKeepalive < 0 || c.PeerKeepalive > 65535 {
		return fmt.Errorf("WGD_PEER_KEEPALIVE must be 0–65535; got %d", c.PeerKeepalive)
	}

	if c.PoolWorkers < 1 || c.PoolWorkers > 64 {
		return fmt.Errorf("POOL_WORKERS must be 1–64; got %d", c.PoolWorkers)
	}
	if c.PoolQueueDepth < 1 {
		return fmt.Errorf("POOL_QUEUE_DEPTH must be >= 1; got %d", c.PoolQueueDepth)
	}
	if c.PoolMaxRetries < 0 {
		return fmt.Errorf("POOL_MAX_RETRIES must be >= 0; got %d", c.PoolMaxRetries)
	}

	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("LOG_LEVEL must be one of trace,debug,info,warn,error,fatal,panic; got %q", c.LogLevel)
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return fmt.Errorf("LOG_FORMAT must be json or text; got %q", c.LogFormat)
	}

	if c.LogFile != "" && (c.LogFileMaxSizeMB < 1 || c.LogFileBackups < 0 || c.LogFileMaxAge < 0) {
		return fmt.Errorf("LOG_FILE_MAX_SIZE_MB must be >= 1 and backups/age >= 0; got %d / %d / %d",
			c.LogFileMaxSizeMB, c.LogFileBackups, c.LogFileMaxAge)
	}

	if c.LedgerRetention <= 0 {
		return fmt.Errorf("LEDGER_RETENTION must be > 0; got %s", c.LedgerRetention)
	}
	if c.JanitorInterval <= 0 {
		return fmt.Errorf("JANITOR_INTERVAL must be > 0; got %s", c.JanitorInterval)
	}
	if c.SnapshotInterval < 0 {
		return fmt.Errorf("SNAPSHOT_INTERVAL must be >= 0; got %s", c.SnapshotInterval)
	}
	return nil
}

var fileSecretKeys = []string{
	"wgd_api_token",
	"wgd_webhook_secret",
}

// injectFileSecrets reads _FILE env vars and injects their file contents.
func injectFileSecrets(k *koanf.Koanf) error {
	for _, key := range fileSecretKeys {
		filePath := k.String(key + "_file")
		if filePath == "" {
			filePath = os.Getenv(strings.ToUpper(key) + "_FILE")
		}
		if filePath == "" {
			continue
		}
		filePath = stripEnvQuotes(filePath)
		content, err := os.ReadFile(filePath)
		if err != nil {
			return fmt.Errorf("reading secret file for %s (%s): %w", key, filePath, err)
		}
		if err := k.Set(key, strings.TrimSpace(string(content))); err != nil {
			return fmt.Errorf("setting %s from file: %w", key, err)
		}
	}
	return nil
}

// rawProvider implements koanf.Provider for a map[string]interface{}.
type rawProvider struct {
	data map[string]interface{}
}

// Read returns the config map directly (no Parser needed).
func (r *rawProvider) Read() (map[string]interface{}, error) {
	return r.data, nil
}

// ReadBytes is not used by rawProvider; koanf calls Read() when no Parser is given.
func (r *rawProvider) ReadBytes() ([]byte, error) {
	return nil, fmt.Errorf("rawProvider does not support ReadBytes")
}
