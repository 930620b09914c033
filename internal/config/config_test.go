package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func setEnv(t *testing.T, key, val string) {
	t.Helper()
	t.Setenv(key, val)
}

// baseEnv sets the minimum required fields for a valid config and clears
// fields that might cause spurious validation failures between test cases.
func baseEnv(t *testing.T) {
	t.Helper()
	setEnv(t, "WGD_API_BASE", "http://wgd.local:10086")
	setEnv(t, "WGD_API_TOKEN", "token-123")
	for _, k := range []string{
		"WGD_API_TOKEN_FILE", "WGD_WEBHOOK_SECRET", "WGD_WEBHOOK_SECRET_FILE",
		"WGD_INTERFACE", "WGD_HTTP_TIMEOUT", "WGD_MAX_RETRIES", "WGD_RETRY_INITIAL",
		"WGD_RETRY_MAX", "WGD_CACHE_TTL", "WGD_RATE_LIMIT_PER_MIN", "WGD_VERIFY_TLS",
		"ACTIVE_WINDOW", "POOL_WORKERS", "POOL_QUEUE_DEPTH", "LOG_LEVEL", "LOG_FORMAT",
		"LEDGER_RETENTION", "JANITOR_INTERVAL", "SNAPSHOT_INTERVAL", "DATA_DIR",
	} {
		os.Unsetenv(k)
	}
}

func TestLoadMissingRequired(t *testing.T) {
	baseEnv(t)
	os.Unsetenv("WGD_API_BASE")

	if _, err := Load(); err == nil {
		t.Error("expected error when WGD_API_BASE missing")
	}
}

func TestLoadMissingToken(t *testing.T) {
	baseEnv(t)
	os.Unsetenv("WGD_API_TOKEN")

	if _, err := Load(); err == nil {
		t.Error("expected error when WGD_API_TOKEN missing")
	}
}

func TestLoadMinimalValid(t *testing.T) {
	baseEnv(t)
	setEnv(t, "WGD_API_BASE", "https://wgd.example.com/")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.APIBase != "https://wgd.example.com" {
		t.Errorf("APIBase: got %q", cfg.APIBase)
	}
	if cfg.APIToken != "token-123" {
		t.Errorf("APIToken: got %q", cfg.APIToken)
	}
}

func TestDefaults(t *testing.T) {
	baseEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Interface != "wg0" {
		t.Errorf("default Interface: got %q", cfg.Interface)
	}
	if cfg.HTTPTimeout != 20*time.Second {
		t.Errorf("default HTTPTimeout: got %s", cfg.HTTPTimeout)
	}
	if cfg.MaxRetries != 2 || cfg.RetryInitial != 250*time.Millisecond || cfg.RetryMax != 2*time.Second {
		t.Errorf("default retry policy: %d %s %s", cfg.MaxRetries, cfg.RetryInitial, cfg.RetryMax)
	}
	if cfg.CacheTTL != 3*time.Second {
		t.Errorf("default CacheTTL: got %s", cfg.CacheTTL)
	}
	if cfg.ActiveWindow != 180*time.Second {
		t.Errorf("default ActiveWindow: got %s", cfg.ActiveWindow)
	}
	if !cfg.VerifyTLS {
		t.Error("default VerifyTLS: expected true")
	}
	if cfg.PeerDNS != "1.1.1.1" || cfg.PeerKeepalive != 21 {
		t.Errorf("default peer settings: %q %d", cfg.PeerDNS, cfg.PeerKeepalive)
	}
	if cfg.PoolWorkers != 2 || cfg.PoolQueueDepth != 256 {
		t.Errorf("default pool: %d/%d", cfg.PoolWorkers, cfg.PoolQueueDepth)
	}
	if cfg.LedgerRetention != 720*time.Hour {
		t.Errorf("default LedgerRetention: got %s", cfg.LedgerRetention)
	}
	if cfg.LogFile != "" || cfg.LogFileMaxSizeMB != 10 || cfg.LogFileBackups != 5 || cfg.LogFileMaxAge != 30 {
		t.Errorf("default log file settings: %q %d %d %d", cfg.LogFile, cfg.LogFileMaxSizeMB, cfg.LogFileBackups, cfg.LogFileMaxAge)
	}
	if cfg.WebhookSecret != "" {
		t.Errorf("webhook secret should default to empty, got %q", cfg.WebhookSecret)
	}
}

func TestFileSecretInjection(t *testing.T) {
	baseEnv(t)
	os.Unsetenv("WGD_API_TOKEN")
	dir := t.TempDir()
	tokenFile := filepath.Join(dir, "token.txt")
	if err := os.WriteFile(tokenFile, []byte("  secret-from-file  \n"), 0600); err != nil {
		t.Fatal(err)
	}
	hookFile := filepath.Join(dir, "hook.txt")
	if err := os.WriteFile(hookFile, []byte("hook-secret\n"), 0600); err != nil {
		t.Fatal(err)
	}
	setEnv(t, "WGD_API_TOKEN_FILE", tokenFile)
	setEnv(t, "WGD_WEBHOOK_SECRET_FILE", `"`+hookFile+`"`)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load with file secret: %v", err)
	}
	if cfg.APIToken != "secret-from-file" {
		t.Errorf("expected trimmed file secret, got %q", cfg.APIToken)
	}
	if cfg.WebhookSecret != "hook-secret" {
		t.Errorf("webhook secret from quoted file path: got %q", cfg.WebhookSecret)
	}
}

func TestFileSecretMissingFile(t *testing.T) {
	baseEnv(t)
	setEnv(t, "WGD_API_TOKEN_FILE", filepath.Join(t.TempDir(), "absent"))

	if _, err := Load(); err == nil {
		t.Error("expected error for unreadable secret file")
	}
}

func TestEnvQuotesStripped(t *testing.T) {
	baseEnv(t)
	setEnv(t, "WGD_API_TOKEN", `"quoted-token"`)
	setEnv(t, "WGD_INTERFACE", `'wg1'`)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.APIToken != "quoted-token" || cfg.Interface != "wg1" {
		t.Errorf("quotes not stripped: %q %q", cfg.APIToken, cfg.Interface)
	}
}

func TestStripEnvQuotes(t *testing.T) {
	cases := map[string]string{
		`"x"`:  "x",
		`'x'`:  "x",
		`"x'`:  `"x'`,
		`"`:    `"`,
		``:     ``,
		`""`:   ``,
		`a"b"`: `a"b"`,
	}
	for in, want := range cases {
		if got := stripEnvQuotes(in); got != want {
			t.Errorf("stripEnvQuotes(%q): got %q, want %q", in, got, want)
		}
	}
}

func TestLoadUnvalidatedSkipsValidation(t *testing.T) {
	baseEnv(t)
	os.Unsetenv("WGD_API_BASE")
	os.Unsetenv("WGD_API_TOKEN")

	cfg, err := LoadUnvalidated()
	if err != nil {
		t.Fatalf("LoadUnvalidated: %v", err)
	}
	if cfg.HealthAddr != ":8081" {
		t.Errorf("HealthAddr: got %q", cfg.HealthAddr)
	}
}

func TestValidation(t *testing.T) {
	cases := []struct {
		name    string
		key     string
		val     string
		wantErr bool
	}{
		{"valid_minimal", "", "", false},
		{"invalid_base_scheme", "WGD_API_BASE", "ftp://wgd.local", true},
		{"invalid_base_no_host", "WGD_API_BASE", "http://", true},
		{"invalid_log_level", "LOG_LEVEL", "invalid", true},
		{"valid_log_level_debug", "LOG_LEVEL", "debug", false},
		{"invalid_log_format", "LOG_FORMAT", "yaml", true},
		{"valid_log_format_text", "LOG_FORMAT", "text", false},
		{"invalid_timeout_zero", "WGD_HTTP_TIMEOUT", "0s", true},
		{"invalid_retries_negative", "WGD_MAX_RETRIES", "-1", true},
		{"valid_retries_zero", "WGD_MAX_RETRIES", "0", false},
		{"invalid_retry_max_below_initial", "WGD_RETRY_MAX", "100ms", true},
		{"valid_cache_disabled", "WGD_CACHE_TTL", "0s", false},
		{"invalid_rate_negative", "WGD_RATE_LIMIT_PER_MIN", "-5", true},
		{"invalid_active_window_zero", "ACTIVE_WINDOW", "0s", true},
		{"invalid_pool_workers", "POOL_WORKERS", "100", true},
		{"invalid_pool_queue_depth_zero", "POOL_QUEUE_DEPTH", "0", true},
		{"invalid_ledger_retention_zero", "LEDGER_RETENTION", "0s", true},
		{"invalid_janitor_interval_zero", "JANITOR_INTERVAL", "0s", true},
		{"valid_snapshot_interval_off", "SNAPSHOT_INTERVAL", "0s", false},
		{"invalid_empty_interface", "WGD_INTERFACE", `""`, true},
		{"valid_log_file", "LOG_FILE", "/var/log/wgd-bridge.log", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			baseEnv(t)
			if tc.key != "" {
				setEnv(t, tc.key, tc.val)
			}

			_, err := Load()
			if tc.wantErr && err == nil {
				t.Errorf("expected validation error, got nil")
			} else if !tc.wantErr && err != nil {
				t.Errorf("expected no error, got: %v", err)
			}
		})
	}
}
