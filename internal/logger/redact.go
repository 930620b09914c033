package logger

import (
	"io"
	"regexp"
)

// RedactWriter wraps an io.Writer and masks credentials before writing.
// It covers the dashboard API key header, the bridge tokens, webhook secrets,
// WireGuard private keys and Bearer tokens.
type RedactWriter struct {
	w          io.Writer
	patterns   []*regexp.Regexp
	redactWith string
}

// Every pattern has exactly one capture group holding the key or prefix.
var defaultPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(wg[_-]?dashboard[_-]?api[_-]?key["'\s:=]+)[^\s"',}]+`),
	regexp.MustCompile(`(?i)(wgd[_-]api[_-]token["'\s:=]+)[^\s"',}]+`),
	regexp.MustCompile(`(?i)(wgd[_-]webhook[_-]secret["'\s:=]+)[^\s"',}]+`),
	// X-WGD-Secret, X-Webhook-Secret, X-Signature-Secret
	regexp.MustCompile(`(?i)(X-(?:WGD|Webhook|Signature)-Secret["'\s:=]+)[^\s"',}]+`),
	regexp.MustCompile(`(?i)(api[_-]?key["'\s:=]+)[A-Za-z0-9\-_]{16,}`),
	regexp.MustCompile(`(?i)(password["'\s:=]+)[^\s"',}]+`),
	// PrivateKey = ... in rendered .conf files, "private_key":"..." in JSON
	regexp.MustCompile(`(?i)(private[_-]?key["'\s:=]+)[A-Za-z0-9+/=]{20,}`),
	regexp.MustCompile(`(?i)(Bearer\s+)[A-Za-z0-9\-_\.]+`),
}

// NewRedactWriter returns a RedactWriter that applies all default sensitive patterns.
func NewRedactWriter(w io.Writer) *RedactWriter {
	return &RedactWriter{
		w:          w,
		patterns:   defaultPatterns,
		redactWith: "[REDACTED]",
	}
}

// Write applies all redaction patterns before forwarding to the underlying writer.
func (r *RedactWriter) Write(p []byte) (int, error) {
	sanitized := p
	repl := []byte("${1}" + r.redactWith)
	for _, re := range r.patterns {
		sanitized = re.ReplaceAll(sanitized, repl)
	}
	n, err := r.w.Write(sanitized)
	// Report the original length so zerolog does not see a short write.
	if n > len(sanitized) {
		n = len(sanitized)
	}
	if err != nil {
		return n, err
	}
	return len(p), nil
}
