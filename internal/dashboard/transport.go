package dashboard

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/developingchet/wgd-bridge/internal/metrics"
	"github.com/developingchet/wgd-bridge/internal/normalize"
)

const (
	apiKeyHeader = "wg-dashboard-apikey"

	maxErrorBody    = 400
	maxResponseBody = 16 << 20
)

// rawResponse is a fully read HTTP response.
type rawResponse struct {
	status int
	header http.Header
	body   []byte
}

// request performs one logical API call: up to MaxRetries+1 attempts with
// exponential backoff on 502/503/504 and on transport failures. The parsed
// JSON body is returned. This layer never logs.
func (c *Client) request(ctx context.Context, method, path string, query url.Values, body any) (any, error) {
	endpoint := endpointOf(path)
	start := time.Now()

	var (
		out     any
		lastErr error
	)
	op := func() error {
		resp, err := c.roundTrip(ctx, method, path, query, body)
		if err != nil {
			lastErr = err
			var te *ErrTransport
			if errors.As(err, &te) && ctx.Err() == nil && !errors.Is(err, errRateLimitWait) {
				return err
			}
			return backoff.Permanent(err)
		}
		v, err := c.decode(method, path, resp)
		if err != nil {
			lastErr = err
			if retryableStatus(resp.status) {
				return err
			}
			return backoff.Permanent(err)
		}
		out = v
		return nil
	}

	err := backoff.RetryNotify(op, c.retryPolicy(ctx), func(error, time.Duration) {
		metrics.APIRetries.WithLabelValues(endpoint).Inc()
	})
	// A context ending during a backoff wait surfaces bare; keep the last
	// attempt's failure alongside it.
	var te *ErrTransport
	if err != nil && isContextErr(err) && !errors.As(err, &te) {
		err = &ErrTransport{Method: method, Path: path, Err: errors.Join(err, lastErr)}
	}
	observeCall(endpoint, err, time.Since(start))
	if err != nil {
		return nil, err
	}
	return out, nil
}

var errRateLimitWait = errors.New("rate limit wait")

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// retryPolicy is exponential without jitter: RetryInitial, doubling, capped
// at RetryMax, at most MaxRetries waits.
func (c *Client) retryPolicy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.RetryInitial
	b.Multiplier = 2
	b.MaxInterval = c.cfg.RetryMax
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.cfg.MaxRetries)), ctx)
}

// roundTrip performs exactly one attempt under its own timeout and reads the
// whole body. Only network-level failures are returned as *ErrTransport.
func (c *Client) roundTrip(ctx context.Context, method, path string, query url.Values, body any) (*rawResponse, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &ErrTransport{Method: method, Path: path, Err: fmt.Errorf("%w: %w", errRateLimitWait, err)}
		}
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("%s %s: encode body: %w", method, path, err)
		}
		reader = bytes.NewReader(buf)
	}

	target := c.cfg.BaseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	actx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(actx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("%s %s: build request: %w", method, path, err)
	}
	req.Header.Set(apiKeyHeader, c.cfg.APIKey)
	req.Header.Set("Accept", "application/json, text/plain, */*")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &ErrTransport{Method: method, Path: path, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, &ErrTransport{Method: method, Path: path, Err: fmt.Errorf("read body: %w", err)}
	}
	return &rawResponse{status: resp.StatusCode, header: resp.Header, body: data}, nil
}

// decode classifies a response: non-2xx is ErrUpstreamHTTP, an unparseable
// body is ErrMalformedResponse and an envelope with status=false is
// ErrUpstreamAPI.
func (c *Client) decode(method, path string, resp *rawResponse) (any, error) {
	if resp.status < 200 || resp.status > 299 {
		return nil, c.httpError(method, path, resp)
	}
	v, err := decodeJSON(resp.body)
	if err != nil {
		return nil, &ErrMalformedResponse{Op: method + " " + path, Msg: err.Error()}
	}
	if err := envelopeError(method, path, v); err != nil {
		return nil, err
	}
	return v, nil
}

func (c *Client) httpError(method, path string, resp *rawResponse) error {
	return &ErrUpstreamHTTP{
		Method: method,
		Path:   path,
		Status: resp.status,
		Body:   c.scrub(truncate(string(resp.body), maxErrorBody)),
	}
}

// scrub removes the API key from text that may be echoed back by a proxy.
func (c *Client) scrub(s string) string {
	if c.cfg.APIKey == "" {
		return s
	}
	return strings.ReplaceAll(s, c.cfg.APIKey, "***")
}

func decodeJSON(body []byte) (any, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, errors.New("empty body")
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	return v, nil
}

// envelopeError reports a {status:false, message} envelope as ErrUpstreamAPI.
func envelopeError(method, path string, v any) error {
	obj, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	if status, ok := obj["status"].(bool); ok && !status {
		msg := normalize.String(obj, "message", "msg", "error")
		if msg == "" {
			msg = "status=false"
		}
		return &ErrUpstreamAPI{Method: method, Path: path, Message: msg}
	}
	return nil
}

// dataOf unwraps the {data: ...} envelope when present.
func dataOf(v any) any {
	if obj, ok := v.(map[string]any); ok {
		if d, ok := obj["data"]; ok {
			return d
		}
	}
	return v
}

func retryableStatus(status int) bool {
	switch status {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func observeCall(endpoint string, err error, elapsed time.Duration) {
	status := "ok"
	var (
		httpErr *ErrUpstreamHTTP
		apiErr  *ErrUpstreamAPI
		trErr   *ErrTransport
	)
	switch {
	case err == nil:
	case errors.As(err, &httpErr):
		status = fmt.Sprintf("%dxx", httpErr.Status/100)
	case errors.As(err, &apiErr):
		status = "api_error"
	case errors.As(err, &trErr):
		status = "transport_error"
	default:
		status = "error"
	}
	metrics.APICalls.WithLabelValues(endpoint, status).Inc()
	metrics.APIDuration.WithLabelValues(endpoint).Observe(elapsed.Seconds())
}
