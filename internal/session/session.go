// Package session implements the rate-limited, cookie-managed HTTP
// transport used for all NSE requests.
//
// NSE fronts its site with a WAF that rejects bare clients: API and CSV
// endpoints only answer when the caller carries cookies planted by a
// prior visit to www.nseindia.com with browser-like headers. The
// Manager performs that handshake lazily, refreshes it when it goes
// stale or gets invalidated, and wraps every request in a shared rate
// limiter plus a bounded retry loop with exponential backoff.
package session

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/http/cookiejar"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/bobmcallan/nsefeed/internal/common"
	"github.com/bobmcallan/nsefeed/internal/interfaces"
)

const defaultRetryAfter = 60 * time.Second

// Manager is the shared NSE HTTP session
type Manager struct {
	config    common.SessionConfig
	endpoints common.EndpointsConfig
	client    *http.Client
	limiter   *rate.Limiter
	logger    *common.Logger

	mu            sync.Mutex
	userAgent     string
	uaIndex       int
	lastHandshake time.Time
	originVisits  map[string]time.Time
}

var _ interfaces.Session = (*Manager)(nil)

// Option configures the Manager
type Option func(*Manager)

// WithLogger sets a custom logger
func WithLogger(logger *common.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithHTTPClient sets a custom HTTP client. The client's cookie jar is
// replaced; its transport is kept.
func WithHTTPClient(client *http.Client) Option {
	return func(m *Manager) {
		m.client = client
	}
}

// NewManager creates a session manager from config
func NewManager(cfg *common.Config, opts ...Option) (*Manager, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	m := &Manager{
		config:    cfg.Session,
		endpoints: cfg.Endpoints,
		client: &http.Client{
			Timeout: cfg.Session.GetRequestTimeout(),
		},
		limiter:      rate.NewLimiter(rate.Every(cfg.Session.GetMinRequestDelay()), 1),
		logger:       common.NewSilentLogger(),
		originVisits: make(map[string]time.Time),
	}

	for _, opt := range opts {
		opt(m)
	}

	m.client.Jar = jar
	if m.client.Timeout == 0 {
		m.client.Timeout = cfg.Session.GetRequestTimeout()
	}

	if len(m.config.UserAgents) == 0 {
		m.config.UserAgents = userAgents
	}
	m.userAgent = m.config.UserAgents[0]

	return m, nil
}

// ensureSession performs the homepage handshake if the current cookies
// are missing or older than the refresh interval
func (m *Manager) ensureSession(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.lastHandshake.IsZero() && time.Since(m.lastHandshake) < m.config.GetRefreshInterval() {
		return nil
	}
	return m.handshakeLocked(ctx)
}

// forceHandshake drops cookies and performs a fresh handshake
func (m *Manager) forceHandshake(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	jar, err := cookiejar.New(nil)
	if err != nil {
		return fmt.Errorf("failed to create cookie jar: %w", err)
	}
	m.client.Jar = jar
	m.lastHandshake = time.Time{}

	return m.handshakeLocked(ctx)
}

func (m *Manager) handshakeLocked(ctx context.Context) error {
	// Rotate the user agent on every handshake.
	m.uaIndex = (m.uaIndex + 1) % len(m.config.UserAgents)
	m.userAgent = m.config.UserAgents[m.uaIndex]

	url := m.endpoints.HomeURL()
	m.logger.Debug().Str("url", url).Str("user_agent", m.userAgent).Msg("Performing session handshake")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &common.SessionError{Message: "failed to build handshake request", Err: err}
	}
	req.Header = handshakeHeaders(m.userAgent)

	resp, err := m.client.Do(req)
	if err != nil {
		return &common.SessionError{Message: "handshake request failed", Err: err}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &common.SessionError{
			Message: fmt.Sprintf("handshake returned status %d", resp.StatusCode),
		}
	}

	m.lastHandshake = time.Now()
	return nil
}

func (m *Manager) currentUserAgent() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.userAgent
}

// Reset drops cookies so the next request performs a fresh handshake
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if jar, err := cookiejar.New(nil); err == nil {
		m.client.Jar = jar
	}
	m.lastHandshake = time.Time{}
	m.originVisits = make(map[string]time.Time)
}

// Close releases the session's resources
func (m *Manager) Close() error {
	m.client.CloseIdleConnections()
	return nil
}

// Get performs a GET and returns the response body
func (m *Manager) Get(ctx context.Context, url string, opts ...interfaces.RequestOption) ([]byte, error) {
	params := buildParams(opts)
	return m.do(ctx, http.MethodGet, url, nil, defaultHeaders(m.currentUserAgent()), params, m.client)
}

// GetJSON performs a GET and decodes the JSON body into v
func (m *Manager) GetJSON(ctx context.Context, url string, v any, opts ...interfaces.RequestOption) error {
	params := buildParams(opts)
	headers := defaultHeaders(m.currentUserAgent())
	headers.Set("Accept", "application/json, text/plain, */*")

	body, err := m.do(ctx, http.MethodGet, url, nil, headers, params, m.client)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return &common.ParseError{Message: fmt.Sprintf("invalid JSON from %s", url), Err: err}
	}
	return nil
}

// Post performs a POST with a JSON payload and returns the response body
func (m *Manager) Post(ctx context.Context, url string, payload []byte, opts ...interfaces.RequestOption) ([]byte, error) {
	params := buildParams(opts)
	headers := defaultHeaders(m.currentUserAgent())
	headers.Set("Accept", "application/json, text/plain, */*")
	headers.Set("Content-Type", "application/json")
	return m.do(ctx, http.MethodPost, url, payload, headers, params, m.client)
}

// DownloadFile fetches an archive file. Archive downloads are larger
// than API responses, so the timeout is doubled.
func (m *Manager) DownloadFile(ctx context.Context, url string) ([]byte, error) {
	if err := m.ensureSession(ctx); err != nil {
		return nil, err
	}

	client := &http.Client{
		Jar:     m.client.Jar,
		Timeout: 2 * m.config.GetRequestTimeout(),
	}
	if m.client.Transport != nil {
		client.Transport = m.client.Transport
	}

	params := interfaces.RequestParams{}
	return m.do(ctx, http.MethodGet, url, nil, archiveHeaders(m.currentUserAgent()), params, client)
}

func buildParams(opts []interfaces.RequestOption) interfaces.RequestParams {
	params := interfaces.RequestParams{}
	for _, opt := range opts {
		opt(&params)
	}
	return params
}

// do runs the rate-limit, handshake and retry loop around one request
func (m *Manager) do(ctx context.Context, method, url string, payload []byte, headers http.Header, params interfaces.RequestParams, client *http.Client) ([]byte, error) {
	if err := m.ensureSession(ctx); err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt <= m.config.MaxRetries; attempt++ {
		if err := m.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		body, retry, err := m.attempt(ctx, method, url, payload, headers, params, client)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !retry {
			return nil, err
		}
		if attempt == m.config.MaxRetries {
			break
		}

		// The sleep before the next attempt depends on what failed: a
		// refreshed session is retried immediately, rate limiting
		// honors the server's advertised wait, everything else backs
		// off exponentially.
		var (
			serr *common.SessionError
			rle  *common.RateLimitError
		)
		switch {
		case errors.As(err, &serr):
			m.logger.Debug().Str("url", url).Msg("Session refreshed, retrying immediately")
		case errors.As(err, &rle):
			m.logger.Warn().Dur("retry_after", rle.RetryAfter).Str("url", url).Msg("Rate limited by NSE")
			if werr := m.sleep(ctx, rle.RetryAfter); werr != nil {
				return nil, werr
			}
		default:
			m.logger.Debug().Err(err).Int("attempt", attempt+1).Str("url", url).Msg("Request failed, retrying")
			if werr := m.sleep(ctx, m.backoff(attempt+1)); werr != nil {
				return nil, werr
			}
		}
	}

	return nil, &common.ConnectionError{
		Message: fmt.Sprintf("request failed after %d attempts", m.config.MaxRetries+1),
		URL:     url,
		Err:     lastErr,
	}
}

// attempt performs a single HTTP round trip and classifies the outcome.
// retry reports whether the error is worth another attempt.
func (m *Manager) attempt(ctx context.Context, method, url string, payload []byte, headers http.Header, params interfaces.RequestParams, client *http.Client) (body []byte, retry bool, err error) {
	reqCtx := ctx
	var cancel context.CancelFunc
	if params.Timeout > 0 {
		reqCtx, cancel = context.WithTimeout(ctx, params.Timeout)
		defer cancel()
	}

	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(reqCtx, method, url, reqBody)
	if err != nil {
		return nil, false, &common.ConnectionError{Message: "failed to build request", URL: url, Err: err}
	}
	req.Header = headers.Clone()
	// The handshake may have rotated the user agent since the headers
	// were built; keep the request consistent with the cookies.
	req.Header.Set("User-Agent", m.currentUserAgent())
	if params.Referer != "" {
		req.Header.Set("Referer", params.Referer)
	}
	for key, values := range params.Headers {
		req.Header.Del(key)
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		return nil, true, &common.ConnectionError{Message: "request failed", URL: url, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		data, rerr := readBody(resp)
		if rerr != nil {
			return nil, true, &common.ConnectionError{Message: "failed to read response body", URL: url, Err: rerr}
		}
		return data, false, nil

	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		// WAF invalidated the cookies; handshake again and retry.
		m.logger.Debug().Int("status", resp.StatusCode).Str("url", url).Msg("Session rejected, refreshing cookies")
		if herr := m.forceHandshake(ctx); herr != nil {
			return nil, false, herr
		}
		return nil, true, &common.SessionError{
			Message: fmt.Sprintf("session rejected with status %d", resp.StatusCode),
		}

	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, true, &common.RateLimitError{RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}

	case resp.StatusCode == http.StatusNotFound:
		return nil, false, &common.ConnectionError{
			Message:    "resource not found",
			URL:        url,
			StatusCode: http.StatusNotFound,
		}

	case resp.StatusCode >= 500:
		return nil, true, &common.ConnectionError{
			Message:    fmt.Sprintf("server error %d", resp.StatusCode),
			URL:        url,
			StatusCode: resp.StatusCode,
		}

	default:
		return nil, false, &common.ConnectionError{
			Message:    fmt.Sprintf("unexpected status %d", resp.StatusCode),
			URL:        url,
			StatusCode: resp.StatusCode,
		}
	}
}

// readBody reads and decompresses the response body. Because the
// Accept-Encoding header is set explicitly, the transport's automatic
// gzip handling is off and decompression is ours to do.
func readBody(resp *http.Response) ([]byte, error) {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(resp.Header.Get("Content-Encoding")) {
	case "gzip":
		gr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer gr.Close()
		return io.ReadAll(gr)
	case "deflate":
		fr := flate.NewReader(bytes.NewReader(data))
		defer fr.Close()
		return io.ReadAll(fr)
	default:
		return data, nil
	}
}

// parseRetryAfter interprets a Retry-After header as seconds or an
// HTTP date, defaulting to 60s
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return defaultRetryAfter
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(value)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return defaultRetryAfter
}

// backoff returns the sleep before the given attempt (1-based)
func (m *Manager) backoff(attempt int) time.Duration {
	factor := m.config.BackoffFactor
	if factor <= 1 {
		factor = 1.5
	}
	d := float64(m.config.GetInitialRetryDelay()) * math.Pow(factor, float64(attempt-1))
	return time.Duration(d)
}

func (m *Manager) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
