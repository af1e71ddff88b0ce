package apiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultTimeout bounds a single upstream request.
const DefaultTimeout = 10 * time.Second

// UserAgent is sent with every upstream request.
const UserAgent = "hasl/3 (+https://github.com/hasl-sensors/hasl)"

// maxErrorBody caps how much of a failed response body is kept for the error.
const maxErrorBody = 512

// secretParams are query parameters whose values are replaced in error URLs.
var secretParams = []string{"key", "accessId", "access_id", "token"}

// HTTPError is returned for non-2xx upstream responses.
type HTTPError struct {
	URL        string
	Status     string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s: %s", e.URL, e.Status)
}

// Option configures the round tripper of a client built by NewHTTPClient.
type Option func(*headerRoundTripper)

// WithBearer sends "Authorization: Bearer <token()>" on every request.
// token is resolved per request so rotated secrets are picked up.
func WithBearer(token func() string) Option {
	return func(t *headerRoundTripper) { t.bearer = token }
}

// WithHeader sets a static header on every request.
func WithHeader(name, value string) Option {
	return func(t *headerRoundTripper) { t.headers.Set(name, value) }
}

// headerRoundTripper injects the user agent and auth headers into every
// outgoing request.
type headerRoundTripper struct {
	base    http.RoundTripper
	headers http.Header
	bearer  func() string
}

func (t *headerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for k, v := range t.headers {
		req.Header[k] = v
	}
	if t.bearer != nil {
		if tok := t.bearer(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}
	return t.base.RoundTrip(req)
}

// NewHTTPClient builds a client with the given timeout (DefaultTimeout when
// zero) and options.
func NewHTTPClient(timeout time.Duration, opts ...Option) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	rt := &headerRoundTripper{
		base:    http.DefaultTransport,
		headers: http.Header{"User-Agent": []string{UserAgent}},
	}
	for _, opt := range opts {
		opt(rt)
	}
	return &http.Client{Transport: rt, Timeout: timeout}
}

// Check converts a non-2xx response into an *HTTPError, draining and closing
// the body. It returns nil for successful responses.
func Check(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	_, _ = io.Copy(io.Discard, resp.Body)
	return &HTTPError{
		URL:        Redact(resp.Request.URL),
		Status:     resp.Status,
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(body)),
	}
}

// GetBytes performs a GET and returns the raw body of a 2xx response.
func GetBytes(ctx context.Context, client *http.Client, rawURL string) ([]byte, error) {
	resp, err := get(ctx, client, rawURL, "*/*")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

// GetJSON performs a GET and decodes a 2xx JSON response into v.
func GetJSON(ctx context.Context, client *http.Client, rawURL string, v any) error {
	resp, err := get(ctx, client, rawURL, "application/json")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode json: %w", err)
	}
	return nil
}

func get(ctx context.Context, client *http.Client, rawURL, accept string) (*http.Response, error) {
	if client == nil {
		client = NewHTTPClient(0)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", accept)

	resp, err := client.Do(req)
	if err != nil {
		if ue, ok := err.(*url.Error); ok {
			ue.URL = RedactString(ue.URL)
		}
		return nil, fmt.Errorf("http get: %w", err)
	}
	if err := Check(resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Redact renders u with userinfo passwords and API key query values hidden.
func Redact(u *url.URL) string {
	if u == nil {
		return ""
	}
	c := *u
	q := c.Query()
	changed := false
	for _, p := range secretParams {
		if q.Has(p) {
			q.Set(p, "xxxxx")
			changed = true
		}
	}
	if changed {
		c.RawQuery = q.Encode()
	}
	return c.Redacted()
}

// RedactString is Redact for a raw URL string. Unparseable input is returned
// with its query stripped.
func RedactString(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		if i := strings.IndexByte(rawURL, '?'); i >= 0 {
			return rawURL[:i]
		}
		return rawURL
	}
	return Redact(u)
}

// MaskKey replaces every character of an API key with '*' for logging.
func MaskKey(key string) string {
	return strings.Repeat("*", len(key))
}
