package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// Request header values the service expects on every API call.
const (
	// DefaultBaseURL is the production API root.
	DefaultBaseURL = "https://api3-dev.panono.com"

	defaultUserAgent = "panosync/0.1"
	originHeader     = "https://cloud.panono.com"
	jsonContentType  = "application/json;charset=UTF-8"
)

// Client is an HTTP client for the panorama cloud service. It holds no
// session state: Login returns a Session that owns its own cookie jar, so
// concurrent pipeline runs never share authentication.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	userAgent  string
}

// NewClient creates a cloud API client. baseURL is typically DefaultBaseURL.
// A nil httpClient uses http.DefaultClient; a nil logger uses slog.Default().
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
		userAgent:  defaultUserAgent,
	}
}

// SetUserAgent overrides the User-Agent header. Empty values are ignored.
func (c *Client) SetUserAgent(ua string) {
	if ua != "" {
		c.userAgent = ua
	}
}

// resolveURL turns an API path or a link returned by the service into an
// absolute URL. Absolute links (next, self, upload_url) pass through.
func (c *Client) resolveURL(ref string) string {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref
	}

	if !strings.HasPrefix(ref, "/") {
		ref = "/" + ref
	}

	return c.baseURL + ref
}

// newRequest builds a request carrying the service's fixed headers.
// Content-Type is only set for non-nil bodies.
func (c *Client) newRequest(ctx context.Context, method, ref string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.resolveURL(ref), body)
	if err != nil {
		return nil, fmt.Errorf("cloud: creating request: %w", err)
	}

	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Origin", originHeader)
	req.Header.Set("User-Agent", c.userAgent)

	if body != nil {
		req.Header.Set("Content-Type", jsonContentType)
	}

	return req, nil
}

// send executes req with hc and classifies the response. Network failures
// wrap ErrTransport; non-2xx responses become *APIError carrying kind.
// The caller closes the body on success.
func (c *Client) send(hc *http.Client, req *http.Request, kind error) (*http.Response, error) {
	resp, err := hc.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, fmt.Errorf("cloud: request canceled: %w", ctxErr)
		}

		c.logger.Warn("request failed",
			slog.String("method", req.Method),
			slog.String("path", req.URL.Path),
			slog.String("error", err.Error()),
		)

		return nil, fmt.Errorf("%w: %s %s: %w", ErrTransport, req.Method, req.URL.Path, err)
	}

	if isSuccess(resp.StatusCode) {
		c.logger.Debug("request succeeded",
			slog.String("method", req.Method),
			slog.String("path", req.URL.Path),
			slog.Int("status", resp.StatusCode),
		)

		return resp, nil
	}

	errBody, readErr := io.ReadAll(resp.Body)
	resp.Body.Close()

	if readErr != nil {
		errBody = []byte("(failed to read response body)")
	}

	c.logger.Warn("request returned error status",
		slog.String("method", req.Method),
		slog.String("path", req.URL.Path),
		slog.Int("status", resp.StatusCode),
	)

	return nil, &APIError{
		StatusCode: resp.StatusCode,
		Message:    strings.TrimSpace(string(errBody)),
		Kind:       kind,
		Err:        classifyStatus(resp.StatusCode),
	}
}

// doJSON sends a request with an optional JSON payload and decodes the JSON
// response into out (skipped when out is nil).
func (c *Client) doJSON(
	ctx context.Context, hc *http.Client, method, ref string, payload, out any, kind error,
) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("cloud: marshaling request: %w", err)
		}

		body = bytes.NewReader(data)
	}

	req, err := c.newRequest(ctx, method, ref, body)
	if err != nil {
		return err
	}

	resp, err := c.send(hc, req, kind)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		// Drain body to reuse connection.
		if _, drainErr := io.Copy(io.Discard, resp.Body); drainErr != nil {
			return fmt.Errorf("%w: draining response: %w", ErrTransport, drainErr)
		}

		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("cloud: decoding %s response: %w", redactPath(req.URL), err)
	}

	return nil
}

// redactPath returns the URL path without query string, which may carry
// signatures on pre-authenticated links.
func redactPath(u *url.URL) string {
	return u.Path
}
