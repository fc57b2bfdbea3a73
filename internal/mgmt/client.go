package mgmt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	apidocs "trustcheck/docs/api"
	"trustcheck/internal/api"
)

const (
	DefaultManagementURL = "http://127.0.0.1:8100"
	DefaultProxyURL      = "http://127.0.0.1:8105"
	DefaultUser          = "admin"
	DefaultTimeout       = 20 * time.Second

	DeviceInfoPath   = "/mgmt/shared/identified-devices/config/device-info"
	CertificatesPath = "/mgmt/shared/device-certificates"
	TrustedProxyPath = "/shared/TrustedProxy"

	maxErrorBody    = 512
	maxResponseBody = 8 << 20
)

// ErrNoLocalCertificates means the local management stack returned no
// certificate items. This is a configuration problem, not a transient one.
var ErrNoLocalCertificates = errors.New("local device has no certificates")

// ErrInvalidResponse wraps responses that do not match the expected shape.
var ErrInvalidResponse = errors.New("invalid response")

// HTTPError is returned for any non-2xx response.
type HTTPError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

// Client talks to the local management API and the local trust proxy.
type Client struct {
	mgmtURL  string
	proxyURL string
	user     string
	password string
	http     *http.Client
	schemas  *apidocs.Schemas
}

// Option configures a Client.
type Option func(*Client)

func WithManagementURL(u string) Option {
	return func(c *Client) { c.mgmtURL = strings.TrimRight(u, "/") }
}

func WithProxyURL(u string) Option {
	return func(c *Client) { c.proxyURL = strings.TrimRight(u, "/") }
}

func WithCredentials(user, password string) Option {
	return func(c *Client) { c.user, c.password = user, password }
}

// WithHTTPClient replaces the underlying HTTP client, including its timeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithSchemas sets the response validator. Passing nil disables validation.
func WithSchemas(s *apidocs.Schemas) Option {
	return func(c *Client) { c.schemas = s }
}

// New builds a client with local defaults. TRUSTCHECK_MGMT_URL and
// TRUSTCHECK_PROXY_URL override the endpoints before options are applied.
func New(opts ...Option) (*Client, error) {
	c := &Client{
		mgmtURL:  DefaultManagementURL,
		proxyURL: DefaultProxyURL,
		user:     DefaultUser,
		http:     &http.Client{Timeout: DefaultTimeout},
	}
	if v := os.Getenv("TRUSTCHECK_MGMT_URL"); v != "" {
		c.mgmtURL = strings.TrimRight(v, "/")
	}
	if v := os.Getenv("TRUSTCHECK_PROXY_URL"); v != "" {
		c.proxyURL = strings.TrimRight(v, "/")
	}
	schemas, err := apidocs.Load()
	if err != nil {
		return nil, err
	}
	c.schemas = schemas
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// LocalDeviceInfo fetches the identity of the local device.
func (c *Client) LocalDeviceInfo(ctx context.Context) (api.DeviceInfo, error) {
	var info api.DeviceInfo
	body, err := c.do(ctx, http.MethodGet, c.mgmtURL+DeviceInfoPath, nil, true)
	if err != nil {
		return info, err
	}
	if err := c.decode(apidocs.SchemaDeviceInfo, body, &info); err != nil {
		return info, fmt.Errorf("local device info: %w", err)
	}
	return info, nil
}

// LocalCertificates fetches the local certificate list. A missing or empty
// items array yields ErrNoLocalCertificates.
func (c *Client) LocalCertificates(ctx context.Context) ([]api.Certificate, error) {
	body, err := c.do(ctx, http.MethodGet, c.mgmtURL+CertificatesPath, nil, true)
	if err != nil {
		return nil, err
	}
	var list api.CertificateList
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("local certificates: %w: %v", ErrInvalidResponse, err)
	}
	if len(list.Items) == 0 {
		return nil, ErrNoLocalCertificates
	}
	if err := c.validate(apidocs.SchemaLocalCertificateList, body); err != nil {
		return nil, fmt.Errorf("local certificates: %w", err)
	}
	return list.Items, nil
}

// TrustTokens lists the outbound trust tokens held by the trust proxy.
func (c *Client) TrustTokens(ctx context.Context) ([]api.TrustToken, error) {
	body, err := c.do(ctx, http.MethodGet, c.proxyURL+TrustedProxyPath, nil, false)
	if err != nil {
		return nil, err
	}
	var tokens []api.TrustToken
	if err := c.decode(apidocs.SchemaTrustTokenList, body, &tokens); err != nil {
		return nil, fmt.Errorf("trust tokens: %w", err)
	}
	return tokens, nil
}

// RemoteDeviceInfo fetches the identity of the token target through the relay.
func (c *Client) RemoteDeviceInfo(ctx context.Context, tok api.TrustToken) (api.DeviceInfo, error) {
	var info api.DeviceInfo
	body, err := c.relay(ctx, tok.RemoteURL(DeviceInfoPath))
	if err != nil {
		return info, err
	}
	if err := c.decode(apidocs.SchemaDeviceInfo, body, &info); err != nil {
		return info, fmt.Errorf("remote device info from %s: %w", tok.Address(), err)
	}
	return info, nil
}

// RemoteCertificates fetches the token target's certificate list through the
// relay. A response without items is an empty list.
func (c *Client) RemoteCertificates(ctx context.Context, tok api.TrustToken) ([]api.Certificate, error) {
	body, err := c.relay(ctx, tok.RemoteURL(CertificatesPath))
	if err != nil {
		return nil, err
	}
	var list api.CertificateList
	if err := c.decode(apidocs.SchemaRemoteCertificateList, body, &list); err != nil {
		return nil, fmt.Errorf("remote certificates from %s: %w", tok.Address(), err)
	}
	if list.Items == nil {
		return []api.Certificate{}, nil
	}
	return list.Items, nil
}

func (c *Client) relay(ctx context.Context, uri string) ([]byte, error) {
	payload, err := json.Marshal(api.ProxyRequest{Method: api.ProxyMethodGet, URI: uri})
	if err != nil {
		return nil, err
	}
	body, err := c.do(ctx, http.MethodPost, c.proxyURL+TrustedProxyPath, payload, false)
	if err != nil {
		return nil, fmt.Errorf("relay %s: %w", uri, err)
	}
	return body, nil
}

func (c *Client) do(ctx context.Context, method, url string, payload []byte, auth bool) ([]byte, error) {
	var rd io.Reader
	if payload != nil {
		rd = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth {
		req.SetBasicAuth(c.user, c.password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &HTTPError{Method: method, URL: url, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("%s %s: read body: %w", method, url, err)
	}
	return b, nil
}

func (c *Client) decode(schema string, body []byte, v any) error {
	if err := c.validate(schema, body); err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return nil
}

func (c *Client) validate(schema string, body []byte) error {
	if c.schemas == nil {
		return nil
	}
	if err := c.schemas.Validate(schema, body); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return nil
}
