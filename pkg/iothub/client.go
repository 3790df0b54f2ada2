package iothub

import (
	"bytes"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	// APIVersion is the REST API version sent with every request by default.
	APIVersion = "2016-11-14"
	// PreviewAPIVersion is the earlier version, still accepted by the service.
	PreviewAPIVersion = "2015-08-15-preview"

	hostSuffix          = ".azure-devices.net"
	headerAuthorization = "Authorization"
	headerContentType   = "Content-Type"
	headerETag          = "ETag"
	contentTypeJSON     = "application/json"
)

// DeviceClient is the set of operations a device performs against the hub.
type DeviceClient interface {
	CreateToken(ttl time.Duration) (*AccessToken, error)
	Send(message []byte) (int, error)
	ReadMessage() (*InboundMessage, error)
	CompleteMessage(etag string) (int, error)
	RejectMessage(etag string) (int, error)
	AbandonMessage(etag string) (int, error)
}

// Identity names the device and carries its base64 shared access key.
type Identity struct {
	HubName    string
	DeviceName string
	Key        string
}

// Client talks to the device messaging endpoints of a single hub on behalf of
// a single device.
//
// The client never renews its token. Callers sign with CreateToken and must
// sign again before the token expires; requests made with an expired or
// missing token are answered by the service with 401, which is returned as
// the status code like any other.
type Client struct {
	identity   Identity
	baseURL    string
	resource   string
	apiVersion string
	httpClient *http.Client
	now        func() time.Time
	logger     zerolog.Logger

	mu    sync.RWMutex
	token *AccessToken
}

// Option configures a Client.
type Option func(*Client)

// WithAPIVersion overrides the api-version query parameter.
func WithAPIVersion(version string) Option {
	return func(c *Client) {
		c.apiVersion = version
	}
}

// WithHTTPClient sets the HTTP client used for all requests.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithEndpoint sends requests to endpoint (scheme and host, e.g.
// "http://127.0.0.1:8080") instead of the hub host. The signed resource
// still names the hub host.
func WithEndpoint(endpoint string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSuffix(endpoint, "/") + devicePath(c.identity.DeviceName)
	}
}

// WithClock replaces the wall clock used to compute token expiry.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

// WithLogger sets the logger used for request tracing.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a client for deviceName on hubName. It performs no I/O and
// does not validate key; a malformed key is reported by CreateToken.
func NewClient(hubName, deviceName, key string, opts ...Option) *Client {
	c := &Client{
		identity: Identity{
			HubName:    hubName,
			DeviceName: deviceName,
			Key:        key,
		},
		baseURL:    "https://" + hubName + hostSuffix + devicePath(deviceName),
		resource:   hubName + hostSuffix + "/devices/" + deviceName,
		apiVersion: APIVersion,
		httpClient: http.DefaultClient,
		now:        time.Now,
		logger:     zerolog.Nop(),
	}

	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewClientFromIdentity is NewClient for an already assembled Identity.
func NewClientFromIdentity(identity Identity, opts ...Option) *Client {
	return NewClient(identity.HubName, identity.DeviceName, identity.Key, opts...)
}

func devicePath(deviceName string) string {
	return "/devices/" + deviceName + "/messages/"
}

// BaseURL returns the messages URL every request is built from.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Resource returns the unencoded resource string covered by the signature.
func (c *Client) Resource() string {
	return c.resource
}

// Token returns the current credential, or nil before the first CreateToken.
func (c *Client) Token() *AccessToken {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// CreateToken signs a token valid for ttl from now, stores it as the
// credential for subsequent requests and returns it. ttl is truncated to
// whole seconds and is not validated.
func (c *Client) CreateToken(ttl time.Duration) (*AccessToken, error) {
	key, err := decodeKey(c.identity.Key)
	if err != nil {
		return nil, err
	}

	token := SignToken(key, c.resource, c.now().Unix()+int64(ttl/time.Second))

	c.mu.Lock()
	c.token = token
	c.mu.Unlock()

	c.logger.Debug().Int64("expiry", token.Expiry).Str("device", c.identity.DeviceName).Msg("Signed new access token")
	return token, nil
}

// Send posts a device-to-cloud message. 204 means the hub accepted it.
func (c *Client) Send(message []byte) (int, error) {
	resp, err := c.do(http.MethodPost, c.endpoint("events", false), message, contentTypeJSON)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

// ReadMessage fetches and locks the next cloud-to-device message. When the
// queue is empty the hub answers 204 and the returned ETag is empty.
func (c *Client) ReadMessage() (*InboundMessage, error) {
	reqURL := c.endpoint("devicebound", false)
	resp, err := c.do(http.MethodGet, reqURL, nil, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Op: http.MethodGet, URL: reqURL, Err: err}
	}

	return &InboundMessage{
		Headers:    resp.Header,
		ETag:       strings.Trim(resp.Header.Get(headerETag), `"`),
		Body:       string(body),
		StatusCode: resp.StatusCode,
	}, nil
}

// CompleteMessage acknowledges a locked message and removes it from the queue.
func (c *Client) CompleteMessage(etag string) (int, error) {
	return c.status(http.MethodDelete, c.endpoint("devicebound/"+url.PathEscape(etag), false))
}

// RejectMessage removes a locked message without redelivery.
func (c *Client) RejectMessage(etag string) (int, error) {
	return c.status(http.MethodDelete, c.endpoint("devicebound/"+url.PathEscape(etag), true))
}

// AbandonMessage releases a locked message back to the queue.
func (c *Client) AbandonMessage(etag string) (int, error) {
	return c.status(http.MethodPost, c.endpoint("devicebound/"+url.PathEscape(etag)+"/abandon", false))
}

func (c *Client) endpoint(path string, reject bool) string {
	query := "api-version=" + c.apiVersion
	if reject {
		query = "reject&" + query
	}
	return c.baseURL + path + "?" + query
}

func (c *Client) status(method, reqURL string) (int, error) {
	resp, err := c.do(method, reqURL, nil, "")
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

// do issues one request. Any HTTP response is returned to the caller; only
// transport failures become errors.
func (c *Client) do(method, reqURL string, body []byte, contentType string) (*http.Response, error) {
	req, err := http.NewRequest(method, reqURL, bytes.NewReader(body))
	if err != nil {
		return nil, &NetworkError{Op: method, URL: reqURL, Err: err}
	}

	if token := c.Token(); token != nil {
		req.Header.Set(headerAuthorization, token.String())
	}
	if contentType != "" {
		req.Header.Set(headerContentType, contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug().Err(err).Str("method", method).Str("url", reqURL).Msg("Request failed")
		return nil, &NetworkError{Op: method, URL: reqURL, Err: err}
	}

	c.logger.Debug().Str("method", method).Str("url", reqURL).Int("status", resp.StatusCode).Msg("Request completed")
	return resp, nil
}
