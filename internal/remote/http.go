package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-arbiter/internal/device"
	"github.com/nerrad567/gray-logic-arbiter/internal/fault"
)

// Default settings for the cloud device API.
const (
	DefaultBaseURL     = "https://api.iot.yandex.net"
	DefaultTimeout     = 3 * time.Second
	DefaultSlowTimeout = 60 * time.Second

	apiPrefix       = "/v1.0"
	maxResponseSize = 1 << 20
	maxDebugBody    = 512
)

// HTTPConfig configures HTTPClient.
type HTTPConfig struct {
	BaseURL string
	Token   string

	// Timeout is the total per-request deadline.
	Timeout time.Duration

	// SlowTimeout replaces Timeout for requests touching a slow-link device.
	SlowTimeout time.Duration

	// SlowLink reports whether a device sits behind a slow link. Optional.
	SlowLink func(id string) bool
}

// HTTPClient is the Adapter for the cloud device API.
// All methods are safe for concurrent use.
type HTTPClient struct {
	cfg    HTTPConfig
	http   *http.Client
	stats  *Stats
	logger Logger
	now    func() time.Time
}

// NewHTTPClient creates a client. Zero config fields take the package defaults.
func NewHTTPClient(cfg HTTPConfig) *HTTPClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.SlowTimeout <= 0 {
		cfg.SlowTimeout = DefaultSlowTimeout
	}

	return &HTTPClient{
		cfg: cfg,
		http: &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConnsPerHost: 32,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		stats:  NewStats(),
		logger: noopLogger{},
		now:    time.Now,
	}
}

// SetLogger sets the logger.
func (c *HTTPClient) SetLogger(logger Logger) {
	c.logger = logger
}

// Stats returns the request statistics collector.
func (c *HTTPClient) Stats() *Stats {
	return c.stats
}

// DeviceInfo reads one device.
func (c *HTTPClient) DeviceInfo(ctx context.Context, id string) (*device.Snapshot, error) {
	c.stats.CountGet(id)

	path := "/devices/" + url.PathEscape(id)
	body, err := c.do(ctx, http.MethodGet, path, nil, c.timeoutFor(id))
	if err != nil {
		return nil, withDevices(err, id)
	}

	var resp deviceInfoResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fault.Wrap(fault.KindServer, err, "incorrect device response format", id).
			WithDebug(debugBody(http.MethodGet, path, body))
	}
	if resp.Status != statusOK {
		return nil, fault.Client(fmt.Sprintf("device service error: %s", resp.Message), id).
			WithDebug(debugBody(http.MethodGet, path, body))
	}
	if resp.State != stateOnline {
		return nil, fault.Offline("device is offline", id)
	}
	for _, p := range resp.Properties {
		if p.LastUpdated == 0 {
			return nil, fault.Offline("device may be offline: property never updated", id)
		}
	}

	return resp.snapshot(c.now()), nil
}

// Actions dispatches a batch of actions.
func (c *HTTPClient) Actions(ctx context.Context, actions []device.Action) ([]device.ActionResult, error) {
	ids := make([]string, 0, len(actions))
	timeout := c.cfg.Timeout
	for _, a := range actions {
		ids = append(ids, a.DeviceID)
		c.stats.CountPost(a.DeviceID)
		if c.isSlow(a.DeviceID) {
			timeout = c.cfg.SlowTimeout
		}
	}

	payload, err := json.Marshal(encodeActions(actions))
	if err != nil {
		return nil, fault.Wrap(fault.KindClient, err, "encoding actions", ids...).WithRetryable(false)
	}

	const path = "/devices/actions"
	body, err := c.do(ctx, http.MethodPost, path, payload, timeout)
	if err != nil {
		return nil, withDevices(err, ids...)
	}

	var resp actionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fault.Wrap(fault.KindServer, err, "incorrect action response format", ids...).
			WithDebug(debugBody(http.MethodPost, path, body))
	}
	if resp.Status != statusOK {
		return nil, fault.Client("device service rejected actions", ids...).
			WithDebug(debugBody(http.MethodPost, path, body))
	}

	results := resp.results()
	return results, FailedResults(results)
}

// FailedResults returns an offline fault naming every device with a result
// that is not DONE, or nil.
func FailedResults(results []device.ActionResult) error {
	var failed []string
	var details []string
	seen := make(map[string]struct{})
	for _, r := range results {
		if r.Done() {
			continue
		}
		details = append(details, fmt.Sprintf("%s %s %s: %s", r.DeviceID, r.Instance, r.Status, r.ErrorMessage))
		if _, ok := seen[r.DeviceID]; ok {
			continue
		}
		seen[r.DeviceID] = struct{}{}
		failed = append(failed, r.DeviceID)
	}
	if len(failed) == 0 {
		return nil
	}
	return fault.Offline("action not applied", failed...).WithDebug(strings.Join(details, "; "))
}

// do performs one request and classifies transport and HTTP failures.
func (c *HTTPClient) do(ctx context.Context, method, path string, payload []byte, timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+apiPrefix+path, reader)
	if err != nil {
		return nil, fault.Wrap(fault.KindClient, err, "building request").WithRetryable(false)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := c.now()
	resp, err := c.http.Do(req)
	if err != nil {
		if isTimeout(ctx, err) {
			return nil, fault.Wrap(fault.KindTimeout, err, "device service timeout").WithDebug(method + " " + path)
		}
		return nil, fault.Wrap(fault.KindServer, err, "transport error").WithDebug(method + " " + path)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		if isTimeout(ctx, err) {
			return nil, fault.Wrap(fault.KindTimeout, err, "device service timeout").WithDebug(method + " " + path)
		}
		return nil, fault.Wrap(fault.KindServer, err, "reading response").WithDebug(method + " " + path)
	}
	c.stats.ObserveRequest(path, c.now().Sub(start))

	status := resp.StatusCode
	switch {
	case status == http.StatusNotFound:
		return nil, fault.Offline("404 from device service").WithDebug(debugBody(method, path, body))
	case status >= 400 && status < 500:
		return nil, fault.Client(fmt.Sprintf("device service returned %d", status)).WithDebug(debugBody(method, path, body))
	case status >= 500 || status < 200 || status >= 300:
		return nil, fault.Server(fmt.Sprintf("device service returned %d", status)).WithDebug(debugBody(method, path, body))
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType != "application/json" {
		return nil, fault.Server(fmt.Sprintf("response content type %q is not application/json", mediaType)).
			WithDebug(debugBody(method, path, body))
	}

	return body, nil
}

func (c *HTTPClient) timeoutFor(id string) time.Duration {
	if c.isSlow(id) {
		return c.cfg.SlowTimeout
	}
	return c.cfg.Timeout
}

func (c *HTTPClient) isSlow(id string) bool {
	return c.cfg.SlowLink != nil && c.cfg.SlowLink(id)
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// withDevices attaches device IDs to a classified error that has none.
func withDevices(err error, ids ...string) error {
	if fe, ok := fault.As(err); ok && len(fe.DeviceIDs) == 0 {
		fe.DeviceIDs = ids
	}
	return err
}

func debugBody(method, path string, body []byte) string {
	if len(body) > maxDebugBody {
		body = body[:maxDebugBody]
	}
	return fmt.Sprintf("%s %s response: %s", method, path, body)
}
