package host

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

	"github.com/sumline/sumline-core/internal/infrastructure/config"
)

// Client talks to the home-automation host's local REST API.
// The host owns the source devices and executes device-level operations;
// the client never caches, every call reflects live host state.
//
// All methods honour context cancellation. The inventory fetch carries its
// own, longer timeout because enumerating every device on the host is
// markedly slower than single-device calls.
type Client struct {
	baseURL          string
	token            string
	httpClient       *http.Client
	inventoryTimeout time.Duration
}

// NewClient creates a host gateway client from configuration.
func NewClient(cfg config.HostConfig) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("%w: base_url is required", ErrInvalidConfig)
	}

	return &Client{
		baseURL:          strings.TrimRight(cfg.BaseURL, "/"),
		token:            cfg.Token,
		inventoryTimeout: cfg.GetInventoryTimeout(),
		httpClient: &http.Client{
			Timeout: cfg.GetRequestTimeout(),
		},
	}, nil
}

// FetchInventory retrieves every device known to the host.
// The call is bounded by the configured inventory timeout regardless of
// the parent context deadline.
func (c *Client) FetchInventory(ctx context.Context) ([]RawDevice, error) {
	ctx, cancel := context.WithTimeout(ctx, c.inventoryTimeout)
	defer cancel()

	// The host returns devices keyed by id.
	var byID map[string]RawDevice
	if err := c.getJSON(ctx, "/api/devices", &byID); err != nil {
		return nil, fmt.Errorf("fetching inventory: %w", err)
	}

	devices := make([]RawDevice, 0, len(byID))
	for id, d := range byID {
		if d.ID == "" {
			d.ID = id
		}
		devices = append(devices, d)
	}
	return devices, nil
}

// GetDevice retrieves a single device descriptor.
// Returns ErrNotFound if the host does not know the device.
func (c *Client) GetDevice(ctx context.Context, id string) (*RawDevice, error) {
	var d RawDevice
	if err := c.getJSON(ctx, "/api/devices/"+url.PathEscape(id), &d); err != nil {
		return nil, err
	}
	if d.ID == "" {
		d.ID = id
	}
	return &d, nil
}

// SourceStatus looks up a source device and reports whether it still
// exists, still carries at least one of the required capabilities, and
// whether the host considers it available.
func (c *Client) SourceStatus(ctx context.Context, id string, requiredCapabilities []string) (SourceStatus, error) {
	d, err := c.GetDevice(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return SourceStatus{}, nil
		}
		return SourceStatus{}, fmt.Errorf("looking up source %s: %w", id, err)
	}

	return SourceStatus{
		Present:         true,
		HasCapabilities: d.HasAnyCapability(requiredCapabilities),
		Available:       d.Available,
	}, nil
}

// RuntimeStatus retrieves the live update machinery state of a managed
// device (poll timer, capability listeners).
func (c *Client) RuntimeStatus(ctx context.Context, id string) (RuntimeStatus, error) {
	var status RuntimeStatus
	path := "/api/devices/" + url.PathEscape(id) + "/runtime"
	if err := c.getJSON(ctx, path, &status); err != nil {
		return RuntimeStatus{}, fmt.Errorf("fetching runtime status for %s: %w", id, err)
	}
	return status, nil
}

// UpdateMeterFromFlow asks the host to run the device's flow-driven meter
// update routine.
func (c *Client) UpdateMeterFromFlow(ctx context.Context, id string) error {
	path := "/api/devices/" + url.PathEscape(id) + "/meter/flow"
	if err := c.do(ctx, http.MethodPost, path, nil); err != nil {
		return fmt.Errorf("flow update for %s: %w", id, err)
	}
	return nil
}

// UpdateMeterFromMeasure asks the host to recompute the device's meter from
// instantaneous power readings.
func (c *Client) UpdateMeterFromMeasure(ctx context.Context, id string) error {
	path := "/api/devices/" + url.PathEscape(id) + "/meter/measure"
	if err := c.do(ctx, http.MethodPost, path, nil); err != nil {
		return fmt.Errorf("measure update for %s: %w", id, err)
	}
	return nil
}

// PollMeter asks the host to run an immediate meter update for a device.
func (c *Client) PollMeter(ctx context.Context, id string) error {
	path := "/api/devices/" + url.PathEscape(id) + "/poll"
	if err := c.do(ctx, http.MethodPost, path, nil); err != nil {
		return fmt.Errorf("polling meter for %s: %w", id, err)
	}
	return nil
}

// RestartDevice asks the host to restart a device after the given delay.
// A zero delay restarts immediately.
func (c *Client) RestartDevice(ctx context.Context, id string, delay time.Duration) error {
	path := "/api/devices/" + url.PathEscape(id) + "/restart"
	body := map[string]any{"delay_seconds": int(delay.Seconds())}
	if err := c.do(ctx, http.MethodPost, path, body); err != nil {
		return fmt.Errorf("restarting %s: %w", id, err)
	}
	return nil
}

// SetAvailable marks a device available on the host.
func (c *Client) SetAvailable(ctx context.Context, id string) error {
	path := "/api/devices/" + url.PathEscape(id) + "/availability"
	body := map[string]any{"available": true}
	if err := c.do(ctx, http.MethodPut, path, body); err != nil {
		return fmt.Errorf("marking %s available: %w", id, err)
	}
	return nil
}

// SetUnavailable marks a device unavailable on the host with a reason
// shown to the user.
func (c *Client) SetUnavailable(ctx context.Context, id, reason string) error {
	path := "/api/devices/" + url.PathEscape(id) + "/availability"
	body := map[string]any{"available": false, "reason": reason}
	if err := c.do(ctx, http.MethodPut, path, body); err != nil {
		return fmt.Errorf("marking %s unavailable: %w", id, err)
	}
	return nil
}

// SetSettings merges the given keys into a device's settings map.
func (c *Client) SetSettings(ctx context.Context, id string, settings map[string]any) error {
	path := "/api/devices/" + url.PathEscape(id) + "/settings"
	body := map[string]any{"settings": settings}
	if err := c.do(ctx, http.MethodPut, path, body); err != nil {
		return fmt.Errorf("updating settings for %s: %w", id, err)
	}
	return nil
}

// SetCapability writes a capability value on a device.
func (c *Client) SetCapability(ctx context.Context, id, capability string, value any) error {
	path := "/api/devices/" + url.PathEscape(id) + "/capability/" + url.PathEscape(capability)
	body := map[string]any{"value": value}
	if err := c.do(ctx, http.MethodPut, path, body); err != nil {
		return fmt.Errorf("setting %s on %s: %w", capability, id, err)
	}
	return nil
}

// getJSON performs a GET and decodes the JSON response into dest.
func (c *Client) getJSON(ctx context.Context, path string, dest any) error {
	payload, err := c.request(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(payload, dest); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// do performs a request where only success/failure matters.
func (c *Client) do(ctx context.Context, method, path string, body any) error {
	_, err := c.request(ctx, method, path, body)
	return err
}

func (c *Client) request(ctx context.Context, method, path string, body any) ([]byte, error) {
	endpoint := c.baseURL + path

	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", path, err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnreachable, endpoint, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", endpoint, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("%w: %s: %d %s",
			ErrRequestFailed, path, resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	return payload, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
