// Package controlcenter reads devices, bridges and ports from the SDN control
// center's REST API.
package controlcenter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"sdn-stats/internal/models"
)

// ErrNotFound is returned when the backend has no such device or bridge.
var ErrNotFound = errors.New("not found")

// Client talks to the control center backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      string
}

// NewClient creates a client for the backend at baseURL. token, when set, is
// sent as a knox "Token" authorization header.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		token:      token,
	}
}

// ListDevices returns every managed device.
func (c *Client) ListDevices(ctx context.Context) ([]models.Device, error) {
	var devices []models.Device
	if err := c.get(ctx, "/devices/", &devices); err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	return devices, nil
}

// GetDevice returns the device at ip.
func (c *Client) GetDevice(ctx context.Context, ip string) (*models.Device, error) {
	var resp struct {
		Status  string        `json:"status"`
		Message string        `json:"message"`
		Device  models.Device `json:"device"`
	}
	if err := c.get(ctx, "/device-details/"+url.PathEscape(ip)+"/", &resp); err != nil {
		return nil, fmt.Errorf("failed to get device %s: %w", ip, err)
	}
	if resp.Status != "success" {
		return nil, fmt.Errorf("device %s: %s: %w", ip, resp.Message, ErrNotFound)
	}
	return &resp.Device, nil
}

// DeviceBridges returns the OVS bridges of the device at ip. A device without
// bridges yields an empty slice.
func (c *Client) DeviceBridges(ctx context.Context, ip string) ([]models.Bridge, error) {
	var resp struct {
		Status  string          `json:"status"`
		Bridges []models.Bridge `json:"bridges"`
	}
	if err := c.get(ctx, "/device-bridges/"+url.PathEscape(ip)+"/", &resp); err != nil {
		return nil, fmt.Errorf("failed to get bridges of %s: %w", ip, err)
	}
	if resp.Bridges == nil {
		return []models.Bridge{}, nil
	}
	return resp.Bridges, nil
}

// DevicePorts returns the bridge-attached ports of the device at ip.
func (c *Client) DevicePorts(ctx context.Context, ip string) ([]models.Port, error) {
	var resp struct {
		Status string        `json:"status"`
		Ports  []models.Port `json:"ports"`
	}
	if err := c.get(ctx, "/device-ports/"+url.PathEscape(ip)+"/", &resp); err != nil {
		return nil, fmt.Errorf("failed to get ports of %s: %w", ip, err)
	}
	if resp.Ports == nil {
		return []models.Port{}, nil
	}
	return resp.Ports, nil
}

// DeviceDetails fetches a device with its bridges and ports.
func (c *Client) DeviceDetails(ctx context.Context, ip string) (*models.DeviceDetails, error) {
	device, err := c.GetDevice(ctx, ip)
	if err != nil {
		return nil, err
	}
	bridges, err := c.DeviceBridges(ctx, ip)
	if err != nil {
		return nil, err
	}
	ports, err := c.DevicePorts(ctx, ip)
	if err != nil {
		return nil, err
	}
	return &models.DeviceDetails{Device: *device, Bridges: bridges, Ports: ports}, nil
}

// BridgePortNames resolves a bridge by name on the device at ip and returns the
// names of its ports.
func (c *Client) BridgePortNames(ctx context.Context, ip, bridge string) ([]string, error) {
	bridges, err := c.DeviceBridges(ctx, ip)
	if err != nil {
		return nil, err
	}
	names, ok := BridgePorts(bridges, bridge)
	if !ok {
		return nil, fmt.Errorf("bridge %s on %s: %w", bridge, ip, ErrNotFound)
	}
	return names, nil
}

// BridgePorts picks the bridge called name and returns its port names.
func BridgePorts(bridges []models.Bridge, name string) ([]string, bool) {
	for _, b := range bridges {
		if b.Name != name {
			continue
		}
		names := make([]string, 0, len(b.Ports))
		for _, p := range b.Ports {
			if p.Name != "" {
				names = append(names, p.Name)
			}
		}
		return names, true
	}
	return nil, false
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Token "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
