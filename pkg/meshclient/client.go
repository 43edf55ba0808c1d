// Package meshclient is the device-side agent for a mesh gatekeeper. A client
// registers once, then heartbeats in the background and lets device-local code
// send, poll and sync. Every call fails closed: transport errors are logged
// and surface as false/empty returns, never as panics or propagated errors.
package meshclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"meshgate/internal/logs"
)

// Client talks to one gatekeeper on behalf of one device.
type Client struct {
	config     Config
	httpClient *http.Client
	baseURL    *url.URL
	log        *logrus.Entry

	mu       sync.Mutex
	deviceID string
	token    string
	stopHB   chan struct{}
}

// NewClient validates the config and builds a client. It does not touch the
// network; call Register to join the mesh.
func NewClient(config Config) (*Client, error) {
	config.SetDefaults()

	if config.GatekeeperURL == "" {
		return nil, fmt.Errorf("GatekeeperURL is required")
	}
	if config.Name == "" {
		return nil, fmt.Errorf("Name is required")
	}
	baseURL, err := url.Parse(config.GatekeeperURL)
	if err != nil {
		return nil, fmt.Errorf("invalid GatekeeperURL: %w", err)
	}

	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		baseURL:    baseURL,
		log:        logs.Component("agent"),
	}, nil
}

// DeviceID returns the id issued at registration, empty before Register.
func (c *Client) DeviceID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deviceID
}

// Registered reports whether the client holds an identity.
func (c *Client) Registered() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deviceID != "" && c.token != ""
}

// Register joins the mesh and starts the background heartbeat on success.
// One-shot: a true return means the client holds its deviceId and token.
func (c *Client) Register(ctx context.Context, registrationKey string) bool {
	body := map[string]any{
		"name":         c.config.Name,
		"type":         c.config.Kind,
		"capabilities": c.config.Capabilities,
	}
	if registrationKey != "" {
		body["registrationKey"] = registrationKey
	}

	var resp registerResponse
	if err := c.post(ctx, "/mesh/register", body, &resp); err != nil {
		c.log.Errorf("registration error: %v", err)
		return false
	}
	if !resp.Success {
		c.log.Errorf("registration failed: %s", resp.Error)
		return false
	}

	c.mu.Lock()
	c.deviceID = resp.DeviceID
	c.token = resp.Token
	if c.stopHB == nil {
		c.stopHB = make(chan struct{})
		go c.heartbeatLoop(c.stopHB)
	}
	c.mu.Unlock()

	c.log.Infof("registered with mesh as %s (%s)", c.config.Name, resp.DeviceID)
	return true
}

// SendMessage queues a message for another device (or broadcast). Requires a
// prior successful Register and an admin approval of this device.
func (c *Client) SendMessage(ctx context.Context, to, msgType string, payload any) bool {
	deviceID, token, ok := c.identity()
	if !ok {
		c.log.Error("not registered")
		return false
	}

	var resp basicResponse
	err := c.post(ctx, "/mesh/send", map[string]any{
		"deviceId": deviceID,
		"token":    token,
		"to":       to,
		"type":     msgType,
		"payload":  payload,
	}, &resp)
	if err != nil {
		c.log.Warnf("send failed: %v", err)
		return false
	}
	return resp.Success
}

// GetMessages drains this device's pending messages (including any broadcast
// messages still unclaimed). Empty on any failure.
func (c *Client) GetMessages(ctx context.Context) []Message {
	deviceID, token, ok := c.identity()
	if !ok {
		return nil
	}

	u := c.baseURL.JoinPath("/mesh/messages/" + deviceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil
	}
	req.Header.Set("X-Mesh-Token", token)

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Warnf("poll failed: %v", err)
		return nil
	}
	defer httpResp.Body.Close()

	var resp messagesResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil || !resp.Success {
		return nil
	}
	return resp.Messages
}

// Sync pushes data to every other online device on the mesh.
func (c *Client) Sync(ctx context.Context, dataType string, data any) bool {
	deviceID, token, ok := c.identity()
	if !ok {
		return false
	}

	var resp basicResponse
	err := c.post(ctx, "/mesh/sync", map[string]any{
		"deviceId": deviceID,
		"token":    token,
		"dataType": dataType,
		"data":     data,
	}, &resp)
	if err != nil {
		c.log.Warnf("sync failed: %v", err)
		return false
	}
	return resp.Success
}

// Disconnect stops the background heartbeat. The gatekeeper will mark the
// device offline after its idle window passes.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopHB != nil {
		close(c.stopHB)
		c.stopHB = nil
	}
}

func (c *Client) identity() (deviceID, token string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deviceID, c.token, c.deviceID != "" && c.token != ""
}

// heartbeatLoop fires until Disconnect. A failed heartbeat is logged and not
// retried before the next tick; a partition longer than the gatekeeper's idle
// window therefore flips the device offline even though this process lives.
func (c *Client) heartbeatLoop(stop <-chan struct{}) {
	t := time.NewTicker(c.config.HeartbeatInterval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			deviceID, token, ok := c.identity()
			if !ok {
				continue
			}
			var resp basicResponse
			err := c.post(context.Background(), "/mesh/heartbeat", map[string]any{
				"deviceId": deviceID,
				"token":    token,
			}, &resp)
			if err != nil || !resp.Success {
				c.log.Warn("heartbeat failed")
			}
		}
	}
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	u := c.baseURL.JoinPath(path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(out)
}
