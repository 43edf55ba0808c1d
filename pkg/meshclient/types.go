package meshclient

import (
	"encoding/json"
	"time"
)

// Config configures a mesh client.
type Config struct {
	// GatekeeperURL is the broker base URL, e.g. http://gatekeeper:8080.
	GatekeeperURL string
	// Name is the human label for this device; must be unique on the mesh.
	Name string
	// Kind is the device class (laptop, phone, server, ...). Unset maps to
	// "unknown" server-side.
	Kind string
	// Capabilities are informational tags declared at registration.
	Capabilities []string
	// HeartbeatInterval is how often the background heartbeat fires.
	HeartbeatInterval time.Duration
	// Timeout bounds each HTTP call.
	Timeout time.Duration
}

// SetDefaults fills the optional knobs.
func (c *Config) SetDefaults() {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.Capabilities == nil {
		c.Capabilities = []string{"execute", "sync", "backup"}
	}
}

// Message is one delivered unit of mesh traffic as seen by a device.
type Message struct {
	ID        string          `json:"id"`
	From      string          `json:"from"`
	To        string          `json:"to"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
	Signature string          `json:"signature,omitempty"`
}

type registerResponse struct {
	Success  bool   `json:"success"`
	DeviceID string `json:"deviceId"`
	Token    string `json:"token"`
	Error    string `json:"error"`
}

type messagesResponse struct {
	Success  bool      `json:"success"`
	Messages []Message `json:"messages"`
	Error    string    `json:"error"`
}

type basicResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}
