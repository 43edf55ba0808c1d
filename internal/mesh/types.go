package mesh

import (
	"encoding/json"
	"time"
)

// Reserved addressing values on the wire.
const (
	// Broadcast addresses a message to whichever device polls first.
	// Delivery is consume-once, not fan-out.
	Broadcast = "broadcast"
	// SenderGatekeeper marks admin-originated traffic.
	SenderGatekeeper = "gatekeeper"
)

// DeviceKind is the closed set of device classes.
type DeviceKind string

const (
	KindLaptop  DeviceKind = "laptop"
	KindDesktop DeviceKind = "desktop"
	KindPhone   DeviceKind = "phone"
	KindTablet  DeviceKind = "tablet"
	KindServer  DeviceKind = "server"
	KindIoT     DeviceKind = "iot"
	KindUnknown DeviceKind = "unknown"
)

// ParseDeviceKind maps a wire string onto the enum, falling back to unknown.
func ParseDeviceKind(s string) DeviceKind {
	switch DeviceKind(s) {
	case KindLaptop, KindDesktop, KindPhone, KindTablet, KindServer, KindIoT:
		return DeviceKind(s)
	default:
		return KindUnknown
	}
}

// DeviceState is the lifecycle state of a registered device.
type DeviceState string

const (
	StatePending DeviceState = "pending"
	StateOnline  DeviceState = "online"
	StateOffline DeviceState = "offline"
)

// Device is one mesh participant as tracked by the registry.
type Device struct {
	ID            string      `json:"id"`
	Name          string      `json:"name"`
	Kind          DeviceKind  `json:"type"`
	SourceAddress string      `json:"ip"`
	LastSeen      time.Time   `json:"lastSeen"`
	State         DeviceState `json:"status"`
	Capabilities  []string    `json:"capabilities"`
	PublicKey     string      `json:"publicKey,omitempty"`
}

// MessageKind is the closed set of message types.
type MessageKind string

const (
	MsgCommand   MessageKind = "command"
	MsgResponse  MessageKind = "response"
	MsgSync      MessageKind = "sync"
	MsgHeartbeat MessageKind = "heartbeat"
	MsgAlert     MessageKind = "alert"
)

// ValidMessageKind reports whether s is one of the five allowed kinds.
func ValidMessageKind(s string) bool {
	switch MessageKind(s) {
	case MsgCommand, MsgResponse, MsgSync, MsgHeartbeat, MsgAlert:
		return true
	default:
		return false
	}
}

// Message is one unit of mesh traffic. Once enqueued it is immutable;
// the only mutation is delivery-and-removal.
type Message struct {
	ID        string          `json:"id"`
	From      string          `json:"from"`
	To        string          `json:"to"`
	Kind      MessageKind     `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"timestamp"`
	Signature string          `json:"signature,omitempty"`
}

// HealthInfo is the /mesh/health body.
type HealthInfo struct {
	Success    bool         `json:"success"`
	Gatekeeper string       `json:"gatekeeper"`
	Devices    DeviceCounts `json:"devices"`
	Queued     int          `json:"queuedMessages"`
}

type DeviceCounts struct {
	Total   int `json:"total"`
	Online  int `json:"online"`
	Pending int `json:"pending"`
}
