package mesh

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"meshgate/internal/logs"
)

// AuditSink receives best-effort copies of registry mutations. Implementations
// must tolerate being called concurrently; a nil sink disables auditing.
type AuditSink interface {
	DeviceRegistered(ctx context.Context, d Device)
	DeviceApproved(ctx context.Context, deviceID string)
	DeviceRejected(ctx context.Context, deviceID string)
	DeviceState(ctx context.Context, deviceID string, state DeviceState)
}

// Options configure a Gatekeeper.
type Options struct {
	// SecretKey is the shared broker secret; device tokens derive from it and
	// it doubles as the admin token.
	SecretKey string
	// RegistrationKey, when non-empty, must accompany every registration.
	RegistrationKey string
	// OfflineAfter is the idle window before the sweep marks a device offline.
	OfflineAfter time.Duration
	// SweepInterval is the liveness sweep period.
	SweepInterval time.Duration
	// Audit is optional.
	Audit AuditSink
}

// Gatekeeper is the broker mediating all device interaction. It is the single
// owner of the registry, queue and approval set: every mutation goes through
// one lock, so handlers observe consistent state and Drain is atomic with
// respect to concurrent pollers.
type Gatekeeper struct {
	mu       sync.Mutex
	registry *Registry
	queue    *Queue
	tokens   *TokenAuthority
	commands *CommandValidator

	registrationKey string
	offlineAfter    time.Duration
	sweepInterval   time.Duration

	audit AuditSink
	now   func() time.Time
	log   *logrus.Entry
}

func New(opts Options) *Gatekeeper {
	if opts.OfflineAfter <= 0 {
		opts.OfflineAfter = 5 * time.Minute
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = time.Minute
	}
	return &Gatekeeper{
		registry:        NewRegistry(),
		queue:           NewQueue(),
		tokens:          NewTokenAuthority(opts.SecretKey),
		commands:        NewCommandValidator(),
		registrationKey: opts.RegistrationKey,
		offlineAfter:    opts.OfflineAfter,
		sweepInterval:   opts.SweepInterval,
		audit:           opts.Audit,
		now:             time.Now,
		log:             logs.Component("gatekeeper"),
	}
}

// GenerateSecretKey returns a random 32-byte hex secret for deployments that
// did not configure one.
func GenerateSecretKey() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}

// RegisterInput carries everything /mesh/register needs.
type RegisterInput struct {
	Name            string
	Kind            string
	Capabilities    []string
	PublicKey       string
	RegistrationKey string
	SourceAddress   string
}

// Register admits a new device in pending state and returns its identity.
func (g *Gatekeeper) Register(ctx context.Context, in RegisterInput) (deviceID, token string, err error) {
	if g.registrationKey != "" && in.RegistrationKey != g.registrationKey {
		return "", "", rejectRegistration("Invalid registration key")
	}

	g.mu.Lock()
	if g.registry.NameTaken(in.Name) {
		g.mu.Unlock()
		return "", "", rejectRegistration("Device name already registered")
	}

	now := g.now()
	deviceID = g.tokens.DeviceID(in.Name, in.SourceAddress, now)
	// Truncated digest ids are collision-resistant, not unique; re-derive on
	// the off chance the id is already taken.
	for tries := 0; g.registry.Has(deviceID) && tries < 8; tries++ {
		now = now.Add(time.Millisecond)
		deviceID = g.tokens.DeviceID(in.Name, in.SourceAddress, now)
	}

	dev := &Device{
		ID:            deviceID,
		Name:          in.Name,
		Kind:          ParseDeviceKind(in.Kind),
		SourceAddress: in.SourceAddress,
		LastSeen:      g.now(),
		State:         StatePending,
		Capabilities:  in.Capabilities,
		PublicKey:     in.PublicKey,
	}
	if dev.Capabilities == nil {
		dev.Capabilities = []string{}
	}
	g.registry.Put(dev)
	snapshot := *dev
	g.mu.Unlock()

	g.log.Infof("device registered: %s (%s)", in.Name, deviceID)
	if g.audit != nil {
		g.audit.DeviceRegistered(ctx, snapshot)
	}
	return deviceID, g.tokens.Token(deviceID), nil
}

// authLocked authenticates a device call. The registry lookup runs first: a
// removed device fails auth even though its stateless token would still
// re-derive.
func (g *Gatekeeper) authLocked(deviceID, token string) error {
	if !g.registry.Has(deviceID) {
		return rejectAuth()
	}
	if !g.tokens.VerifyToken(deviceID, token) {
		return rejectAuth()
	}
	return nil
}

// Heartbeat records device liveness and returns the accepted timestamp.
func (g *Gatekeeper) Heartbeat(ctx context.Context, deviceID, token string) (time.Time, error) {
	g.mu.Lock()
	if err := g.authLocked(deviceID, token); err != nil {
		g.mu.Unlock()
		return time.Time{}, err
	}
	now := g.now()
	revived, _ := g.registry.Heartbeat(deviceID, now)
	g.mu.Unlock()

	if revived {
		g.log.Infof("device back online: %s", deviceID)
		if g.audit != nil {
			g.audit.DeviceState(ctx, deviceID, StateOnline)
		}
	}
	return now, nil
}

// SendInput carries everything /mesh/send needs.
type SendInput struct {
	DeviceID string
	Token    string
	To       string
	Kind     string
	Payload  json.RawMessage
}

// Send validates and enqueues one device-originated message, returning its id.
func (g *Gatekeeper) Send(in SendInput) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.authLocked(in.DeviceID, in.Token); err != nil {
		return "", err
	}
	if !g.registry.IsApproved(in.DeviceID) && in.DeviceID != SenderGatekeeper {
		return "", rejectSend("Sender not approved")
	}
	if in.To != Broadcast && !g.registry.Has(in.To) {
		return "", rejectSend("Recipient not found")
	}
	if !ValidMessageKind(in.Kind) {
		return "", rejectSend("Invalid message type")
	}

	msg := Message{
		ID:        uuid.NewString(),
		From:      in.DeviceID,
		To:        in.To,
		Kind:      MessageKind(in.Kind),
		Payload:   in.Payload,
		CreatedAt: g.now(),
		Signature: g.tokens.Sign(in.DeviceID, in.Payload),
	}
	g.queue.Enqueue(msg)
	g.log.Debugf("message queued: %s -> %s (%s)", msg.From, msg.To, msg.Kind)
	return msg.ID, nil
}

// Drain authenticates the poller and hands over every message addressed to it
// or to broadcast, removing them from the queue in the same critical section.
func (g *Gatekeeper) Drain(deviceID, token string) ([]Message, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.authLocked(deviceID, token); err != nil {
		return nil, err
	}
	delivered := g.queue.Drain(deviceID)
	if delivered == nil {
		delivered = []Message{}
	}
	return delivered, nil
}

// ListDevices returns every registered device for an admin caller. Public
// keys are withheld from listings.
func (g *Gatekeeper) ListDevices(adminToken string) ([]Device, error) {
	if !g.tokens.IsAdmin(adminToken) {
		return nil, rejectAdmin()
	}
	g.mu.Lock()
	devices := g.registry.Snapshot()
	g.mu.Unlock()

	for i := range devices {
		devices[i].PublicKey = ""
	}
	return devices, nil
}

// Approve vets a pending device (approve=true: online + approved) or removes
// it outright (approve=false). Returns the resulting status string.
func (g *Gatekeeper) Approve(ctx context.Context, adminToken, deviceID string, approve bool) (string, error) {
	if !g.tokens.IsAdmin(adminToken) {
		return "", rejectAdmin()
	}

	g.mu.Lock()
	dev, ok := g.registry.Get(deviceID)
	if !ok {
		g.mu.Unlock()
		return "", notFound("Device not found")
	}
	name := dev.Name
	if approve {
		g.registry.Approve(deviceID)
	} else {
		g.registry.Remove(deviceID)
	}
	g.mu.Unlock()

	if approve {
		g.log.Infof("device approved: %s", name)
		if g.audit != nil {
			g.audit.DeviceApproved(ctx, deviceID)
		}
		return "approved", nil
	}
	g.log.Infof("device rejected: %s", name)
	if g.audit != nil {
		g.audit.DeviceRejected(ctx, deviceID)
	}
	return "rejected", nil
}

// mergeCommandPayload folds the command name into the payload. Payload keys
// win on conflict.
func mergeCommandPayload(command string, payload map[string]any) (json.RawMessage, error) {
	merged := make(map[string]any, len(payload)+1)
	merged["command"] = command
	for k, v := range payload {
		merged[k] = v
	}
	return json.Marshal(merged)
}

// Broadcast queues an admin command consumable by the first device to poll.
func (g *Gatekeeper) Broadcast(adminToken, command string, payload map[string]any) (string, error) {
	if !g.tokens.IsAdmin(adminToken) {
		return "", rejectAdmin()
	}
	body, err := mergeCommandPayload(command, payload)
	if err != nil {
		return "", rejectSend("Invalid payload")
	}

	msg := Message{
		ID:        uuid.NewString(),
		From:      SenderGatekeeper,
		To:        Broadcast,
		Kind:      MsgCommand,
		Payload:   body,
		CreatedAt: g.now(),
		Signature: g.tokens.Sign(SenderGatekeeper, body),
	}
	g.mu.Lock()
	g.queue.Enqueue(msg)
	g.mu.Unlock()

	g.log.Infof("broadcast: %s", command)
	return msg.ID, nil
}

// Execute queues a vetted command for one device. The command must clear the
// blocklist and match the allowlist before it is queued.
func (g *Gatekeeper) Execute(adminToken, targetDevice, command string, payload map[string]any) (string, error) {
	if !g.tokens.IsAdmin(adminToken) {
		return "", rejectAdmin()
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	dev, ok := g.registry.Get(targetDevice)
	if !ok {
		return "", notFound("Device not found")
	}
	if err := g.commands.Validate(command); err != nil {
		return "", err
	}
	body, err := mergeCommandPayload(command, payload)
	if err != nil {
		return "", rejectSend("Invalid payload")
	}

	msg := Message{
		ID:        uuid.NewString(),
		From:      SenderGatekeeper,
		To:        targetDevice,
		Kind:      MsgCommand,
		Payload:   body,
		CreatedAt: g.now(),
		Signature: g.tokens.Sign(SenderGatekeeper, body),
	}
	g.queue.Enqueue(msg)
	g.log.Infof("command to %s: %s", dev.Name, command)
	return msg.ID, nil
}

// Sync fans the sender's data out as one sync message per currently online
// device, sender excluded. Fan-out messages are unsigned.
func (g *Gatekeeper) Sync(deviceID, token, dataType string, data json.RawMessage) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.authLocked(deviceID, token); err != nil {
		return err
	}
	body, err := json.Marshal(map[string]any{"dataType": dataType, "data": data})
	if err != nil {
		return rejectSend("Invalid payload")
	}
	for _, d := range g.registry.Snapshot() {
		if d.ID == deviceID || d.State != StateOnline {
			continue
		}
		g.queue.Enqueue(Message{
			ID:        uuid.NewString(),
			From:      deviceID,
			To:        d.ID,
			Kind:      MsgSync,
			Payload:   body,
			CreatedAt: g.now(),
		})
	}
	g.log.Infof("sync from %s: %s", deviceID, dataType)
	return nil
}

// Health reports broker liveness and registry/queue totals. Devices that are
// not online (pending or offline) count as pending.
func (g *Gatekeeper) Health() HealthInfo {
	g.mu.Lock()
	total, online := g.registry.Counts()
	queued := g.queue.Len()
	g.mu.Unlock()

	return HealthInfo{
		Success:    true,
		Gatekeeper: "online",
		Devices:    DeviceCounts{Total: total, Online: online, Pending: total - online},
		Queued:     queued,
	}
}

// SweepOnce marks idle online devices offline and reports how many flipped.
func (g *Gatekeeper) SweepOnce(ctx context.Context) int {
	g.mu.Lock()
	flipped := g.registry.Sweep(g.now(), g.offlineAfter)
	g.mu.Unlock()

	for _, d := range flipped {
		g.log.Infof("device offline: %s", d.Name)
		if g.audit != nil {
			g.audit.DeviceState(ctx, d.ID, StateOffline)
		}
	}
	return len(flipped)
}

// RunSweeper runs the periodic liveness sweep until ctx is cancelled.
func (g *Gatekeeper) RunSweeper(ctx context.Context) {
	t := time.NewTicker(g.sweepInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			g.SweepOnce(ctx)
		}
	}
}
