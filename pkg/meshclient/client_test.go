package meshclient

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meshgate/internal/mesh"
)

const testSecret = "client-test-secret"

func newGatekeeperServer(t *testing.T) (*httptest.Server, *mesh.Gatekeeper) {
	t.Helper()
	g := mesh.New(mesh.Options{SecretKey: testSecret})
	r := mux.NewRouter().StrictSlash(true)
	mesh.RegisterRoutes(r, g)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, g
}

func newTestClient(t *testing.T, srv *httptest.Server, name string) *Client {
	t.Helper()
	c, err := NewClient(Config{
		GatekeeperURL:     srv.URL,
		Name:              name,
		Kind:              "laptop",
		HeartbeatInterval: 50 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(c.Disconnect)
	return c
}

func TestNewClient(t *testing.T) {
	t.Run("valid_config", func(t *testing.T) {
		c, err := NewClient(Config{GatekeeperURL: "http://localhost:8080", Name: "Laptop-A"})
		require.NoError(t, err)
		assert.NotNil(t, c)
		assert.Equal(t, 30*time.Second, c.config.HeartbeatInterval)
		assert.Equal(t, 10*time.Second, c.config.Timeout)
		assert.Equal(t, []string{"execute", "sync", "backup"}, c.config.Capabilities)
	})

	t.Run("missing_url", func(t *testing.T) {
		c, err := NewClient(Config{Name: "Laptop-A"})
		assert.Error(t, err)
		assert.Nil(t, c)
		assert.Contains(t, err.Error(), "GatekeeperURL is required")
	})

	t.Run("missing_name", func(t *testing.T) {
		c, err := NewClient(Config{GatekeeperURL: "http://localhost:8080"})
		assert.Error(t, err)
		assert.Nil(t, c)
		assert.Contains(t, err.Error(), "Name is required")
	})

	t.Run("invalid_url", func(t *testing.T) {
		c, err := NewClient(Config{GatekeeperURL: "://nope", Name: "Laptop-A"})
		assert.Error(t, err)
		assert.Nil(t, c)
	})
}

func TestClient_Register(t *testing.T) {
	srv, _ := newGatekeeperServer(t)
	ctx := context.Background()

	t.Run("success_stores_identity", func(t *testing.T) {
		c := newTestClient(t, srv, "Laptop-A")
		require.False(t, c.Registered())
		require.True(t, c.Register(ctx, ""))
		assert.True(t, c.Registered())
		assert.Len(t, c.DeviceID(), 16)
	})

	t.Run("duplicate_name_fails_closed", func(t *testing.T) {
		c := newTestClient(t, srv, "Laptop-A")
		assert.False(t, c.Register(ctx, ""))
		assert.False(t, c.Registered())
	})

	t.Run("unreachable_gatekeeper_fails_closed", func(t *testing.T) {
		c, err := NewClient(Config{
			GatekeeperURL: "http://127.0.0.1:1",
			Name:          "Laptop-B",
			Timeout:       200 * time.Millisecond,
		})
		require.NoError(t, err)
		assert.False(t, c.Register(ctx, ""))
	})
}

func TestClient_SendPollSync(t *testing.T) {
	srv, g := newGatekeeperServer(t)
	ctx := context.Background()

	sender := newTestClient(t, srv, "Laptop-A")
	receiver := newTestClient(t, srv, "Phone-B")
	require.True(t, sender.Register(ctx, ""))
	require.True(t, receiver.Register(ctx, ""))

	_, err := g.Approve(ctx, testSecret, sender.DeviceID(), true)
	require.NoError(t, err)
	_, err = g.Approve(ctx, testSecret, receiver.DeviceID(), true)
	require.NoError(t, err)

	t.Run("send_before_register_fails_closed", func(t *testing.T) {
		unregistered := newTestClient(t, srv, "Server-C")
		assert.False(t, unregistered.SendMessage(ctx, "broadcast", "alert", map[string]any{"msg": "x"}))
		assert.Empty(t, unregistered.GetMessages(ctx))
		assert.False(t, unregistered.Sync(ctx, "inventory", nil))
	})

	t.Run("send_then_poll", func(t *testing.T) {
		require.True(t, sender.SendMessage(ctx, receiver.DeviceID(), "alert",
			map[string]any{"msg": "low battery"}))

		msgs := receiver.GetMessages(ctx)
		require.Len(t, msgs, 1)
		assert.Equal(t, sender.DeviceID(), msgs[0].From)
		assert.Equal(t, "alert", msgs[0].Type)
		assert.JSONEq(t, `{"msg":"low battery"}`, string(msgs[0].Payload))

		// Drained on delivery.
		assert.Empty(t, receiver.GetMessages(ctx))
	})

	t.Run("sync_reaches_online_peer", func(t *testing.T) {
		require.True(t, sender.Sync(ctx, "inventory", map[string]any{"items": 3}))
		msgs := receiver.GetMessages(ctx)
		require.Len(t, msgs, 1)
		assert.Equal(t, "sync", msgs[0].Type)
	})

	t.Run("invalid_message_type_fails_closed", func(t *testing.T) {
		assert.False(t, sender.SendMessage(ctx, receiver.DeviceID(), "gossip", nil))
	})
}

func TestClient_HeartbeatLoop(t *testing.T) {
	srv, g := newGatekeeperServer(t)
	ctx := context.Background()

	c := newTestClient(t, srv, "Laptop-A")
	require.True(t, c.Register(ctx, ""))

	devices, err := g.ListDevices(testSecret)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	initial := devices[0].LastSeen

	assert.Eventually(t, func() bool {
		devices, err := g.ListDevices(testSecret)
		return err == nil && len(devices) == 1 && devices[0].LastSeen.After(initial)
	}, 2*time.Second, 20*time.Millisecond, "background heartbeat should advance lastSeen")

	t.Run("disconnect_is_idempotent", func(t *testing.T) {
		c.Disconnect()
		c.Disconnect()
	})
}
