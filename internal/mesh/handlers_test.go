package mesh

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, opts Options) (*httptest.Server, *Gatekeeper) {
	t.Helper()
	g, _ := newTestGatekeeper(opts)
	r := mux.NewRouter().StrictSlash(true)
	RegisterRoutes(r, g)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, g
}

func postJSON(t *testing.T, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func getWithToken(t *testing.T, url, token string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	req.Header.Set("X-Mesh-Token", token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func registerDevice(t *testing.T, srv *httptest.Server, name, kind string) (id, token string) {
	t.Helper()
	resp, body := postJSON(t, srv.URL+"/mesh/register", map[string]any{
		"name": name,
		"type": kind,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, true, body["success"])
	return body["deviceId"].(string), body["token"].(string)
}

func approveDevice(t *testing.T, srv *httptest.Server, deviceID string) {
	t.Helper()
	resp, body := postJSON(t, srv.URL+"/mesh/approve", map[string]any{
		"adminToken": testSecret,
		"deviceId":   deviceID,
		"approve":    true,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "approved", body["status"])
}

func TestHandlers_RegisterStatuses(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	registerDevice(t, srv, "Laptop-A", "laptop")

	t.Run("duplicate_name_is_403", func(t *testing.T) {
		resp, body := postJSON(t, srv.URL+"/mesh/register", map[string]any{"name": "Laptop-A"})
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		assert.Equal(t, false, body["success"])
		assert.Equal(t, "Device name already registered", body["error"])
	})

	t.Run("bad_registration_key_is_403", func(t *testing.T) {
		gated, _ := newTestServer(t, Options{RegistrationKey: "join-key"})
		resp, body := postJSON(t, gated.URL+"/mesh/register", map[string]any{"name": "Phone-B"})
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		assert.Equal(t, "Invalid registration key", body["error"])
	})

	t.Run("malformed_body_is_400", func(t *testing.T) {
		resp, err := http.Post(srv.URL+"/mesh/register", "application/json", bytes.NewReader([]byte("{")))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestHandlers_HeartbeatStatuses(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	id, token := registerDevice(t, srv, "Laptop-A", "laptop")

	t.Run("valid_token_returns_timestamp", func(t *testing.T) {
		resp, body := postJSON(t, srv.URL+"/mesh/heartbeat", map[string]any{
			"deviceId": id,
			"token":    token,
		})
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, true, body["success"])
		assert.NotEmpty(t, body["timestamp"])
	})

	t.Run("invalid_token_is_403", func(t *testing.T) {
		resp, body := postJSON(t, srv.URL+"/mesh/heartbeat", map[string]any{
			"deviceId": id,
			"token":    "bogus",
		})
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		assert.Equal(t, "Invalid token", body["error"])
	})
}

func TestHandlers_SendAndMessages(t *testing.T) {
	srv, g := newTestServer(t, Options{})
	idA, tokenA := registerDevice(t, srv, "Laptop-A", "laptop")
	idB, tokenB := registerDevice(t, srv, "Phone-B", "phone")
	approveDevice(t, srv, idA)

	t.Run("validation_failure_is_400", func(t *testing.T) {
		resp, body := postJSON(t, srv.URL+"/mesh/send", map[string]any{
			"deviceId": idA,
			"token":    tokenA,
			"to":       idB,
			"type":     "gossip",
			"payload":  map[string]any{},
		})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "Invalid message type", body["error"])
	})

	t.Run("send_then_poll_round_trip", func(t *testing.T) {
		resp, body := postJSON(t, srv.URL+"/mesh/send", map[string]any{
			"deviceId": idA,
			"token":    tokenA,
			"to":       idB,
			"type":     "alert",
			"payload":  map[string]any{"msg": "low battery"},
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		messageID := body["messageId"].(string)
		require.NotEmpty(t, messageID)

		resp, body = getWithToken(t, srv.URL+"/mesh/messages/"+idB, tokenB)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		msgs := body["messages"].([]any)
		require.Len(t, msgs, 1)
		msg := msgs[0].(map[string]any)
		assert.Equal(t, messageID, msg["id"])
		assert.Equal(t, idA, msg["from"])

		// Drained: a second poll returns an empty list.
		_, body = getWithToken(t, srv.URL+"/mesh/messages/"+idB, tokenB)
		assert.Empty(t, body["messages"])
		assert.Equal(t, 0, g.Health().Queued)
	})

	t.Run("poll_with_wrong_token_is_403", func(t *testing.T) {
		resp, _ := getWithToken(t, srv.URL+"/mesh/messages/"+idB, tokenA)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})
}

func TestHandlers_AdminSurface(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	id, _ := registerDevice(t, srv, "Laptop-A", "laptop")

	t.Run("devices_requires_admin", func(t *testing.T) {
		resp, body := getWithToken(t, srv.URL+"/mesh/devices", "nope")
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		assert.Equal(t, "Admin only", body["error"])
	})

	t.Run("devices_lists_without_public_key", func(t *testing.T) {
		resp, body := getWithToken(t, srv.URL+"/mesh/devices", testSecret)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		devices := body["devices"].([]any)
		require.Len(t, devices, 1)
		d := devices[0].(map[string]any)
		assert.Equal(t, "Laptop-A", d["name"])
		assert.NotContains(t, d, "publicKey")
	})

	t.Run("approve_unknown_device_is_404", func(t *testing.T) {
		resp, _ := postJSON(t, srv.URL+"/mesh/approve", map[string]any{
			"adminToken": testSecret,
			"deviceId":   "missing",
			"approve":    true,
		})
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("execute_rejected_command_is_400", func(t *testing.T) {
		resp, body := postJSON(t, srv.URL+"/mesh/execute", map[string]any{
			"adminToken":   testSecret,
			"targetDevice": id,
			"command":      "rm -rf /tmp",
		})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "Blocked command: rm -rf", body["error"])
	})

	t.Run("broadcast_requires_admin", func(t *testing.T) {
		resp, _ := postJSON(t, srv.URL+"/mesh/broadcast", map[string]any{
			"adminToken": "nope",
			"command":    "status",
		})
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})
}

func TestHandlers_Health(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	idA, _ := registerDevice(t, srv, "Laptop-A", "laptop")
	registerDevice(t, srv, "Phone-B", "phone")
	approveDevice(t, srv, idA)

	resp, err := http.Get(srv.URL + "/mesh/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var h HealthInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&h))
	assert.True(t, h.Success)
	assert.Equal(t, "online", h.Gatekeeper)
	assert.Equal(t, DeviceCounts{Total: 2, Online: 1, Pending: 1}, h.Devices)
	assert.Equal(t, 0, h.Queued)
}

// TestHandlers_LateJoinerGetsNothing walks the scenario end to end: a
// broadcast drained by its first poller is gone for a device that registers
// and polls later. There is no delivery guarantee for late joiners.
func TestHandlers_LateJoinerGetsNothing(t *testing.T) {
	srv, _ := newTestServer(t, Options{})

	idA, tokenA := registerDevice(t, srv, "Laptop-A", "laptop")
	approveDevice(t, srv, idA)

	resp, body := postJSON(t, srv.URL+"/mesh/send", map[string]any{
		"deviceId": idA,
		"token":    tokenA,
		"to":       "broadcast",
		"type":     "alert",
		"payload":  map[string]any{"msg": "low battery"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, true, body["success"])

	// Laptop-A's own poll matches the broadcast and consumes it.
	_, body = getWithToken(t, srv.URL+"/mesh/messages/"+idA, tokenA)
	require.Len(t, body["messages"].([]any), 1)

	idB, tokenB := registerDevice(t, srv, "Phone-B", "phone")
	approveDevice(t, srv, idB)

	_, body = getWithToken(t, srv.URL+"/mesh/messages/"+idB, tokenB)
	assert.Empty(t, body["messages"])
}

func ExampleGatekeeper_Health() {
	g := New(Options{SecretKey: "example-secret"})
	h := g.Health()
	fmt.Println(h.Gatekeeper, h.Devices.Total, h.Queued)
	// Output: online 0 0
}
