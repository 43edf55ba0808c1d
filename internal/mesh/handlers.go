package mesh

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"meshgate/internal/models"
)

// Handler exposes the gatekeeper protocol over HTTP.
type Handler struct {
	g *Gatekeeper
}

func NewHandler(g *Gatekeeper) *Handler { return &Handler{g: g} }

// writeErr maps a protocol error onto its envelope and status. Anything that
// is not a *mesh.Error is a decode problem and answers 400.
func writeErr(w http.ResponseWriter, err error) {
	var me *Error
	if errors.As(err, &me) {
		models.WriteMeshError(w, me.Status(), me.Reason)
		return
	}
	models.WriteMeshError(w, http.StatusBadRequest, err.Error())
}

// sourceAddress extracts the registrant's address for the audit record.
func sourceAddress(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		if r.RemoteAddr != "" {
			return r.RemoteAddr
		}
		return "unknown"
	}
	return host
}

type registerRequest struct {
	Name            string   `json:"name"`
	Type            string   `json:"type"`
	Capabilities    []string `json:"capabilities"`
	PublicKey       string   `json:"publicKey"`
	RegistrationKey string   `json:"registrationKey"`
}

// POST /mesh/register
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		models.WriteMeshError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	deviceID, token, err := h.g.Register(r.Context(), RegisterInput{
		Name:            req.Name,
		Kind:            req.Type,
		Capabilities:    req.Capabilities,
		PublicKey:       req.PublicKey,
		RegistrationKey: req.RegistrationKey,
		SourceAddress:   sourceAddress(r),
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	models.WriteJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"deviceId": deviceID,
		"token":    token,
	})
}

type heartbeatRequest struct {
	DeviceID string `json:"deviceId"`
	Token    string `json:"token"`
}

// POST /mesh/heartbeat
func (h *Handler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	var req heartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		models.WriteMeshError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	ts, err := h.g.Heartbeat(r.Context(), req.DeviceID, req.Token)
	if err != nil {
		writeErr(w, err)
		return
	}
	models.WriteJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"timestamp": ts.UTC().Format(time.RFC3339Nano),
	})
}

type sendRequest struct {
	DeviceID string          `json:"deviceId"`
	Token    string          `json:"token"`
	To       string          `json:"to"`
	Type     string          `json:"type"`
	Payload  json.RawMessage `json:"payload"`
}

// POST /mesh/send
func (h *Handler) Send(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		models.WriteMeshError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	messageID, err := h.g.Send(SendInput{
		DeviceID: req.DeviceID,
		Token:    req.Token,
		To:       req.To,
		Kind:     req.Type,
		Payload:  req.Payload,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	models.WriteJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"messageId": messageID,
	})
}

// GET /mesh/messages/{deviceId}   (drains; token in X-Mesh-Token)
func (h *Handler) Messages(w http.ResponseWriter, r *http.Request) {
	deviceID := mux.Vars(r)["deviceId"]
	token := r.Header.Get("X-Mesh-Token")

	messages, err := h.g.Drain(deviceID, token)
	if err != nil {
		writeErr(w, err)
		return
	}
	models.WriteJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"messages": messages,
	})
}

// GET /mesh/devices   (admin; token in X-Mesh-Token)
func (h *Handler) Devices(w http.ResponseWriter, r *http.Request) {
	devices, err := h.g.ListDevices(r.Header.Get("X-Mesh-Token"))
	if err != nil {
		writeErr(w, err)
		return
	}
	models.WriteJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"devices": devices,
	})
}

type approveRequest struct {
	AdminToken string `json:"adminToken"`
	DeviceID   string `json:"deviceId"`
	Approve    bool   `json:"approve"`
}

// POST /mesh/approve
func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		models.WriteMeshError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	status, err := h.g.Approve(r.Context(), req.AdminToken, req.DeviceID, req.Approve)
	if err != nil {
		writeErr(w, err)
		return
	}
	models.WriteJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"status":  status,
	})
}

type broadcastRequest struct {
	AdminToken string         `json:"adminToken"`
	Command    string         `json:"command"`
	Payload    map[string]any `json:"payload"`
}

// POST /mesh/broadcast
func (h *Handler) Broadcast(w http.ResponseWriter, r *http.Request) {
	var req broadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		models.WriteMeshError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	messageID, err := h.g.Broadcast(req.AdminToken, req.Command, req.Payload)
	if err != nil {
		writeErr(w, err)
		return
	}
	models.WriteJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"messageId": messageID,
	})
}

type executeRequest struct {
	AdminToken   string         `json:"adminToken"`
	TargetDevice string         `json:"targetDevice"`
	Command      string         `json:"command"`
	Payload      map[string]any `json:"payload"`
}

// POST /mesh/execute
func (h *Handler) Execute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		models.WriteMeshError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	messageID, err := h.g.Execute(req.AdminToken, req.TargetDevice, req.Command, req.Payload)
	if err != nil {
		writeErr(w, err)
		return
	}
	models.WriteJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"messageId": messageID,
	})
}

type syncRequest struct {
	DeviceID string          `json:"deviceId"`
	Token    string          `json:"token"`
	DataType string          `json:"dataType"`
	Data     json.RawMessage `json:"data"`
}

// POST /mesh/sync
func (h *Handler) Sync(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		models.WriteMeshError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := h.g.Sync(req.DeviceID, req.Token, req.DataType, req.Data); err != nil {
		writeErr(w, err)
		return
	}
	models.WriteJSON(w, http.StatusOK, map[string]any{"success": true})
}

// GET /mesh/health
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	models.WriteJSON(w, http.StatusOK, h.g.Health())
}
