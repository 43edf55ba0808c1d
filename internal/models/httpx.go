package models

import (
	"encoding/json"
	"net/http"
)

// MeshError is the protocol failure envelope: every rejected request answers
// {"success":false,"error":reason} with a 400/403/404 status.
type MeshError struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func WriteMeshError(w http.ResponseWriter, status int, reason string) {
	WriteJSON(w, status, MeshError{Success: false, Error: reason})
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
