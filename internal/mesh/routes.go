package mesh

import (
	"net/http"

	"github.com/gorilla/mux"
)

// RegisterRoutes mounts the gatekeeper protocol under /mesh.
func RegisterRoutes(r *mux.Router, g *Gatekeeper) {
	h := NewHandler(g)
	sub := r.PathPrefix("/mesh").Subrouter()

	sub.HandleFunc("/register", h.Register).Methods(http.MethodPost)
	sub.HandleFunc("/heartbeat", h.Heartbeat).Methods(http.MethodPost)
	sub.HandleFunc("/send", h.Send).Methods(http.MethodPost)
	sub.HandleFunc("/messages/{deviceId}", h.Messages).Methods(http.MethodGet)
	sub.HandleFunc("/devices", h.Devices).Methods(http.MethodGet)
	sub.HandleFunc("/approve", h.Approve).Methods(http.MethodPost)
	sub.HandleFunc("/broadcast", h.Broadcast).Methods(http.MethodPost)
	sub.HandleFunc("/execute", h.Execute).Methods(http.MethodPost)
	sub.HandleFunc("/sync", h.Sync).Methods(http.MethodPost)
	sub.HandleFunc("/health", h.Health).Methods(http.MethodGet)
}
