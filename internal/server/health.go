package server

import (
	"encoding/json"
	"net/http"
)

// HealthHandler answers liveness probes with the current run status.
type HealthHandler struct {
	status StatusFunc
}

// NewHealthHandler creates a [HealthHandler]. A nil status reports only liveness.
func NewHealthHandler(status StatusFunc) *HealthHandler {
	return &HealthHandler{status: status}
}

// Routes implements [Handler].
func (h *HealthHandler) Routes() []string {
	return []string{"/healthz"}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status := Status{State: "ok"}
	if h.status != nil {
		status = h.status()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	json.NewEncoder(w).Encode(status)
}
