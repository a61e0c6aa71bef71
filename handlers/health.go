package handlers

import (
	"context"
	"net/http"
	"time"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	DB Pinger
}

type HealthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Time     string `json:"time"`
}

func (h *HealthHandler) Welcome(w http.ResponseWriter, r *http.Request) {
	writeMessage(w, http.StatusOK, "Welcome to the book catalog API")
}

// Health reports 503 when the database does not answer a ping within two seconds.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	resp := HealthResponse{Status: "ok", Database: "connected", Time: time.Now().UTC().Format(time.RFC3339)}
	status := http.StatusOK
	if err := h.DB.Ping(ctx); err != nil {
		resp.Status, resp.Database = "degraded", "disconnected"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
