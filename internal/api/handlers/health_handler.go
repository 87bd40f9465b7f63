package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/markdave123-py/docindex/internal/logging"
)

const probeTimeout = 5 * time.Second

// Pinger is a dependency that can report its own reachability.
type Pinger interface {
	Ping(ctx context.Context) error
	Name() string
}

type HealthHandler struct {
	pingers []Pinger
}

func NewHealthHandler(pingers ...Pinger) *HealthHandler {
	return &HealthHandler{pingers: pingers}
}

type readyCheck struct {
	Name  string `json:"name"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

type readyResponse struct {
	Ready  bool         `json:"ready"`
	Checks []readyCheck `json:"checks"`
}

// Health is the liveness probe.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready probes every dependency and answers 503 when any is unreachable.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())
	resp := readyResponse{Ready: true, Checks: []readyCheck{}}

	for _, p := range h.pingers {
		ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
		err := p.Ping(ctx)
		cancel()

		check := readyCheck{Name: p.Name(), OK: err == nil}
		if err != nil {
			check.Error = err.Error()
			resp.Ready = false
			log.Warn("readiness probe failed", "dependency", p.Name(), "error", err)
		}
		resp.Checks = append(resp.Checks, check)
	}

	status := http.StatusOK
	if !resp.Ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, r, status, resp)
}
