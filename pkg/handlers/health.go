package handlers

import (
	"net/http"
	"os"
	"runtime"
	"time"

	"go.uber.org/zap"

	"github.com/extractly-ai/extractly-engine/pkg/config"
)

// PingResponse carries build and runtime information for operators; the bare
// /health endpoint stays cheap for load-balancer probes.
type PingResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	Service       string `json:"service"`
	GoVersion     string `json:"go_version"`
	Hostname      string `json:"hostname"`
	Environment   string `json:"environment"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// HealthHandler handles health check and ping endpoints.
type HealthHandler struct {
	cfg     *config.Config
	started time.Time
	logger  *zap.Logger
}

// NewHealthHandler creates a new HealthHandler with the given configuration.
func NewHealthHandler(cfg *config.Config, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{cfg: cfg, started: time.Now(), logger: logger}
}

// RegisterRoutes registers the health handler's routes on the given mux.
func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.Health)
	mux.HandleFunc("/ping", h.Ping)
}

// Health handles GET /health requests.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ping handles GET /ping requests.
func (h *HealthHandler) Ping(w http.ResponseWriter, r *http.Request) {
	hostname, err := os.Hostname()
	if err != nil {
		// Diagnostics stay best-effort; a missing hostname must not fail the
		// probe.
		hostname = "unknown"
	}

	response := PingResponse{
		Status:        "ok",
		Version:       h.cfg.Version,
		Service:       "extractly-engine",
		GoVersion:     runtime.Version(),
		Hostname:      hostname,
		Environment:   h.cfg.Env,
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
	}

	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to write ping response", zap.Error(err))
	}
}
