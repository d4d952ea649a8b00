package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/talatops/zk-snark-voting/internal/common/health"
)

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	checker *health.Checker
	logger  *zap.Logger
}

// NewHealthHandler creates the health endpoints backed by the checker.
func NewHealthHandler(checker *health.Checker, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{checker: checker, logger: logger}
}

// Live handles GET /health: process is up, nothing else implied.
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status": "healthy", "service": "trust-anchor"}`))
}

// Ready handles GET /ready: probes every registered dependency and returns
// 503 when a critical one is down.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	sys := h.checker.CheckAll(r.Context())

	status := http.StatusOK
	if !sys.Healthy {
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(sys)
}
