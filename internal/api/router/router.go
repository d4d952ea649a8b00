package router

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/talatops/zk-snark-voting/internal/api/handlers"
	"github.com/talatops/zk-snark-voting/internal/api/middleware"
	"github.com/talatops/zk-snark-voting/internal/common/config"
)

// SetupRouter creates and configures the HTTP router.
func SetupRouter(
	cfg *config.Config,
	protocolHandler *handlers.ProtocolHandler,
	healthHandler *handlers.HealthHandler,
	logger *zap.Logger,
) *mux.Router {

	r := mux.NewRouter()

	// ========================================================================
	// Global Middleware (applies to ALL routes)
	// ========================================================================

	// 1. Recovery - catch panics and return 500 instead of crashing
	r.Use(middleware.Recovery(logger))

	// 2. Request ID - unique ID per request for correlation
	r.Use(middleware.RequestID(logger))

	// 3. Body size limit - proofs are small, anything big is abuse
	maxBody := int64(cfg.ZK.MaxProofSizeKB) << 10
	r.Use(middleware.BodySizeLimit(maxBody, logger))

	// 4. Rate limiting per IP
	if cfg.RateLimit.Enabled {
		rateLimiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, logger)
		r.Use(rateLimiter.Middleware())
	}

	// 5. Logging - log every request
	r.Use(middleware.Logging(logger))

	// 6. CORS - allow browser-based holders
	if cfg.CORS.Enabled {
		r.Use(middleware.CORS(cfg.CORS.AllowedOrigins, cfg.CORS.AllowedMethods, cfg.CORS.AllowedHeaders))
	}

	// 7. Timeout - prevent slow requests from hanging forever
	r.Use(middleware.Timeout(30 * time.Second))

	// ========================================================================
	// Protocol Routes
	// ========================================================================

	api := r.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/identities", protocolHandler.Register).Methods("POST")
	api.HandleFunc("/auth", protocolHandler.Authenticate).Methods("POST")
	api.HandleFunc("/votes", protocolHandler.CastVote).Methods("POST")
	api.HandleFunc("/admin/actions", protocolHandler.AdminAction).Methods("POST")
	api.HandleFunc("/nullifiers/{domain}/{nullifier}", protocolHandler.NullifierStatus).Methods("GET")
	api.HandleFunc("/ballot", protocolHandler.Ballot).Methods("GET")

	// ========================================================================
	// Health & Status
	// ========================================================================

	r.HandleFunc("/health", healthHandler.Live).Methods("GET")
	r.HandleFunc("/ready", healthHandler.Ready).Methods("GET")
	r.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"service": "trust-anchor", "version": "0.1.0"}`))
	}).Methods("GET")

	return r
}
