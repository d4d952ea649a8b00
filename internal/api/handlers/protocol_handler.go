// Package handlers exposes the trust-anchor protocol over HTTP. Handlers
// translate between wire models and the orchestrator's types; every protocol
// decision lives in the orchestrator.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/talatops/zk-snark-voting/internal/api/middleware"
	"github.com/talatops/zk-snark-voting/internal/protocol"
	"github.com/talatops/zk-snark-voting/internal/zk"
)

const (
	// requestTimeout bounds one protocol transition including verification.
	// Groth16 verification is milliseconds; the headroom is for the stores.
	requestTimeout = 30 * time.Second
)

// ProtocolHandler serves the register / authenticate / vote / admin
// endpoints.
type ProtocolHandler struct {
	orch   *protocol.Orchestrator
	logger *zap.Logger
}

// NewProtocolHandler creates the handler set backed by the orchestrator.
func NewProtocolHandler(orch *protocol.Orchestrator, logger *zap.Logger) *ProtocolHandler {
	return &ProtocolHandler{orch: orch, logger: logger}
}

// Register handles POST /api/v1/identities.
func (h *ProtocolHandler) Register(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, r, http.StatusBadRequest, "Invalid request body", err, requestID)
		return
	}

	commitment, err := zk.ParseFieldElement(req.IdentityCommitment)
	if err != nil {
		h.respondError(w, r, http.StatusBadRequest, "Invalid identity commitment", err, requestID)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	if err := h.orch.Register(ctx, zk.FormatFieldElement(commitment)); err != nil {
		h.respondProtocolError(w, r, err, requestID)
		return
	}

	h.respondJSON(w, http.StatusCreated, RegisterResponse{
		Success:   true,
		Message:   "Identity registered",
		RequestID: requestID,
	}, requestID)
}

// Authenticate handles POST /api/v1/auth.
func (h *ProtocolHandler) Authenticate(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	var req AuthenticateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, r, http.StatusBadRequest, "Invalid request body", err, requestID)
		return
	}

	proof, signals, err := req.decode()
	if err != nil {
		h.respondError(w, r, http.StatusBadRequest, "Invalid proof envelope", err, requestID)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	token, err := h.orch.Authenticate(ctx, proof, signals)
	if err != nil {
		h.respondProtocolError(w, r, err, requestID)
		return
	}

	h.respondJSON(w, http.StatusOK, AuthenticateResponse{
		Success:      true,
		SessionToken: token,
		RequestID:    requestID,
	}, requestID)
}

// CastVote handles POST /api/v1/votes.
func (h *ProtocolHandler) CastVote(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	var req VoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, r, http.StatusBadRequest, "Invalid request body", err, requestID)
		return
	}

	if req.SessionToken == "" {
		h.respondError(w, r, http.StatusUnauthorized, "Session token is required", nil, requestID)
		return
	}

	proof, signals, err := req.decode()
	if err != nil {
		h.respondError(w, r, http.StatusBadRequest, "Invalid proof envelope", err, requestID)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	if err := h.orch.CastVote(ctx, req.SessionToken, proof, signals); err != nil {
		h.respondProtocolError(w, r, err, requestID)
		return
	}

	h.respondJSON(w, http.StatusOK, VoteResponse{
		Success:   true,
		Message:   "Vote recorded",
		RequestID: requestID,
	}, requestID)
}

// AdminAction handles POST /api/v1/admin/actions.
func (h *ProtocolHandler) AdminAction(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	var req AdminActionHTTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, r, http.StatusBadRequest, "Invalid request body", err, requestID)
		return
	}

	proof, signals, err := req.decode()
	if err != nil {
		h.respondError(w, r, http.StatusBadRequest, "Invalid proof envelope", err, requestID)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	err = h.orch.ApplyAdminAction(ctx, protocol.AdminActionRequest{
		ActionType: req.ActionType,
		Params:     req.Params,
		Proof:      proof,
		Signals:    signals,
	})
	if err != nil {
		h.respondProtocolError(w, r, err, requestID)
		return
	}

	h.respondJSON(w, http.StatusOK, VoteResponse{
		Success:   true,
		Message:   "Admin action applied",
		RequestID: requestID,
	}, requestID)
}

// NullifierStatus handles GET /api/v1/nullifiers/{domain}/{nullifier}.
// Read-only; never consumes.
func (h *ProtocolHandler) NullifierStatus(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	vars := mux.Vars(r)

	domain := zk.Domain(vars["domain"])
	nullifier, err := zk.ParseFieldElement(vars["nullifier"])
	if err != nil {
		h.respondError(w, r, http.StatusBadRequest, "Invalid nullifier", err, requestID)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	used, err := h.orch.IsNullifierUsed(ctx, domain, zk.FormatFieldElement(nullifier))
	if err != nil {
		h.respondProtocolError(w, r, err, requestID)
		return
	}

	h.respondJSON(w, http.StatusOK, NullifierStatusResponse{
		Success:   true,
		Domain:    string(domain),
		Nullifier: zk.FormatFieldElement(nullifier),
		Used:      used,
		RequestID: requestID,
	}, requestID)
}

// Ballot handles GET /api/v1/ballot.
func (h *ProtocolHandler) Ballot(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	options, err := h.orch.BallotOptions(ctx)
	if err != nil {
		h.respondProtocolError(w, r, err, requestID)
		return
	}
	if options == nil {
		options = []string{}
	}

	h.respondJSON(w, http.StatusOK, BallotResponse{
		Success:   true,
		Options:   options,
		RequestID: requestID,
	}, requestID)
}

// ============================================================================
// Error mapping
// ============================================================================

// respondProtocolError maps the protocol error taxonomy onto HTTP statuses.
// Replay and duplicate registration are precise 409s; every verification
// rejection is the same opaque 401.
func (h *ProtocolHandler) respondProtocolError(w http.ResponseWriter, r *http.Request, err error, requestID string) {
	logger := middleware.GetLogger(r.Context(), h.logger)

	var status int
	var message string

	switch {
	case errors.Is(err, protocol.ErrDuplicateIdentity):
		status, message = http.StatusConflict, "Identity commitment already registered"
	case errors.Is(err, protocol.ErrNullifierUsed):
		status, message = http.StatusConflict, "Nullifier already used"
	case errors.Is(err, protocol.ErrInvalidSession):
		status, message = http.StatusUnauthorized, "Invalid or expired session"
	case errors.Is(err, protocol.ErrUnauthorizedAdmin):
		status, message = http.StatusForbidden, "Not a trusted admin"
	case errors.Is(err, protocol.ErrUnsupportedAction):
		status, message = http.StatusBadRequest, "Unsupported admin action"
	case errors.Is(err, protocol.ErrUnknownDomain):
		status, message = http.StatusBadRequest, "Unknown nullifier domain"
	case errors.Is(err, zk.ErrVerificationFailed):
		status, message = http.StatusUnauthorized, "Proof verification failed"
	default:
		status, message = http.StatusInternalServerError, "Internal server error"
	}

	logger.Warn("Protocol request rejected",
		zap.Int("status", status),
		zap.Error(err),
	)

	h.respondJSON(w, status, ErrorResponse{
		Success:   false,
		Error:     message,
		RequestID: requestID,
	}, requestID)
}

func (h *ProtocolHandler) respondError(w http.ResponseWriter, r *http.Request, status int, message string, err error, requestID string) {
	logger := middleware.GetLogger(r.Context(), h.logger)
	logger.Warn(message,
		zap.Error(err),
		zap.Int("status_code", status),
	)

	h.respondJSON(w, status, ErrorResponse{
		Success:   false,
		Error:     message,
		RequestID: requestID,
	}, requestID)
}

func (h *ProtocolHandler) respondJSON(w http.ResponseWriter, status int, body interface{}, requestID string) {
	w.Header().Set("Content-Type", "application/json")
	if requestID != "" {
		w.Header().Set(middleware.RequestIDHeader, requestID)
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
