package handlers

import (
	"encoding/base64"
	"fmt"
	"math/big"

	"github.com/talatops/zk-snark-voting/internal/zk"
	"github.com/talatops/zk-snark-voting/internal/zk/circuits"
)

// ============================================================================
// HTTP Request/Response Models
// ============================================================================

// ProofEnvelope is the wire form of a proof plus its public signals. Proof
// bytes are base64; field elements are decimal strings (0x-hex also accepted
// on input).
type ProofEnvelope struct {
	Circuit       string   `json:"circuit"`
	Version       int      `json:"version"`
	Curve         string   `json:"curve"`
	Backend       string   `json:"backend"`
	Proof         string   `json:"proof"`
	PublicSignals []string `json:"public_signals"`
}

type RegisterRequest struct {
	IdentityCommitment string `json:"identity_commitment"`
}

type RegisterResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

type AuthenticateRequest struct {
	ProofEnvelope
}

type AuthenticateResponse struct {
	Success      bool   `json:"success"`
	SessionToken string `json:"session_token"`
	RequestID    string `json:"request_id,omitempty"`
}

type VoteRequest struct {
	SessionToken string `json:"session_token"`
	ProofEnvelope
}

type VoteResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

type AdminActionHTTPRequest struct {
	ActionType string `json:"action_type"`
	Params     string `json:"params"`
	ProofEnvelope
}

type NullifierStatusResponse struct {
	Success   bool   `json:"success"`
	Domain    string `json:"domain"`
	Nullifier string `json:"nullifier"`
	Used      bool   `json:"used"`
	RequestID string `json:"request_id,omitempty"`
}

type BallotResponse struct {
	Success   bool     `json:"success"`
	Options   []string `json:"options"`
	RequestID string   `json:"request_id,omitempty"`
}

type ErrorResponse struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// decode converts the wire envelope into the verifier's native types. Every
// failure here is a client error; nothing in the envelope is trusted yet.
func (e *ProofEnvelope) decode() (*zk.Proof, *zk.PublicSignals, error) {
	kind := circuits.Kind(e.Circuit)
	valid := false
	for _, k := range circuits.Kinds() {
		if k == kind {
			valid = true
			break
		}
	}
	if !valid {
		return nil, nil, fmt.Errorf("unknown circuit: %q", e.Circuit)
	}

	if e.Version < 1 {
		return nil, nil, fmt.Errorf("invalid key version: %d", e.Version)
	}

	data, err := base64.StdEncoding.DecodeString(e.Proof)
	if err != nil {
		return nil, nil, fmt.Errorf("proof is not valid base64: %w", err)
	}
	if len(data) == 0 {
		return nil, nil, fmt.Errorf("proof is empty")
	}

	values, err := parseSignals(e.PublicSignals)
	if err != nil {
		return nil, nil, err
	}

	proof := &zk.Proof{
		Kind:    kind,
		Version: e.Version,
		Data:    data,
		Curve:   e.Curve,
		Backend: e.Backend,
	}
	signals := &zk.PublicSignals{Kind: kind, Values: values}
	return proof, signals, nil
}

func parseSignals(raw []string) ([]*big.Int, error) {
	values := make([]*big.Int, len(raw))
	for i, s := range raw {
		v, err := zk.ParseFieldElement(s)
		if err != nil {
			return nil, fmt.Errorf("public signal %d: %w", i, err)
		}
		values[i] = v
	}
	return values, nil
}
