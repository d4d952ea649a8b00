package zk

import (
	"bytes"
	"fmt"

	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/frontend"
	"go.uber.org/zap"

	"github.com/talatops/zk-snark-voting/internal/zk/circuits"
)

// Verifier checks proofs on the trust-anchor side. It only ever touches
// verification keys; rejection reasons are internal and must be collapsed
// with CollapseVerification before crossing to an untrusted caller.
type Verifier struct {
	keys   *KeyManager
	logger *zap.Logger
}

// NewVerifier creates a verifier backed by the given key manager.
func NewVerifier(keys *KeyManager, logger *zap.Logger) *Verifier {
	return &Verifier{keys: keys, logger: logger}
}

// Verify checks proof against signals. The verification key binds proof
// validity to the exact public-signal vector presented, so any signal altered
// after generation fails with ErrConstraintViolation.
//
// Errors: ErrUnknownCircuitVersion, ErrMalformedProof, ErrConstraintViolation.
func (v *Verifier) Verify(proof *Proof, signals *PublicSignals) error {
	if proof.Kind != signals.Kind {
		return fmt.Errorf("%w: proof is for circuit %s, signals for %s", ErrMalformedProof, proof.Kind, signals.Kind)
	}

	// Key resolution holds the manager's read lock, so a rotation completing
	// after this point does not affect this call.
	vk, err := v.keys.ResolveVersion(proof.Kind, proof.Version)
	if err != nil {
		return err
	}

	assignment, err := circuits.PublicAssignment(signals.Kind, signals.Values)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedProof, err)
	}

	publicWitness, err := frontend.NewWitness(assignment, v.keys.Curve().ScalarField(), frontend.PublicOnly())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedProof, err)
	}

	decoded := groth16.NewProof(v.keys.Curve())
	if _, err := decoded.ReadFrom(bytes.NewReader(proof.Data)); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedProof, err)
	}

	if err := groth16.Verify(decoded, vk, publicWitness); err != nil {
		v.logger.Debug("Proof rejected",
			zap.String("circuit", string(proof.Kind)),
			zap.Int("version", proof.Version),
			zap.Error(err),
		)
		return fmt.Errorf("%w: %v", ErrConstraintViolation, err)
	}

	return nil
}
