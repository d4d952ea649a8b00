package zk

import (
	"bytes"
	"fmt"
	"math/big"

	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/frontend"
	"go.uber.org/zap"

	"github.com/talatops/zk-snark-voting/internal/zk/circuits"
)

// Proof is a serialized succinct argument, always paired with the circuit
// kind and key version it was generated against. It is meaningless without
// the public signals presented alongside it.
type Proof struct {
	Kind    circuits.Kind
	Version int
	Data    []byte
	Curve   string
	Backend string
}

// PublicSignals is the ordered public input/output vector of a circuit, in
// the schema order declared by circuits.SignalNames.
type PublicSignals struct {
	Kind   circuits.Kind
	Values []*big.Int
}

// PrivateWitness is the full private input assignment for one circuit kind.
// Witness values stay inside the holder's process; the Prover never persists
// or transmits them.
type PrivateWitness interface {
	Kind() circuits.Kind

	// DerivePublicSignals recomputes, natively, the public signals the
	// constraint system derives from this witness.
	DerivePublicSignals() []*big.Int

	assignment(public []*big.Int) frontend.Circuit
}

// IdentityWitness satisfies the Identity circuit.
type IdentityWitness struct {
	IdentitySecret  *big.Int
	NullifierSecret *big.Int
}

func (w *IdentityWitness) Kind() circuits.Kind { return circuits.KindIdentity }

func (w *IdentityWitness) DerivePublicSignals() []*big.Int {
	return []*big.Int{
		IdentityCommitment(w.IdentitySecret),
		Nullifier(w.IdentitySecret, w.NullifierSecret, DomainAuth),
	}
}

func (w *IdentityWitness) assignment(public []*big.Int) frontend.Circuit {
	return &circuits.Identity{
		IdentitySecret:     w.IdentitySecret,
		NullifierSecret:    w.NullifierSecret,
		IdentityCommitment: public[0],
		NullifierHash:      public[1],
	}
}

// VoteCastWitness satisfies the VoteCast circuit.
type VoteCastWitness struct {
	IdentitySecret  *big.Int
	NullifierSecret *big.Int
	Choice          *big.Int
}

func (w *VoteCastWitness) Kind() circuits.Kind { return circuits.KindVoteCast }

func (w *VoteCastWitness) DerivePublicSignals() []*big.Int {
	return []*big.Int{
		Nullifier(w.IdentitySecret, w.NullifierSecret, DomainAuth),
		Nullifier(w.IdentitySecret, w.NullifierSecret, DomainVote),
		ChoiceCommitment(w.Choice, w.NullifierSecret),
	}
}

func (w *VoteCastWitness) assignment(public []*big.Int) frontend.Circuit {
	return &circuits.VoteCast{
		IdentitySecret:   w.IdentitySecret,
		NullifierSecret:  w.NullifierSecret,
		Choice:           w.Choice,
		AuthNullifier:    public[0],
		NullifierHash:    public[1],
		ChoiceCommitment: public[2],
	}
}

// AdminActionWitness satisfies the AdminAction circuit.
type AdminActionWitness struct {
	AdminKey    *big.Int
	ActionData  *big.Int
	ActionNonce *big.Int
}

func (w *AdminActionWitness) Kind() circuits.Kind { return circuits.KindAdminAction }

func (w *AdminActionWitness) DerivePublicSignals() []*big.Int {
	return []*big.Int{
		AdminProof(w.AdminKey),
		ActionHash(w.AdminKey, w.ActionData, w.ActionNonce),
	}
}

func (w *AdminActionWitness) assignment(public []*big.Int) frontend.Circuit {
	return &circuits.AdminAction{
		AdminKey:    w.AdminKey,
		ActionData:  w.ActionData,
		ActionNonce: w.ActionNonce,
		AdminProof:  public[0],
		ActionHash:  public[1],
	}
}

// ============================================================================
// Groth16 Prover
// ============================================================================

// Prover produces Groth16 proofs on the credential holder's side. The key
// manager it is backed by holds setup artifacts distributed from the
// ceremony; proving keys never cross into the verifier's trust boundary.
// Prove is a pure function of its inputs and safe to call concurrently.
type Prover struct {
	keys   *KeyManager
	logger *zap.Logger
}

// NewProver creates a prover backed by the given key manager.
func NewProver(keys *KeyManager, logger *zap.Logger) *Prover {
	return &Prover{keys: keys, logger: logger}
}

// Prove generates a proof for the witness's circuit kind. It deterministically
// rejects with ErrWitnessInvalid when the declared public signals do not match
// what the constraint system derives from the witness, before any proving
// time is spent.
func (p *Prover) Prove(witness PrivateWitness, declared *PublicSignals) (*Proof, error) {
	kind := witness.Kind()
	if declared.Kind != kind {
		return nil, fmt.Errorf("%w: signals are for circuit %s, witness for %s", ErrWitnessInvalid, declared.Kind, kind)
	}

	derived := witness.DerivePublicSignals()
	if len(declared.Values) != len(derived) {
		return nil, fmt.Errorf("%w: expected %d public signals, got %d", ErrWitnessInvalid, len(derived), len(declared.Values))
	}
	for i, want := range derived {
		if declared.Values[i] == nil || declared.Values[i].Cmp(want) != 0 {
			return nil, fmt.Errorf("%w: public signal %d mismatch", ErrWitnessInvalid, i)
		}
	}

	cs, pk, version, err := p.keys.ProvingArtifacts(kind)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve proving key: %w", err)
	}

	fullWitness, err := frontend.NewWitness(witness.assignment(declared.Values), p.keys.Curve().ScalarField())
	if err != nil {
		return nil, fmt.Errorf("failed to build witness: %w", err)
	}

	proof, err := groth16.Prove(cs, pk, fullWitness)
	if err != nil {
		return nil, fmt.Errorf("failed to generate proof: %w", err)
	}

	var buf bytes.Buffer
	if _, err := proof.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to serialize proof: %w", err)
	}

	p.logger.Debug("Proof generated",
		zap.String("circuit", string(kind)),
		zap.Int("version", version),
		zap.Int("proof_bytes", buf.Len()),
	)

	return &Proof{
		Kind:    kind,
		Version: version,
		Data:    buf.Bytes(),
		Curve:   p.keys.Curve().String(),
		Backend: "groth16",
	}, nil
}
