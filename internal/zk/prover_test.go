package zk

import (
	"math/big"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/talatops/zk-snark-voting/internal/zk/circuits"
)

// Setup is expensive, so every test in this package shares one key manager.
// Tests that mutate key state (rotation, persistence) build their own.
var (
	sharedKeysOnce sync.Once
	sharedKeys     *KeyManager
	sharedKeysErr  error
)

func testKeyManager(t *testing.T) *KeyManager {
	t.Helper()
	sharedKeysOnce.Do(func() {
		km, err := NewKeyManager("bn254", zap.NewNop())
		if err != nil {
			sharedKeysErr = err
			return
		}
		if err := km.SetupAll(); err != nil {
			sharedKeysErr = err
			return
		}
		sharedKeys = km
	})
	require.NoError(t, sharedKeysErr)
	return sharedKeys
}

func identitySignals(w *IdentityWitness) *PublicSignals {
	return &PublicSignals{Kind: circuits.KindIdentity, Values: w.DerivePublicSignals()}
}

func TestProveAndVerifyIdentity(t *testing.T) {
	keys := testKeyManager(t)
	prover := NewProver(keys, zap.NewNop())
	verifier := NewVerifier(keys, zap.NewNop())

	witness := &IdentityWitness{
		IdentitySecret:  big.NewInt(12345678),
		NullifierSecret: big.NewInt(87654321),
	}

	proof, err := prover.Prove(witness, identitySignals(witness))
	require.NoError(t, err)
	assert.Equal(t, circuits.KindIdentity, proof.Kind)
	assert.Equal(t, "groth16", proof.Backend)
	assert.NotEmpty(t, proof.Data)

	require.NoError(t, verifier.Verify(proof, identitySignals(witness)))
}

func TestProveAndVerifyVoteCast(t *testing.T) {
	keys := testKeyManager(t)
	prover := NewProver(keys, zap.NewNop())
	verifier := NewVerifier(keys, zap.NewNop())

	witness := &VoteCastWitness{
		IdentitySecret:  big.NewInt(12345678),
		NullifierSecret: big.NewInt(87654321),
		Choice:          big.NewInt(2),
	}
	signals := &PublicSignals{Kind: circuits.KindVoteCast, Values: witness.DerivePublicSignals()}

	proof, err := prover.Prove(witness, signals)
	require.NoError(t, err)
	require.NoError(t, verifier.Verify(proof, signals))
}

func TestProveAndVerifyAdminAction(t *testing.T) {
	keys := testKeyManager(t)
	prover := NewProver(keys, zap.NewNop())
	verifier := NewVerifier(keys, zap.NewNop())

	witness := &AdminActionWitness{
		AdminKey:    big.NewInt(424242),
		ActionData:  ActionDataScalar("add-candidate", "alice"),
		ActionNonce: big.NewInt(99),
	}
	signals := &PublicSignals{Kind: circuits.KindAdminAction, Values: witness.DerivePublicSignals()}

	proof, err := prover.Prove(witness, signals)
	require.NoError(t, err)
	require.NoError(t, verifier.Verify(proof, signals))
}

func TestProveRejectsMismatchedSignals(t *testing.T) {
	keys := testKeyManager(t)
	prover := NewProver(keys, zap.NewNop())

	witness := &IdentityWitness{
		IdentitySecret:  big.NewInt(12345678),
		NullifierSecret: big.NewInt(87654321),
	}

	declared := identitySignals(witness)
	declared.Values[1] = big.NewInt(1) // claim a wrong nullifier

	_, err := prover.Prove(witness, declared)
	assert.ErrorIs(t, err, ErrWitnessInvalid)
}

func TestProveRejectsWrongKind(t *testing.T) {
	keys := testKeyManager(t)
	prover := NewProver(keys, zap.NewNop())

	witness := &IdentityWitness{
		IdentitySecret:  big.NewInt(1),
		NullifierSecret: big.NewInt(2),
	}
	declared := &PublicSignals{Kind: circuits.KindVoteCast, Values: witness.DerivePublicSignals()}

	_, err := prover.Prove(witness, declared)
	assert.ErrorIs(t, err, ErrWitnessInvalid)
}

func TestVerifyRejectsTamperedSignal(t *testing.T) {
	keys := testKeyManager(t)
	prover := NewProver(keys, zap.NewNop())
	verifier := NewVerifier(keys, zap.NewNop())

	witness := &IdentityWitness{
		IdentitySecret:  big.NewInt(12345678),
		NullifierSecret: big.NewInt(87654321),
	}

	proof, err := prover.Prove(witness, identitySignals(witness))
	require.NoError(t, err)

	tampered := identitySignals(witness)
	tampered.Values[1] = new(big.Int).Add(tampered.Values[1], big.NewInt(1))

	err = verifier.Verify(proof, tampered)
	assert.ErrorIs(t, err, ErrConstraintViolation)
}

func TestVerifyRejectsMalformedProof(t *testing.T) {
	keys := testKeyManager(t)
	verifier := NewVerifier(keys, zap.NewNop())

	witness := &IdentityWitness{
		IdentitySecret:  big.NewInt(12345678),
		NullifierSecret: big.NewInt(87654321),
	}

	_, version, err := keys.Resolve(circuits.KindIdentity)
	require.NoError(t, err)

	garbage := &Proof{
		Kind:    circuits.KindIdentity,
		Version: version,
		Data:    []byte("not a proof"),
		Curve:   "bn254",
		Backend: "groth16",
	}

	err = verifier.Verify(garbage, identitySignals(witness))
	assert.ErrorIs(t, err, ErrMalformedProof)
}

func TestVerifyRejectsUnknownVersion(t *testing.T) {
	keys := testKeyManager(t)
	prover := NewProver(keys, zap.NewNop())
	verifier := NewVerifier(keys, zap.NewNop())

	witness := &IdentityWitness{
		IdentitySecret:  big.NewInt(12345678),
		NullifierSecret: big.NewInt(87654321),
	}

	proof, err := prover.Prove(witness, identitySignals(witness))
	require.NoError(t, err)

	proof.Version = proof.Version + 100
	err = verifier.Verify(proof, identitySignals(witness))
	assert.ErrorIs(t, err, ErrUnknownCircuitVersion)
}

func TestVerifyRejectsKindMismatch(t *testing.T) {
	keys := testKeyManager(t)
	prover := NewProver(keys, zap.NewNop())
	verifier := NewVerifier(keys, zap.NewNop())

	witness := &IdentityWitness{
		IdentitySecret:  big.NewInt(12345678),
		NullifierSecret: big.NewInt(87654321),
	}

	proof, err := prover.Prove(witness, identitySignals(witness))
	require.NoError(t, err)

	foreign := &PublicSignals{Kind: circuits.KindAdminAction, Values: identitySignals(witness).Values}
	err = verifier.Verify(proof, foreign)
	assert.ErrorIs(t, err, ErrMalformedProof)
}

func TestCollapseVerification(t *testing.T) {
	assert.NoError(t, CollapseVerification(nil))
	assert.ErrorIs(t, CollapseVerification(ErrMalformedProof), ErrVerificationFailed)
	assert.ErrorIs(t, CollapseVerification(ErrConstraintViolation), ErrVerificationFailed)
	assert.ErrorIs(t, CollapseVerification(ErrUnknownCircuitVersion), ErrVerificationFailed)

	// Non-verifier errors pass through untouched.
	assert.ErrorIs(t, CollapseVerification(ErrWitnessInvalid), ErrWitnessInvalid)
}
