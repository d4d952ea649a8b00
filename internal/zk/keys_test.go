package zk

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/talatops/zk-snark-voting/internal/zk/circuits"
)

func TestKeyManagerRejectsUnknownCurve(t *testing.T) {
	_, err := NewKeyManager("secp256k1", zap.NewNop())
	assert.Error(t, err)
}

func TestResolveBeforeSetup(t *testing.T) {
	km, err := NewKeyManager("bn254", zap.NewNop())
	require.NoError(t, err)

	_, _, err = km.Resolve(circuits.KindIdentity)
	assert.ErrorIs(t, err, ErrUnknownCircuitVersion)

	_, _, _, err = km.ProvingArtifacts(circuits.KindIdentity)
	assert.ErrorIs(t, err, ErrUnknownCircuitVersion)
}

func TestRotateRetiresPreviousVersion(t *testing.T) {
	km, err := NewKeyManager("bn254", zap.NewNop())
	require.NoError(t, err)

	v1, err := km.Setup(circuits.KindIdentity)
	require.NoError(t, err)
	require.Equal(t, 1, v1)

	_, err = km.ResolveVersion(circuits.KindIdentity, v1)
	require.NoError(t, err)

	v2, err := km.Rotate(circuits.KindIdentity)
	require.NoError(t, err)
	assert.Equal(t, 2, v2)

	// The retired version must never validate again.
	_, err = km.ResolveVersion(circuits.KindIdentity, v1)
	assert.ErrorIs(t, err, ErrUnknownCircuitVersion)

	_, err = km.ResolveVersion(circuits.KindIdentity, v2)
	assert.NoError(t, err)

	_, current, err := km.Resolve(circuits.KindIdentity)
	require.NoError(t, err)
	assert.Equal(t, v2, current)
}

func TestRotationInvalidatesOldProofs(t *testing.T) {
	km, err := NewKeyManager("bn254", zap.NewNop())
	require.NoError(t, err)
	_, err = km.Setup(circuits.KindIdentity)
	require.NoError(t, err)

	prover := NewProver(km, zap.NewNop())
	verifier := NewVerifier(km, zap.NewNop())

	witness := &IdentityWitness{
		IdentitySecret:  big.NewInt(12345678),
		NullifierSecret: big.NewInt(87654321),
	}
	signals := &PublicSignals{Kind: circuits.KindIdentity, Values: witness.DerivePublicSignals()}

	proof, err := prover.Prove(witness, signals)
	require.NoError(t, err)
	require.NoError(t, verifier.Verify(proof, signals))

	_, err = km.Rotate(circuits.KindIdentity)
	require.NoError(t, err)

	err = verifier.Verify(proof, signals)
	assert.ErrorIs(t, err, ErrUnknownCircuitVersion)
}

func TestSaveAndLoadKeys(t *testing.T) {
	dir := t.TempDir()

	km, err := NewKeyManager("bn254", zap.NewNop())
	require.NoError(t, err)
	_, err = km.Setup(circuits.KindIdentity)
	require.NoError(t, err)
	require.NoError(t, km.SaveToDir(dir))

	// A proof generated by the original manager must verify against keys
	// loaded by a fresh one; this is how the holder and anchor share a setup.
	prover := NewProver(km, zap.NewNop())
	witness := &IdentityWitness{
		IdentitySecret:  big.NewInt(12345678),
		NullifierSecret: big.NewInt(87654321),
	}
	signals := &PublicSignals{Kind: circuits.KindIdentity, Values: witness.DerivePublicSignals()}
	proof, err := prover.Prove(witness, signals)
	require.NoError(t, err)

	loaded, err := NewKeyManager("bn254", zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, loaded.LoadFromDir(dir))

	_, version, err := loaded.Resolve(circuits.KindIdentity)
	require.NoError(t, err)
	assert.Equal(t, proof.Version, version)

	verifier := NewVerifier(loaded, zap.NewNop())
	assert.NoError(t, verifier.Verify(proof, signals))
}

func TestLoadRejectsCurveMismatch(t *testing.T) {
	dir := t.TempDir()

	km, err := NewKeyManager("bn254", zap.NewNop())
	require.NoError(t, err)
	_, err = km.Setup(circuits.KindIdentity)
	require.NoError(t, err)
	require.NoError(t, km.SaveToDir(dir))

	other, err := NewKeyManager("bls12-381", zap.NewNop())
	require.NoError(t, err)
	assert.Error(t, other.LoadFromDir(dir))
}

func TestLoadFromMissingDir(t *testing.T) {
	km, err := NewKeyManager("bn254", zap.NewNop())
	require.NoError(t, err)
	assert.Error(t, km.LoadFromDir(t.TempDir()+"/nope"))
}
