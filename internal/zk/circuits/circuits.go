// Package circuits declares the three constraint systems of the anonymous
// credential protocol. All of them share a single MiMC hash primitive with
// per-domain tags, so a nullifier derived for authentication can never collide
// with one derived for voting or admin actions.
package circuits

import (
	"fmt"
	"math/big"

	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/hash/mimc"
)

// Kind identifies a circuit family. It is part of every proof and key
// artifact, so the verifier always knows which relation a proof claims.
type Kind string

const (
	KindIdentity    Kind = "identity"
	KindVoteCast    Kind = "vote_cast"
	KindAdminAction Kind = "admin_action"
)

// Domain tags mixed into every nullifier derivation. Constant per circuit
// family; the native hashing side must use the same values.
var (
	TagAuth  = tagScalar("auth")
	TagVote  = tagScalar("vote")
	TagAdmin = tagScalar("admin")
)

func tagScalar(name string) *big.Int {
	return new(big.Int).SetBytes([]byte("zkvote:" + name))
}

// Kinds lists all circuit families, in a stable order.
func Kinds() []Kind {
	return []Kind{KindIdentity, KindVoteCast, KindAdminAction}
}

// ============================================================================
// Identity Circuit
// ============================================================================

// Identity proves knowledge of a secret matching a registered commitment and
// emits a deterministic auth-domain nullifier for this authentication session.
//
// Private: identitySecret, nullifierSecret.
// Public:  identityCommitment = H(identitySecret),
//          nullifierHash      = H(identitySecret, nullifierSecret, tagAuth).
type Identity struct {
	IdentitySecret  frontend.Variable `gnark:",secret"`
	NullifierSecret frontend.Variable `gnark:",secret"`

	IdentityCommitment frontend.Variable `gnark:",public"`
	NullifierHash      frontend.Variable `gnark:",public"`
}

func (c *Identity) Define(api frontend.API) error {
	h, err := mimc.NewMiMC(api)
	if err != nil {
		return err
	}

	h.Write(c.IdentitySecret)
	api.AssertIsEqual(h.Sum(), c.IdentityCommitment)

	h.Reset()
	h.Write(c.IdentitySecret, c.NullifierSecret, TagAuth)
	api.AssertIsEqual(h.Sum(), c.NullifierHash)

	return nil
}

// ============================================================================
// VoteCast Circuit
// ============================================================================

// VoteCast binds a hidden choice to a prior authentication session. It
// recomputes the auth nullifier (carried as a public signal, so the trust
// anchor can match it against the session) and emits a fresh vote-domain
// nullifier plus a commitment hiding the choice.
//
// Private: identitySecret, nullifierSecret, choice.
// Public:  authNullifier    = H(identitySecret, nullifierSecret, tagAuth),
//          nullifierHash    = H(identitySecret, nullifierSecret, tagVote),
//          choiceCommitment = H(choice, nullifierSecret).
type VoteCast struct {
	IdentitySecret  frontend.Variable `gnark:",secret"`
	NullifierSecret frontend.Variable `gnark:",secret"`
	Choice          frontend.Variable `gnark:",secret"`

	AuthNullifier    frontend.Variable `gnark:",public"`
	NullifierHash    frontend.Variable `gnark:",public"`
	ChoiceCommitment frontend.Variable `gnark:",public"`
}

func (c *VoteCast) Define(api frontend.API) error {
	h, err := mimc.NewMiMC(api)
	if err != nil {
		return err
	}

	h.Write(c.IdentitySecret, c.NullifierSecret, TagAuth)
	api.AssertIsEqual(h.Sum(), c.AuthNullifier)

	h.Reset()
	h.Write(c.IdentitySecret, c.NullifierSecret, TagVote)
	api.AssertIsEqual(h.Sum(), c.NullifierHash)

	h.Reset()
	h.Write(c.Choice, c.NullifierSecret)
	api.AssertIsEqual(h.Sum(), c.ChoiceCommitment)

	return nil
}

// ============================================================================
// AdminAction Circuit
// ============================================================================

// AdminAction authorizes a single privileged mutation without transmitting
// the admin key. The action hash doubles as the admin-domain nullifier: the
// single-use nonce makes it unique per authorization, so consuming it in the
// ledger prevents replaying the same authorization.
//
// Private: adminKey, actionData, actionNonce.
// Public:  adminProof = H(adminKey),
//          actionHash = H(adminKey, actionData, actionNonce).
type AdminAction struct {
	AdminKey    frontend.Variable `gnark:",secret"`
	ActionData  frontend.Variable `gnark:",secret"`
	ActionNonce frontend.Variable `gnark:",secret"`

	AdminProof frontend.Variable `gnark:",public"`
	ActionHash frontend.Variable `gnark:",public"`
}

func (c *AdminAction) Define(api frontend.API) error {
	h, err := mimc.NewMiMC(api)
	if err != nil {
		return err
	}

	h.Write(c.AdminKey)
	api.AssertIsEqual(h.Sum(), c.AdminProof)

	h.Reset()
	h.Write(c.AdminKey, c.ActionData, c.ActionNonce)
	api.AssertIsEqual(h.Sum(), c.ActionHash)

	return nil
}

// ============================================================================
// Schemas
// ============================================================================

// Blank returns an empty circuit instance for compilation.
func Blank(kind Kind) (frontend.Circuit, error) {
	switch kind {
	case KindIdentity:
		return &Identity{}, nil
	case KindVoteCast:
		return &VoteCast{}, nil
	case KindAdminAction:
		return &AdminAction{}, nil
	default:
		return nil, fmt.Errorf("unknown circuit kind: %s", kind)
	}
}

// SignalNames returns the public-signal schema of a circuit kind, in witness
// order. The verification key binds a proof to exactly this vector.
func SignalNames(kind Kind) ([]string, error) {
	switch kind {
	case KindIdentity:
		return []string{"identityCommitment", "nullifierHash"}, nil
	case KindVoteCast:
		return []string{"authNullifier", "nullifierHash", "choiceCommitment"}, nil
	case KindAdminAction:
		return []string{"adminProof", "actionHash"}, nil
	default:
		return nil, fmt.Errorf("unknown circuit kind: %s", kind)
	}
}

// PublicAssignment builds an assignment carrying only the public signals of
// the given kind, for constructing a verification-side witness.
func PublicAssignment(kind Kind, signals []*big.Int) (frontend.Circuit, error) {
	names, err := SignalNames(kind)
	if err != nil {
		return nil, err
	}
	if len(signals) != len(names) {
		return nil, fmt.Errorf("circuit %s expects %d public signals, got %d", kind, len(names), len(signals))
	}

	switch kind {
	case KindIdentity:
		return &Identity{
			IdentityCommitment: signals[0],
			NullifierHash:      signals[1],
		}, nil
	case KindVoteCast:
		return &VoteCast{
			AuthNullifier:    signals[0],
			NullifierHash:    signals[1],
			ChoiceCommitment: signals[2],
		}, nil
	case KindAdminAction:
		return &AdminAction{
			AdminProof: signals[0],
			ActionHash: signals[1],
		}, nil
	default:
		return nil, fmt.Errorf("unknown circuit kind: %s", kind)
	}
}
