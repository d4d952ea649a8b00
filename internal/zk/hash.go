package zk

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark-crypto/hash"

	"github.com/talatops/zk-snark-voting/internal/zk/circuits"
)

// Domain namespaces the nullifier ledger. Each domain maps to exactly one
// circuit kind, and the matching tag is mixed into every in-circuit nullifier
// derivation, so nullifiers never collide across domains.
type Domain string

const (
	DomainAuth  Domain = "auth"
	DomainVote  Domain = "vote"
	DomainAdmin Domain = "admin"
)

// Valid reports whether d is one of the three protocol domains.
func (d Domain) Valid() bool {
	switch d {
	case DomainAuth, DomainVote, DomainAdmin:
		return true
	}
	return false
}

func (d Domain) tag() *big.Int {
	switch d {
	case DomainVote:
		return circuits.TagVote
	case DomainAdmin:
		return circuits.TagAdmin
	default:
		return circuits.TagAuth
	}
}

// ============================================================================
// Native MiMC - Must Match the In-Circuit Derivations
// ============================================================================

// mimcSum hashes field elements with MiMC over the BN254 scalar field.
// Each element is written as a 32-byte big-endian chunk, which is exactly
// how the gnark in-circuit MiMC gadget absorbs its inputs.
func mimcSum(elems ...*big.Int) *big.Int {
	hFunc := hash.MIMC_BN254.New()
	buf := make([]byte, 32)

	for _, e := range elems {
		reduced := new(big.Int).Mod(e, ecc.BN254.ScalarField())
		reduced.FillBytes(buf)
		hFunc.Write(buf)
	}

	return new(big.Int).SetBytes(hFunc.Sum(nil))
}

// IdentityCommitment computes H(identitySecret), the public value the trust
// anchor stores at registration.
func IdentityCommitment(identitySecret *big.Int) *big.Int {
	return mimcSum(identitySecret)
}

// Nullifier computes H(identitySecret, nullifierSecret, domainTag).
// Deterministic given the two secrets and the domain.
func Nullifier(identitySecret, nullifierSecret *big.Int, domain Domain) *big.Int {
	return mimcSum(identitySecret, nullifierSecret, domain.tag())
}

// ChoiceCommitment computes H(choice, nullifierSecret), hiding the choice
// while binding it to the session's nullifier secret.
func ChoiceCommitment(choice, nullifierSecret *big.Int) *big.Int {
	return mimcSum(choice, nullifierSecret)
}

// AdminProof computes H(adminKey), the auditable public fingerprint of an
// admin key. The trust anchor compares it against its configured admin set.
func AdminProof(adminKey *big.Int) *big.Int {
	return mimcSum(adminKey)
}

// ActionHash computes H(adminKey, actionData, actionNonce). The nonce makes
// it single-use, so it doubles as the admin-domain nullifier.
func ActionHash(adminKey, actionData, actionNonce *big.Int) *big.Int {
	return mimcSum(adminKey, actionData, actionNonce)
}

// ActionDataScalar is the canonical field encoding of an admin action.
// Proving and verifying call sites must agree on one serialization, so both
// sides derive the scalar from the same "type|params" string.
func ActionDataScalar(actionType, actionParams string) *big.Int {
	digest := sha256.Sum256([]byte(actionType + "|" + actionParams))
	return BytesToFieldElement(digest[:])
}

// ============================================================================
// Encoding Helpers
// ============================================================================

// BytesToFieldElement interprets data as a big-endian integer reduced into
// the BN254 scalar field.
func BytesToFieldElement(data []byte) *big.Int {
	result := new(big.Int).SetBytes(data)
	return result.Mod(result, ecc.BN254.ScalarField())
}

// ParseFieldElement parses a decimal or 0x-prefixed hex string into a field
// element. This is the wire encoding used by the HTTP API.
func ParseFieldElement(s string) (*big.Int, error) {
	if len(s) > 2 && s[:2] == "0x" {
		raw, err := hex.DecodeString(s[2:])
		if err != nil {
			return nil, fmt.Errorf("invalid hex field element: %w", err)
		}
		v := new(big.Int).SetBytes(raw)
		if v.Cmp(ecc.BN254.ScalarField()) >= 0 {
			return nil, fmt.Errorf("field element out of range")
		}
		return v, nil
	}

	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid decimal field element: %q", s)
	}
	if v.Sign() < 0 || v.Cmp(ecc.BN254.ScalarField()) >= 0 {
		return nil, fmt.Errorf("field element out of range")
	}
	return v, nil
}

// FormatFieldElement renders a field element in the wire encoding (decimal).
func FormatFieldElement(v *big.Int) string {
	return v.Text(10)
}
