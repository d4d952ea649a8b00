package zk

import "errors"

// Prover-side taxonomy. WitnessInvalid is a caller error detected before the
// proving system is ever invoked; it never crosses the trust boundary.
var ErrWitnessInvalid = errors.New("witness does not satisfy the declared public signals")

// Verifier-side taxonomy. These three are internal reasons; callers outside
// the trust boundary only ever see ErrVerificationFailed, so a rejected proof
// cannot be used as an oracle for why it was rejected.
var (
	ErrUnknownCircuitVersion = errors.New("no trusted verification key for claimed circuit version")
	ErrMalformedProof        = errors.New("malformed proof")
	ErrConstraintViolation   = errors.New("proof does not satisfy circuit constraints")

	ErrVerificationFailed = errors.New("verification failed")
)

// CollapseVerification maps any verifier rejection to the single generic
// error surfaced to untrusted callers. Other errors pass through unchanged.
func CollapseVerification(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrUnknownCircuitVersion) ||
		errors.Is(err, ErrMalformedProof) ||
		errors.Is(err, ErrConstraintViolation) {
		return ErrVerificationFailed
	}
	return err
}
