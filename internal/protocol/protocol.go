// Package protocol ties proof verification, nullifier consumption and
// persistence into the atomic state transitions of the voting trust anchor.
package protocol

import (
	"context"
	"errors"
	"time"

	"github.com/talatops/zk-snark-voting/internal/zk"
)

// Protocol-level errors surfaced to callers. Nullifier replay and
// registration conflicts are reported precisely since they reveal no private
// witness data; every verifier rejection is already collapsed to
// zk.ErrVerificationFailed before it reaches this package's callers.
var (
	ErrDuplicateIdentity = errors.New("identity commitment already registered")
	ErrNullifierUsed     = errors.New("nullifier already used")
	ErrInvalidSession    = errors.New("invalid or expired session")
	ErrUnknownDomain     = errors.New("unknown nullifier domain")
	ErrUnauthorizedAdmin = errors.New("admin proof does not match a trusted admin")
)

// IdentityStore is the registration collaborator: the persistent set of
// eligible identity commitments.
type IdentityStore interface {
	// AddIdentity stores a commitment, failing with ErrDuplicateIdentity if
	// it already exists.
	AddIdentity(ctx context.Context, commitment string) error
	HasIdentity(ctx context.Context, commitment string) (bool, error)
}

// NullifierLedger is the persistent, domain-partitioned set of consumed
// nullifiers. TryConsume must be linearizable: concurrent calls for the same
// (domain, nullifier) pair yield exactly one true.
type NullifierLedger interface {
	TryConsume(ctx context.Context, domain zk.Domain, nullifier string) (bool, error)
	IsUsed(ctx context.Context, domain zk.Domain, nullifier string) (bool, error)

	// Release removes a consumed nullifier. Only called to compensate a
	// transition whose persistence step failed after consumption; a committed
	// transition never releases. Releasing an absent nullifier is a no-op.
	Release(ctx context.Context, domain zk.Domain, nullifier string) error
}

// ActionRecord is one committed action, keyed by the nullifier that paid
// for it. Metadata never contains private witness data.
type ActionRecord struct {
	Domain     zk.Domain
	Nullifier  string
	Commitment string
	Metadata   map[string]string
	CreatedAt  time.Time
}

// ActionStore persists committed actions and the ballot options admin
// actions mutate.
type ActionStore interface {
	RecordAction(ctx context.Context, rec ActionRecord) error

	AddBallotOption(ctx context.Context, name string) error
	RemoveBallotOption(ctx context.Context, name string) error
	ListBallotOptions(ctx context.Context) ([]string, error)
}

// ReceiptLedger submits vote receipts to an external immutable ledger.
// Submission is best-effort: failure must never block the protocol's own
// state transition.
type ReceiptLedger interface {
	SubmitReceipt(ctx context.Context, nullifier, actionCommitment string) (receiptID string, err error)
}

// Session is an authenticated holder's state, bound to the auth nullifier
// the Identity proof emitted. It carries no secrets.
type Session struct {
	AuthNullifier      string    `json:"auth_nullifier"`
	IdentityCommitment string    `json:"identity_commitment"`
	CreatedAt          time.Time `json:"created_at"`
}

// SessionStore maps opaque session tokens to sessions, with expiry.
type SessionStore interface {
	Create(ctx context.Context, token string, sess Session, ttl time.Duration) error
	Get(ctx context.Context, token string) (Session, bool, error)
	Delete(ctx context.Context, token string) error
}
