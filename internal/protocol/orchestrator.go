package protocol

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/talatops/zk-snark-voting/internal/events"
	"github.com/talatops/zk-snark-voting/internal/zk"
	"github.com/talatops/zk-snark-voting/internal/zk/circuits"
)

// Admin action types accepted by ApplyAdminAction.
const (
	ActionAddCandidate    = "add-candidate"
	ActionRemoveCandidate = "remove-candidate"
)

// ErrUnsupportedAction rejects admin requests naming an unknown mutation.
var ErrUnsupportedAction = errors.New("unsupported admin action type")

// AdminActionRequest is a privileged mutation request plus the proof
// authorizing it. ActionType and Params are the plaintext the canonical
// actionData scalar is derived from on the proving side.
type AdminActionRequest struct {
	ActionType string
	Params     string
	Proof      *zk.Proof
	Signals    *zk.PublicSignals
}

// Orchestrator drives the per-holder, per-domain state machine
// Unregistered -> Registered -> Authenticated -> Acted. Verification outcome
// and nullifier consumption combine into one transition; the nullifier ledger
// is the only shared mutable state, so the transition is as atomic as its
// TryConsume.
type Orchestrator struct {
	verifier    *zk.Verifier
	identities  IdentityStore
	ledger      NullifierLedger
	actions     ActionStore
	receipts    ReceiptLedger
	sessions    SessionStore
	bus         *events.Bus
	adminProofs map[string]bool
	sessionTTL  time.Duration
	logger      *zap.Logger
}

// Options configures an Orchestrator.
type Options struct {
	Verifier   *zk.Verifier
	Identities IdentityStore
	Ledger     NullifierLedger
	Actions    ActionStore
	Receipts   ReceiptLedger
	Sessions   SessionStore
	Bus        *events.Bus

	// AdminProofs is the set of trusted admin key fingerprints H(adminKey),
	// in wire encoding. Configured out of band; the keys themselves never
	// reach the trust anchor.
	AdminProofs []string

	SessionTTL time.Duration
	Logger     *zap.Logger
}

// New creates an Orchestrator.
func New(opts Options) *Orchestrator {
	admins := make(map[string]bool, len(opts.AdminProofs))
	for _, p := range opts.AdminProofs {
		admins[p] = true
	}

	ttl := opts.SessionTTL
	if ttl == 0 {
		ttl = 15 * time.Minute
	}

	return &Orchestrator{
		verifier:    opts.Verifier,
		identities:  opts.Identities,
		ledger:      opts.Ledger,
		actions:     opts.Actions,
		receipts:    opts.Receipts,
		sessions:    opts.Sessions,
		bus:         opts.Bus,
		adminProofs: admins,
		sessionTTL:  ttl,
		logger:      opts.Logger,
	}
}

// Register stores an identity commitment as eligible. Fails with
// ErrDuplicateIdentity when the commitment already exists; commitments are
// immutable once stored.
func (o *Orchestrator) Register(ctx context.Context, commitment string) error {
	if err := o.identities.AddIdentity(ctx, commitment); err != nil {
		return err
	}

	o.logger.Info("Identity registered", zap.String("commitment", commitment))
	o.publish(events.IdentityRegistered, events.Payload{Commitment: commitment})
	return nil
}

// Authenticate verifies an Identity proof, consumes its auth-domain
// nullifier, and issues an opaque session token bound to that nullifier.
//
// An unregistered commitment fails with the same generic error as a bad
// proof, so the endpoint cannot be used to probe the registration set.
func (o *Orchestrator) Authenticate(ctx context.Context, proof *zk.Proof, signals *zk.PublicSignals) (string, error) {
	if signals.Kind != circuits.KindIdentity || len(signals.Values) != 2 {
		return "", zk.ErrVerificationFailed
	}

	if err := o.verifier.Verify(proof, signals); err != nil {
		o.logger.Warn("Authentication proof rejected", zap.Error(err))
		return "", zk.CollapseVerification(err)
	}

	// Signal order per the Identity schema: identityCommitment, nullifierHash.
	commitment := zk.FormatFieldElement(signals.Values[0])
	nullifier := zk.FormatFieldElement(signals.Values[1])

	registered, err := o.identities.HasIdentity(ctx, commitment)
	if err != nil {
		return "", fmt.Errorf("failed to look up identity: %w", err)
	}
	if !registered {
		o.logger.Warn("Authentication for unregistered commitment")
		return "", zk.ErrVerificationFailed
	}

	consumed, err := o.ledger.TryConsume(ctx, zk.DomainAuth, nullifier)
	if err != nil {
		return "", fmt.Errorf("failed to consume auth nullifier: %w", err)
	}
	if !consumed {
		return "", ErrNullifierUsed
	}

	token := uuid.New().String()
	sess := Session{
		AuthNullifier:      nullifier,
		IdentityCommitment: commitment,
		CreatedAt:          time.Now().UTC(),
	}
	if err := o.sessions.Create(ctx, token, sess, o.sessionTTL); err != nil {
		// The auth nullifier is deterministic per credential; leaving it
		// consumed without a session would lock the holder out permanently.
		o.release(ctx, zk.DomainAuth, nullifier)
		return "", fmt.Errorf("failed to create session: %w", err)
	}

	o.logger.Info("Holder authenticated", zap.String("nullifier", nullifier))
	return token, nil
}

// CastVote verifies a VoteCast proof bound to the session's auth nullifier,
// consumes the vote-domain nullifier, records the choice commitment and
// submits a receipt to the external ledger best-effort. The session is
// terminal after a successful vote.
func (o *Orchestrator) CastVote(ctx context.Context, token string, proof *zk.Proof, signals *zk.PublicSignals) error {
	sess, found, err := o.sessions.Get(ctx, token)
	if err != nil {
		return fmt.Errorf("failed to look up session: %w", err)
	}
	if !found {
		return ErrInvalidSession
	}

	if signals.Kind != circuits.KindVoteCast || len(signals.Values) != 3 {
		return zk.ErrVerificationFailed
	}

	if err := o.verifier.Verify(proof, signals); err != nil {
		o.logger.Warn("Vote proof rejected", zap.Error(err))
		return zk.CollapseVerification(err)
	}

	// Signal order per the VoteCast schema: authNullifier, nullifierHash,
	// choiceCommitment.
	authNullifier := zk.FormatFieldElement(signals.Values[0])
	voteNullifier := zk.FormatFieldElement(signals.Values[1])
	choiceCommitment := zk.FormatFieldElement(signals.Values[2])

	if authNullifier != sess.AuthNullifier {
		return ErrInvalidSession
	}

	consumed, err := o.ledger.TryConsume(ctx, zk.DomainVote, voteNullifier)
	if err != nil {
		return fmt.Errorf("failed to consume vote nullifier: %w", err)
	}
	if !consumed {
		return ErrNullifierUsed
	}

	rec := ActionRecord{
		Domain:     zk.DomainVote,
		Nullifier:  voteNullifier,
		Commitment: choiceCommitment,
		Metadata:   map[string]string{"auth_nullifier": authNullifier},
		CreatedAt:  time.Now().UTC(),
	}
	if err := o.actions.RecordAction(ctx, rec); err != nil {
		// Unconsume so the holder can retry; the transition never committed.
		o.release(ctx, zk.DomainVote, voteNullifier)
		return fmt.Errorf("failed to record vote: %w", err)
	}

	_ = o.sessions.Delete(ctx, token)

	o.logger.Info("Vote recorded", zap.String("nullifier", voteNullifier))
	o.publish(events.VoteRecorded, events.Payload{
		Domain:     string(zk.DomainVote),
		Nullifier:  voteNullifier,
		Commitment: choiceCommitment,
	})
	o.submitReceipt(voteNullifier, choiceCommitment)

	return nil
}

// ApplyAdminAction verifies an AdminAction proof, checks the admin
// fingerprint against the trusted set, consumes the action hash in the admin
// domain and applies the requested ballot mutation. Replaying the identical
// proof/signal pair is rejected by the ledger even though verification alone
// would still accept it.
func (o *Orchestrator) ApplyAdminAction(ctx context.Context, req AdminActionRequest) error {
	switch req.ActionType {
	case ActionAddCandidate, ActionRemoveCandidate:
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedAction, req.ActionType)
	}

	if req.Signals.Kind != circuits.KindAdminAction || len(req.Signals.Values) != 2 {
		return zk.ErrVerificationFailed
	}

	if err := o.verifier.Verify(req.Proof, req.Signals); err != nil {
		o.logger.Warn("Admin proof rejected", zap.Error(err))
		return zk.CollapseVerification(err)
	}

	// Signal order per the AdminAction schema: adminProof, actionHash.
	adminProof := zk.FormatFieldElement(req.Signals.Values[0])
	actionHash := zk.FormatFieldElement(req.Signals.Values[1])

	if !o.adminProofs[adminProof] {
		return ErrUnauthorizedAdmin
	}

	consumed, err := o.ledger.TryConsume(ctx, zk.DomainAdmin, actionHash)
	if err != nil {
		return fmt.Errorf("failed to consume action hash: %w", err)
	}
	if !consumed {
		return ErrNullifierUsed
	}

	switch req.ActionType {
	case ActionAddCandidate:
		err = o.actions.AddBallotOption(ctx, req.Params)
	case ActionRemoveCandidate:
		err = o.actions.RemoveBallotOption(ctx, req.Params)
	}
	if err != nil {
		o.release(ctx, zk.DomainAdmin, actionHash)
		return fmt.Errorf("failed to apply admin action: %w", err)
	}

	rec := ActionRecord{
		Domain:     zk.DomainAdmin,
		Nullifier:  actionHash,
		Commitment: actionHash,
		Metadata: map[string]string{
			"action_type": req.ActionType,
			"params":      req.Params,
			"admin_proof": adminProof,
		},
		CreatedAt: time.Now().UTC(),
	}
	if err := o.actions.RecordAction(ctx, rec); err != nil {
		// Released so the admin can retry the same authorization and
		// complete the missing log entry.
		o.release(ctx, zk.DomainAdmin, actionHash)
		return fmt.Errorf("failed to record admin action: %w", err)
	}

	o.logger.Info("Admin action applied",
		zap.String("action_type", req.ActionType),
		zap.String("action_hash", actionHash),
	)
	o.publish(events.AdminApplied, events.Payload{
		Domain:     string(zk.DomainAdmin),
		Nullifier:  actionHash,
		Commitment: actionHash,
	})

	return nil
}

// release compensates a transition that consumed a nullifier but failed to
// persist. A failed release is logged loudly: the nullifier stays burned
// until an operator intervenes.
func (o *Orchestrator) release(ctx context.Context, domain zk.Domain, nullifier string) {
	if err := o.ledger.Release(ctx, domain, nullifier); err != nil {
		o.logger.Error("Failed to release nullifier after aborted transition",
			zap.String("domain", string(domain)),
			zap.String("nullifier", nullifier),
			zap.Error(err),
		)
	}
}

// IsNullifierUsed is the read-only status check; it has no side effect.
func (o *Orchestrator) IsNullifierUsed(ctx context.Context, domain zk.Domain, nullifier string) (bool, error) {
	if !domain.Valid() {
		return false, ErrUnknownDomain
	}
	return o.ledger.IsUsed(ctx, domain, nullifier)
}

// BallotOptions returns the current ballot, for public reads.
func (o *Orchestrator) BallotOptions(ctx context.Context) ([]string, error) {
	return o.actions.ListBallotOptions(ctx)
}

// submitReceipt pushes a receipt to the external ledger in the background.
// The protocol transition already committed; failure here is logged only.
func (o *Orchestrator) submitReceipt(nullifier, commitment string) {
	if o.receipts == nil {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		receiptID, err := o.receipts.SubmitReceipt(ctx, nullifier, commitment)
		if err != nil {
			o.logger.Warn("Receipt submission failed",
				zap.String("nullifier", nullifier),
				zap.Error(err),
			)
			return
		}
		o.logger.Info("Receipt submitted",
			zap.String("nullifier", nullifier),
			zap.String("receipt_id", receiptID),
		)
	}()
}

func (o *Orchestrator) publish(eventType events.Type, payload events.Payload) {
	if o.bus == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := o.bus.Publish(ctx, events.Event{
		Type:      eventType,
		Timestamp: time.Now().Unix(),
		Payload:   payload,
	}); err != nil {
		o.logger.Warn("Failed to publish audit event",
			zap.String("type", string(eventType)),
			zap.Error(err),
		)
	}
}
