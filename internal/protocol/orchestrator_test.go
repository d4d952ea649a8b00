package protocol_test

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/talatops/zk-snark-voting/internal/protocol"
	"github.com/talatops/zk-snark-voting/internal/session"
	"github.com/talatops/zk-snark-voting/internal/storage/memory"
	"github.com/talatops/zk-snark-voting/internal/zk"
)

// One circuit setup for the whole package; proving is per-test.
var (
	keysOnce sync.Once
	keys     *zk.KeyManager
	keysErr  error
)

func testKeys(t *testing.T) *zk.KeyManager {
	t.Helper()
	keysOnce.Do(func() {
		km, err := zk.NewKeyManager("bn254", zap.NewNop())
		if err != nil {
			keysErr = err
			return
		}
		if err := km.SetupAll(); err != nil {
			keysErr = err
			return
		}
		keys = km
	})
	require.NoError(t, keysErr)
	return keys
}

type recordingReceipts struct {
	submitted chan [2]string
}

func (r *recordingReceipts) SubmitReceipt(_ context.Context, nullifier, commitment string) (string, error) {
	r.submitted <- [2]string{nullifier, commitment}
	return "receipt-1", nil
}

// flakySessions fails Create while tripped, simulating a session-store
// outage.
type flakySessions struct {
	protocol.SessionStore
	failing bool
}

func (f *flakySessions) Create(ctx context.Context, token string, sess protocol.Session, ttl time.Duration) error {
	if f.failing {
		return errors.New("session store unavailable")
	}
	return f.SessionStore.Create(ctx, token, sess, ttl)
}

// flakyActions fails RecordAction while tripped, simulating a database
// outage between nullifier consumption and persistence.
type flakyActions struct {
	*memory.Store
	failing bool
}

func (f *flakyActions) RecordAction(ctx context.Context, rec protocol.ActionRecord) error {
	if f.failing {
		return errors.New("action store unavailable")
	}
	return f.Store.RecordAction(ctx, rec)
}

type testEnv struct {
	orch     *protocol.Orchestrator
	prover   *zk.Prover
	store    *memory.Store
	sessions *flakySessions
	actions  *flakyActions
	receipts *recordingReceipts
}

func newTestEnv(t *testing.T, adminProofs ...string) *testEnv {
	t.Helper()
	km := testKeys(t)

	store := memory.NewStore()
	memSessions := session.NewMemoryStore()
	t.Cleanup(func() { _ = memSessions.Close() })

	sessions := &flakySessions{SessionStore: memSessions}
	actions := &flakyActions{Store: store}
	receipts := &recordingReceipts{submitted: make(chan [2]string, 4)}

	orch := protocol.New(protocol.Options{
		Verifier:    zk.NewVerifier(km, zap.NewNop()),
		Identities:  store,
		Ledger:      store,
		Actions:     actions,
		Receipts:    receipts,
		Sessions:    sessions,
		AdminProofs: adminProofs,
		SessionTTL:  time.Minute,
		Logger:      zap.NewNop(),
	})

	return &testEnv{
		orch:     orch,
		prover:   zk.NewProver(km, zap.NewNop()),
		store:    store,
		sessions: sessions,
		actions:  actions,
		receipts: receipts,
	}
}

func (e *testEnv) prove(t *testing.T, witness zk.PrivateWitness) (*zk.Proof, *zk.PublicSignals) {
	t.Helper()
	signals := &zk.PublicSignals{Kind: witness.Kind(), Values: witness.DerivePublicSignals()}
	proof, err := e.prover.Prove(witness, signals)
	require.NoError(t, err)
	return proof, signals
}

func identityWitness(id, null int64) *zk.IdentityWitness {
	return &zk.IdentityWitness{
		IdentitySecret:  big.NewInt(id),
		NullifierSecret: big.NewInt(null),
	}
}

func registerHolder(t *testing.T, e *testEnv, id int64) {
	t.Helper()
	commitment := zk.FormatFieldElement(zk.IdentityCommitment(big.NewInt(id)))
	require.NoError(t, e.orch.Register(context.Background(), commitment))
}

// ============================================================================
// Registration and Authentication
// ============================================================================

func TestRegisterRejectsDuplicate(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, e.orch.Register(ctx, "123"))
	assert.ErrorIs(t, e.orch.Register(ctx, "123"), protocol.ErrDuplicateIdentity)
}

func TestAuthenticateIssuesSession(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	registerHolder(t, e, 12345678)

	proof, signals := e.prove(t, identityWitness(12345678, 87654321))

	token, err := e.orch.Authenticate(ctx, proof, signals)
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	// The auth nullifier is consumed by the transition.
	used, err := e.orch.IsNullifierUsed(ctx, zk.DomainAuth, zk.FormatFieldElement(signals.Values[1]))
	require.NoError(t, err)
	assert.True(t, used)
}

func TestAuthenticateReplayRejected(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	registerHolder(t, e, 12345678)

	proof, signals := e.prove(t, identityWitness(12345678, 87654321))

	_, err := e.orch.Authenticate(ctx, proof, signals)
	require.NoError(t, err)

	// The proof still verifies, but the nullifier is spent.
	_, err = e.orch.Authenticate(ctx, proof, signals)
	assert.ErrorIs(t, err, protocol.ErrNullifierUsed)
}

func TestAuthenticateUnregisteredCommitment(t *testing.T) {
	e := newTestEnv(t)

	proof, signals := e.prove(t, identityWitness(12345678, 87654321))

	// Same opaque error as a bad proof; no registration oracle.
	_, err := e.orch.Authenticate(context.Background(), proof, signals)
	assert.ErrorIs(t, err, zk.ErrVerificationFailed)
}

func TestAuthenticateTamperedSignals(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	registerHolder(t, e, 12345678)

	proof, signals := e.prove(t, identityWitness(12345678, 87654321))
	signals.Values[1] = new(big.Int).Add(signals.Values[1], big.NewInt(1))

	_, err := e.orch.Authenticate(ctx, proof, signals)
	assert.ErrorIs(t, err, zk.ErrVerificationFailed)

	// The tampered nullifier must not have been consumed.
	used, err := e.orch.IsNullifierUsed(ctx, zk.DomainAuth, zk.FormatFieldElement(signals.Values[1]))
	require.NoError(t, err)
	assert.False(t, used)
}

func TestAuthenticateSessionFailureReleasesNullifier(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	registerHolder(t, e, 12345678)

	proof, signals := e.prove(t, identityWitness(12345678, 87654321))

	// Session store down: authentication fails, but the deterministic auth
	// nullifier must not stay burned.
	e.sessions.failing = true
	_, err := e.orch.Authenticate(ctx, proof, signals)
	require.Error(t, err)
	assert.NotErrorIs(t, err, protocol.ErrNullifierUsed)

	used, err := e.orch.IsNullifierUsed(ctx, zk.DomainAuth, zk.FormatFieldElement(signals.Values[1]))
	require.NoError(t, err)
	assert.False(t, used)

	// Same proof succeeds once the store recovers.
	e.sessions.failing = false
	token, err := e.orch.Authenticate(ctx, proof, signals)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
}

// ============================================================================
// Voting
// ============================================================================

func authenticate(t *testing.T, e *testEnv, id, null int64) string {
	t.Helper()
	proof, signals := e.prove(t, identityWitness(id, null))
	token, err := e.orch.Authenticate(context.Background(), proof, signals)
	require.NoError(t, err)
	return token
}

func TestCastVoteFullFlow(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	registerHolder(t, e, 12345678)
	token := authenticate(t, e, 12345678, 87654321)

	witness := &zk.VoteCastWitness{
		IdentitySecret:  big.NewInt(12345678),
		NullifierSecret: big.NewInt(87654321),
		Choice:          big.NewInt(2),
	}
	proof, signals := e.prove(t, witness)

	require.NoError(t, e.orch.CastVote(ctx, token, proof, signals))

	// Vote nullifier consumed, choice commitment on record.
	voteNullifier := zk.FormatFieldElement(signals.Values[1])
	used, err := e.orch.IsNullifierUsed(ctx, zk.DomainVote, voteNullifier)
	require.NoError(t, err)
	assert.True(t, used)

	actions := e.store.Actions()
	require.Len(t, actions, 1)
	assert.Equal(t, zk.DomainVote, actions[0].Domain)
	assert.Equal(t, voteNullifier, actions[0].Nullifier)
	assert.Equal(t, zk.FormatFieldElement(signals.Values[2]), actions[0].Commitment)

	// Receipt submitted out of band.
	select {
	case got := <-e.receipts.submitted:
		assert.Equal(t, voteNullifier, got[0])
	case <-time.After(2 * time.Second):
		t.Fatal("no receipt submitted")
	}

	// The session is terminal after a successful vote.
	err = e.orch.CastVote(ctx, token, proof, signals)
	assert.ErrorIs(t, err, protocol.ErrInvalidSession)
}

func TestCastVoteRequiresSession(t *testing.T) {
	e := newTestEnv(t)
	registerHolder(t, e, 12345678)

	witness := &zk.VoteCastWitness{
		IdentitySecret:  big.NewInt(12345678),
		NullifierSecret: big.NewInt(87654321),
		Choice:          big.NewInt(1),
	}
	proof, signals := e.prove(t, witness)

	err := e.orch.CastVote(context.Background(), "no-such-token", proof, signals)
	assert.ErrorIs(t, err, protocol.ErrInvalidSession)
}

func TestCastVoteRejectsForeignSession(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	// Two holders; B tries to vote on A's session.
	registerHolder(t, e, 111)
	registerHolder(t, e, 333)
	tokenA := authenticate(t, e, 111, 222)

	witnessB := &zk.VoteCastWitness{
		IdentitySecret:  big.NewInt(333),
		NullifierSecret: big.NewInt(444),
		Choice:          big.NewInt(1),
	}
	proof, signals := e.prove(t, witnessB)

	err := e.orch.CastVote(ctx, tokenA, proof, signals)
	assert.ErrorIs(t, err, protocol.ErrInvalidSession)

	// B's vote nullifier must not have been consumed by the failed attempt.
	used, err := e.orch.IsNullifierUsed(ctx, zk.DomainVote, zk.FormatFieldElement(signals.Values[1]))
	require.NoError(t, err)
	assert.False(t, used)
}

func TestCastVotePersistenceFailureReleasesNullifier(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	registerHolder(t, e, 12345678)
	token := authenticate(t, e, 12345678, 87654321)

	witness := &zk.VoteCastWitness{
		IdentitySecret:  big.NewInt(12345678),
		NullifierSecret: big.NewInt(87654321),
		Choice:          big.NewInt(2),
	}
	proof, signals := e.prove(t, witness)
	voteNullifier := zk.FormatFieldElement(signals.Values[1])

	// Action store down: the vote fails without silently burning the
	// nullifier, and the session survives.
	e.actions.failing = true
	err := e.orch.CastVote(ctx, token, proof, signals)
	require.Error(t, err)

	used, err := e.orch.IsNullifierUsed(ctx, zk.DomainVote, voteNullifier)
	require.NoError(t, err)
	assert.False(t, used)

	// Retrying on the same session succeeds once the store recovers.
	e.actions.failing = false
	require.NoError(t, e.orch.CastVote(ctx, token, proof, signals))

	used, err = e.orch.IsNullifierUsed(ctx, zk.DomainVote, voteNullifier)
	require.NoError(t, err)
	assert.True(t, used)
	assert.Len(t, e.store.Actions(), 1)
}

func TestTwoHoldersVoteIndependently(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	registerHolder(t, e, 111)
	registerHolder(t, e, 333)

	for _, h := range []struct{ id, null, choice int64 }{
		{111, 222, 1},
		{333, 444, 2},
	} {
		token := authenticate(t, e, h.id, h.null)
		witness := &zk.VoteCastWitness{
			IdentitySecret:  big.NewInt(h.id),
			NullifierSecret: big.NewInt(h.null),
			Choice:          big.NewInt(h.choice),
		}
		proof, signals := e.prove(t, witness)
		require.NoError(t, e.orch.CastVote(ctx, token, proof, signals))
	}

	assert.Len(t, e.store.Actions(), 2)
}

// ============================================================================
// Admin Actions
// ============================================================================

func adminFingerprint(key int64) string {
	return zk.FormatFieldElement(zk.AdminProof(big.NewInt(key)))
}

func adminWitness(key int64, actionType, params string, nonce int64) *zk.AdminActionWitness {
	return &zk.AdminActionWitness{
		AdminKey:    big.NewInt(key),
		ActionData:  zk.ActionDataScalar(actionType, params),
		ActionNonce: big.NewInt(nonce),
	}
}

func TestAdminActionAppliesBallotMutation(t *testing.T) {
	e := newTestEnv(t, adminFingerprint(424242))
	ctx := context.Background()

	proof, signals := e.prove(t, adminWitness(424242, protocol.ActionAddCandidate, "alice", 1))
	require.NoError(t, e.orch.ApplyAdminAction(ctx, protocol.AdminActionRequest{
		ActionType: protocol.ActionAddCandidate,
		Params:     "alice",
		Proof:      proof,
		Signals:    signals,
	}))

	options, err := e.orch.BallotOptions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, options)

	proof, signals = e.prove(t, adminWitness(424242, protocol.ActionRemoveCandidate, "alice", 2))
	require.NoError(t, e.orch.ApplyAdminAction(ctx, protocol.AdminActionRequest{
		ActionType: protocol.ActionRemoveCandidate,
		Params:     "alice",
		Proof:      proof,
		Signals:    signals,
	}))

	options, err = e.orch.BallotOptions(ctx)
	require.NoError(t, err)
	assert.Empty(t, options)
}

func TestAdminActionReplayRejected(t *testing.T) {
	e := newTestEnv(t, adminFingerprint(424242))
	ctx := context.Background()

	proof, signals := e.prove(t, adminWitness(424242, protocol.ActionAddCandidate, "alice", 7))
	req := protocol.AdminActionRequest{
		ActionType: protocol.ActionAddCandidate,
		Params:     "alice",
		Proof:      proof,
		Signals:    signals,
	}

	require.NoError(t, e.orch.ApplyAdminAction(ctx, req))

	// Identical proof and signals still verify, but the action hash is spent.
	assert.ErrorIs(t, e.orch.ApplyAdminAction(ctx, req), protocol.ErrNullifierUsed)
}

func TestAdminActionRejectsUntrustedKey(t *testing.T) {
	e := newTestEnv(t, adminFingerprint(424242))

	// Valid proof under a key that is not in the trusted set.
	proof, signals := e.prove(t, adminWitness(999999, protocol.ActionAddCandidate, "mallory", 1))
	err := e.orch.ApplyAdminAction(context.Background(), protocol.AdminActionRequest{
		ActionType: protocol.ActionAddCandidate,
		Params:     "mallory",
		Proof:      proof,
		Signals:    signals,
	})
	assert.ErrorIs(t, err, protocol.ErrUnauthorizedAdmin)
}

func TestAdminActionRejectsUnsupportedType(t *testing.T) {
	e := newTestEnv(t, adminFingerprint(424242))
	ctx := context.Background()

	proof, signals := e.prove(t, adminWitness(424242, "drop-tables", "x", 1))
	err := e.orch.ApplyAdminAction(ctx, protocol.AdminActionRequest{
		ActionType: "drop-tables",
		Params:     "x",
		Proof:      proof,
		Signals:    signals,
	})
	assert.ErrorIs(t, err, protocol.ErrUnsupportedAction)

	// Rejected before consumption: the action hash is still fresh.
	used, err := e.orch.IsNullifierUsed(ctx, zk.DomainAdmin, zk.FormatFieldElement(signals.Values[1]))
	require.NoError(t, err)
	assert.False(t, used)
}

func TestAdminActionRecordFailureReleasesActionHash(t *testing.T) {
	e := newTestEnv(t, adminFingerprint(424242))
	ctx := context.Background()

	proof, signals := e.prove(t, adminWitness(424242, protocol.ActionAddCandidate, "alice", 9))
	req := protocol.AdminActionRequest{
		ActionType: protocol.ActionAddCandidate,
		Params:     "alice",
		Proof:      proof,
		Signals:    signals,
	}

	e.actions.failing = true
	require.Error(t, e.orch.ApplyAdminAction(ctx, req))

	used, err := e.orch.IsNullifierUsed(ctx, zk.DomainAdmin, zk.FormatFieldElement(signals.Values[1]))
	require.NoError(t, err)
	assert.False(t, used)

	// The same authorization completes after recovery.
	e.actions.failing = false
	require.NoError(t, e.orch.ApplyAdminAction(ctx, req))
}

// ============================================================================
// Status
// ============================================================================

func TestIsNullifierUsedUnknownDomain(t *testing.T) {
	e := newTestEnv(t)

	_, err := e.orch.IsNullifierUsed(context.Background(), zk.Domain("ballot"), "1")
	assert.ErrorIs(t, err, protocol.ErrUnknownDomain)
}
