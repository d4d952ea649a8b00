package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talatops/zk-snark-voting/internal/protocol"
	"github.com/talatops/zk-snark-voting/internal/zk"
)

func TestAddIdentityRejectsDuplicate(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	require.NoError(t, s.AddIdentity(ctx, "c1"))
	assert.ErrorIs(t, s.AddIdentity(ctx, "c1"), protocol.ErrDuplicateIdentity)

	exists, err := s.HasIdentity(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = s.HasIdentity(ctx, "c2")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestTryConsumeExactlyOnce(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	ok, err := s.TryConsume(ctx, zk.DomainAuth, "n1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.TryConsume(ctx, zk.DomainAuth, "n1")
	require.NoError(t, err)
	assert.False(t, ok)

	used, err := s.IsUsed(ctx, zk.DomainAuth, "n1")
	require.NoError(t, err)
	assert.True(t, used)
}

func TestTryConsumeDomainPartitioned(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	ok, err := s.TryConsume(ctx, zk.DomainAuth, "n1")
	require.NoError(t, err)
	require.True(t, ok)

	// Same value in another domain is a distinct ledger entry.
	ok, err = s.TryConsume(ctx, zk.DomainVote, "n1")
	require.NoError(t, err)
	assert.True(t, ok)

	used, err := s.IsUsed(ctx, zk.DomainAdmin, "n1")
	require.NoError(t, err)
	assert.False(t, used)
}

func TestTryConsumeConcurrent(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	const goroutines = 64
	var wins atomic.Int64
	var wg sync.WaitGroup
	errs := make(chan error, goroutines)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.TryConsume(ctx, zk.DomainVote, "contested")
			if err != nil {
				errs <- err
				return
			}
			if ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, int64(1), wins.Load(), "exactly one consumer must win")
}

func TestReleaseMakesNullifierConsumableAgain(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	ok, err := s.TryConsume(ctx, zk.DomainAuth, "n1")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, s.Release(ctx, zk.DomainAuth, "n1"))

	used, err := s.IsUsed(ctx, zk.DomainAuth, "n1")
	require.NoError(t, err)
	assert.False(t, used)

	ok, err = s.TryConsume(ctx, zk.DomainAuth, "n1")
	require.NoError(t, err)
	assert.True(t, ok)

	// Releasing an absent nullifier is a no-op.
	assert.NoError(t, s.Release(ctx, zk.DomainVote, "never-consumed"))
}

func TestRecordAction(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	rec := protocol.ActionRecord{
		Domain:     zk.DomainVote,
		Nullifier:  "n1",
		Commitment: "c1",
		Metadata:   map[string]string{"auth_nullifier": "a1"},
	}
	require.NoError(t, s.RecordAction(ctx, rec))

	actions := s.Actions()
	require.Len(t, actions, 1)
	assert.Equal(t, "n1", actions[0].Nullifier)
	assert.Equal(t, "c1", actions[0].Commitment)
}

func TestBallotOptions(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	require.NoError(t, s.AddBallotOption(ctx, "alice"))
	require.NoError(t, s.AddBallotOption(ctx, "bob"))
	require.NoError(t, s.AddBallotOption(ctx, "alice")) // idempotent

	options, err := s.ListBallotOptions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, options)

	require.NoError(t, s.RemoveBallotOption(ctx, "alice"))
	options, err = s.ListBallotOptions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, options)

	assert.Error(t, s.RemoveBallotOption(ctx, "carol"))
}
