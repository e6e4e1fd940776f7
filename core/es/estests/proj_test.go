package estests

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/streamhaus/evr-go/core/es"
	"github.com/streamhaus/evr-go/core/es/estests/domain"
	"github.com/streamhaus/evr-go/ports/kv"
)

type balanceProjection struct {
	name string
	// failOn lets tests poison individual events. Cleared on Fresh.
	failOn func(env es.Envelope, event any) error
	// hook runs before each apply and survives Fresh, so tests can observe
	// the staging instance while a rebuild is replaying.
	hook func()

	mu       sync.RWMutex
	balances map[string]int64
	applied  int
}

func newBalanceProjection(name string) *balanceProjection {
	return &balanceProjection{
		name:     name,
		balances: map[string]int64{},
	}
}

func (p *balanceProjection) Name() string { return p.name }

func (p *balanceProjection) Fresh() es.Projection {
	f := newBalanceProjection(p.name)
	f.hook = p.hook
	return f
}

func (p *balanceProjection) Apply(_ context.Context, env es.Envelope, event any) error {
	if p.hook != nil {
		p.hook()
	}
	if p.failOn != nil {
		if err := p.failOn(env, event); err != nil {
			return err
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	switch e := event.(type) {
	case *domain.AccountOpened:
		p.balances[env.StreamID] = e.Initial
	case *domain.MoneyDeposited:
		p.balances[env.StreamID] += e.Amount
	case *domain.MoneyWithdrawn:
		p.balances[env.StreamID] -= e.Amount
	}
	p.applied++
	return nil
}

func (p *balanceProjection) Balance(id string) int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.balances[id]
}

func (p *balanceProjection) Applied() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.applied
}

var _ es.Rebuildable = &balanceProjection{}

func TestProjection_Tailing(t *testing.T) {
	proj := newBalanceProjection("balances")
	te := es.StartTestEnv(t,
		es.WithAggregates(new(domain.Account)),
		es.WithProjection(proj),
	)
	repo := es.TypedRepo[*domain.Account](te.Env)

	a, err := repo.GetOrCreate(t.Context(), "acc-1")
	require.NoError(t, err)
	require.NoError(t, a.Open("alice", 1000))
	require.NoError(t, a.Deposit(250))
	require.NoError(t, a.Withdraw(500))
	require.NoError(t, repo.Save(t.Context(), a))

	b, err := repo.GetOrCreate(t.Context(), "acc-2")
	require.NoError(t, err)
	require.NoError(t, b.Open("bob", 50))
	require.NoError(t, repo.Save(t.Context(), b))

	te.Assert().CheckpointAt("balances", b.GetPos())
	require.EqualValues(t, 750, proj.Balance("acc-1"))
	require.EqualValues(t, 50, proj.Balance("acc-2"))

	t.Run("checkpoint is running", func(t *testing.T) {
		cp, err := te.Engine().Checkpoint(t.Context(), "balances")
		require.NoError(t, err)
		require.Equal(t, es.StatusRunning, cp.Status)
	})
}

// A restarted engine resumes from the persisted checkpoint instead of
// reprocessing the full log.
func TestProjection_Resume(t *testing.T) {
	var (
		store       = es.NewInMemoryStore()
		checkpoints = es.NewKVCheckpointStore(kv.NewMemStore())
	)

	proj1 := newBalanceProjection("balances")
	te1 := es.StartTestEnv(t,
		es.WithAggregates(new(domain.Account)),
		es.WithStore(store),
		es.WithCheckpointStore(checkpoints),
		es.WithProjection(proj1),
	)

	a, err := es.TypedRepo[*domain.Account](te1.Env).GetOrCreate(t.Context(), "acc-1")
	require.NoError(t, err)
	require.NoError(t, a.Open("alice", 100))
	require.NoError(t, es.TypedRepo[*domain.Account](te1.Env).Save(t.Context(), a))

	te1.Assert().CheckpointAt("balances", a.GetPos())
	require.NoError(t, te1.Shutdown(t.Context()))

	proj2 := newBalanceProjection("balances")
	te2 := es.StartTestEnv(t,
		es.WithAggregates(new(domain.Account)),
		es.WithStore(store),
		es.WithCheckpointStore(checkpoints),
		es.WithProjection(proj2),
	)

	repo2 := es.TypedRepo[*domain.Account](te2.Env)
	loaded, err := repo2.GetByID(t.Context(), "acc-1")
	require.NoError(t, err)
	require.NoError(t, loaded.Deposit(1))
	require.NoError(t, repo2.Save(t.Context(), loaded))

	te2.Assert().CheckpointAt("balances", loaded.GetPos())

	// only the new event, not the replayed history
	require.Equal(t, 1, proj2.Applied())
}

func TestProjection_DeadLetter_SkipAndContinue(t *testing.T) {
	proj := newBalanceProjection("balances")
	proj.failOn = func(_ es.Envelope, event any) error {
		if e, ok := event.(*domain.MoneyDeposited); ok && e.Amount == 13 {
			return fmt.Errorf("unlucky amount")
		}
		return nil
	}

	te := es.StartTestEnv(t,
		es.WithAggregates(new(domain.Account)),
		es.WithProjection(proj),
	)
	repo := es.TypedRepo[*domain.Account](te.Env)

	a, err := repo.GetOrCreate(t.Context(), "acc-1")
	require.NoError(t, err)
	require.NoError(t, a.Open("alice", 0))
	require.NoError(t, a.Deposit(13))
	require.NoError(t, a.Deposit(7))
	require.NoError(t, repo.Save(t.Context(), a))

	te.Assert().CheckpointAt("balances", a.GetPos())

	// poison skipped, the rest processed
	require.EqualValues(t, 7, proj.Balance("acc-1"))

	letters, err := te.Engine().DeadLetters(t.Context(), "balances")
	require.NoError(t, err)
	require.Len(t, letters, 1)
	require.Equal(t, "balances", letters[0].Projection)
	require.Contains(t, letters[0].Reason, "unlucky")
}

func TestProjection_Halt(t *testing.T) {
	poisoned := newBalanceProjection("poisoned")
	poisoned.failOn = func(_ es.Envelope, event any) error {
		if _, ok := event.(*domain.MoneyDeposited); ok {
			return fmt.Errorf("boom")
		}
		return nil
	}
	healthy := newBalanceProjection("healthy")

	te := es.StartTestEnv(t,
		es.WithAggregates(new(domain.Account)),
		es.WithProjection(poisoned, es.WithFailurePolicy(es.Halt), es.WithLanes(1), es.WithBatchSize(1)),
		es.WithProjection(healthy),
	)
	repo := es.TypedRepo[*domain.Account](te.Env)

	a, err := repo.GetOrCreate(t.Context(), "acc-1")
	require.NoError(t, err)
	require.NoError(t, a.Open("alice", 0))
	require.NoError(t, a.Deposit(1))
	require.NoError(t, repo.Save(t.Context(), a))

	require.Eventually(t, func() bool {
		cp, err := te.Engine().Checkpoint(context.Background(), "poisoned")
		return err == nil && cp.Status == es.StatusFailed
	}, 2*time.Second, 5*time.Millisecond)

	// the healthy projection is unaffected
	te.Assert().CheckpointAt("healthy", a.GetPos())
	require.EqualValues(t, 1, healthy.Balance("acc-1"))
}

// A diverged projection rebuilds from the full log and converges to the
// state a fresh fold would produce, then keeps tailing.
func TestProjection_Rebuild(t *testing.T) {
	proj := newBalanceProjection("balances")
	var skippedOne bool
	proj.failOn = func(_ es.Envelope, event any) error {
		if _, ok := event.(*domain.MoneyDeposited); ok && !skippedOne {
			skippedOne = true
			return fmt.Errorf("transient")
		}
		return nil
	}

	te := es.StartTestEnv(t,
		es.WithAggregates(new(domain.Account)),
		es.WithProjection(proj, es.WithLanes(1)),
	)
	repo := es.TypedRepo[*domain.Account](te.Env)

	a, err := repo.GetOrCreate(t.Context(), "acc-1")
	require.NoError(t, err)
	require.NoError(t, a.Open("alice", 0))
	require.NoError(t, a.Deposit(100))
	require.NoError(t, a.Deposit(50))
	require.NoError(t, repo.Save(t.Context(), a))

	te.Assert().CheckpointAt("balances", a.GetPos())

	// one deposit was skipped: live state diverged from the log
	require.EqualValues(t, 50, proj.Balance("acc-1"))

	require.NoError(t, te.Engine().Rebuild(t.Context(), "balances"))

	current, ok := te.Engine().Projection("balances")
	require.True(t, ok)
	rebuilt := current.(*balanceProjection)
	require.EqualValues(t, 150, rebuilt.Balance("acc-1"))

	cp, err := te.Engine().Checkpoint(t.Context(), "balances")
	require.NoError(t, err)
	require.Equal(t, es.StatusRunning, cp.Status)
	require.Equal(t, a.GetPos(), cp.Position)

	t.Run("keeps tailing after swap", func(t *testing.T) {
		require.NoError(t, a.Deposit(25))
		require.NoError(t, repo.Save(t.Context(), a))

		te.Assert().CheckpointAt("balances", a.GetPos())
		require.EqualValues(t, 175, rebuilt.Balance("acc-1"))
	})
}

// Events committed while a rebuild is replaying are not part of its log
// snapshot; the worker picks them up when it re-subscribes past the new
// checkpoint, so the swapped instance still converges on the full log.
func TestProjection_Rebuild_concurrentAppends(t *testing.T) {
	var (
		armed          atomic.Bool
		once           sync.Once
		rebuildRunning = make(chan struct{})
		proceed        = make(chan struct{})
	)

	proj := newBalanceProjection("balances")
	proj.hook = func() {
		if !armed.Load() {
			return
		}
		once.Do(func() {
			close(rebuildRunning)
			<-proceed
		})
	}

	te := es.StartTestEnv(t,
		es.WithAggregates(new(domain.Account)),
		es.WithProjection(proj, es.WithLanes(1)),
	)
	repo := es.TypedRepo[*domain.Account](te.Env)

	a, err := repo.GetOrCreate(t.Context(), "acc-1")
	require.NoError(t, err)
	require.NoError(t, a.Open("alice", 0))
	require.NoError(t, a.Deposit(100))
	require.NoError(t, repo.Save(t.Context(), a))
	te.Assert().CheckpointAt("balances", a.GetPos())

	// next apply is the staging instance replaying the log snapshot
	armed.Store(true)

	rebuildDone := make(chan error, 1)
	go func() { rebuildDone <- te.Engine().Rebuild(context.Background(), "balances") }()
	<-rebuildRunning

	cp, err := te.Engine().Checkpoint(t.Context(), "balances")
	require.NoError(t, err)
	require.Equal(t, es.StatusRebuilding, cp.Status)

	// lands after the rebuild's ReadAll, before the swap
	require.NoError(t, a.Deposit(50))
	require.NoError(t, repo.Save(t.Context(), a))

	close(proceed)
	require.NoError(t, <-rebuildDone)

	current, ok := te.Engine().Projection("balances")
	require.True(t, ok)
	rebuilt := current.(*balanceProjection)

	// the swapped instance catches the concurrent deposit by tailing
	te.Assert().CheckpointAt("balances", a.GetPos())
	require.EqualValues(t, 150, rebuilt.Balance("acc-1"))
}

func TestProjection_Rebuild_cancelled(t *testing.T) {
	proj := newBalanceProjection("balances")
	te := es.StartTestEnv(t,
		es.WithAggregates(new(domain.Account)),
		es.WithProjection(proj),
	)
	repo := es.TypedRepo[*domain.Account](te.Env)

	a, err := repo.GetOrCreate(t.Context(), "acc-1")
	require.NoError(t, err)
	require.NoError(t, a.Open("alice", 42))
	require.NoError(t, repo.Save(t.Context(), a))
	te.Assert().CheckpointAt("balances", a.GetPos())

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	require.Error(t, te.Engine().Rebuild(ctx, "balances"))

	// previous state and checkpoint survive the abort
	current, ok := te.Engine().Projection("balances")
	require.True(t, ok)
	require.Same(t, proj, current.(*balanceProjection))

	require.Eventually(t, func() bool {
		cp, err := te.Engine().Checkpoint(context.Background(), "balances")
		return err == nil && cp.Status == es.StatusRunning && cp.Position == a.GetPos()
	}, 2*time.Second, 5*time.Millisecond)
}
