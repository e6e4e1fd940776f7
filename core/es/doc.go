// Package es implements the event-sourcing runtime core: an append-only
// event store with optimistic concurrency, aggregate replay with
// snapshotting, a rebuildable projection engine, and the primitives the
// saga coordinator in core/saga builds on.
//
// # Event Store
//
// The [EventStore] is a durable, append-only, per-stream ordered log with a
// global cross-stream ordering. Appends are serialized per stream; streams
// never block each other. Conflicts are detected at commit time via an
// expected-version check ([ErrVersionConflict]) rather than prevented with
// locks. Use [NewInMemoryStore] for tests and development, or implement the
// interface against durable storage.
//
//	res, err := es.AppendEvents(ctx, store, "account", "acc-1", 0,
//	    &AccountOpened{Balance: 1000})
//
// # Aggregates
//
// An aggregate derives its state entirely from its own stream. Embed
// [BaseAggregate] and implement Apply as a pure function of (state, event):
//
//	type Account struct {
//	    es.BaseAggregate
//	    Balance int
//	}
//
//	func (a *Account) Withdraw(amount int) error {
//	    return es.RaiseAndApply(a, &MoneyWithdrawn{Amount: amount})
//	}
//
// The [Repository] rehydrates aggregates from the latest snapshot plus the
// events after it, and persists uncommitted events with the version the
// aggregate was loaded at. A conflicting save surfaces [ErrVersionConflict]
// unchanged; the runtime never retries on the caller's behalf.
//
// # Projections
//
// The [Engine] runs each registered [Projection] as an independent worker
// with its own durable [Checkpoint]. Delivery is at-least-once in commit
// order; handlers must be idempotent or dedupe by envelope ID. A failing
// handler is isolated to a dead-letter record and, per policy, skipped or
// halts that projection only. [Engine.Rebuild] re-streams a projection from
// position zero into a staging instance and swaps it in atomically once the
// recorded head is reached.
//
// # Environment
//
// [Env] is the runtime context that owns the store, snapshotter, registry,
// repository and projection engine. Its lifecycle is tied to Start/Shutdown
// and it is passed explicitly; there is no ambient global state.
//
//	env, err := es.NewEnv(
//	    es.WithLog(logger),
//	    es.WithAggregates(&Account{}),
//	)
package es
