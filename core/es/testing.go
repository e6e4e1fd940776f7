package es

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// === Helpers ===

type TestingEnv struct {
	*Env
	t *testing.T
}

// StartTestEnv builds an in-memory env with snapshotting enabled, starts it
// and tears it down with the test.
func StartTestEnv(t *testing.T, opts ...EnvOption) *TestingEnv {
	t.Helper()

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))

	e, err := NewEnv(
		WithLog(log),
		WithEnvSnapshotter(NewInMemorySnapshotter(log)),
		WithEnvOpts(opts...),
	)
	require.NoError(t, err)
	require.NoError(t, e.Start(t.Context()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, e.Shutdown(ctx))
	})

	return &TestingEnv{Env: e, t: t}
}

func (e *TestingEnv) Assert() *TestingEnvAssert {
	return &TestingEnvAssert{env: e}
}

type TestingEnvAssert struct {
	env *TestingEnv
}

func (a *TestingEnvAssert) Append(
	ctx context.Context,
	streamType, streamID string,
	expect Version,
	events ...any,
) {
	a.env.t.Helper()
	require.NoError(a.env.t, a.env.Append(ctx, streamType, streamID, expect, events...))
}

// CheckpointAt waits until the projection checkpoint has reached pos.
func (a *TestingEnvAssert) CheckpointAt(projection string, pos uint64) {
	a.env.t.Helper()
	require.Eventually(a.env.t, func() bool {
		cp, err := a.env.engine.Checkpoint(context.Background(), projection)
		return err == nil && cp.Position >= pos
	}, 5*time.Second, 5*time.Millisecond)
}
