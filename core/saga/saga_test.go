package saga_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamhaus/evr-go/core/es"
	"github.com/streamhaus/evr-go/core/saga"
)

// callLog records step executions across goroutines.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, name)
}

func (l *callLog) get() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

func step(log *callLog, name string, execErr error) saga.Step {
	return saga.Step{
		Name: name,
		Execute: func(ctx context.Context) error {
			log.add("exec:" + name)
			return execErr
		},
		Compensate: func(ctx context.Context) error {
			log.add("undo:" + name)
			return nil
		},
	}
}

func bookingSaga(log *callLog, chargeErr error) saga.Definition {
	return saga.Definition{
		Name: "booking",
		Steps: []saga.Step{
			step(log, "reserve-flight", nil),
			step(log, "reserve-hotel", nil),
			step(log, "charge-card", chargeErr),
		},
	}
}

func TestSaga_Completes(t *testing.T) {
	te := es.StartTestEnv(t)
	c := saga.NewCoordinator(te.Env)

	log := &callLog{}
	def := bookingSaga(log, nil)

	require.NoError(t, c.Run(t.Context(), "booking-1", def))
	require.Equal(t, []string{"exec:reserve-flight", "exec:reserve-hotel", "exec:charge-card"}, log.get())

	inst, err := c.Instance(t.Context(), "booking-1")
	require.NoError(t, err)
	require.Equal(t, saga.Completed, inst.Status)
	require.Equal(t, "booking", inst.Saga)

	t.Run("rerun is a no-op", func(t *testing.T) {
		require.NoError(t, c.Run(t.Context(), "booking-1", def))
		require.Len(t, log.get(), 3)
	})

	t.Run("state is an event stream", func(t *testing.T) {
		events, err := te.Store().ReadStream(t.Context(), "saga", "booking-1")
		require.NoError(t, err)

		types := make([]string, 0, len(events))
		for _, env := range events {
			types = append(types, env.Type)
		}
		require.Contains(t, types, es.EventTypeOf(&saga.SagaStarted{}))
		require.Contains(t, types, es.EventTypeOf(&saga.SagaCompleted{}))
		require.Equal(t, es.EventTypeOf(&saga.SagaCompleted{}), types[len(types)-1])
	})
}

func TestSaga_CompensatesInReverse(t *testing.T) {
	te := es.StartTestEnv(t)
	c := saga.NewCoordinator(te.Env)

	log := &callLog{}
	def := bookingSaga(log, fmt.Errorf("card declined"))

	err := c.Run(t.Context(), "booking-1", def)
	require.ErrorIs(t, err, saga.ErrStepFailed)
	require.ErrorContains(t, err, "card declined")

	// failed step is not compensated; completed steps roll back in reverse
	require.Equal(t, []string{
		"exec:reserve-flight",
		"exec:reserve-hotel",
		"exec:charge-card",
		"undo:reserve-hotel",
		"undo:reserve-flight",
	}, log.get())

	inst, err := c.Instance(t.Context(), "booking-1")
	require.NoError(t, err)
	require.Equal(t, saga.Compensated, inst.Status)
	require.Equal(t, 2, inst.FailedStep)

	t.Run("rerun reports the original outcome", func(t *testing.T) {
		require.ErrorIs(t, c.Run(t.Context(), "booking-1", def), saga.ErrStepFailed)
		require.Len(t, log.get(), 5)
	})
}

func TestSaga_CompensationFailureIsTerminal(t *testing.T) {
	te := es.StartTestEnv(t)
	c := saga.NewCoordinator(te.Env)

	log := &callLog{}
	def := saga.Definition{
		Name: "booking",
		Steps: []saga.Step{
			{
				Name:    "reserve-flight",
				Execute: func(ctx context.Context) error { log.add("exec:reserve-flight"); return nil },
				Compensate: func(ctx context.Context) error {
					log.add("undo:reserve-flight")
					return fmt.Errorf("airline unreachable")
				},
			},
			step(log, "charge-card", fmt.Errorf("card declined")),
		},
	}

	err := c.Run(t.Context(), "booking-1", def)
	require.ErrorIs(t, err, saga.ErrCompensationFailed)
	require.ErrorContains(t, err, "airline unreachable")
	require.ErrorContains(t, err, "card declined")

	inst, err := c.Instance(t.Context(), "booking-1")
	require.NoError(t, err)
	require.Equal(t, saga.Failed, inst.Status)

	t.Run("resume refuses to continue", func(t *testing.T) {
		require.ErrorIs(t, c.Resume(t.Context(), "booking-1", def), saga.ErrCompensationFailed)
	})
}

func TestSaga_StepTimeout(t *testing.T) {
	te := es.StartTestEnv(t)
	c := saga.NewCoordinator(te.Env)

	log := &callLog{}
	def := saga.Definition{
		Name: "booking",
		Steps: []saga.Step{
			step(log, "reserve-flight", nil),
			{
				Name:    "reserve-hotel",
				Timeout: 25 * time.Millisecond,
				Execute: func(ctx context.Context) error {
					select {
					case <-time.After(5 * time.Second):
						return nil
					case <-ctx.Done():
						return ctx.Err()
					}
				},
			},
		},
	}

	err := c.Run(t.Context(), "booking-1", def)
	require.ErrorIs(t, err, saga.ErrStepFailed)
	require.ErrorContains(t, err, context.DeadlineExceeded.Error())

	require.Equal(t, []string{"exec:reserve-flight", "undo:reserve-flight"}, log.get())

	inst, err := c.Instance(t.Context(), "booking-1")
	require.NoError(t, err)
	require.Equal(t, saga.Compensated, inst.Status)
}

// A coordinator that dies mid-step leaves the instance Running; Resume folds
// the stream back and retries the in-flight step.
func TestSaga_Resume(t *testing.T) {
	te := es.StartTestEnv(t)
	c := saga.NewCoordinator(te.Env)

	log := &callLog{}
	runCtx, crash := context.WithCancel(t.Context())

	crashing := saga.Definition{
		Name: "booking",
		Steps: []saga.Step{
			step(log, "reserve-flight", nil),
			{
				Name: "reserve-hotel",
				Execute: func(ctx context.Context) error {
					log.add("exec:reserve-hotel")
					crash()
					return ctx.Err()
				},
			},
			step(log, "charge-card", nil),
		},
	}

	err := c.Run(runCtx, "booking-1", crashing)
	require.ErrorIs(t, err, context.Canceled)

	inst, err := c.Instance(t.Context(), "booking-1")
	require.NoError(t, err)
	require.Equal(t, saga.Running, inst.Status)
	require.Equal(t, 1, inst.StepIndex)

	healthy := saga.Definition{
		Name: "booking",
		Steps: []saga.Step{
			step(log, "reserve-flight", nil),
			step(log, "reserve-hotel", nil),
			step(log, "charge-card", nil),
		},
	}

	require.NoError(t, c.Resume(t.Context(), "booking-1", healthy))
	require.Equal(t, []string{
		"exec:reserve-flight",
		"exec:reserve-hotel", // crashed attempt
		"exec:reserve-hotel", // retried on resume
		"exec:charge-card",
	}, log.get())

	inst, err = c.Instance(t.Context(), "booking-1")
	require.NoError(t, err)
	require.Equal(t, saga.Completed, inst.Status)
}

func TestSaga_ResumeMidCompensation(t *testing.T) {
	te := es.StartTestEnv(t)
	c := saga.NewCoordinator(te.Env)

	log := &callLog{}
	runCtx, crash := context.WithCancel(t.Context())

	crashing := saga.Definition{
		Name: "booking",
		Steps: []saga.Step{
			step(log, "reserve-flight", nil),
			{
				Name: "reserve-hotel",
				Execute: func(ctx context.Context) error {
					log.add("exec:reserve-hotel")
					return nil
				},
				Compensate: func(ctx context.Context) error {
					log.add("undo:reserve-hotel")
					crash()
					return ctx.Err()
				},
			},
			step(log, "charge-card", fmt.Errorf("card declined")),
		},
	}

	err := c.Run(runCtx, "booking-1", crashing)
	require.ErrorIs(t, err, context.Canceled)

	// the crash lands between CompensationStarted and the first rollback
	inst, err := c.Instance(t.Context(), "booking-1")
	require.NoError(t, err)
	require.Equal(t, saga.Compensating, inst.Status)
	require.Equal(t, 2, inst.FailedStep)

	err = c.Resume(t.Context(), "booking-1", bookingSaga(log, nil))
	require.ErrorIs(t, err, saga.ErrStepFailed)
	require.ErrorContains(t, err, "card declined")

	require.Equal(t, []string{
		"exec:reserve-flight",
		"exec:reserve-hotel",
		"exec:charge-card",
		"undo:reserve-hotel", // crashed attempt
		"undo:reserve-hotel", // retried on resume
		"undo:reserve-flight",
	}, log.get())

	inst, err = c.Instance(t.Context(), "booking-1")
	require.NoError(t, err)
	require.Equal(t, saga.Compensated, inst.Status)
}

func TestSaga_ResumeUnknownInstance(t *testing.T) {
	te := es.StartTestEnv(t)
	c := saga.NewCoordinator(te.Env)

	log := &callLog{}
	err := c.Resume(t.Context(), "nope", bookingSaga(log, nil))
	require.ErrorIs(t, err, es.ErrAggregateNotFound)
	require.Empty(t, log.get())
}

func TestSaga_ConcurrentInstances(t *testing.T) {
	te := es.StartTestEnv(t)
	c := saga.NewCoordinator(te.Env)

	const n = 8
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			log := &callLog{}
			id := fmt.Sprintf("booking-%d", i)
			assert.NoError(t, c.Run(t.Context(), id, bookingSaga(log, nil)))
		}()
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		inst, err := c.Instance(t.Context(), fmt.Sprintf("booking-%d", i))
		require.NoError(t, err)
		require.Equal(t, saga.Completed, inst.Status)
	}
}

func TestSaga_DefinitionValidation(t *testing.T) {
	te := es.StartTestEnv(t)
	c := saga.NewCoordinator(te.Env)

	require.Error(t, c.Run(t.Context(), "x", saga.Definition{}))
	require.Error(t, c.Run(t.Context(), "x", saga.Definition{Name: "booking"}))
	require.Error(t, c.Run(t.Context(), "x", saga.Definition{
		Name:  "booking",
		Steps: []saga.Step{{Name: "no-execute"}},
	}))
}
