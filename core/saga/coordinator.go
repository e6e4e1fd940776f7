package saga

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/streamhaus/evr-go/core/es"
	"github.com/streamhaus/evr-go/core/perkey"
)

var (
	// ErrStepFailed is returned when a step failed and the compensations
	// ran to completion. The saga ends Compensated.
	ErrStepFailed = errors.New("saga step failed")
	// ErrCompensationFailed is returned when a compensation itself failed.
	// The saga ends in the terminal Failed state.
	ErrCompensationFailed = errors.New("saga compensation failed")
)

// DefaultStepTimeout bounds a step or compensation without its own timeout.
const DefaultStepTimeout = 30 * time.Second

type (
	StepFunc func(ctx context.Context) error

	// Step pairs a forward action with its compensation. A nil Compensate
	// makes the step irreversible-but-harmless (nothing to undo).
	Step struct {
		Name       string
		Execute    StepFunc
		Compensate StepFunc
		Timeout    time.Duration
	}

	Definition struct {
		Name  string
		Steps []Step
	}
)

func (d Definition) Validate() error {
	if d.Name == "" {
		return errors.New("saga name is required")
	}
	if len(d.Steps) == 0 {
		return errors.New("at least one step is required")
	}
	for i, s := range d.Steps {
		if s.Name == "" {
			return fmt.Errorf("step %d: name is required", i)
		}
		if s.Execute == nil {
			return fmt.Errorf("step %s: execute is required", s.Name)
		}
	}
	return nil
}

// Coordinator drives saga definitions against persisted instances. Every
// state change lands on the instance's event stream before the next step
// runs, so Resume can pick up a crashed execution mid-flight.
type Coordinator struct {
	log         *slog.Logger
	repo        es.TypedRepository[*Instance]
	sched       *perkey.Scheduler[string]
	metrics     Metrics
	stepTimeout time.Duration
}

type coordinatorOptions struct {
	metrics     Metrics
	stepTimeout time.Duration
}

type CoordinatorOption func(o *coordinatorOptions)

func WithMetrics(m Metrics) CoordinatorOption {
	return func(o *coordinatorOptions) {
		o.metrics = m
	}
}

func WithStepTimeout(d time.Duration) CoordinatorOption {
	return func(o *coordinatorOptions) {
		o.stepTimeout = d
	}
}

func NewCoordinator(env *es.Env, opts ...CoordinatorOption) *Coordinator {
	options := coordinatorOptions{
		metrics:     NopMetrics(),
		stepTimeout: DefaultStepTimeout,
	}
	for _, opt := range opts {
		opt(&options)
	}

	new(Instance).Register(env.Registry())

	return &Coordinator{
		log:         env.Log().With(slog.String("component", "saga-coordinator")),
		repo:        es.TypedRepo[*Instance](env),
		sched:       perkey.New[string](),
		metrics:     options.metrics,
		stepTimeout: options.stepTimeout,
	}
}

// Instance loads the persisted state of a saga execution.
func (c *Coordinator) Instance(ctx context.Context, sagaID string) (*Instance, error) {
	return c.repo.GetByID(ctx, sagaID)
}

// Run starts (or continues) the saga identified by sagaID. Re-running a
// completed instance is a no-op; a compensated one reports its original
// outcome. Executions of the same instance are serialized in-process.
func (c *Coordinator) Run(ctx context.Context, sagaID string, def Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}

	return c.sched.DoContext(ctx, sagaID, func() error {
		inst, err := c.repo.GetByID(ctx, sagaID)
		switch {
		case errors.Is(err, es.ErrAggregateNotFound):
			inst = c.repo.NewWithID(sagaID)
			if err := inst.Create(sagaID); err != nil {
				return err
			}
			if err := inst.Start(def.Name, len(def.Steps)); err != nil {
				return err
			}
			if err := c.repo.Save(ctx, inst); err != nil {
				return err
			}
			c.metrics.SagaStarted(def.Name)
		case err != nil:
			return err
		}
		return c.drive(ctx, inst, def)
	})
}

// Resume continues an existing instance, typically after a crash. Unlike
// Run it refuses to start a fresh one.
func (c *Coordinator) Resume(ctx context.Context, sagaID string, def Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}

	return c.sched.DoContext(ctx, sagaID, func() error {
		inst, err := c.repo.GetByID(ctx, sagaID)
		if err != nil {
			return err
		}
		return c.drive(ctx, inst, def)
	})
}

func (c *Coordinator) drive(ctx context.Context, inst *Instance, def Definition) error {
	log := c.log.With(
		slog.String("saga", def.Name),
		slog.String("saga_id", inst.GetID()),
	)

	if inst.Saga != def.Name {
		return fmt.Errorf("instance %s belongs to saga %s, not %s", inst.GetID(), inst.Saga, def.Name)
	}
	if len(def.Steps) != inst.NumSteps {
		return fmt.Errorf("saga %s: definition has %d steps, instance was started with %d",
			def.Name, len(def.Steps), inst.NumSteps)
	}

	switch inst.Status {
	case Completed:
		return nil
	case Compensated:
		return fmt.Errorf("%w: saga %s already compensated", ErrStepFailed, inst.GetID())
	case Failed:
		return fmt.Errorf("%w: saga %s requires intervention", ErrCompensationFailed, inst.GetID())
	case Compensating:
		return c.compensate(ctx, log, inst, def, errors.New(failReason(inst)))
	}

	for i := inst.StepIndex; i < len(def.Steps); i++ {
		step := def.Steps[i]
		stepLog := log.With(slog.String("step", step.Name), slog.Int("index", i))

		if err := inst.StartStep(i, step.Name); err != nil {
			return err
		}
		if err := c.repo.Save(ctx, inst); err != nil {
			return err
		}
		stepLog.Debug("executing")

		timer := c.metrics.StepDuration(def.Name, step.Name)
		err := c.execute(ctx, step.Timeout, step.Execute)
		timer.ObserveDuration()

		if err != nil {
			// Coordinator's own context died: leave the instance Running
			// so Resume can retry the step.
			if ctx.Err() != nil {
				return ctx.Err()
			}

			stepLog.Warn("step failed, compensating", slog.Any("error", err))
			if ferr := inst.FailStep(i, step.Name, err); ferr != nil {
				return ferr
			}
			if serr := c.repo.Save(ctx, inst); serr != nil {
				return serr
			}
			return c.compensate(ctx, log, inst, def, err)
		}

		if err := inst.CompleteStep(i, step.Name); err != nil {
			return err
		}
		if err := c.repo.Save(ctx, inst); err != nil {
			return err
		}
		stepLog.Debug("completed")
	}

	if err := inst.Complete(); err != nil {
		return err
	}
	if err := c.repo.Save(ctx, inst); err != nil {
		return err
	}
	c.metrics.SagaCompleted(def.Name)
	log.Info("completed")
	return nil
}

// compensate rolls back completed steps in strict reverse order.
func (c *Coordinator) compensate(ctx context.Context, log *slog.Logger, inst *Instance, def Definition, cause error) error {
	for {
		idx, ok := inst.NextCompensation()
		if !ok {
			break
		}
		step := def.Steps[idx]
		stepLog := log.With(slog.String("step", step.Name), slog.Int("index", idx))

		err := c.execute(ctx, step.Timeout, step.Compensate)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			stepLog.Error("compensation failed", slog.Any("error", err))
			if ferr := inst.FailCompensation(idx, step.Name, err); ferr != nil {
				return ferr
			}
			if serr := c.repo.Save(ctx, inst); serr != nil {
				return serr
			}
			c.metrics.SagaFailed(def.Name)
			return fmt.Errorf("%w: step %s: %v (caused by: %v)", ErrCompensationFailed, step.Name, err, cause)
		}

		if err := inst.CompensateStep(idx, step.Name); err != nil {
			return err
		}
		if err := c.repo.Save(ctx, inst); err != nil {
			return err
		}
		stepLog.Debug("compensated")
	}

	if err := inst.MarkCompensated(); err != nil {
		return err
	}
	if err := c.repo.Save(ctx, inst); err != nil {
		return err
	}
	c.metrics.SagaCompensated(def.Name)
	log.Info("compensated", slog.Any("cause", cause))
	return fmt.Errorf("%w: %v", ErrStepFailed, cause)
}

// execute runs fn under the step timeout. A stuck fn is abandoned; its
// context is cancelled so it can stop on its own.
func (c *Coordinator) execute(ctx context.Context, timeout time.Duration, fn StepFunc) error {
	if fn == nil {
		return nil
	}
	if timeout <= 0 {
		timeout = c.stepTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- fn(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func failReason(inst *Instance) string {
	for _, s := range inst.Steps {
		if s.Index == inst.FailedStep && s.Reason != "" {
			return s.Reason
		}
	}
	return "unknown failure"
}
