package saga

import (
	"fmt"

	"github.com/streamhaus/evr-go/core/es"
)

// Status is the lifecycle state of one saga instance.
type Status string

const (
	NotStarted   Status = "not_started"
	Running      Status = "running"
	Completed    Status = "completed"
	Compensating Status = "compensating"
	Compensated  Status = "compensated"
	// Failed means a compensation step itself failed. Terminal; the
	// instance needs operator intervention.
	Failed Status = "compensation_failed"
)

// StepState tracks one step inside the instance's log.
type StepState string

const (
	StepRunning         StepState = "running"
	StepDone            StepState = "completed"
	StepFaulted         StepState = "failed"
	StepRolledBack      StepState = "compensated"
	StepRollbackFaulted StepState = "compensation_failed"
)

type StepRecord struct {
	Index  int       `json:"index"`
	Name   string    `json:"name"`
	State  StepState `json:"state"`
	Reason string    `json:"reason,omitempty"`
}

// Instance is the persisted state of one saga execution. Everything that
// happens to it is an event on its own stream, so a crashed coordinator can
// fold the stream back and continue where it stopped.
type Instance struct {
	es.BaseAggregate

	Saga       string       `json:"saga"`
	Status     Status       `json:"status"`
	NumSteps   int          `json:"num_steps"`
	StepIndex  int          `json:"step_index"`
	FailedStep int          `json:"failed_step"`
	Steps      []StepRecord `json:"steps"`
}

func (s *Instance) StreamType() string { return "saga" }

func (s *Instance) Register(r es.Registrar) {
	es.RegisterEvents(r,
		es.Event[SagaStarted](),
		es.Event[StepStarted](),
		es.Event[StepCompleted](),
		es.Event[StepFailed](),
		es.Event[CompensationStarted](),
		es.Event[StepCompensated](),
		es.Event[CompensationFailed](),
		es.Event[SagaCompleted](),
		es.Event[SagaCompensated](),
	)
}

func (s *Instance) Apply(event any) error {
	switch e := event.(type) {
	case *SagaStarted:
		s.Saga = e.Saga
		s.NumSteps = e.NumSteps
		s.Status = Running
		return nil
	case *StepStarted:
		s.StepIndex = e.Index
		s.setStep(e.Index, e.Name, StepRunning, "")
		return nil
	case *StepCompleted:
		s.setStep(e.Index, e.Name, StepDone, "")
		s.StepIndex = e.Index + 1
		return nil
	case *StepFailed:
		s.setStep(e.Index, e.Name, StepFaulted, e.Reason)
		s.FailedStep = e.Index
		return nil
	case *CompensationStarted:
		s.Status = Compensating
		return nil
	case *StepCompensated:
		s.setStep(e.Index, e.Name, StepRolledBack, "")
		return nil
	case *CompensationFailed:
		s.setStep(e.Index, e.Name, StepRollbackFaulted, e.Reason)
		s.Status = Failed
		return nil
	case *SagaCompleted:
		s.Status = Completed
		return nil
	case *SagaCompensated:
		s.Status = Compensated
		return nil
	}
	return s.BaseAggregate.Apply(event)
}

func (s *Instance) setStep(index int, name string, state StepState, reason string) {
	for i := range s.Steps {
		if s.Steps[i].Index == index {
			s.Steps[i].State = state
			s.Steps[i].Reason = reason
			return
		}
	}
	s.Steps = append(s.Steps, StepRecord{Index: index, Name: name, State: state, Reason: reason})
}

// NextCompensation returns the highest completed step that has not been
// rolled back yet.
func (s *Instance) NextCompensation() (int, bool) {
	for i := len(s.Steps) - 1; i >= 0; i-- {
		if s.Steps[i].State == StepDone {
			return s.Steps[i].Index, true
		}
	}
	return 0, false
}

// Terminal reports whether the instance can never make progress again.
func (s *Instance) Terminal() bool {
	return s.Status == Completed || s.Status == Compensated || s.Status == Failed
}

// === Commands ===

func (s *Instance) Start(saga string, numSteps int) error {
	if s.Status != NotStarted && s.Status != "" {
		return fmt.Errorf("saga %s already started", s.GetID())
	}
	return es.RaiseAndApply(s, &SagaStarted{Saga: saga, NumSteps: numSteps})
}

func (s *Instance) StartStep(index int, name string) error {
	if s.Status != Running {
		return fmt.Errorf("saga %s is %s, cannot run step", s.GetID(), s.Status)
	}
	return es.RaiseAndApply(s, &StepStarted{Index: index, Name: name})
}

func (s *Instance) CompleteStep(index int, name string) error {
	return es.RaiseAndApply(s, &StepCompleted{Index: index, Name: name})
}

func (s *Instance) FailStep(index int, name string, reason error) error {
	return es.RaiseAndApply(s,
		&StepFailed{Index: index, Name: name, Reason: reason.Error()},
		&CompensationStarted{FailedStep: index, Reason: reason.Error()},
	)
}

func (s *Instance) CompensateStep(index int, name string) error {
	if s.Status != Compensating {
		return fmt.Errorf("saga %s is %s, cannot compensate", s.GetID(), s.Status)
	}
	return es.RaiseAndApply(s, &StepCompensated{Index: index, Name: name})
}

func (s *Instance) FailCompensation(index int, name string, reason error) error {
	return es.RaiseAndApply(s, &CompensationFailed{Index: index, Name: name, Reason: reason.Error()})
}

func (s *Instance) Complete() error {
	if s.Status != Running {
		return fmt.Errorf("saga %s is %s, cannot complete", s.GetID(), s.Status)
	}
	return es.RaiseAndApply(s, &SagaCompleted{})
}

func (s *Instance) MarkCompensated() error {
	if s.Status != Compensating {
		return fmt.Errorf("saga %s is %s, cannot mark compensated", s.GetID(), s.Status)
	}
	return es.RaiseAndApply(s, &SagaCompensated{})
}

var _ es.Aggregate = &Instance{}
