package saga

import "errors"

type (
	SagaStarted struct {
		Saga     string `json:"saga"`
		NumSteps int    `json:"num_steps"`
	}

	StepStarted struct {
		Index int    `json:"index"`
		Name  string `json:"name"`
	}

	StepCompleted struct {
		Index int    `json:"index"`
		Name  string `json:"name"`
	}

	StepFailed struct {
		Index  int    `json:"index"`
		Name   string `json:"name"`
		Reason string `json:"reason"`
	}

	CompensationStarted struct {
		FailedStep int    `json:"failed_step"`
		Reason     string `json:"reason"`
	}

	StepCompensated struct {
		Index int    `json:"index"`
		Name  string `json:"name"`
	}

	CompensationFailed struct {
		Index  int    `json:"index"`
		Name   string `json:"name"`
		Reason string `json:"reason"`
	}

	SagaCompleted struct{}

	SagaCompensated struct{}
)

func (e SagaStarted) Validate() error {
	if e.Saga == "" {
		return errors.New("saga name is required")
	}
	if e.NumSteps <= 0 {
		return errors.New("at least one step is required")
	}
	return nil
}
