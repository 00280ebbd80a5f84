package dto

// StartExecutionRequest starts work on a ready stage.
type StartExecutionRequest struct {
	MachineID string `json:"machine_id"`
	Operator  string `json:"operator" validate:"required"`
}

// PauseExecutionRequest pauses a running execution.
type PauseExecutionRequest struct {
	Operator string `json:"operator" validate:"required"`
	Note     string `json:"note"`
}

// ResumeExecutionRequest resumes a paused execution.
type ResumeExecutionRequest struct {
	Operator string `json:"operator" validate:"required"`
}

// CompleteExecutionRequest finishes an execution. ActualHours overrides the
// elapsed-time measurement when provided. TimeExceededReason documents an
// overrun against the plan; a default note is recorded when omitted.
type CompleteExecutionRequest struct {
	Operator           string   `json:"operator" validate:"required"`
	ActualHours        *float64 `json:"actual_hours" validate:"omitempty,gt=0"`
	TimeExceededReason string   `json:"time_exceeded_reason"`
}

// UpdateActualTimeRequest corrects the recorded time of a completed
// execution.
type UpdateActualTimeRequest struct {
	ActualHours float64 `json:"actual_hours" validate:"required,gt=0"`
	Operator    string  `json:"operator" validate:"required"`
	Note        string  `json:"note"`
}
