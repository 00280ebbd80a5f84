package models

import "time"

// StageExecution records one run of a stage on a machine. A stage may have
// several executions when work is released and later resumed elsewhere.
type StageExecution struct {
	ID                 string          `db:"id" json:"id"`
	StageID            string          `db:"stage_id" json:"stage_id"`
	MachineID          string          `db:"machine_id" json:"machine_id"`
	Operator           string          `db:"operator" json:"operator"`
	Status             ExecutionStatus `db:"status" json:"status"`
	StartedAt          time.Time       `db:"started_at" json:"started_at"`
	PausedAt           *time.Time      `db:"paused_at" json:"paused_at,omitempty"`
	ResumedAt          *time.Time      `db:"resumed_at" json:"resumed_at,omitempty"`
	CompletedAt        *time.Time      `db:"completed_at" json:"completed_at,omitempty"`
	PauseHours         float64         `db:"pause_hours" json:"pause_hours"`
	ActualHours        *float64        `db:"actual_hours" json:"actual_hours,omitempty"`
	TimeExceededReason *string         `db:"time_exceeded_reason" json:"time_exceeded_reason,omitempty"`
	CreatedAt          time.Time       `db:"created_at" json:"created_at"`
}

// AutomationOperator marks executions started by the background automation
// pass rather than a person.
const AutomationOperator = "AUTO"

// ExecutionLog is an append-only audit entry for an execution.
type ExecutionLog struct {
	ID          string    `db:"id" json:"id"`
	ExecutionID string    `db:"execution_id" json:"execution_id"`
	Action      LogAction `db:"action" json:"action"`
	Operator    string    `db:"operator" json:"operator"`
	Note        string    `db:"note" json:"note,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// MachineOccupancy summarizes the active execution holding a machine, used
// for free-machine checks and the machine board.
type MachineOccupancy struct {
	MachineID   string          `db:"machine_id" json:"machine_id"`
	ExecutionID string          `db:"execution_id" json:"execution_id"`
	StageID     string          `db:"stage_id" json:"stage_id"`
	StageName   string          `db:"stage_name" json:"stage_name"`
	OrderNumber string          `db:"order_number" json:"order_number"`
	Operator    string          `db:"operator" json:"operator"`
	Status      ExecutionStatus `db:"status" json:"status"`
	StartedAt   time.Time       `db:"started_at" json:"started_at"`
}

// ActiveMachineLoad pairs a running machine with the planned duration of the
// stage it executes. Feeds the queue wait estimator.
type ActiveMachineLoad struct {
	MachineID    string    `db:"machine_id" json:"machine_id"`
	StartedAt    time.Time `db:"started_at" json:"started_at"`
	PlannedHours float64   `db:"planned_hours" json:"planned_hours"`
}
