package models

// OrderStatus is the lifecycle state of a production order.
type OrderStatus string

const (
	OrderCreated    OrderStatus = "Created"
	OrderInProgress OrderStatus = "InProgress"
	OrderCompleted  OrderStatus = "Completed"
	OrderCancelled  OrderStatus = "Cancelled"
)

// SubBatchStatus is the lifecycle state of a sub-batch.
type SubBatchStatus string

const (
	SubBatchCreated    SubBatchStatus = "Created"
	SubBatchInProgress SubBatchStatus = "InProgress"
	SubBatchCompleted  SubBatchStatus = "Completed"
	SubBatchCancelled  SubBatchStatus = "Cancelled"
)

// StageType distinguishes operation stages from synthesized changeover stages.
type StageType string

const (
	StageTypeOperation  StageType = "Operation"
	StageTypeChangeover StageType = "Changeover"
)

// StageStatus is the scheduling state of a route stage.
type StageStatus string

const (
	StagePending    StageStatus = "Pending"
	StageReady      StageStatus = "Ready"
	StageWaiting    StageStatus = "Waiting"
	StageInProgress StageStatus = "InProgress"
	StagePaused     StageStatus = "Paused"
	StageCompleted  StageStatus = "Completed"
	StageCancelled  StageStatus = "Cancelled"
)

var stageTransitions = map[StageStatus][]StageStatus{
	StagePending:    {StageReady, StageCancelled},
	StageReady:      {StageWaiting, StageInProgress, StageCancelled},
	StageWaiting:    {StageReady, StageCancelled},
	StageInProgress: {StagePaused, StageCompleted, StageCancelled},
	StagePaused:     {StageInProgress, StageCompleted, StageCancelled},
}

// CanTransition reports whether moving to the given status is a legal stage
// transition. Completed and Cancelled are terminal.
func (s StageStatus) CanTransition(to StageStatus) bool {
	for _, allowed := range stageTransitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the stage can no longer change state.
func (s StageStatus) Terminal() bool {
	return s == StageCompleted || s == StageCancelled
}

// ExecutionStatus is the state of one stage execution attempt.
type ExecutionStatus string

const (
	ExecutionStarted   ExecutionStatus = "Started"
	ExecutionPaused    ExecutionStatus = "Paused"
	ExecutionCompleted ExecutionStatus = "Completed"
	ExecutionCancelled ExecutionStatus = "Cancelled"
)

var executionTransitions = map[ExecutionStatus][]ExecutionStatus{
	ExecutionStarted: {ExecutionPaused, ExecutionCompleted, ExecutionCancelled},
	ExecutionPaused:  {ExecutionStarted, ExecutionCompleted, ExecutionCancelled},
}

// CanTransition reports whether moving to the given status is a legal
// execution transition.
func (s ExecutionStatus) CanTransition(to ExecutionStatus) bool {
	for _, allowed := range executionTransitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Active reports whether the execution still holds a machine history slot.
func (s ExecutionStatus) Active() bool {
	return s == ExecutionStarted || s == ExecutionPaused
}

// LogAction labels an execution audit entry.
type LogAction string

const (
	LogStarted      LogAction = "Started"
	LogPaused       LogAction = "Paused"
	LogResumed      LogAction = "Resumed"
	LogCompleted    LogAction = "Completed"
	LogTimeModified LogAction = "TimeModified"
	LogReleased     LogAction = "Released"
)
