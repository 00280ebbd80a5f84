package models

import "time"

// RouteStage is one scheduled step of a sub-batch: either a manufacturing
// operation or a changeover synthesized when the assigned machine last
// produced a different detail. StageOrder is contiguous within a sub-batch.
type RouteStage struct {
	ID           string      `db:"id" json:"id"`
	SubBatchID   string      `db:"sub_batch_id" json:"sub_batch_id"`
	OperationID  *string     `db:"operation_id" json:"operation_id,omitempty"`
	MachineID    *string     `db:"machine_id" json:"machine_id,omitempty"`
	Name         string      `db:"name" json:"name"`
	StageType    StageType   `db:"stage_type" json:"stage_type"`
	StageOrder   int         `db:"stage_order" json:"stage_order"`
	Status       StageStatus `db:"status" json:"status"`
	PlannedHours float64     `db:"planned_hours" json:"planned_hours"`
	ActualHours  *float64    `db:"actual_hours" json:"actual_hours,omitempty"`
	QueuedAt     *time.Time  `db:"queued_at" json:"queued_at,omitempty"`
	StartedAt    *time.Time  `db:"started_at" json:"started_at,omitempty"`
	CompletedAt  *time.Time  `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt    time.Time   `db:"created_at" json:"created_at"`
}

// StageQueueEntry is a waiting stage joined with the ordering key of its
// parent order, used for FIFO queue processing.
type StageQueueEntry struct {
	RouteStage
	MachineTypeID    string    `db:"machine_type_id" json:"machine_type_id"`
	OrderID          string    `db:"order_id" json:"order_id"`
	DetailID         string    `db:"detail_id" json:"detail_id"`
	PlannedStartDate time.Time `db:"planned_start_date" json:"planned_start_date"`
}
