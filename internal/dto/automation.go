package dto

import "time"

// AutomationPassResult summarizes one automation pass.
type AutomationPassResult struct {
	StartedStages  int       `json:"started_stages"`
	QueuedStages   int       `json:"queued_stages"`
	PromotedStages int       `json:"promoted_stages"`
	RanAt          time.Time `json:"ran_at"`
	Skipped        bool      `json:"skipped"`
}

// QueueStageRequest places a stage in the waiting queue.
type QueueStageRequest struct {
	Operator string `json:"operator"`
}

// EstimatedStartResponse predicts when a waiting stage will get a machine.
type EstimatedStartResponse struct {
	StageID        string    `json:"stage_id"`
	EstimatedStart time.Time `json:"estimated_start"`
	QueuePosition  int       `json:"queue_position"`
}

// ReleaseMachineRequest frees a machine, pausing whatever runs on it. When
// UrgentStageID is set, that stage is forced onto the freed machine.
type ReleaseMachineRequest struct {
	Operator      string `json:"operator" validate:"required"`
	Note          string `json:"note"`
	UrgentStageID string `json:"urgent_stage_id"`
}
