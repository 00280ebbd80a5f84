package models

import "time"

// ProductionOrder is a request to manufacture a quantity of one detail,
// split across one or more sub-batches.
type ProductionOrder struct {
	ID               string      `db:"id" json:"id"`
	Number           string      `db:"number" json:"number"`
	DetailID         string      `db:"detail_id" json:"detail_id"`
	Quantity         int         `db:"quantity" json:"quantity"`
	Status           OrderStatus `db:"status" json:"status"`
	PlannedStartDate time.Time   `db:"planned_start_date" json:"planned_start_date"`
	StartedAt        *time.Time  `db:"started_at" json:"started_at,omitempty"`
	CompletedAt      *time.Time  `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt        time.Time   `db:"created_at" json:"created_at"`
}

// SubBatch is a slice of an order's quantity that moves through the route
// independently.
type SubBatch struct {
	ID          string         `db:"id" json:"id"`
	OrderID     string         `db:"order_id" json:"order_id"`
	BatchNumber int            `db:"batch_number" json:"batch_number"`
	Quantity    int            `db:"quantity" json:"quantity"`
	Status      SubBatchStatus `db:"status" json:"status"`
	StartedAt   *time.Time     `db:"started_at" json:"started_at,omitempty"`
	CompletedAt *time.Time     `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt   time.Time      `db:"created_at" json:"created_at"`
}
