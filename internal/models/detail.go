package models

import "time"

// Detail is a part type manufactured by the plant.
type Detail struct {
	ID          string    `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Number      string    `db:"number" json:"number"`
	Description string    `db:"description" json:"description,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Operation is one ordered step in a detail's process plan.
type Operation struct {
	ID              string    `db:"id" json:"id"`
	DetailID        string    `db:"detail_id" json:"detail_id"`
	OperationNumber string    `db:"operation_number" json:"operation_number"`
	Name            string    `db:"name" json:"name"`
	MachineTypeID   string    `db:"machine_type_id" json:"machine_type_id"`
	TimePerPiece    float64   `db:"time_per_piece" json:"time_per_piece"`
	OpOrder         int       `db:"op_order" json:"order"`
	Description     string    `db:"description" json:"description,omitempty"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}
