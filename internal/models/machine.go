package models

import "time"

// MachineType groups interchangeable machines, e.g. "CNC Lathe".
type MachineType struct {
	ID          string    `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Description string    `db:"description" json:"description,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Machine is a physical resource. Priority breaks ties when several machines
// of the same type are free; lower wins.
type Machine struct {
	ID              string    `db:"id" json:"id"`
	Name            string    `db:"name" json:"name"`
	InventoryNumber string    `db:"inventory_number" json:"inventory_number"`
	MachineTypeID   string    `db:"machine_type_id" json:"machine_type_id"`
	Priority        int       `db:"priority" json:"priority"`
	Description     string    `db:"description" json:"description,omitempty"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}

// Changeover is the precomputed retooling duration for switching a machine
// from producing one detail to another.
type Changeover struct {
	ID              string    `db:"id" json:"id"`
	MachineID       string    `db:"machine_id" json:"machine_id"`
	FromDetailID    string    `db:"from_detail_id" json:"from_detail_id"`
	ToDetailID      string    `db:"to_detail_id" json:"to_detail_id"`
	ChangeoverHours float64   `db:"changeover_hours" json:"changeover_hours"`
	Description     string    `db:"description" json:"description,omitempty"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}

// DefaultChangeoverHours is used when no changeover row exists for a
// (machine, from, to) triple. A missing row is a documented fallback, not an
// error.
const DefaultChangeoverHours = 0.25
