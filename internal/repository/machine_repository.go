package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/plantctl/mes-api/internal/models"
)

// MachineRepository provides persistence for machines and machine types.
type MachineRepository struct {
	db *sqlx.DB
}

// NewMachineRepository creates the repository.
func NewMachineRepository(db *sqlx.DB) *MachineRepository {
	return &MachineRepository{db: db}
}

// Create inserts a new machine.
func (r *MachineRepository) Create(ctx context.Context, machine *models.Machine) error {
	if machine.ID == "" {
		machine.ID = uuid.NewString()
	}
	if machine.CreatedAt.IsZero() {
		machine.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO machines (id, name, inventory_number, machine_type_id, priority, description, created_at)
VALUES (:id, :name, :inventory_number, :machine_type_id, :priority, :description, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, machine); err != nil {
		return fmt.Errorf("create machine: %w", err)
	}
	return nil
}

// CreateType inserts a new machine type.
func (r *MachineRepository) CreateType(ctx context.Context, mt *models.MachineType) error {
	if mt.ID == "" {
		mt.ID = uuid.NewString()
	}
	if mt.CreatedAt.IsZero() {
		mt.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO machine_types (id, name, description, created_at)
VALUES (:id, :name, :description, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, mt); err != nil {
		return fmt.Errorf("create machine type: %w", err)
	}
	return nil
}

// GetByID returns a machine by identifier.
func (r *MachineRepository) GetByID(ctx context.Context, id string) (*models.Machine, error) {
	const query = `SELECT id, name, inventory_number, machine_type_id, priority, description, created_at
FROM machines WHERE id = $1`
	var machine models.Machine
	if err := r.db.GetContext(ctx, &machine, query, id); err != nil {
		return nil, err
	}
	return &machine, nil
}

// List returns all machines ordered by name.
func (r *MachineRepository) List(ctx context.Context) ([]models.Machine, error) {
	const query = `SELECT id, name, inventory_number, machine_type_id, priority, description, created_at
FROM machines ORDER BY name`
	var machines []models.Machine
	if err := r.db.SelectContext(ctx, &machines, query); err != nil {
		return nil, fmt.Errorf("list machines: %w", err)
	}
	return machines, nil
}

// FindFree returns the highest-priority machine of the given type with no
// running execution, or nil when every machine of the type is busy. Paused
// executions do not hold a machine.
func (r *MachineRepository) FindFree(ctx context.Context, q sqlx.ExtContext, machineTypeID string) (*models.Machine, error) {
	const query = `SELECT m.id, m.name, m.inventory_number, m.machine_type_id, m.priority, m.description, m.created_at
FROM machines m
WHERE m.machine_type_id = $1
  AND NOT EXISTS (
    SELECT 1 FROM stage_executions e
    WHERE e.machine_id = m.id AND e.status = 'Started')
ORDER BY m.priority, m.name
LIMIT 1`
	var machine models.Machine
	if err := sqlx.GetContext(ctx, q, &machine, query, machineTypeID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find free machine of type %s: %w", machineTypeID, err)
	}
	return &machine, nil
}

// CountFreeByType returns how many machines of the type are currently idle.
func (r *MachineRepository) CountFreeByType(ctx context.Context, machineTypeID string) (int, error) {
	const query = `SELECT COUNT(*) FROM machines m
WHERE m.machine_type_id = $1
  AND NOT EXISTS (
    SELECT 1 FROM stage_executions e
    WHERE e.machine_id = m.id AND e.status = 'Started')`
	var count int
	if err := r.db.GetContext(ctx, &count, query, machineTypeID); err != nil {
		return 0, fmt.Errorf("count free machines of type %s: %w", machineTypeID, err)
	}
	return count, nil
}

// CountByType returns how many machines exist for the type.
func (r *MachineRepository) CountByType(ctx context.Context, machineTypeID string) (int, error) {
	const query = `SELECT COUNT(*) FROM machines WHERE machine_type_id = $1`
	var count int
	if err := r.db.GetContext(ctx, &count, query, machineTypeID); err != nil {
		return 0, fmt.Errorf("count machines of type %s: %w", machineTypeID, err)
	}
	return count, nil
}
