package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/plantctl/mes-api/internal/models"
)

// ShiftRepository provides persistence for shifts and their machine
// assignments.
type ShiftRepository struct {
	db *sqlx.DB
}

// NewShiftRepository creates the repository.
func NewShiftRepository(db *sqlx.DB) *ShiftRepository {
	return &ShiftRepository{db: db}
}

const shiftColumns = `id, name, start_minute, end_minute, break_start, break_end,
monday, tuesday, wednesday, thursday, friday, saturday, sunday, is_active, created_at`

// Create inserts a new shift.
func (r *ShiftRepository) Create(ctx context.Context, shift *models.Shift) error {
	if shift.ID == "" {
		shift.ID = uuid.NewString()
	}
	if shift.CreatedAt.IsZero() {
		shift.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO shifts (id, name, start_minute, end_minute, break_start, break_end,
monday, tuesday, wednesday, thursday, friday, saturday, sunday, is_active, created_at)
VALUES (:id, :name, :start_minute, :end_minute, :break_start, :break_end,
:monday, :tuesday, :wednesday, :thursday, :friday, :saturday, :sunday, :is_active, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, shift); err != nil {
		return fmt.Errorf("create shift: %w", err)
	}
	return nil
}

// GetByID returns a shift by identifier.
func (r *ShiftRepository) GetByID(ctx context.Context, id string) (*models.Shift, error) {
	query := fmt.Sprintf(`SELECT %s FROM shifts WHERE id = $1`, shiftColumns)
	var shift models.Shift
	if err := r.db.GetContext(ctx, &shift, query, id); err != nil {
		return nil, err
	}
	return &shift, nil
}

// ListActive returns every active shift.
func (r *ShiftRepository) ListActive(ctx context.Context) ([]models.Shift, error) {
	query := fmt.Sprintf(`SELECT %s FROM shifts WHERE is_active ORDER BY start_minute`, shiftColumns)
	var shifts []models.Shift
	if err := r.db.SelectContext(ctx, &shifts, query); err != nil {
		return nil, fmt.Errorf("list active shifts: %w", err)
	}
	return shifts, nil
}

// ListForMachine returns the active shifts assigned to a machine through
// active assignments. An empty result means the machine has no calendar of
// its own.
func (r *ShiftRepository) ListForMachine(ctx context.Context, machineID string) ([]models.Shift, error) {
	query := fmt.Sprintf(`SELECT %s FROM shifts s
WHERE s.is_active AND EXISTS (
  SELECT 1 FROM shift_assignments sa
  WHERE sa.shift_id = s.id AND sa.machine_id = $1 AND sa.is_active)
ORDER BY s.start_minute`, shiftColumnsPrefixed)
	var shifts []models.Shift
	if err := r.db.SelectContext(ctx, &shifts, query, machineID); err != nil {
		return nil, fmt.Errorf("list shifts for machine %s: %w", machineID, err)
	}
	return shifts, nil
}

const shiftColumnsPrefixed = `s.id, s.name, s.start_minute, s.end_minute, s.break_start, s.break_end,
s.monday, s.tuesday, s.wednesday, s.thursday, s.friday, s.saturday, s.sunday, s.is_active, s.created_at`

// Assign scopes a shift to a machine.
func (r *ShiftRepository) Assign(ctx context.Context, assignment *models.ShiftAssignment) error {
	if assignment.ID == "" {
		assignment.ID = uuid.NewString()
	}
	if assignment.CreatedAt.IsZero() {
		assignment.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO shift_assignments (id, shift_id, machine_id, is_active, created_at)
VALUES (:id, :shift_id, :machine_id, :is_active, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, assignment); err != nil {
		return fmt.Errorf("assign shift: %w", err)
	}
	return nil
}

// SetAssignmentActive toggles one machine assignment without deleting it.
func (r *ShiftRepository) SetAssignmentActive(ctx context.Context, id string, active bool) error {
	const query = `UPDATE shift_assignments SET is_active = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, active); err != nil {
		return fmt.Errorf("set assignment %s active: %w", id, err)
	}
	return nil
}

// SetActive toggles a shift without deleting its history.
func (r *ShiftRepository) SetActive(ctx context.Context, id string, active bool) error {
	const query = `UPDATE shifts SET is_active = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, active); err != nil {
		return fmt.Errorf("set shift %s active: %w", id, err)
	}
	return nil
}
