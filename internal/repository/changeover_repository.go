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

// ChangeoverRepository provides persistence for retooling durations.
type ChangeoverRepository struct {
	db *sqlx.DB
}

// NewChangeoverRepository creates the repository.
func NewChangeoverRepository(db *sqlx.DB) *ChangeoverRepository {
	return &ChangeoverRepository{db: db}
}

// Create inserts a changeover record.
func (r *ChangeoverRepository) Create(ctx context.Context, co *models.Changeover) error {
	if co.ID == "" {
		co.ID = uuid.NewString()
	}
	if co.CreatedAt.IsZero() {
		co.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO changeovers (id, machine_id, from_detail_id, to_detail_id, changeover_hours, description, created_at)
VALUES (:id, :machine_id, :from_detail_id, :to_detail_id, :changeover_hours, :description, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, co); err != nil {
		return fmt.Errorf("create changeover: %w", err)
	}
	return nil
}

// Find returns the changeover for a (machine, from, to) triple, or nil when
// none is recorded. Callers fall back to the default duration.
func (r *ChangeoverRepository) Find(ctx context.Context, q sqlx.ExtContext, machineID, fromDetailID, toDetailID string) (*models.Changeover, error) {
	const query = `SELECT id, machine_id, from_detail_id, to_detail_id, changeover_hours, description, created_at
FROM changeovers WHERE machine_id = $1 AND from_detail_id = $2 AND to_detail_id = $3`
	var co models.Changeover
	if err := sqlx.GetContext(ctx, q, &co, query, machineID, fromDetailID, toDetailID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find changeover: %w", err)
	}
	return &co, nil
}

// List returns changeovers for a machine.
func (r *ChangeoverRepository) List(ctx context.Context, machineID string) ([]models.Changeover, error) {
	const query = `SELECT id, machine_id, from_detail_id, to_detail_id, changeover_hours, description, created_at
FROM changeovers WHERE machine_id = $1 ORDER BY created_at`
	var cos []models.Changeover
	if err := r.db.SelectContext(ctx, &cos, query, machineID); err != nil {
		return nil, fmt.Errorf("list changeovers for machine %s: %w", machineID, err)
	}
	return cos, nil
}
