package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/plantctl/mes-api/internal/models"
)

// DetailRepository provides persistence for details and their process plans.
type DetailRepository struct {
	db *sqlx.DB
}

// NewDetailRepository creates the repository.
func NewDetailRepository(db *sqlx.DB) *DetailRepository {
	return &DetailRepository{db: db}
}

// Create inserts a new detail.
func (r *DetailRepository) Create(ctx context.Context, detail *models.Detail) error {
	if detail.ID == "" {
		detail.ID = uuid.NewString()
	}
	if detail.CreatedAt.IsZero() {
		detail.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO details (id, name, number, description, created_at)
VALUES (:id, :name, :number, :description, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, detail); err != nil {
		return fmt.Errorf("create detail: %w", err)
	}
	return nil
}

// GetByID returns a detail by identifier.
func (r *DetailRepository) GetByID(ctx context.Context, id string) (*models.Detail, error) {
	const query = `SELECT id, name, number, description, created_at FROM details WHERE id = $1`
	var detail models.Detail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// List returns all details ordered by number.
func (r *DetailRepository) List(ctx context.Context) ([]models.Detail, error) {
	const query = `SELECT id, name, number, description, created_at FROM details ORDER BY number`
	var details []models.Detail
	if err := r.db.SelectContext(ctx, &details, query); err != nil {
		return nil, fmt.Errorf("list details: %w", err)
	}
	return details, nil
}

// CreateOperation adds a step to a detail's process plan.
func (r *DetailRepository) CreateOperation(ctx context.Context, op *models.Operation) error {
	if op.ID == "" {
		op.ID = uuid.NewString()
	}
	if op.CreatedAt.IsZero() {
		op.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO operations (id, detail_id, operation_number, name, machine_type_id, time_per_piece, op_order, description, created_at)
VALUES (:id, :detail_id, :operation_number, :name, :machine_type_id, :time_per_piece, :op_order, :description, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, op); err != nil {
		return fmt.Errorf("create operation: %w", err)
	}
	return nil
}

// GetOperation returns one process-plan step.
func (r *DetailRepository) GetOperation(ctx context.Context, id string) (*models.Operation, error) {
	const query = `SELECT id, detail_id, operation_number, name, machine_type_id, time_per_piece, op_order, description, created_at
FROM operations WHERE id = $1`
	var op models.Operation
	if err := r.db.GetContext(ctx, &op, query, id); err != nil {
		return nil, err
	}
	return &op, nil
}

// ListOperations returns a detail's process plan in route order.
func (r *DetailRepository) ListOperations(ctx context.Context, detailID string) ([]models.Operation, error) {
	const query = `SELECT id, detail_id, operation_number, name, machine_type_id, time_per_piece, op_order, description, created_at
FROM operations WHERE detail_id = $1 ORDER BY op_order`
	var ops []models.Operation
	if err := r.db.SelectContext(ctx, &ops, query, detailID); err != nil {
		return nil, fmt.Errorf("list operations for detail %s: %w", detailID, err)
	}
	return ops, nil
}
