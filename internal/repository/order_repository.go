package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/plantctl/mes-api/internal/dto"
	"github.com/plantctl/mes-api/internal/models"
)

// OrderRepository provides persistence for production orders and sub-batches.
type OrderRepository struct {
	db *sqlx.DB
}

// NewOrderRepository creates the repository.
func NewOrderRepository(db *sqlx.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Create inserts a new order inside the caller's transaction.
func (r *OrderRepository) Create(ctx context.Context, q sqlx.ExtContext, order *models.ProductionOrder) error {
	if order.ID == "" {
		order.ID = uuid.NewString()
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO production_orders (id, number, detail_id, quantity, status, planned_start_date, started_at, completed_at, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	if _, err := q.ExecContext(ctx, query, order.ID, order.Number, order.DetailID, order.Quantity,
		order.Status, order.PlannedStartDate, order.StartedAt, order.CompletedAt, order.CreatedAt); err != nil {
		return fmt.Errorf("create order: %w", err)
	}
	return nil
}

// CreateSubBatch inserts a sub-batch inside the caller's transaction.
func (r *OrderRepository) CreateSubBatch(ctx context.Context, q sqlx.ExtContext, sb *models.SubBatch) error {
	if sb.ID == "" {
		sb.ID = uuid.NewString()
	}
	if sb.CreatedAt.IsZero() {
		sb.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO sub_batches (id, order_id, batch_number, quantity, status, started_at, completed_at, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	if _, err := q.ExecContext(ctx, query, sb.ID, sb.OrderID, sb.BatchNumber, sb.Quantity,
		sb.Status, sb.StartedAt, sb.CompletedAt, sb.CreatedAt); err != nil {
		return fmt.Errorf("create sub-batch: %w", err)
	}
	return nil
}

// GetByID returns an order by identifier.
func (r *OrderRepository) GetByID(ctx context.Context, q sqlx.ExtContext, id string) (*models.ProductionOrder, error) {
	const query = `SELECT id, number, detail_id, quantity, status, planned_start_date, started_at, completed_at, created_at
FROM production_orders WHERE id = $1`
	var order models.ProductionOrder
	if err := sqlx.GetContext(ctx, q, &order, query, id); err != nil {
		return nil, err
	}
	return &order, nil
}

// List returns orders matching the filter plus the unpaged total.
func (r *OrderRepository) List(ctx context.Context, filter dto.OrderFilter) ([]models.ProductionOrder, int, error) {
	where := []string{"1=1"}
	args := []interface{}{}
	if filter.Status != "" {
		where = append(where, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	if filter.DetailID != "" {
		where = append(where, fmt.Sprintf("detail_id = $%d", len(args)+1))
		args = append(args, filter.DetailID)
	}
	whereClause := strings.Join(where, " AND ")

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT id, number, detail_id, quantity, status, planned_start_date, started_at, completed_at, created_at
FROM production_orders WHERE %s
ORDER BY planned_start_date, created_at
LIMIT %d OFFSET %d`, whereClause, size, offset)
	var orders []models.ProductionOrder
	if err := r.db.SelectContext(ctx, &orders, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list orders: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM production_orders WHERE %s", whereClause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count orders: %w", err)
	}
	return orders, total, nil
}

// UpdateStatus moves an order to a new status and stamps the matching
// timestamp when provided.
func (r *OrderRepository) UpdateStatus(ctx context.Context, q sqlx.ExtContext, id string, status models.OrderStatus, startedAt, completedAt *time.Time) error {
	const query = `UPDATE production_orders
SET status = $2,
    started_at = COALESCE($3, started_at),
    completed_at = COALESCE($4, completed_at)
WHERE id = $1`
	if _, err := q.ExecContext(ctx, query, id, status, startedAt, completedAt); err != nil {
		return fmt.Errorf("update order %s status: %w", id, err)
	}
	return nil
}

// GetSubBatch returns a sub-batch by identifier.
func (r *OrderRepository) GetSubBatch(ctx context.Context, q sqlx.ExtContext, id string) (*models.SubBatch, error) {
	const query = `SELECT id, order_id, batch_number, quantity, status, started_at, completed_at, created_at
FROM sub_batches WHERE id = $1`
	var sb models.SubBatch
	if err := sqlx.GetContext(ctx, q, &sb, query, id); err != nil {
		return nil, err
	}
	return &sb, nil
}

// ListSubBatches returns an order's sub-batches in batch order.
func (r *OrderRepository) ListSubBatches(ctx context.Context, orderID string) ([]models.SubBatch, error) {
	const query = `SELECT id, order_id, batch_number, quantity, status, started_at, completed_at, created_at
FROM sub_batches WHERE order_id = $1 ORDER BY batch_number`
	var batches []models.SubBatch
	if err := r.db.SelectContext(ctx, &batches, query, orderID); err != nil {
		return nil, fmt.Errorf("list sub-batches for order %s: %w", orderID, err)
	}
	return batches, nil
}

// UpdateSubBatchStatus moves a sub-batch to a new status.
func (r *OrderRepository) UpdateSubBatchStatus(ctx context.Context, q sqlx.ExtContext, id string, status models.SubBatchStatus, startedAt, completedAt *time.Time) error {
	const query = `UPDATE sub_batches
SET status = $2,
    started_at = COALESCE($3, started_at),
    completed_at = COALESCE($4, completed_at)
WHERE id = $1`
	if _, err := q.ExecContext(ctx, query, id, status, startedAt, completedAt); err != nil {
		return fmt.Errorf("update sub-batch %s status: %w", id, err)
	}
	return nil
}

// CancelOpenSubBatches cancels every sub-batch of the order that is not
// already finished.
func (r *OrderRepository) CancelOpenSubBatches(ctx context.Context, q sqlx.ExtContext, orderID string) error {
	const query = `UPDATE sub_batches SET status = 'Cancelled'
WHERE order_id = $1 AND status NOT IN ('Completed', 'Cancelled')`
	if _, err := q.ExecContext(ctx, query, orderID); err != nil {
		return fmt.Errorf("cancel open sub-batches for order %s: %w", orderID, err)
	}
	return nil
}

// CountOpenSubBatches counts an order's sub-batches that are not yet
// completed or cancelled.
func (r *OrderRepository) CountOpenSubBatches(ctx context.Context, q sqlx.ExtContext, orderID string) (int, error) {
	const query = `SELECT COUNT(*) FROM sub_batches
WHERE order_id = $1 AND status NOT IN ('Completed', 'Cancelled')`
	var count int
	if err := sqlx.GetContext(ctx, q, &count, query, orderID); err != nil {
		return 0, fmt.Errorf("count open sub-batches for order %s: %w", orderID, err)
	}
	return count, nil
}
