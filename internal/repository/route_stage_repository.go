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

// RouteStageRepository provides persistence for route stages.
type RouteStageRepository struct {
	db *sqlx.DB
}

// NewRouteStageRepository creates the repository.
func NewRouteStageRepository(db *sqlx.DB) *RouteStageRepository {
	return &RouteStageRepository{db: db}
}

const stageColumns = `id, sub_batch_id, operation_id, machine_id, name, stage_type, stage_order, status,
planned_hours, actual_hours, queued_at, started_at, completed_at, created_at`

// Create inserts a stage inside the caller's transaction.
func (r *RouteStageRepository) Create(ctx context.Context, q sqlx.ExtContext, stage *models.RouteStage) error {
	if stage.ID == "" {
		stage.ID = uuid.NewString()
	}
	if stage.CreatedAt.IsZero() {
		stage.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO route_stages (id, sub_batch_id, operation_id, machine_id, name, stage_type, stage_order, status,
planned_hours, actual_hours, queued_at, started_at, completed_at, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`
	if _, err := q.ExecContext(ctx, query, stage.ID, stage.SubBatchID, stage.OperationID, stage.MachineID,
		stage.Name, stage.StageType, stage.StageOrder, stage.Status, stage.PlannedHours, stage.ActualHours,
		stage.QueuedAt, stage.StartedAt, stage.CompletedAt, stage.CreatedAt); err != nil {
		return fmt.Errorf("create stage: %w", err)
	}
	return nil
}

// GetByID returns a stage by identifier.
func (r *RouteStageRepository) GetByID(ctx context.Context, q sqlx.ExtContext, id string) (*models.RouteStage, error) {
	query := fmt.Sprintf(`SELECT %s FROM route_stages WHERE id = $1`, stageColumns)
	var stage models.RouteStage
	if err := sqlx.GetContext(ctx, q, &stage, query, id); err != nil {
		return nil, err
	}
	return &stage, nil
}

// ListBySubBatch returns a sub-batch's stages in route order.
func (r *RouteStageRepository) ListBySubBatch(ctx context.Context, subBatchID string) ([]models.RouteStage, error) {
	query := fmt.Sprintf(`SELECT %s FROM route_stages WHERE sub_batch_id = $1 ORDER BY stage_order`, stageColumns)
	var stages []models.RouteStage
	if err := r.db.SelectContext(ctx, &stages, query, subBatchID); err != nil {
		return nil, fmt.Errorf("list stages for sub-batch %s: %w", subBatchID, err)
	}
	return stages, nil
}

// Update rewrites a stage's mutable fields inside the caller's transaction.
func (r *RouteStageRepository) Update(ctx context.Context, q sqlx.ExtContext, stage *models.RouteStage) error {
	const query = `UPDATE route_stages
SET machine_id = $2, name = $3, stage_order = $4, status = $5, planned_hours = $6,
    actual_hours = $7, queued_at = $8, started_at = $9, completed_at = $10
WHERE id = $1`
	if _, err := q.ExecContext(ctx, query, stage.ID, stage.MachineID, stage.Name, stage.StageOrder,
		stage.Status, stage.PlannedHours, stage.ActualHours, stage.QueuedAt, stage.StartedAt,
		stage.CompletedAt); err != nil {
		return fmt.Errorf("update stage %s: %w", stage.ID, err)
	}
	return nil
}

// SetStatus moves a stage from one status to another. Returns false without
// error when the stage was no longer in the expected status, which lets
// concurrent actors lose the race cleanly.
func (r *RouteStageRepository) SetStatus(ctx context.Context, q sqlx.ExtContext, id string, from, to models.StageStatus) (bool, error) {
	const query = `UPDATE route_stages SET status = $3 WHERE id = $1 AND status = $2`
	res, err := q.ExecContext(ctx, query, id, from, to)
	if err != nil {
		return false, fmt.Errorf("set stage %s status: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("set stage %s status: %w", id, err)
	}
	return affected > 0, nil
}

// ShiftOrders makes room for an inserted stage by pushing every stage at or
// after the given order one slot down.
func (r *RouteStageRepository) ShiftOrders(ctx context.Context, q sqlx.ExtContext, subBatchID string, fromOrder int) error {
	const query = `UPDATE route_stages SET stage_order = stage_order + 1
WHERE sub_batch_id = $1 AND stage_order >= $2`
	if _, err := q.ExecContext(ctx, query, subBatchID, fromOrder); err != nil {
		return fmt.Errorf("shift stage orders for sub-batch %s: %w", subBatchID, err)
	}
	return nil
}

// NextPending returns the lowest-order pending stage of a sub-batch, or nil
// when none remains.
func (r *RouteStageRepository) NextPending(ctx context.Context, q sqlx.ExtContext, subBatchID string) (*models.RouteStage, error) {
	query := fmt.Sprintf(`SELECT %s FROM route_stages
WHERE sub_batch_id = $1 AND status = 'Pending'
ORDER BY stage_order LIMIT 1`, stageColumns)
	var stage models.RouteStage
	if err := sqlx.GetContext(ctx, q, &stage, query, subBatchID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("next pending stage for sub-batch %s: %w", subBatchID, err)
	}
	return &stage, nil
}

// CountOpenPredecessors counts stages of the sub-batch before the given
// order that are not yet completed or cancelled.
func (r *RouteStageRepository) CountOpenPredecessors(ctx context.Context, q sqlx.ExtContext, subBatchID string, stageOrder int) (int, error) {
	const query = `SELECT COUNT(*) FROM route_stages
WHERE sub_batch_id = $1 AND stage_order < $2 AND status NOT IN ('Completed', 'Cancelled')`
	var count int
	if err := sqlx.GetContext(ctx, q, &count, query, subBatchID, stageOrder); err != nil {
		return 0, fmt.Errorf("count open predecessors for sub-batch %s: %w", subBatchID, err)
	}
	return count, nil
}

// CountOpenOperationStages counts a sub-batch's operation stages that are
// not yet completed or cancelled. Changeover stages do not hold a sub-batch
// open.
func (r *RouteStageRepository) CountOpenOperationStages(ctx context.Context, q sqlx.ExtContext, subBatchID string) (int, error) {
	const query = `SELECT COUNT(*) FROM route_stages
WHERE sub_batch_id = $1 AND stage_type = 'Operation' AND status NOT IN ('Completed', 'Cancelled')`
	var count int
	if err := sqlx.GetContext(ctx, q, &count, query, subBatchID); err != nil {
		return 0, fmt.Errorf("count open operation stages for sub-batch %s: %w", subBatchID, err)
	}
	return count, nil
}

const queueEntryColumns = `rs.id, rs.sub_batch_id, rs.operation_id, rs.machine_id, rs.name, rs.stage_type,
rs.stage_order, rs.status, rs.planned_hours, rs.actual_hours, rs.queued_at, rs.started_at, rs.completed_at, rs.created_at,
COALESCE(o.machine_type_id, m.machine_type_id) AS machine_type_id,
po.id AS order_id, po.detail_id AS detail_id, po.planned_start_date`

const queueEntryJoins = `FROM route_stages rs
JOIN sub_batches sb ON sb.id = rs.sub_batch_id
JOIN production_orders po ON po.id = sb.order_id
LEFT JOIN operations o ON o.id = rs.operation_id
LEFT JOIN machines m ON m.id = rs.machine_id`

// ListReady returns ready stages in dispatch order: oldest planned start
// first, then route order within a sub-batch.
func (r *RouteStageRepository) ListReady(ctx context.Context, limit int) ([]models.StageQueueEntry, error) {
	query := fmt.Sprintf(`SELECT %s
%s
WHERE rs.status = 'Ready'
ORDER BY po.planned_start_date, po.created_at, rs.stage_order
LIMIT %d`, queueEntryColumns, queueEntryJoins, limit)
	var entries []models.StageQueueEntry
	if err := r.db.SelectContext(ctx, &entries, query); err != nil {
		return nil, fmt.Errorf("list ready stages: %w", err)
	}
	return entries, nil
}

// ListWaiting returns the waiting queue in FIFO order.
func (r *RouteStageRepository) ListWaiting(ctx context.Context) ([]models.StageQueueEntry, error) {
	query := fmt.Sprintf(`SELECT %s
%s
WHERE rs.status = 'Waiting'
ORDER BY rs.queued_at, rs.created_at`, queueEntryColumns, queueEntryJoins)
	var entries []models.StageQueueEntry
	if err := r.db.SelectContext(ctx, &entries, query); err != nil {
		return nil, fmt.Errorf("list waiting stages: %w", err)
	}
	return entries, nil
}

// GetQueueEntry returns one stage with its machine type and order keys.
func (r *RouteStageRepository) GetQueueEntry(ctx context.Context, q sqlx.ExtContext, stageID string) (*models.StageQueueEntry, error) {
	query := fmt.Sprintf(`SELECT %s
%s
WHERE rs.id = $1`, queueEntryColumns, queueEntryJoins)
	var entry models.StageQueueEntry
	if err := sqlx.GetContext(ctx, q, &entry, query, stageID); err != nil {
		return nil, err
	}
	return &entry, nil
}

// CountWaitingAhead counts waiting stages of the same machine type queued
// before the given time.
func (r *RouteStageRepository) CountWaitingAhead(ctx context.Context, machineTypeID string, queuedAt time.Time) (int, error) {
	const query = `SELECT COUNT(*) FROM route_stages rs
LEFT JOIN operations o ON o.id = rs.operation_id
LEFT JOIN machines m ON m.id = rs.machine_id
WHERE rs.status = 'Waiting'
  AND COALESCE(o.machine_type_id, m.machine_type_id) = $1
  AND rs.queued_at < $2`
	var count int
	if err := r.db.GetContext(ctx, &count, query, machineTypeID, queuedAt); err != nil {
		return 0, fmt.Errorf("count waiting stages ahead: %w", err)
	}
	return count, nil
}

// CountActiveByOrder counts an order's stages with running or paused work.
func (r *RouteStageRepository) CountActiveByOrder(ctx context.Context, q sqlx.ExtContext, orderID string) (int, error) {
	const query = `SELECT COUNT(*) FROM route_stages rs
JOIN sub_batches sb ON sb.id = rs.sub_batch_id
WHERE sb.order_id = $1 AND rs.status IN ('InProgress', 'Paused')`
	var count int
	if err := sqlx.GetContext(ctx, q, &count, query, orderID); err != nil {
		return 0, fmt.Errorf("count active stages for order %s: %w", orderID, err)
	}
	return count, nil
}

// CancelOpenByOrder cancels every stage of the order that has not started.
func (r *RouteStageRepository) CancelOpenByOrder(ctx context.Context, q sqlx.ExtContext, orderID string) error {
	const query = `UPDATE route_stages SET status = 'Cancelled'
WHERE sub_batch_id IN (SELECT id FROM sub_batches WHERE order_id = $1)
  AND status IN ('Pending', 'Ready', 'Waiting')`
	if _, err := q.ExecContext(ctx, query, orderID); err != nil {
		return fmt.Errorf("cancel open stages for order %s: %w", orderID, err)
	}
	return nil
}

// CountWaiting returns the total depth of the waiting queue.
func (r *RouteStageRepository) CountWaiting(ctx context.Context) (int, error) {
	const query = `SELECT COUNT(*) FROM route_stages WHERE status = 'Waiting'`
	var count int
	if err := r.db.GetContext(ctx, &count, query); err != nil {
		return 0, fmt.Errorf("count waiting stages: %w", err)
	}
	return count, nil
}
