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

// ExecutionRepository provides persistence for stage executions and their
// audit logs.
type ExecutionRepository struct {
	db *sqlx.DB
}

// NewExecutionRepository creates the repository.
func NewExecutionRepository(db *sqlx.DB) *ExecutionRepository {
	return &ExecutionRepository{db: db}
}

const executionColumns = `id, stage_id, machine_id, operator, status, started_at, paused_at, resumed_at, completed_at, pause_hours, actual_hours, time_exceeded_reason, created_at`

// Create inserts an execution inside the caller's transaction.
func (r *ExecutionRepository) Create(ctx context.Context, q sqlx.ExtContext, exec *models.StageExecution) error {
	if exec.ID == "" {
		exec.ID = uuid.NewString()
	}
	if exec.CreatedAt.IsZero() {
		exec.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO stage_executions (id, stage_id, machine_id, operator, status, started_at, paused_at, resumed_at, completed_at, pause_hours, actual_hours, time_exceeded_reason, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	if _, err := q.ExecContext(ctx, query, exec.ID, exec.StageID, exec.MachineID, exec.Operator,
		exec.Status, exec.StartedAt, exec.PausedAt, exec.ResumedAt, exec.CompletedAt,
		exec.PauseHours, exec.ActualHours, exec.TimeExceededReason, exec.CreatedAt); err != nil {
		return fmt.Errorf("create execution: %w", err)
	}
	return nil
}

// GetByID returns an execution by identifier.
func (r *ExecutionRepository) GetByID(ctx context.Context, q sqlx.ExtContext, id string) (*models.StageExecution, error) {
	query := fmt.Sprintf(`SELECT %s FROM stage_executions WHERE id = $1`, executionColumns)
	var exec models.StageExecution
	if err := sqlx.GetContext(ctx, q, &exec, query, id); err != nil {
		return nil, err
	}
	return &exec, nil
}

// Update rewrites an execution's mutable fields inside the caller's
// transaction.
func (r *ExecutionRepository) Update(ctx context.Context, q sqlx.ExtContext, exec *models.StageExecution) error {
	const query = `UPDATE stage_executions
SET status = $2, paused_at = $3, resumed_at = $4, completed_at = $5, pause_hours = $6, actual_hours = $7, time_exceeded_reason = $8
WHERE id = $1`
	if _, err := q.ExecContext(ctx, query, exec.ID, exec.Status, exec.PausedAt, exec.ResumedAt,
		exec.CompletedAt, exec.PauseHours, exec.ActualHours, exec.TimeExceededReason); err != nil {
		return fmt.Errorf("update execution %s: %w", exec.ID, err)
	}
	return nil
}

// GetActiveByStage returns the stage's started or paused execution, or nil.
func (r *ExecutionRepository) GetActiveByStage(ctx context.Context, q sqlx.ExtContext, stageID string) (*models.StageExecution, error) {
	query := fmt.Sprintf(`SELECT %s FROM stage_executions
WHERE stage_id = $1 AND status IN ('Started', 'Paused')
ORDER BY started_at DESC LIMIT 1`, executionColumns)
	var exec models.StageExecution
	if err := sqlx.GetContext(ctx, q, &exec, query, stageID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("active execution for stage %s: %w", stageID, err)
	}
	return &exec, nil
}

// GetRunningByMachine returns the execution currently running on a machine,
// or nil when the machine is idle or only holds paused work.
func (r *ExecutionRepository) GetRunningByMachine(ctx context.Context, q sqlx.ExtContext, machineID string) (*models.StageExecution, error) {
	query := fmt.Sprintf(`SELECT %s FROM stage_executions
WHERE machine_id = $1 AND status = 'Started'
ORDER BY started_at DESC LIMIT 1`, executionColumns)
	var exec models.StageExecution
	if err := sqlx.GetContext(ctx, q, &exec, query, machineID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("running execution for machine %s: %w", machineID, err)
	}
	return &exec, nil
}

// ListByStage returns a stage's executions, oldest first.
func (r *ExecutionRepository) ListByStage(ctx context.Context, stageID string) ([]models.StageExecution, error) {
	query := fmt.Sprintf(`SELECT %s FROM stage_executions WHERE stage_id = $1 ORDER BY started_at`, executionColumns)
	var execs []models.StageExecution
	if err := r.db.SelectContext(ctx, &execs, query, stageID); err != nil {
		return nil, fmt.Errorf("list executions for stage %s: %w", stageID, err)
	}
	return execs, nil
}

// LastCompletedDetailID returns the detail produced by the machine's most
// recently completed execution, or empty when the machine has no history.
func (r *ExecutionRepository) LastCompletedDetailID(ctx context.Context, q sqlx.ExtContext, machineID string) (string, error) {
	const query = `SELECT po.detail_id FROM stage_executions e
JOIN route_stages rs ON rs.id = e.stage_id
JOIN sub_batches sb ON sb.id = rs.sub_batch_id
JOIN production_orders po ON po.id = sb.order_id
WHERE e.machine_id = $1 AND e.status = 'Completed'
ORDER BY e.completed_at DESC LIMIT 1`
	var detailID string
	if err := sqlx.GetContext(ctx, q, &detailID, query, machineID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("last completed detail for machine %s: %w", machineID, err)
	}
	return detailID, nil
}

// ListOccupancies returns every machine's active execution joined with the
// stage and order it belongs to. Feeds the machine board.
func (r *ExecutionRepository) ListOccupancies(ctx context.Context) ([]models.MachineOccupancy, error) {
	const query = `SELECT e.machine_id, e.id AS execution_id, e.stage_id, rs.name AS stage_name,
po.number AS order_number, e.operator, e.status, e.started_at
FROM stage_executions e
JOIN route_stages rs ON rs.id = e.stage_id
JOIN sub_batches sb ON sb.id = rs.sub_batch_id
JOIN production_orders po ON po.id = sb.order_id
WHERE e.status IN ('Started', 'Paused')
ORDER BY e.started_at`
	var occupancies []models.MachineOccupancy
	if err := r.db.SelectContext(ctx, &occupancies, query); err != nil {
		return nil, fmt.Errorf("list machine occupancies: %w", err)
	}
	return occupancies, nil
}

// ListActiveLoadsByType returns running executions on machines of the given
// type with the planned duration of the stage they execute.
func (r *ExecutionRepository) ListActiveLoadsByType(ctx context.Context, machineTypeID string) ([]models.ActiveMachineLoad, error) {
	const query = `SELECT e.machine_id, e.started_at, rs.planned_hours
FROM stage_executions e
JOIN machines m ON m.id = e.machine_id
JOIN route_stages rs ON rs.id = e.stage_id
WHERE e.status = 'Started' AND m.machine_type_id = $1`
	var loads []models.ActiveMachineLoad
	if err := r.db.SelectContext(ctx, &loads, query, machineTypeID); err != nil {
		return nil, fmt.Errorf("list active loads for type %s: %w", machineTypeID, err)
	}
	return loads, nil
}

// AddLog appends an audit entry inside the caller's transaction.
func (r *ExecutionRepository) AddLog(ctx context.Context, q sqlx.ExtContext, log *models.ExecutionLog) error {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO execution_logs (id, execution_id, action, operator, note, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := q.ExecContext(ctx, query, log.ID, log.ExecutionID, log.Action, log.Operator, log.Note, log.CreatedAt); err != nil {
		return fmt.Errorf("add execution log: %w", err)
	}
	return nil
}

// ListLogs returns an execution's audit trail, oldest first.
func (r *ExecutionRepository) ListLogs(ctx context.Context, executionID string) ([]models.ExecutionLog, error) {
	const query = `SELECT id, execution_id, action, operator, note, created_at
FROM execution_logs WHERE execution_id = $1 ORDER BY created_at`
	var logs []models.ExecutionLog
	if err := r.db.SelectContext(ctx, &logs, query, executionID); err != nil {
		return nil, fmt.Errorf("list logs for execution %s: %w", executionID, err)
	}
	return logs, nil
}
