package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/plantctl/mes-api/internal/dto"
	"github.com/plantctl/mes-api/internal/models"
	appErrors "github.com/plantctl/mes-api/pkg/errors"
)

type executionStageRepository interface {
	GetByID(ctx context.Context, q sqlx.ExtContext, id string) (*models.RouteStage, error)
	GetQueueEntry(ctx context.Context, q sqlx.ExtContext, stageID string) (*models.StageQueueEntry, error)
	Update(ctx context.Context, q sqlx.ExtContext, stage *models.RouteStage) error
	SetStatus(ctx context.Context, q sqlx.ExtContext, id string, from, to models.StageStatus) (bool, error)
	NextPending(ctx context.Context, q sqlx.ExtContext, subBatchID string) (*models.RouteStage, error)
	CountOpenPredecessors(ctx context.Context, q sqlx.ExtContext, subBatchID string, stageOrder int) (int, error)
	CountOpenOperationStages(ctx context.Context, q sqlx.ExtContext, subBatchID string) (int, error)
}

type executionRepository interface {
	Create(ctx context.Context, q sqlx.ExtContext, exec *models.StageExecution) error
	GetByID(ctx context.Context, q sqlx.ExtContext, id string) (*models.StageExecution, error)
	Update(ctx context.Context, q sqlx.ExtContext, exec *models.StageExecution) error
	GetActiveByStage(ctx context.Context, q sqlx.ExtContext, stageID string) (*models.StageExecution, error)
	GetRunningByMachine(ctx context.Context, q sqlx.ExtContext, machineID string) (*models.StageExecution, error)
	AddLog(ctx context.Context, q sqlx.ExtContext, log *models.ExecutionLog) error
	ListLogs(ctx context.Context, executionID string) ([]models.ExecutionLog, error)
}

type executionOrderRepository interface {
	GetByID(ctx context.Context, q sqlx.ExtContext, id string) (*models.ProductionOrder, error)
	GetSubBatch(ctx context.Context, q sqlx.ExtContext, id string) (*models.SubBatch, error)
	UpdateStatus(ctx context.Context, q sqlx.ExtContext, id string, status models.OrderStatus, startedAt, completedAt *time.Time) error
	UpdateSubBatchStatus(ctx context.Context, q sqlx.ExtContext, id string, status models.SubBatchStatus, startedAt, completedAt *time.Time) error
	CountOpenSubBatches(ctx context.Context, q sqlx.ExtContext, orderID string) (int, error)
}

type executionMachineRepository interface {
	GetByID(ctx context.Context, id string) (*models.Machine, error)
	FindFree(ctx context.Context, q sqlx.ExtContext, machineTypeID string) (*models.Machine, error)
}

// ExecutionService drives the stage execution lifecycle: start, pause,
// resume, complete, post-completion time corrections, and freeing a machine.
// Completion cascades upward: the last operation stage completes its
// sub-batch, the last sub-batch completes the order.
type ExecutionService struct {
	runTx      txRunner
	stages     executionStageRepository
	executions executionRepository
	orders     executionOrderRepository
	machines   executionMachineRepository
	validator  *validator.Validate
	logger     *zap.Logger
	now        func() time.Time
}

// NewExecutionService constructs the service.
func NewExecutionService(
	db *sqlx.DB,
	stages executionStageRepository,
	executions executionRepository,
	orders executionOrderRepository,
	machines executionMachineRepository,
	validate *validator.Validate,
	logger *zap.Logger,
) *ExecutionService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExecutionService{
		runTx:      newTxRunner(db),
		stages:     stages,
		executions: executions,
		orders:     orders,
		machines:   machines,
		validator:  validate,
		logger:     logger,
		now:        time.Now,
	}
}

// Start begins work on a ready stage. The machine comes from the request,
// falls back to the stage's pinned machine, and finally to the
// highest-priority free machine of the required type.
func (s *ExecutionService) Start(ctx context.Context, stageID string, req dto.StartExecutionRequest) (*models.StageExecution, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid start payload")
	}

	var result *models.StageExecution
	err := s.runTx(ctx, func(tx *sqlx.Tx) error {
		exec, err := s.startInTx(ctx, tx, stageID, req.MachineID, req.Operator)
		if err != nil {
			return err
		}
		result = exec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// startInTx contains the start path shared with the automation pass, which
// runs it inside its own transaction.
func (s *ExecutionService) startInTx(ctx context.Context, tx *sqlx.Tx, stageID, machineID, operator string) (*models.StageExecution, error) {
	entry, err := s.stages.GetQueueEntry(ctx, tx, stageID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "stage not found")
		}
		return nil, err
	}
	if entry.Status != models.StageReady {
		return nil, appErrors.Clone(appErrors.ErrStageNotReady, fmt.Sprintf("stage is %s, not Ready", entry.Status))
	}

	open, err := s.stages.CountOpenPredecessors(ctx, tx, entry.SubBatchID, entry.StageOrder)
	if err != nil {
		return nil, err
	}
	if open > 0 {
		return nil, appErrors.Clone(appErrors.ErrStageNotReady, "previous stages are not finished")
	}

	machine, err := s.resolveMachine(ctx, tx, entry, machineID)
	if err != nil {
		return nil, err
	}

	running, err := s.executions.GetRunningByMachine(ctx, tx, machine.ID)
	if err != nil {
		return nil, err
	}
	if running != nil {
		return nil, appErrors.Clone(appErrors.ErrMachineBusy, fmt.Sprintf("machine %s is running another stage", machine.Name))
	}

	ok, err := s.stages.SetStatus(ctx, tx, entry.ID, models.StageReady, models.StageInProgress)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrStageNotReady, "stage was taken by another actor")
	}

	now := s.now().UTC()
	stage := entry.RouteStage
	stage.Status = models.StageInProgress
	stage.MachineID = &machine.ID
	stage.StartedAt = &now
	if err := s.stages.Update(ctx, tx, &stage); err != nil {
		return nil, err
	}

	exec := &models.StageExecution{
		StageID:   stage.ID,
		MachineID: machine.ID,
		Operator:  operator,
		Status:    models.ExecutionStarted,
		StartedAt: now,
	}
	if err := s.executions.Create(ctx, tx, exec); err != nil {
		return nil, err
	}
	if err := s.executions.AddLog(ctx, tx, &models.ExecutionLog{
		ExecutionID: exec.ID,
		Action:      models.LogStarted,
		Operator:    operator,
	}); err != nil {
		return nil, err
	}

	if err := s.markStarted(ctx, tx, stage.SubBatchID, now); err != nil {
		return nil, err
	}

	s.logger.Info("stage started",
		zap.String("stage_id", stage.ID),
		zap.String("machine_id", machine.ID),
		zap.String("operator", operator))
	return exec, nil
}

func (s *ExecutionService) resolveMachine(ctx context.Context, tx *sqlx.Tx, entry *models.StageQueueEntry, machineID string) (*models.Machine, error) {
	if machineID == "" && entry.MachineID != nil {
		machineID = *entry.MachineID
	}
	if machineID != "" {
		machine, err := s.machines.GetByID(ctx, machineID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrNotFound, "machine not found")
			}
			return nil, err
		}
		if machine.MachineTypeID != entry.MachineTypeID {
			return nil, appErrors.Clone(appErrors.ErrMachineMismatch, "machine type does not match the operation")
		}
		return machine, nil
	}

	machine, err := s.machines.FindFree(ctx, tx, entry.MachineTypeID)
	if err != nil {
		return nil, err
	}
	if machine == nil {
		return nil, appErrors.Clone(appErrors.ErrMachineBusy, "no free machine of the required type")
	}
	return machine, nil
}

// markStarted promotes the sub-batch and order to InProgress the first time
// work begins on them.
func (s *ExecutionService) markStarted(ctx context.Context, tx *sqlx.Tx, subBatchID string, now time.Time) error {
	sb, err := s.orders.GetSubBatch(ctx, tx, subBatchID)
	if err != nil {
		return err
	}
	if sb.Status == models.SubBatchCreated {
		if err := s.orders.UpdateSubBatchStatus(ctx, tx, sb.ID, models.SubBatchInProgress, &now, nil); err != nil {
			return err
		}
	}
	order, err := s.orders.GetByID(ctx, tx, sb.OrderID)
	if err != nil {
		return err
	}
	if order.Status == models.OrderCreated {
		return s.orders.UpdateStatus(ctx, tx, order.ID, models.OrderInProgress, &now, nil)
	}
	return nil
}

// Pause suspends a running execution. The machine stays formally attached
// but no longer counts as occupied.
func (s *ExecutionService) Pause(ctx context.Context, executionID string, req dto.PauseExecutionRequest) (*models.StageExecution, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid pause payload")
	}

	var result *models.StageExecution
	err := s.runTx(ctx, func(tx *sqlx.Tx) error {
		exec, err := s.pauseInTx(ctx, tx, executionID, req.Operator, req.Note, models.LogPaused)
		if err != nil {
			return err
		}
		result = exec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *ExecutionService) pauseInTx(ctx context.Context, tx *sqlx.Tx, executionID, operator, note string, action models.LogAction) (*models.StageExecution, error) {
	exec, err := s.executions.GetByID(ctx, tx, executionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "execution not found")
		}
		return nil, err
	}
	if !exec.Status.CanTransition(models.ExecutionPaused) {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, fmt.Sprintf("execution is %s", exec.Status))
	}

	now := s.now().UTC()
	exec.Status = models.ExecutionPaused
	exec.PausedAt = &now
	if err := s.executions.Update(ctx, tx, exec); err != nil {
		return nil, err
	}
	if _, err := s.stages.SetStatus(ctx, tx, exec.StageID, models.StageInProgress, models.StagePaused); err != nil {
		return nil, err
	}
	if err := s.executions.AddLog(ctx, tx, &models.ExecutionLog{
		ExecutionID: exec.ID,
		Action:      action,
		Operator:    operator,
		Note:        note,
	}); err != nil {
		return nil, err
	}
	return exec, nil
}

// Resume restarts a paused execution, provided its machine has not been
// taken by other work in the meantime.
func (s *ExecutionService) Resume(ctx context.Context, executionID string, req dto.ResumeExecutionRequest) (*models.StageExecution, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid resume payload")
	}

	var result *models.StageExecution
	err := s.runTx(ctx, func(tx *sqlx.Tx) error {
		exec, err := s.executions.GetByID(ctx, tx, executionID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "execution not found")
			}
			return err
		}
		if !exec.Status.CanTransition(models.ExecutionStarted) {
			return appErrors.Clone(appErrors.ErrInvalidState, fmt.Sprintf("execution is %s", exec.Status))
		}

		running, err := s.executions.GetRunningByMachine(ctx, tx, exec.MachineID)
		if err != nil {
			return err
		}
		if running != nil {
			return appErrors.Clone(appErrors.ErrMachineBusy, "machine is running another stage")
		}

		now := s.now().UTC()
		if exec.PausedAt != nil {
			// Raw accumulation; rounding happens once at completion.
			exec.PauseHours += now.Sub(*exec.PausedAt).Hours()
		}
		exec.Status = models.ExecutionStarted
		exec.PausedAt = nil
		exec.ResumedAt = &now
		if err := s.executions.Update(ctx, tx, exec); err != nil {
			return err
		}
		if _, err := s.stages.SetStatus(ctx, tx, exec.StageID, models.StagePaused, models.StageInProgress); err != nil {
			return err
		}
		if err := s.executions.AddLog(ctx, tx, &models.ExecutionLog{
			ExecutionID: exec.ID,
			Action:      models.LogResumed,
			Operator:    req.Operator,
		}); err != nil {
			return err
		}
		result = exec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Complete finishes an execution and cascades: the stage completes, the next
// pending stage of the sub-batch becomes ready, and when no operation stage
// remains open the sub-batch and possibly the order complete too.
func (s *ExecutionService) Complete(ctx context.Context, executionID string, req dto.CompleteExecutionRequest) (*models.StageExecution, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid complete payload")
	}

	var result *models.StageExecution
	err := s.runTx(ctx, func(tx *sqlx.Tx) error {
		exec, err := s.executions.GetByID(ctx, tx, executionID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "execution not found")
			}
			return err
		}
		if !exec.Status.CanTransition(models.ExecutionCompleted) {
			return appErrors.Clone(appErrors.ErrInvalidState, fmt.Sprintf("execution is %s", exec.Status))
		}

		now := s.now().UTC()
		// Work that finishes while paused ends at the pause, and accumulated
		// pause time never counts toward the actual duration.
		end := now
		if exec.Status == models.ExecutionPaused && exec.PausedAt != nil {
			end = *exec.PausedAt
		}
		actual := end.Sub(exec.StartedAt).Hours() - exec.PauseHours
		if req.ActualHours != nil {
			actual = *req.ActualHours
		}
		actual = roundHours(actual)

		stage, err := s.stages.GetByID(ctx, tx, exec.StageID)
		if err != nil {
			return err
		}
		total := actual
		if stage.ActualHours != nil {
			total = roundHours(*stage.ActualHours + actual)
		}

		exec.Status = models.ExecutionCompleted
		exec.PausedAt = nil
		exec.CompletedAt = &now
		exec.ActualHours = &actual
		if stage.PlannedHours > 0 && total > stage.PlannedHours {
			reason := req.TimeExceededReason
			if reason == "" {
				reason = "actual time exceeded the planned duration"
			}
			exec.TimeExceededReason = &reason
			s.logger.Warn("stage overran its plan",
				zap.String("stage_id", stage.ID),
				zap.Float64("planned_hours", stage.PlannedHours),
				zap.Float64("actual_hours", total))
		}
		if err := s.executions.Update(ctx, tx, exec); err != nil {
			return err
		}
		if err := s.executions.AddLog(ctx, tx, &models.ExecutionLog{
			ExecutionID: exec.ID,
			Action:      models.LogCompleted,
			Operator:    req.Operator,
		}); err != nil {
			return err
		}

		if err := s.completeStage(ctx, tx, stage, total, now, req.Operator); err != nil {
			return err
		}
		result = exec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *ExecutionService) completeStage(ctx context.Context, tx *sqlx.Tx, stage *models.RouteStage, total float64, now time.Time, operator string) error {
	if !stage.Status.CanTransition(models.StageCompleted) {
		return appErrors.Clone(appErrors.ErrInvalidState, fmt.Sprintf("stage is %s", stage.Status))
	}

	stage.Status = models.StageCompleted
	stage.CompletedAt = &now
	stage.ActualHours = &total
	if err := s.stages.Update(ctx, tx, stage); err != nil {
		return err
	}

	// The next pending stage becomes ready once nothing before it is open.
	next, err := s.stages.NextPending(ctx, tx, stage.SubBatchID)
	if err != nil {
		return err
	}
	if next != nil {
		open, err := s.stages.CountOpenPredecessors(ctx, tx, stage.SubBatchID, next.StageOrder)
		if err != nil {
			return err
		}
		if open == 0 {
			if _, err := s.stages.SetStatus(ctx, tx, next.ID, models.StagePending, models.StageReady); err != nil {
				return err
			}
			// A finished changeover rolls straight into the operation it
			// prepared the machine for.
			if stage.StageType == models.StageTypeChangeover && stage.MachineID != nil &&
				next.MachineID != nil && *next.MachineID == *stage.MachineID {
				if _, err := s.startInTx(ctx, tx, next.ID, *next.MachineID, operator); err != nil {
					if !appErrors.HasCode(err, appErrors.ErrMachineBusy) && !appErrors.HasCode(err, appErrors.ErrStageNotReady) {
						return err
					}
					s.logger.Warn("changeover continuation skipped",
						zap.String("stage_id", next.ID), zap.Error(err))
				}
			}
		}
	}

	openOps, err := s.stages.CountOpenOperationStages(ctx, tx, stage.SubBatchID)
	if err != nil {
		return err
	}
	if openOps > 0 {
		return nil
	}

	sb, err := s.orders.GetSubBatch(ctx, tx, stage.SubBatchID)
	if err != nil {
		return err
	}
	if err := s.orders.UpdateSubBatchStatus(ctx, tx, sb.ID, models.SubBatchCompleted, nil, &now); err != nil {
		return err
	}

	openBatches, err := s.orders.CountOpenSubBatches(ctx, tx, sb.OrderID)
	if err != nil {
		return err
	}
	if openBatches == 0 {
		if err := s.orders.UpdateStatus(ctx, tx, sb.OrderID, models.OrderCompleted, nil, &now); err != nil {
			return err
		}
		s.logger.Info("order completed", zap.String("order_id", sb.OrderID))
	}
	return nil
}

// UpdateActualTime corrects the recorded duration of a completed execution
// and propagates the delta to the stage total.
func (s *ExecutionService) UpdateActualTime(ctx context.Context, executionID string, req dto.UpdateActualTimeRequest) (*models.StageExecution, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid time correction payload")
	}

	var result *models.StageExecution
	err := s.runTx(ctx, func(tx *sqlx.Tx) error {
		exec, err := s.executions.GetByID(ctx, tx, executionID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "execution not found")
			}
			return err
		}
		if exec.Status != models.ExecutionCompleted {
			return appErrors.Clone(appErrors.ErrInvalidState, "only completed executions can be corrected")
		}

		previous := 0.0
		if exec.ActualHours != nil {
			previous = *exec.ActualHours
		}
		corrected := roundHours(req.ActualHours)
		exec.ActualHours = &corrected
		if err := s.executions.Update(ctx, tx, exec); err != nil {
			return err
		}

		stage, err := s.stages.GetByID(ctx, tx, exec.StageID)
		if err != nil {
			return err
		}
		stageTotal := corrected
		if stage.ActualHours != nil {
			stageTotal = roundHours(*stage.ActualHours - previous + corrected)
		}
		stage.ActualHours = &stageTotal
		if err := s.stages.Update(ctx, tx, stage); err != nil {
			return err
		}

		if err := s.executions.AddLog(ctx, tx, &models.ExecutionLog{
			ExecutionID: exec.ID,
			Action:      models.LogTimeModified,
			Operator:    req.Operator,
			Note:        fmt.Sprintf("actual time changed from %.2f to %.2f: %s", previous, corrected, req.Note),
		}); err != nil {
			return err
		}
		result = exec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ReleaseMachine pauses whatever runs on the machine so higher-priority work
// can take it. When the request names an urgent stage, that stage is forced
// to Ready and started on the freed machine in the same transaction.
func (s *ExecutionService) ReleaseMachine(ctx context.Context, machineID string, req dto.ReleaseMachineRequest) (*models.StageExecution, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid release payload")
	}

	var result *models.StageExecution
	err := s.runTx(ctx, func(tx *sqlx.Tx) error {
		running, err := s.executions.GetRunningByMachine(ctx, tx, machineID)
		if err != nil {
			return err
		}
		if running == nil && req.UrgentStageID == "" {
			return appErrors.Clone(appErrors.ErrNotFound, "machine has no running execution")
		}
		if running != nil {
			paused, err := s.pauseInTx(ctx, tx, running.ID, req.Operator, req.Note, models.LogReleased)
			if err != nil {
				return err
			}
			result = paused
		}
		if req.UrgentStageID == "" {
			return nil
		}

		urgent, err := s.stages.GetByID(ctx, tx, req.UrgentStageID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "urgent stage not found")
			}
			return err
		}
		switch urgent.Status {
		case models.StageReady:
		case models.StagePending, models.StageWaiting:
			urgent.Status = models.StageReady
			urgent.QueuedAt = nil
			if err := s.stages.Update(ctx, tx, urgent); err != nil {
				return err
			}
		default:
			return appErrors.Clone(appErrors.ErrInvalidState, fmt.Sprintf("urgent stage is %s", urgent.Status))
		}

		exec, err := s.startInTx(ctx, tx, urgent.ID, machineID, req.Operator)
		if err != nil {
			return err
		}
		s.logger.Info("machine released for urgent stage",
			zap.String("machine_id", machineID),
			zap.String("stage_id", urgent.ID))
		result = exec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Logs returns an execution's audit trail.
func (s *ExecutionService) Logs(ctx context.Context, executionID string) ([]models.ExecutionLog, error) {
	logs, err := s.executions.ListLogs(ctx, executionID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "list execution logs")
	}
	return logs, nil
}
