package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/plantctl/mes-api/internal/dto"
	"github.com/plantctl/mes-api/internal/models"
	appErrors "github.com/plantctl/mes-api/pkg/errors"
)

type assignmentStageRepository interface {
	GetQueueEntry(ctx context.Context, q sqlx.ExtContext, stageID string) (*models.StageQueueEntry, error)
	Create(ctx context.Context, q sqlx.ExtContext, stage *models.RouteStage) error
	Update(ctx context.Context, q sqlx.ExtContext, stage *models.RouteStage) error
	ShiftOrders(ctx context.Context, q sqlx.ExtContext, subBatchID string, fromOrder int) error
}

type assignmentMachineRepository interface {
	GetByID(ctx context.Context, id string) (*models.Machine, error)
}

type assignmentOrderRepository interface {
	GetByID(ctx context.Context, q sqlx.ExtContext, id string) (*models.ProductionOrder, error)
}

type assignmentChangeoverRepository interface {
	Find(ctx context.Context, q sqlx.ExtContext, machineID, fromDetailID, toDetailID string) (*models.Changeover, error)
}

type assignmentExecutionRepository interface {
	LastCompletedDetailID(ctx context.Context, q sqlx.ExtContext, machineID string) (string, error)
}

// AssignmentService pins stages to machines and inserts changeover stages
// when the chosen machine last produced a different detail.
type AssignmentService struct {
	runTx      txRunner
	stages     assignmentStageRepository
	machines   assignmentMachineRepository
	orders     assignmentOrderRepository
	changeover assignmentChangeoverRepository
	executions assignmentExecutionRepository
	validator  *validator.Validate
	logger     *zap.Logger
}

// NewAssignmentService constructs the service.
func NewAssignmentService(
	db *sqlx.DB,
	stages assignmentStageRepository,
	machines assignmentMachineRepository,
	orders assignmentOrderRepository,
	changeover assignmentChangeoverRepository,
	executions assignmentExecutionRepository,
	validate *validator.Validate,
	logger *zap.Logger,
) *AssignmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AssignmentService{
		runTx:      newTxRunner(db),
		stages:     stages,
		machines:   machines,
		orders:     orders,
		changeover: changeover,
		executions: executions,
		validator:  validate,
		logger:     logger,
	}
}

// AssignMachine pins an operation stage to a machine. When the machine's
// last completed work produced a different detail, a changeover stage is
// inserted immediately before the target and the target slides one slot
// down. A stage already running or finished cannot be reassigned.
func (s *AssignmentService) AssignMachine(ctx context.Context, stageID string, req dto.AssignMachineRequest) (*dto.AssignMachineResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid assignment payload")
	}

	var resp dto.AssignMachineResponse
	err := s.runTx(ctx, func(tx *sqlx.Tx) error {
		entry, err := s.stages.GetQueueEntry(ctx, tx, stageID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "stage not found")
			}
			return err
		}
		switch entry.Status {
		case models.StagePending, models.StageReady, models.StageWaiting:
		default:
			return appErrors.Clone(appErrors.ErrInvalidState, fmt.Sprintf("stage in status %s cannot be reassigned", entry.Status))
		}
		if entry.StageType != models.StageTypeOperation {
			return appErrors.Clone(appErrors.ErrInvalidState, "changeover stages cannot be reassigned")
		}

		machine, err := s.machines.GetByID(ctx, req.MachineID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "machine not found")
			}
			return err
		}
		if machine.MachineTypeID != entry.MachineTypeID {
			return appErrors.Clone(appErrors.ErrMachineMismatch, "machine type does not match the operation")
		}

		order, err := s.orders.GetByID(ctx, tx, entry.OrderID)
		if err != nil {
			return err
		}

		lastDetail, err := s.executions.LastCompletedDetailID(ctx, tx, machine.ID)
		if err != nil {
			return err
		}

		stage := entry.RouteStage
		stage.MachineID = &machine.ID

		if lastDetail != "" && lastDetail != order.DetailID {
			hours := models.DefaultChangeoverHours
			if co, err := s.changeover.Find(ctx, tx, machine.ID, lastDetail, order.DetailID); err != nil {
				return err
			} else if co != nil {
				hours = co.ChangeoverHours
			}

			if err := s.stages.ShiftOrders(ctx, tx, stage.SubBatchID, stage.StageOrder); err != nil {
				return err
			}

			coStatus := models.StagePending
			if stage.Status != models.StagePending {
				// The changeover takes the target's startable slot.
				coStatus = models.StageReady
			}
			coStage := &models.RouteStage{
				SubBatchID:   stage.SubBatchID,
				MachineID:    &machine.ID,
				Name:         fmt.Sprintf("Changeover on %s", machine.Name),
				StageType:    models.StageTypeChangeover,
				StageOrder:   stage.StageOrder,
				Status:       coStatus,
				PlannedHours: roundHours(hours),
			}
			if err := s.stages.Create(ctx, tx, coStage); err != nil {
				return err
			}
			resp.Changeover = coStage

			stage.StageOrder++
			if stage.Status != models.StagePending {
				stage.Status = models.StagePending
				stage.QueuedAt = nil
			}

			s.logger.Info("changeover inserted",
				zap.String("stage_id", stage.ID),
				zap.String("machine_id", machine.ID),
				zap.Float64("hours", coStage.PlannedHours))
		}

		if err := s.stages.Update(ctx, tx, &stage); err != nil {
			return err
		}
		resp.Stage = stage
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &resp, nil
}
