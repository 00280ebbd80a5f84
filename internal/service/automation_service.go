package service

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/plantctl/mes-api/internal/dto"
	"github.com/plantctl/mes-api/internal/models"
	"github.com/plantctl/mes-api/pkg/config"
	appErrors "github.com/plantctl/mes-api/pkg/errors"
)

type automationStageRepository interface {
	GetByID(ctx context.Context, q sqlx.ExtContext, id string) (*models.RouteStage, error)
	GetQueueEntry(ctx context.Context, q sqlx.ExtContext, stageID string) (*models.StageQueueEntry, error)
	Create(ctx context.Context, q sqlx.ExtContext, stage *models.RouteStage) error
	Update(ctx context.Context, q sqlx.ExtContext, stage *models.RouteStage) error
	SetStatus(ctx context.Context, q sqlx.ExtContext, id string, from, to models.StageStatus) (bool, error)
	ShiftOrders(ctx context.Context, q sqlx.ExtContext, subBatchID string, fromOrder int) error
	CountOpenPredecessors(ctx context.Context, q sqlx.ExtContext, subBatchID string, stageOrder int) (int, error)
	ListReady(ctx context.Context, limit int) ([]models.StageQueueEntry, error)
	ListWaiting(ctx context.Context) ([]models.StageQueueEntry, error)
	CountWaitingAhead(ctx context.Context, machineTypeID string, queuedAt time.Time) (int, error)
	CountWaiting(ctx context.Context) (int, error)
}

type automationMachineRepository interface {
	FindFree(ctx context.Context, q sqlx.ExtContext, machineTypeID string) (*models.Machine, error)
	CountFreeByType(ctx context.Context, machineTypeID string) (int, error)
}

type automationExecutionRepository interface {
	Create(ctx context.Context, q sqlx.ExtContext, exec *models.StageExecution) error
	GetRunningByMachine(ctx context.Context, q sqlx.ExtContext, machineID string) (*models.StageExecution, error)
	LastCompletedDetailID(ctx context.Context, q sqlx.ExtContext, machineID string) (string, error)
	AddLog(ctx context.Context, q sqlx.ExtContext, log *models.ExecutionLog) error
	ListActiveLoadsByType(ctx context.Context, machineTypeID string) ([]models.ActiveMachineLoad, error)
}

type automationChangeoverRepository interface {
	Find(ctx context.Context, q sqlx.ExtContext, machineID, fromDetailID, toDetailID string) (*models.Changeover, error)
}

type stageStarter interface {
	startInTx(ctx context.Context, tx *sqlx.Tx, stageID, machineID, operator string) (*models.StageExecution, error)
}

type workCalendar interface {
	IsWorkingTime(ctx context.Context, machineID string, at time.Time) (bool, error)
	NextWorkingTime(ctx context.Context, machineID string, from time.Time) (time.Time, error)
}

// fallbackEstimateDelay is returned when the queue estimator cannot compute
// a projection, so callers always get a usable timestamp.
const fallbackEstimateDelay = time.Hour

// AutomationService is the scheduling engine. Each pass promotes queued
// stages whose machines freed up, starts ready stages on idle machines, and
// parks stages blocked by machines or predecessors in the FIFO waiting
// queue.
type AutomationService struct {
	db         *sqlx.DB
	runTx      txRunner
	stages     automationStageRepository
	machines   automationMachineRepository
	executions automationExecutionRepository
	changeover automationChangeoverRepository
	starter    stageStarter
	calendar   workCalendar
	metrics    *MetricsService
	cfg        config.AutomationConfig
	logger     *zap.Logger
	now        func() time.Time

	mu         sync.Mutex
	running    bool
	lastPass   time.Time
	lastManual time.Time
}

// NewAutomationService constructs the engine.
func NewAutomationService(
	db *sqlx.DB,
	stages automationStageRepository,
	machines automationMachineRepository,
	executions automationExecutionRepository,
	changeover automationChangeoverRepository,
	starter stageStarter,
	calendar workCalendar,
	metrics *MetricsService,
	cfg config.AutomationConfig,
	logger *zap.Logger,
) *AutomationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AutomationService{
		db:         db,
		runTx:      newTxRunner(db),
		stages:     stages,
		machines:   machines,
		executions: executions,
		changeover: changeover,
		starter:    starter,
		calendar:   calendar,
		metrics:    metrics,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
}

// ProcessPass runs one scheduling pass. Manual triggers honor a short
// cooldown and report a conflict when a pass is already running; scheduled
// triggers silently skip when the previous pass ran too recently.
func (s *AutomationService) ProcessPass(ctx context.Context, manual bool) (*dto.AutomationPassResult, error) {
	now := s.now().UTC()
	trigger := "scheduled"
	if manual {
		trigger = "manual"
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		if manual {
			return nil, appErrors.Clone(appErrors.ErrAlreadyRunning, "automation pass already in progress")
		}
		return &dto.AutomationPassResult{RanAt: now, Skipped: true}, nil
	}
	if manual {
		if since := now.Sub(s.lastManual); since < s.cfg.ManualCooldown {
			s.mu.Unlock()
			return nil, appErrors.Clone(appErrors.ErrAlreadyRunning, "manual trigger cooldown in effect")
		}
		s.lastManual = now
	} else if since := now.Sub(s.lastPass); since < s.cfg.MinPassInterval {
		s.mu.Unlock()
		return &dto.AutomationPassResult{RanAt: now, Skipped: true}, nil
	}
	s.running = true
	s.lastPass = now
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	result := &dto.AutomationPassResult{RanAt: now}

	promoted, err := s.promoteWaiting(ctx, now)
	if err != nil {
		s.metrics.ObservePass(trigger, "error", s.now().UTC().Sub(now).Seconds(), 0, 0)
		return nil, err
	}
	result.PromotedStages = promoted

	started, queued, err := s.dispatchReady(ctx, now)
	if err != nil {
		s.metrics.ObservePass(trigger, "error", s.now().UTC().Sub(now).Seconds(), 0, 0)
		return nil, err
	}
	result.StartedStages = started
	result.QueuedStages = queued

	if depth, err := s.stages.CountWaiting(ctx); err == nil {
		s.metrics.SetQueueDepth(depth)
	}
	s.metrics.ObservePass(trigger, "ok", s.now().UTC().Sub(now).Seconds(), started, queued)

	s.logger.Info("automation pass finished",
		zap.String("trigger", trigger),
		zap.Int("started", started),
		zap.Int("queued", queued),
		zap.Int("promoted", promoted))
	return result, nil
}

// promoteWaiting walks the FIFO queue and returns queued stages to Ready
// once their predecessors finished and a machine of their type is free.
func (s *AutomationService) promoteWaiting(ctx context.Context, now time.Time) (int, error) {
	waiting, err := s.stages.ListWaiting(ctx)
	if err != nil {
		return 0, err
	}

	promoted := 0
	for i := range waiting {
		if promoted >= s.cfg.MaxQueuePromotions {
			break
		}
		entry := &waiting[i]

		err := s.runTx(ctx, func(tx *sqlx.Tx) error {
			machineID, ok, err := s.canRun(ctx, tx, entry)
			if err != nil || !ok {
				return err
			}
			working, err := s.calendar.IsWorkingTime(ctx, machineID, now)
			if err != nil || !working {
				return err
			}
			moved, err := s.stages.SetStatus(ctx, tx, entry.ID, models.StageWaiting, models.StageReady)
			if err != nil {
				return err
			}
			if moved {
				promoted++
			}
			return nil
		})
		if err != nil {
			s.logger.Warn("queue promotion failed", zap.String("stage_id", entry.ID), zap.Error(err))
		}
	}
	return promoted, nil
}

// dispatchReady starts ready stages on idle machines. Stages blocked by
// machine contention or predecessors are parked in the waiting queue; a
// closed calendar only defers the stage to a later pass.
func (s *AutomationService) dispatchReady(ctx context.Context, now time.Time) (started, queued int, err error) {
	ready, err := s.stages.ListReady(ctx, s.cfg.ReadyBatchSize)
	if err != nil {
		return 0, 0, err
	}

	for i := range ready {
		if started >= s.cfg.MaxStartsPerPass {
			break
		}
		entry := &ready[i]

		err := s.runTx(ctx, func(tx *sqlx.Tx) error {
			machineID, ok, err := s.canRun(ctx, tx, entry)
			if err != nil {
				return err
			}
			if !ok {
				moved, err := s.parkInQueue(ctx, tx, entry, now)
				if err != nil {
					return err
				}
				if moved {
					queued++
				}
				return nil
			}
			working, err := s.calendar.IsWorkingTime(ctx, machineID, now)
			if err != nil {
				return err
			}
			if !working {
				// The machine frees up when its shift opens; the stage
				// stays Ready instead of losing its place to the queue.
				return nil
			}
			if err := s.recordChangeover(ctx, tx, entry, machineID, now); err != nil {
				return err
			}
			if _, err := s.starter.startInTx(ctx, tx, entry.ID, machineID, models.AutomationOperator); err != nil {
				// Lost the machine to a competing start; park and move on.
				if appErrors.HasCode(err, appErrors.ErrMachineBusy) || appErrors.HasCode(err, appErrors.ErrStageNotReady) {
					return nil
				}
				return err
			}
			started++
			return nil
		})
		if err != nil {
			s.logger.Warn("automation start failed", zap.String("stage_id", entry.ID), zap.Error(err))
		}
	}
	return started, queued, nil
}

// canRun checks the admission gates: predecessors finished and a machine of
// the right type available. On success it returns the machine the stage
// would run on. The working calendar is the caller's concern.
func (s *AutomationService) canRun(ctx context.Context, tx *sqlx.Tx, entry *models.StageQueueEntry) (string, bool, error) {
	open, err := s.stages.CountOpenPredecessors(ctx, tx, entry.SubBatchID, entry.StageOrder)
	if err != nil {
		return "", false, err
	}
	if open > 0 {
		return "", false, nil
	}

	machineID := ""
	if entry.MachineID != nil {
		machineID = *entry.MachineID
		running, err := s.executions.GetRunningByMachine(ctx, tx, machineID)
		if err != nil {
			return "", false, err
		}
		if running != nil {
			return "", false, nil
		}
	} else {
		machine, err := s.machines.FindFree(ctx, tx, entry.MachineTypeID)
		if err != nil {
			return "", false, err
		}
		if machine == nil {
			return "", false, nil
		}
		machineID = machine.ID
	}
	return machineID, true, nil
}

// recordChangeover writes a completed changeover stage when the chosen
// machine last produced a different detail. The engine does not hold work
// for a human, so the changeover is booked as already done and the target
// stage slides one slot down before it starts.
func (s *AutomationService) recordChangeover(ctx context.Context, tx *sqlx.Tx, entry *models.StageQueueEntry, machineID string, now time.Time) error {
	if entry.StageType != models.StageTypeOperation {
		return nil
	}
	last, err := s.executions.LastCompletedDetailID(ctx, tx, machineID)
	if err != nil {
		return err
	}
	if last == "" || last == entry.DetailID {
		return nil
	}

	hours := models.DefaultChangeoverHours
	if co, err := s.changeover.Find(ctx, tx, machineID, last, entry.DetailID); err != nil {
		return err
	} else if co != nil {
		hours = co.ChangeoverHours
	}
	hours = roundHours(hours)

	if err := s.stages.ShiftOrders(ctx, tx, entry.SubBatchID, entry.StageOrder); err != nil {
		return err
	}
	coStage := &models.RouteStage{
		SubBatchID:   entry.SubBatchID,
		MachineID:    &machineID,
		Name:         "Automatic changeover",
		StageType:    models.StageTypeChangeover,
		StageOrder:   entry.StageOrder,
		Status:       models.StageCompleted,
		PlannedHours: hours,
		ActualHours:  &hours,
		StartedAt:    &now,
		CompletedAt:  &now,
	}
	if err := s.stages.Create(ctx, tx, coStage); err != nil {
		return err
	}

	exec := &models.StageExecution{
		StageID:     coStage.ID,
		MachineID:   machineID,
		Operator:    models.AutomationOperator,
		Status:      models.ExecutionCompleted,
		StartedAt:   now,
		CompletedAt: &now,
		ActualHours: &hours,
	}
	if err := s.executions.Create(ctx, tx, exec); err != nil {
		return err
	}
	if err := s.executions.AddLog(ctx, tx, &models.ExecutionLog{
		ExecutionID: exec.ID,
		Action:      models.LogCompleted,
		Operator:    models.AutomationOperator,
		Note:        "automatic changeover",
	}); err != nil {
		return err
	}

	s.logger.Info("changeover recorded",
		zap.String("machine_id", machineID),
		zap.String("stage_id", entry.ID),
		zap.Float64("hours", hours))
	return nil
}

func (s *AutomationService) parkInQueue(ctx context.Context, tx *sqlx.Tx, entry *models.StageQueueEntry, now time.Time) (bool, error) {
	moved, err := s.stages.SetStatus(ctx, tx, entry.ID, models.StageReady, models.StageWaiting)
	if err != nil || !moved {
		return false, err
	}
	stage := entry.RouteStage
	stage.Status = models.StageWaiting
	stage.QueuedAt = &now
	return true, s.stages.Update(ctx, tx, &stage)
}

// AddToQueue manually parks a ready stage in the waiting queue.
func (s *AutomationService) AddToQueue(ctx context.Context, stageID string) (*models.RouteStage, error) {
	var result *models.RouteStage
	err := s.runTx(ctx, func(tx *sqlx.Tx) error {
		stage, err := s.stages.GetByID(ctx, tx, stageID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "stage not found")
			}
			return err
		}
		moved, err := s.stages.SetStatus(ctx, tx, stage.ID, models.StageReady, models.StageWaiting)
		if err != nil {
			return err
		}
		if !moved {
			return appErrors.Clone(appErrors.ErrInvalidState, "only ready stages can be queued")
		}
		now := s.now().UTC()
		stage.Status = models.StageWaiting
		stage.QueuedAt = &now
		if err := s.stages.Update(ctx, tx, stage); err != nil {
			return err
		}
		result = stage
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// RemoveFromQueue returns a waiting stage to Ready.
func (s *AutomationService) RemoveFromQueue(ctx context.Context, stageID string) (*models.RouteStage, error) {
	var result *models.RouteStage
	err := s.runTx(ctx, func(tx *sqlx.Tx) error {
		stage, err := s.stages.GetByID(ctx, tx, stageID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "stage not found")
			}
			return err
		}
		moved, err := s.stages.SetStatus(ctx, tx, stage.ID, models.StageWaiting, models.StageReady)
		if err != nil {
			return err
		}
		if !moved {
			return appErrors.Clone(appErrors.ErrInvalidState, "stage is not waiting")
		}
		stage.Status = models.StageReady
		stage.QueuedAt = nil
		if err := s.stages.Update(ctx, tx, stage); err != nil {
			return err
		}
		result = stage
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// EstimatedStart predicts when a waiting stage gets a machine: it counts the
// queue ahead of the stage, nets out idle machines, and walks the projected
// finish times of running work. Estimation failures degrade to a flat delay
// rather than an error.
func (s *AutomationService) EstimatedStart(ctx context.Context, stageID string) (*dto.EstimatedStartResponse, error) {
	entry, err := s.stages.GetQueueEntry(ctx, s.db, stageID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "stage not found")
		}
		return nil, err
	}
	if entry.Status != models.StageWaiting || entry.QueuedAt == nil {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "stage is not in the waiting queue")
	}

	now := s.now().UTC()
	resp := &dto.EstimatedStartResponse{StageID: entry.ID}

	ahead, err := s.stages.CountWaitingAhead(ctx, entry.MachineTypeID, *entry.QueuedAt)
	if err != nil {
		s.logger.Warn("queue estimate failed", zap.String("stage_id", stageID), zap.Error(err))
		resp.EstimatedStart = now.Add(fallbackEstimateDelay)
		return resp, nil
	}
	resp.QueuePosition = ahead + 1

	idle, err := s.machines.CountFreeByType(ctx, entry.MachineTypeID)
	if err != nil {
		resp.EstimatedStart = now.Add(fallbackEstimateDelay)
		return resp, nil
	}

	waitIndex := ahead - idle
	if waitIndex < 0 {
		// A machine is already free; only the calendar delays the start.
		at, err := s.calendar.NextWorkingTime(ctx, "", now)
		if err != nil {
			at = now.Add(fallbackEstimateDelay)
		}
		resp.EstimatedStart = at
		return resp, nil
	}

	loads, err := s.executions.ListActiveLoadsByType(ctx, entry.MachineTypeID)
	if err != nil || len(loads) == 0 {
		resp.EstimatedStart = now.Add(fallbackEstimateDelay)
		return resp, nil
	}

	free := make([]time.Time, 0, len(loads))
	for _, load := range loads {
		finish := load.StartedAt.Add(time.Duration(load.PlannedHours * float64(time.Hour)))
		if finish.Before(now) {
			finish = now
		}
		free = append(free, finish)
	}
	sort.Slice(free, func(i, j int) bool { return free[i].Before(free[j]) })

	slot := waitIndex
	if slot >= len(free) {
		slot = len(free) - 1
	}
	at, err := s.calendar.NextWorkingTime(ctx, "", free[slot])
	if err != nil {
		at = free[slot]
	}
	resp.EstimatedStart = at
	return resp, nil
}

// Queue returns the waiting queue in FIFO order.
func (s *AutomationService) Queue(ctx context.Context) ([]models.StageQueueEntry, error) {
	entries, err := s.stages.ListWaiting(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "list waiting queue")
	}
	return entries, nil
}
