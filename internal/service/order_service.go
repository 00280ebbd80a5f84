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

type orderRepository interface {
	Create(ctx context.Context, q sqlx.ExtContext, order *models.ProductionOrder) error
	CreateSubBatch(ctx context.Context, q sqlx.ExtContext, sb *models.SubBatch) error
	GetByID(ctx context.Context, q sqlx.ExtContext, id string) (*models.ProductionOrder, error)
	List(ctx context.Context, filter dto.OrderFilter) ([]models.ProductionOrder, int, error)
	ListSubBatches(ctx context.Context, orderID string) ([]models.SubBatch, error)
	UpdateStatus(ctx context.Context, q sqlx.ExtContext, id string, status models.OrderStatus, startedAt, completedAt *time.Time) error
	CancelOpenSubBatches(ctx context.Context, q sqlx.ExtContext, orderID string) error
}

type orderStageRepository interface {
	Create(ctx context.Context, q sqlx.ExtContext, stage *models.RouteStage) error
	ListBySubBatch(ctx context.Context, subBatchID string) ([]models.RouteStage, error)
	NextPending(ctx context.Context, q sqlx.ExtContext, subBatchID string) (*models.RouteStage, error)
	SetStatus(ctx context.Context, q sqlx.ExtContext, id string, from, to models.StageStatus) (bool, error)
	CountOpenPredecessors(ctx context.Context, q sqlx.ExtContext, subBatchID string, stageOrder int) (int, error)
	CountActiveByOrder(ctx context.Context, q sqlx.ExtContext, orderID string) (int, error)
	CancelOpenByOrder(ctx context.Context, q sqlx.ExtContext, orderID string) error
}

type orderDetailRepository interface {
	GetByID(ctx context.Context, id string) (*models.Detail, error)
	ListOperations(ctx context.Context, detailID string) ([]models.Operation, error)
}

// OrderService creates production orders, splits them into sub-batches,
// expands each sub-batch into route stages from the detail's process plan,
// and releases or cancels the resulting work.
type OrderService struct {
	db        *sqlx.DB
	runTx     txRunner
	orders    orderRepository
	stages    orderStageRepository
	details   orderDetailRepository
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewOrderService constructs the service.
func NewOrderService(
	db *sqlx.DB,
	orders orderRepository,
	stages orderStageRepository,
	details orderDetailRepository,
	validate *validator.Validate,
	logger *zap.Logger,
) *OrderService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OrderService{
		db:        db,
		runTx:     newTxRunner(db),
		orders:    orders,
		stages:    stages,
		details:   details,
		validator: validate,
		logger:    logger,
		now:       time.Now,
	}
}

// CreateOrder persists an order with its sub-batches and route stages. The
// quantity splits into batches of the requested size, remainder in the last
// one; every stage starts out pending until the order is released.
func (s *OrderService) CreateOrder(ctx context.Context, req dto.CreateOrderRequest) (*dto.OrderResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid order payload")
	}

	detail, err := s.details.GetByID(ctx, req.DetailID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "detail not found")
		}
		return nil, err
	}
	ops, err := s.details.ListOperations(ctx, detail.ID)
	if err != nil {
		return nil, err
	}
	if len(ops) == 0 {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "detail has no process plan")
	}

	batchSize := req.BatchSize
	if batchSize <= 0 || batchSize > req.Quantity {
		batchSize = req.Quantity
	}

	resp := &dto.OrderResponse{}
	err = s.runTx(ctx, func(tx *sqlx.Tx) error {
		order := &models.ProductionOrder{
			Number:           req.Number,
			DetailID:         detail.ID,
			Quantity:         req.Quantity,
			Status:           models.OrderCreated,
			PlannedStartDate: req.PlannedStartDate.UTC(),
		}
		if err := s.orders.Create(ctx, tx, order); err != nil {
			return err
		}

		resp.ProductionOrder = *order
		remaining := req.Quantity
		for batchNo := 1; remaining > 0; batchNo++ {
			qty := batchSize
			if qty > remaining {
				qty = remaining
			}
			remaining -= qty

			sb := &models.SubBatch{
				OrderID:     order.ID,
				BatchNumber: batchNo,
				Quantity:    qty,
				Status:      models.SubBatchCreated,
			}
			if err := s.orders.CreateSubBatch(ctx, tx, sb); err != nil {
				return err
			}

			sbResp := dto.SubBatchResponse{SubBatch: *sb}
			for i := range ops {
				op := &ops[i]
				stage := &models.RouteStage{
					SubBatchID:   sb.ID,
					OperationID:  &op.ID,
					Name:         fmt.Sprintf("%s %s", op.OperationNumber, op.Name),
					StageType:    models.StageTypeOperation,
					StageOrder:   i + 1,
					Status:       models.StagePending,
					PlannedHours: roundHours(op.TimePerPiece * float64(qty)),
				}
				if err := s.stages.Create(ctx, tx, stage); err != nil {
					return err
				}
				sbResp.Stages = append(sbResp.Stages, *stage)
			}
			resp.SubBatches = append(resp.SubBatches, sbResp)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("order created",
		zap.String("order_id", resp.ID),
		zap.String("number", resp.Number),
		zap.Int("sub_batches", len(resp.SubBatches)))
	return resp, nil
}

// StartOrder releases the order: the first pending stage of every sub-batch
// becomes ready so the automation engine can pick it up.
func (s *OrderService) StartOrder(ctx context.Context, orderID string) error {
	return s.runTx(ctx, func(tx *sqlx.Tx) error {
		order, err := s.orders.GetByID(ctx, tx, orderID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "order not found")
			}
			return err
		}
		if order.Status != models.OrderCreated {
			return appErrors.Clone(appErrors.ErrInvalidState, fmt.Sprintf("order is %s", order.Status))
		}

		batches, err := s.orders.ListSubBatches(ctx, order.ID)
		if err != nil {
			return err
		}
		for _, sb := range batches {
			next, err := s.stages.NextPending(ctx, tx, sb.ID)
			if err != nil {
				return err
			}
			if next == nil {
				continue
			}
			open, err := s.stages.CountOpenPredecessors(ctx, tx, sb.ID, next.StageOrder)
			if err != nil {
				return err
			}
			if open > 0 {
				continue
			}
			if _, err := s.stages.SetStatus(ctx, tx, next.ID, models.StagePending, models.StageReady); err != nil {
				return err
			}
		}
		s.logger.Info("order released", zap.String("order_id", order.ID))
		return nil
	})
}

// CancelOrder cancels an order and all of its unfinished work. Orders with
// running or paused stages must be stopped first.
func (s *OrderService) CancelOrder(ctx context.Context, orderID string) error {
	return s.runTx(ctx, func(tx *sqlx.Tx) error {
		order, err := s.orders.GetByID(ctx, tx, orderID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "order not found")
			}
			return err
		}
		if order.Status == models.OrderCompleted || order.Status == models.OrderCancelled {
			return appErrors.Clone(appErrors.ErrInvalidState, fmt.Sprintf("order is %s", order.Status))
		}

		active, err := s.stages.CountActiveByOrder(ctx, tx, order.ID)
		if err != nil {
			return err
		}
		if active > 0 {
			return appErrors.Clone(appErrors.ErrInvalidState, "order has running or paused stages")
		}

		if err := s.stages.CancelOpenByOrder(ctx, tx, order.ID); err != nil {
			return err
		}
		if err := s.orders.CancelOpenSubBatches(ctx, tx, order.ID); err != nil {
			return err
		}
		if err := s.orders.UpdateStatus(ctx, tx, order.ID, models.OrderCancelled, nil, nil); err != nil {
			return err
		}
		s.logger.Info("order cancelled", zap.String("order_id", order.ID))
		return nil
	})
}

// Get returns an order with its sub-batches and stages expanded.
func (s *OrderService) Get(ctx context.Context, orderID string) (*dto.OrderResponse, error) {
	order, err := s.orders.GetByID(ctx, s.db, orderID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "order not found")
		}
		return nil, err
	}
	resp := dto.OrderResponse{ProductionOrder: *order}

	batches, err := s.orders.ListSubBatches(ctx, orderID)
	if err != nil {
		return nil, err
	}
	for _, sb := range batches {
		stages, err := s.stages.ListBySubBatch(ctx, sb.ID)
		if err != nil {
			return nil, err
		}
		resp.SubBatches = append(resp.SubBatches, dto.SubBatchResponse{SubBatch: sb, Stages: stages})
	}
	return &resp, nil
}

// List returns orders matching the filter plus the unpaged total.
func (s *OrderService) List(ctx context.Context, filter dto.OrderFilter) ([]models.ProductionOrder, int, error) {
	return s.orders.List(ctx, filter)
}
