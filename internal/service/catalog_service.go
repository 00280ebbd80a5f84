package service

import (
	"context"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/plantctl/mes-api/internal/dto"
	"github.com/plantctl/mes-api/internal/models"
	appErrors "github.com/plantctl/mes-api/pkg/errors"
)

type catalogDetailRepository interface {
	Create(ctx context.Context, detail *models.Detail) error
	GetByID(ctx context.Context, id string) (*models.Detail, error)
	List(ctx context.Context) ([]models.Detail, error)
	CreateOperation(ctx context.Context, op *models.Operation) error
	ListOperations(ctx context.Context, detailID string) ([]models.Operation, error)
}

type catalogMachineRepository interface {
	Create(ctx context.Context, machine *models.Machine) error
	CreateType(ctx context.Context, mt *models.MachineType) error
	GetByID(ctx context.Context, id string) (*models.Machine, error)
	List(ctx context.Context) ([]models.Machine, error)
}

type catalogChangeoverRepository interface {
	Create(ctx context.Context, co *models.Changeover) error
	List(ctx context.Context, machineID string) ([]models.Changeover, error)
}

// CatalogService manages the master data everything else references:
// details with their process plans, machine types, machines, and changeover
// durations.
type CatalogService struct {
	details     catalogDetailRepository
	machines    catalogMachineRepository
	changeovers catalogChangeoverRepository
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewCatalogService constructs the service.
func NewCatalogService(
	details catalogDetailRepository,
	machines catalogMachineRepository,
	changeovers catalogChangeoverRepository,
	validate *validator.Validate,
	logger *zap.Logger,
) *CatalogService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CatalogService{
		details:     details,
		machines:    machines,
		changeovers: changeovers,
		validator:   validate,
		logger:      logger,
	}
}

// CreateDetail registers a part type.
func (s *CatalogService) CreateDetail(ctx context.Context, req dto.CreateDetailRequest) (*models.Detail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid detail payload")
	}
	detail := &models.Detail{Name: req.Name, Number: req.Number, Description: req.Description}
	if err := s.details.Create(ctx, detail); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "create detail")
	}
	return detail, nil
}

// ListDetails returns every registered detail.
func (s *CatalogService) ListDetails(ctx context.Context) ([]models.Detail, error) {
	details, err := s.details.List(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "list details")
	}
	return details, nil
}

// AddOperation appends a step to a detail's process plan.
func (s *CatalogService) AddOperation(ctx context.Context, detailID string, req dto.CreateOperationRequest) (*models.Operation, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid operation payload")
	}
	if _, err := s.details.GetByID(ctx, detailID); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, "detail not found")
	}
	op := &models.Operation{
		DetailID:        detailID,
		OperationNumber: req.OperationNumber,
		Name:            req.Name,
		MachineTypeID:   req.MachineTypeID,
		TimePerPiece:    req.TimePerPiece,
		OpOrder:         req.Order,
		Description:     req.Description,
	}
	if err := s.details.CreateOperation(ctx, op); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "create operation")
	}
	return op, nil
}

// ProcessPlan lists a detail's operations in route order.
func (s *CatalogService) ProcessPlan(ctx context.Context, detailID string) ([]models.Operation, error) {
	if _, err := s.details.GetByID(ctx, detailID); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, "detail not found")
	}
	ops, err := s.details.ListOperations(ctx, detailID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "list operations")
	}
	return ops, nil
}

// CreateMachineType registers a machine group.
func (s *CatalogService) CreateMachineType(ctx context.Context, req dto.CreateMachineTypeRequest) (*models.MachineType, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid machine type payload")
	}
	mt := &models.MachineType{Name: req.Name, Description: req.Description}
	if err := s.machines.CreateType(ctx, mt); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "create machine type")
	}
	return mt, nil
}

// CreateMachine registers a machine.
func (s *CatalogService) CreateMachine(ctx context.Context, req dto.CreateMachineRequest) (*models.Machine, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid machine payload")
	}
	machine := &models.Machine{
		Name:            req.Name,
		InventoryNumber: req.InventoryNumber,
		MachineTypeID:   req.MachineTypeID,
		Priority:        req.Priority,
		Description:     req.Description,
	}
	if err := s.machines.Create(ctx, machine); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "create machine")
	}
	return machine, nil
}

// ListMachines returns every machine.
func (s *CatalogService) ListMachines(ctx context.Context) ([]models.Machine, error) {
	machines, err := s.machines.List(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "list machines")
	}
	return machines, nil
}

// CreateChangeover records a retooling duration for a machine and detail
// pair.
func (s *CatalogService) CreateChangeover(ctx context.Context, req dto.CreateChangeoverRequest) (*models.Changeover, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid changeover payload")
	}
	if req.FromDetailID == req.ToDetailID {
		return nil, appErrors.Clone(appErrors.ErrValidation, "changeover must reference two different details")
	}
	if _, err := s.machines.GetByID(ctx, req.MachineID); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, "machine not found")
	}
	co := &models.Changeover{
		MachineID:       req.MachineID,
		FromDetailID:    req.FromDetailID,
		ToDetailID:      req.ToDetailID,
		ChangeoverHours: req.ChangeoverHours,
		Description:     req.Description,
	}
	if err := s.changeovers.Create(ctx, co); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "create changeover")
	}
	return co, nil
}

// ListChangeovers lists the changeover matrix of one machine.
func (s *CatalogService) ListChangeovers(ctx context.Context, machineID string) ([]models.Changeover, error) {
	items, err := s.changeovers.List(ctx, machineID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "list changeovers")
	}
	return items, nil
}
