package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/plantctl/mes-api/internal/dto"
	"github.com/plantctl/mes-api/internal/models"
	appErrors "github.com/plantctl/mes-api/pkg/errors"
	"github.com/plantctl/mes-api/pkg/response"
)

type catalogService interface {
	CreateDetail(ctx context.Context, req dto.CreateDetailRequest) (*models.Detail, error)
	ListDetails(ctx context.Context) ([]models.Detail, error)
	AddOperation(ctx context.Context, detailID string, req dto.CreateOperationRequest) (*models.Operation, error)
	ProcessPlan(ctx context.Context, detailID string) ([]models.Operation, error)
	CreateMachineType(ctx context.Context, req dto.CreateMachineTypeRequest) (*models.MachineType, error)
	CreateMachine(ctx context.Context, req dto.CreateMachineRequest) (*models.Machine, error)
	ListMachines(ctx context.Context) ([]models.Machine, error)
	CreateChangeover(ctx context.Context, req dto.CreateChangeoverRequest) (*models.Changeover, error)
	ListChangeovers(ctx context.Context, machineID string) ([]models.Changeover, error)
}

// CatalogHandler exposes master data endpoints: details, process plans,
// machines, machine types, and changeover durations.
type CatalogHandler struct {
	service catalogService
}

// NewCatalogHandler builds a new handler.
func NewCatalogHandler(service catalogService) *CatalogHandler {
	return &CatalogHandler{service: service}
}

// CreateDetail registers a part type.
func (h *CatalogHandler) CreateDetail(c *gin.Context) {
	var req dto.CreateDetailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	detail, err := h.service.CreateDetail(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, detail)
}

// ListDetails returns every registered detail.
func (h *CatalogHandler) ListDetails(c *gin.Context) {
	details, err := h.service.ListDetails(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, details)
}

// AddOperation appends a step to a detail's process plan.
func (h *CatalogHandler) AddOperation(c *gin.Context) {
	var req dto.CreateOperationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	op, err := h.service.AddOperation(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, op)
}

// ProcessPlan lists a detail's operations in route order.
func (h *CatalogHandler) ProcessPlan(c *gin.Context) {
	ops, err := h.service.ProcessPlan(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, ops)
}

// CreateMachineType registers a machine group.
func (h *CatalogHandler) CreateMachineType(c *gin.Context) {
	var req dto.CreateMachineTypeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	mt, err := h.service.CreateMachineType(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, mt)
}

// CreateMachine registers a machine.
func (h *CatalogHandler) CreateMachine(c *gin.Context) {
	var req dto.CreateMachineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	machine, err := h.service.CreateMachine(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, machine)
}

// ListMachines returns every machine.
func (h *CatalogHandler) ListMachines(c *gin.Context) {
	machines, err := h.service.ListMachines(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, machines)
}

// CreateChangeover records a retooling duration.
func (h *CatalogHandler) CreateChangeover(c *gin.Context) {
	var req dto.CreateChangeoverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	co, err := h.service.CreateChangeover(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, co)
}

// ListChangeovers lists the changeover matrix of one machine.
func (h *CatalogHandler) ListChangeovers(c *gin.Context) {
	items, err := h.service.ListChangeovers(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items)
}
