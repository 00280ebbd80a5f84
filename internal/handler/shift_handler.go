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

type shiftService interface {
	CreateShift(ctx context.Context, req dto.CreateShiftRequest) (*models.Shift, error)
	ListShifts(ctx context.Context) ([]models.Shift, error)
	AssignToMachine(ctx context.Context, shiftID, machineID string) error
	DeactivateAssignment(ctx context.Context, assignmentID string) error
}

// ShiftHandler exposes working calendar endpoints.
type ShiftHandler struct {
	service shiftService
}

// NewShiftHandler builds a new handler.
func NewShiftHandler(service shiftService) *ShiftHandler {
	return &ShiftHandler{service: service}
}

// Create registers a recurring working window.
func (h *ShiftHandler) Create(c *gin.Context) {
	var req dto.CreateShiftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	shift, err := h.service.CreateShift(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, shift)
}

// List returns every active shift.
func (h *ShiftHandler) List(c *gin.Context) {
	shifts, err := h.service.ListShifts(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, shifts)
}

// Assign scopes the shift to one machine.
func (h *ShiftHandler) Assign(c *gin.Context) {
	var req dto.AssignShiftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	if err := h.service.AssignToMachine(c.Request.Context(), c.Param("id"), req.MachineID); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Unassign deactivates a machine assignment.
func (h *ShiftHandler) Unassign(c *gin.Context) {
	if err := h.service.DeactivateAssignment(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
