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

type executionService interface {
	Pause(ctx context.Context, executionID string, req dto.PauseExecutionRequest) (*models.StageExecution, error)
	Resume(ctx context.Context, executionID string, req dto.ResumeExecutionRequest) (*models.StageExecution, error)
	Complete(ctx context.Context, executionID string, req dto.CompleteExecutionRequest) (*models.StageExecution, error)
	UpdateActualTime(ctx context.Context, executionID string, req dto.UpdateActualTimeRequest) (*models.StageExecution, error)
	Logs(ctx context.Context, executionID string) ([]models.ExecutionLog, error)
}

// ExecutionHandler exposes the stage execution lifecycle.
type ExecutionHandler struct {
	service executionService
}

// NewExecutionHandler builds a new handler.
func NewExecutionHandler(service executionService) *ExecutionHandler {
	return &ExecutionHandler{service: service}
}

// Pause pauses a running execution. The machine is freed while the work
// waits.
func (h *ExecutionHandler) Pause(c *gin.Context) {
	var req dto.PauseExecutionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	exec, err := h.service.Pause(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, exec)
}

// Resume continues a paused execution on its machine.
func (h *ExecutionHandler) Resume(c *gin.Context) {
	var req dto.ResumeExecutionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	exec, err := h.service.Resume(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, exec)
}

// Complete finishes an execution and cascades completion up the order.
func (h *ExecutionHandler) Complete(c *gin.Context) {
	var req dto.CompleteExecutionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	exec, err := h.service.Complete(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, exec)
}

// UpdateActualTime corrects the recorded duration of a completed execution.
func (h *ExecutionHandler) UpdateActualTime(c *gin.Context) {
	var req dto.UpdateActualTimeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	exec, err := h.service.UpdateActualTime(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, exec)
}

// Logs returns the audit trail of one execution.
func (h *ExecutionHandler) Logs(c *gin.Context) {
	logs, err := h.service.Logs(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, logs)
}
