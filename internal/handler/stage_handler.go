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

type stageAssignmentService interface {
	AssignMachine(ctx context.Context, stageID string, req dto.AssignMachineRequest) (*dto.AssignMachineResponse, error)
}

type stageQueueService interface {
	AddToQueue(ctx context.Context, stageID string) (*models.RouteStage, error)
	RemoveFromQueue(ctx context.Context, stageID string) (*models.RouteStage, error)
	EstimatedStart(ctx context.Context, stageID string) (*dto.EstimatedStartResponse, error)
}

type stageExecutionService interface {
	Start(ctx context.Context, stageID string, req dto.StartExecutionRequest) (*models.StageExecution, error)
}

// StageHandler exposes route stage endpoints: machine assignment, manual
// starts, and the waiting queue.
type StageHandler struct {
	assignments stageAssignmentService
	queue       stageQueueService
	executions  stageExecutionService
}

// NewStageHandler builds a new handler.
func NewStageHandler(assignments stageAssignmentService, queue stageQueueService, executions stageExecutionService) *StageHandler {
	return &StageHandler{assignments: assignments, queue: queue, executions: executions}
}

// AssignMachine pins the stage to a machine, inserting a changeover stage
// when the machine needs retooling.
func (h *StageHandler) AssignMachine(c *gin.Context) {
	var req dto.AssignMachineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	result, err := h.assignments.AssignMachine(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result)
}

// Start begins work on a ready stage.
func (h *StageHandler) Start(c *gin.Context) {
	var req dto.StartExecutionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	exec, err := h.executions.Start(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, exec)
}

// Enqueue places a ready stage in the waiting queue.
func (h *StageHandler) Enqueue(c *gin.Context) {
	stage, err := h.queue.AddToQueue(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, stage)
}

// Dequeue takes a waiting stage back out of the queue.
func (h *StageHandler) Dequeue(c *gin.Context) {
	stage, err := h.queue.RemoveFromQueue(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, stage)
}

// EstimatedStart predicts when a waiting stage will get a machine.
func (h *StageHandler) EstimatedStart(c *gin.Context) {
	estimate, err := h.queue.EstimatedStart(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, estimate)
}
