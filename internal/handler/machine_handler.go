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

type boardService interface {
	Board(ctx context.Context) (*dto.MachineBoardResponse, error)
}

type machineReleaseService interface {
	ReleaseMachine(ctx context.Context, machineID string, req dto.ReleaseMachineRequest) (*models.StageExecution, error)
}

// MachineHandler exposes the live machine board and the release operation.
type MachineHandler struct {
	board    boardService
	releases machineReleaseService
}

// NewMachineHandler builds a new handler.
func NewMachineHandler(board boardService, releases machineReleaseService) *MachineHandler {
	return &MachineHandler{board: board, releases: releases}
}

// Board returns every machine with the work currently on it.
func (h *MachineHandler) Board(c *gin.Context) {
	board, err := h.board.Board(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, board)
}

// Release frees the machine by pausing whatever runs on it.
func (h *MachineHandler) Release(c *gin.Context) {
	var req dto.ReleaseMachineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	exec, err := h.releases.ReleaseMachine(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, exec)
}
