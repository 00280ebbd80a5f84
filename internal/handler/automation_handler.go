package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/plantctl/mes-api/internal/dto"
	"github.com/plantctl/mes-api/internal/models"
	"github.com/plantctl/mes-api/pkg/response"
)

type automationService interface {
	ProcessPass(ctx context.Context, manual bool) (*dto.AutomationPassResult, error)
	Queue(ctx context.Context) ([]models.StageQueueEntry, error)
}

// AutomationHandler exposes the scheduling engine: a manual trigger and a
// view of the waiting queue.
type AutomationHandler struct {
	service automationService
}

// NewAutomationHandler builds a new handler.
func NewAutomationHandler(service automationService) *AutomationHandler {
	return &AutomationHandler{service: service}
}

// Run triggers one scheduling pass immediately. Rapid re-triggers are
// rejected with 429 while the cooldown holds.
func (h *AutomationHandler) Run(c *gin.Context) {
	result, err := h.service.ProcessPass(c.Request.Context(), true)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result)
}

// Queue lists waiting stages in FIFO order.
func (h *AutomationHandler) Queue(c *gin.Context) {
	entries, err := h.service.Queue(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries)
}
