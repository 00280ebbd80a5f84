package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/plantctl/mes-api/internal/dto"
	"github.com/plantctl/mes-api/internal/models"
	appErrors "github.com/plantctl/mes-api/pkg/errors"
	"github.com/plantctl/mes-api/pkg/response"
)

type orderService interface {
	CreateOrder(ctx context.Context, req dto.CreateOrderRequest) (*dto.OrderResponse, error)
	StartOrder(ctx context.Context, orderID string) error
	CancelOrder(ctx context.Context, orderID string) error
	Get(ctx context.Context, orderID string) (*dto.OrderResponse, error)
	List(ctx context.Context, filter dto.OrderFilter) ([]models.ProductionOrder, int, error)
}

// OrderHandler exposes production order endpoints.
type OrderHandler struct {
	service orderService
}

// NewOrderHandler builds a new handler.
func NewOrderHandler(service orderService) *OrderHandler {
	return &OrderHandler{service: service}
}

// Create registers an order and generates its sub-batches and route stages.
func (h *OrderHandler) Create(c *gin.Context) {
	var req dto.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	order, err := h.service.CreateOrder(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, order)
}

// List returns orders matching the query filters.
func (h *OrderHandler) List(c *gin.Context) {
	var filter dto.OrderFilter
	filter.Status = models.OrderStatus(c.Query("status"))
	filter.DetailID = c.Query("detail_id")
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}

	orders, total, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, orders, map[string]interface{}{"total": total})
}

// Get returns one order with its sub-batches and stages expanded.
func (h *OrderHandler) Get(c *gin.Context) {
	order, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, order)
}

// Start releases the order: the first stage of every sub-batch becomes
// startable.
func (h *OrderHandler) Start(c *gin.Context) {
	if err := h.service.StartOrder(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Cancel cancels the order and all of its open work.
func (h *OrderHandler) Cancel(c *gin.Context) {
	if err := h.service.CancelOrder(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
