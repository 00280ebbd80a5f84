package dto

import (
	"time"

	"github.com/plantctl/mes-api/internal/models"
)

// CreateOrderRequest describes the payload for creating a production order.
// When BatchSize is omitted the whole quantity becomes a single sub-batch.
type CreateOrderRequest struct {
	Number           string    `json:"number" validate:"required"`
	DetailID         string    `json:"detail_id" validate:"required,uuid4"`
	Quantity         int       `json:"quantity" validate:"required,gt=0"`
	BatchSize        int       `json:"batch_size" validate:"omitempty,gt=0"`
	PlannedStartDate time.Time `json:"planned_start_date" validate:"required"`
}

// OrderFilter captures query parameters for listing orders.
type OrderFilter struct {
	Status   models.OrderStatus
	DetailID string
	Page     int
	PageSize int
}

// OrderResponse is an order with its sub-batches expanded.
type OrderResponse struct {
	models.ProductionOrder
	SubBatches []SubBatchResponse `json:"sub_batches"`
}

// SubBatchResponse is a sub-batch with its route stages expanded.
type SubBatchResponse struct {
	models.SubBatch
	Stages []models.RouteStage `json:"stages"`
}
