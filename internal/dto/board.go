package dto

import (
	"time"

	"github.com/plantctl/mes-api/internal/models"
)

// MachineBoardEntry is one machine's live status on the shop-floor board.
type MachineBoardEntry struct {
	Machine      models.Machine          `json:"machine"`
	Busy         bool                    `json:"busy"`
	Status       *models.ExecutionStatus `json:"status,omitempty"`
	StageID      *string                 `json:"stage_id,omitempty"`
	StageName    *string                 `json:"stage_name,omitempty"`
	OrderNumber  *string                 `json:"order_number,omitempty"`
	Operator     *string                 `json:"operator,omitempty"`
	RunningSince *time.Time              `json:"running_since,omitempty"`
}

// MachineBoardResponse is the cached board payload.
type MachineBoardResponse struct {
	Machines    []MachineBoardEntry `json:"machines"`
	GeneratedAt time.Time           `json:"generated_at"`
}
