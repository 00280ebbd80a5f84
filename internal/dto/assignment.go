package dto

import "github.com/plantctl/mes-api/internal/models"

// AssignMachineRequest pins a stage to a specific machine.
type AssignMachineRequest struct {
	MachineID string `json:"machine_id" validate:"required,uuid4"`
}

// AssignMachineResponse reports the updated stage and the changeover stage
// inserted before it, if the machine needed retooling.
type AssignMachineResponse struct {
	Stage      models.RouteStage  `json:"stage"`
	Changeover *models.RouteStage `json:"changeover,omitempty"`
}
