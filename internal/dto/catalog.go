package dto

// CreateDetailRequest registers a part type.
type CreateDetailRequest struct {
	Name        string `json:"name" validate:"required"`
	Number      string `json:"number" validate:"required"`
	Description string `json:"description"`
}

// CreateOperationRequest adds a step to a detail's process plan.
type CreateOperationRequest struct {
	OperationNumber string  `json:"operation_number" validate:"required"`
	Name            string  `json:"name" validate:"required"`
	MachineTypeID   string  `json:"machine_type_id" validate:"required,uuid4"`
	TimePerPiece    float64 `json:"time_per_piece" validate:"required,gt=0"`
	Order           int     `json:"order" validate:"required,gt=0"`
	Description     string  `json:"description"`
}

// CreateMachineRequest registers a machine.
type CreateMachineRequest struct {
	Name            string `json:"name" validate:"required"`
	InventoryNumber string `json:"inventory_number" validate:"required"`
	MachineTypeID   string `json:"machine_type_id" validate:"required,uuid4"`
	Priority        int    `json:"priority" validate:"min=0"`
	Description     string `json:"description"`
}

// CreateMachineTypeRequest registers a machine group.
type CreateMachineTypeRequest struct {
	Name        string `json:"name" validate:"required"`
	Description string `json:"description"`
}

// CreateChangeoverRequest records a retooling duration.
type CreateChangeoverRequest struct {
	MachineID       string  `json:"machine_id" validate:"required,uuid4"`
	FromDetailID    string  `json:"from_detail_id" validate:"required,uuid4"`
	ToDetailID      string  `json:"to_detail_id" validate:"required,uuid4"`
	ChangeoverHours float64 `json:"changeover_hours" validate:"required,gt=0"`
	Description     string  `json:"description"`
}
