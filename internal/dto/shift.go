package dto

// CreateShiftRequest describes a recurring working window. Minutes count
// from midnight; an end at or before the start wraps past midnight.
type CreateShiftRequest struct {
	Name        string `json:"name" validate:"required"`
	StartMinute int    `json:"start_minute" validate:"min=0,max=1439"`
	EndMinute   int    `json:"end_minute" validate:"min=0,max=1439"`
	BreakStart  *int   `json:"break_start" validate:"omitempty,min=0,max=1439"`
	BreakEnd    *int   `json:"break_end" validate:"omitempty,min=0,max=1439"`
	Monday      bool   `json:"monday"`
	Tuesday     bool   `json:"tuesday"`
	Wednesday   bool   `json:"wednesday"`
	Thursday    bool   `json:"thursday"`
	Friday      bool   `json:"friday"`
	Saturday    bool   `json:"saturday"`
	Sunday      bool   `json:"sunday"`
}

// AssignShiftRequest scopes a shift to a machine.
type AssignShiftRequest struct {
	MachineID string `json:"machine_id" validate:"required,uuid4"`
}
