package models

import "time"

// Shift is a recurring working window. Start and end (and the optional
// break) are stored as minutes since midnight; a window whose end is not
// after its start wraps past midnight.
type Shift struct {
	ID          string    `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	StartMinute int       `db:"start_minute" json:"start_minute"`
	EndMinute   int       `db:"end_minute" json:"end_minute"`
	BreakStart  *int      `db:"break_start" json:"break_start,omitempty"`
	BreakEnd    *int      `db:"break_end" json:"break_end,omitempty"`
	Monday      bool      `db:"monday" json:"monday"`
	Tuesday     bool      `db:"tuesday" json:"tuesday"`
	Wednesday   bool      `db:"wednesday" json:"wednesday"`
	Thursday    bool      `db:"thursday" json:"thursday"`
	Friday      bool      `db:"friday" json:"friday"`
	Saturday    bool      `db:"saturday" json:"saturday"`
	Sunday      bool      `db:"sunday" json:"sunday"`
	IsActive    bool      `db:"is_active" json:"is_active"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// ShiftAssignment scopes a shift to one machine. Machines with no active
// assignments are never calendar-blocked. Deactivated assignments keep
// their history but stop constraining the machine.
type ShiftAssignment struct {
	ID        string    `db:"id" json:"id"`
	ShiftID   string    `db:"shift_id" json:"shift_id"`
	MachineID string    `db:"machine_id" json:"machine_id"`
	IsActive  bool      `db:"is_active" json:"is_active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// EnabledOn reports whether the shift runs on the given weekday.
func (s *Shift) EnabledOn(day time.Weekday) bool {
	switch day {
	case time.Monday:
		return s.Monday
	case time.Tuesday:
		return s.Tuesday
	case time.Wednesday:
		return s.Wednesday
	case time.Thursday:
		return s.Thursday
	case time.Friday:
		return s.Friday
	case time.Saturday:
		return s.Saturday
	default:
		return s.Sunday
	}
}

// Covers reports whether the minute of day falls inside the working window,
// excluding the break. Wrap-around windows (end <= start) span midnight.
func (s *Shift) Covers(minute int) bool {
	if !inWindow(minute, s.StartMinute, s.EndMinute) {
		return false
	}
	if s.BreakStart != nil && s.BreakEnd != nil && inWindow(minute, *s.BreakStart, *s.BreakEnd) {
		return false
	}
	return true
}

func inWindow(minute, start, end int) bool {
	if start < end {
		return minute >= start && minute < end
	}
	// Wraps past midnight.
	return minute >= start || minute < end
}
