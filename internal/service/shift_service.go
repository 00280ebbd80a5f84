package service

import (
	"context"
	"math"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/plantctl/mes-api/internal/dto"
	"github.com/plantctl/mes-api/internal/models"
	appErrors "github.com/plantctl/mes-api/pkg/errors"
)

type shiftRepository interface {
	Create(ctx context.Context, shift *models.Shift) error
	GetByID(ctx context.Context, id string) (*models.Shift, error)
	ListActive(ctx context.Context) ([]models.Shift, error)
	ListForMachine(ctx context.Context, machineID string) ([]models.Shift, error)
	Assign(ctx context.Context, assignment *models.ShiftAssignment) error
	SetActive(ctx context.Context, id string, active bool) error
	SetAssignmentActive(ctx context.Context, assignmentID string, active bool) error
}

// searchCapMinutes bounds every minute-step calendar walk. A machine with no
// working window inside roughly a week is treated as never available.
const searchCapMinutes = 10000

// ShiftService answers working-calendar questions: whether a machine works
// at a given moment, when it next does, and how long a planned duration
// stretches across shift boundaries.
type ShiftService struct {
	repo      shiftRepository
	validator *validator.Validate
	logger    *zap.Logger
}

// NewShiftService constructs the service.
func NewShiftService(repo shiftRepository, validate *validator.Validate, logger *zap.Logger) *ShiftService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ShiftService{repo: repo, validator: validate, logger: logger}
}

// CreateShift registers a recurring working window.
func (s *ShiftService) CreateShift(ctx context.Context, req dto.CreateShiftRequest) (*models.Shift, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid shift payload")
	}
	if (req.BreakStart == nil) != (req.BreakEnd == nil) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "break start and end must be set together")
	}

	shift := &models.Shift{
		Name:        req.Name,
		StartMinute: req.StartMinute,
		EndMinute:   req.EndMinute,
		BreakStart:  req.BreakStart,
		BreakEnd:    req.BreakEnd,
		Monday:      req.Monday,
		Tuesday:     req.Tuesday,
		Wednesday:   req.Wednesday,
		Thursday:    req.Thursday,
		Friday:      req.Friday,
		Saturday:    req.Saturday,
		Sunday:      req.Sunday,
		IsActive:    true,
	}
	if err := s.repo.Create(ctx, shift); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "create shift")
	}
	return shift, nil
}

// ListShifts returns every active shift.
func (s *ShiftService) ListShifts(ctx context.Context) ([]models.Shift, error) {
	shifts, err := s.repo.ListActive(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "list shifts")
	}
	return shifts, nil
}

// AssignToMachine scopes a shift to one machine.
func (s *ShiftService) AssignToMachine(ctx context.Context, shiftID, machineID string) error {
	if _, err := s.repo.GetByID(ctx, shiftID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, "shift not found")
	}
	assignment := &models.ShiftAssignment{ShiftID: shiftID, MachineID: machineID, IsActive: true}
	if err := s.repo.Assign(ctx, assignment); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "assign shift")
	}
	return nil
}

// DeactivateAssignment releases a machine from one of its shifts. The
// assignment row stays for history but no longer constrains the calendar.
func (s *ShiftService) DeactivateAssignment(ctx context.Context, assignmentID string) error {
	if err := s.repo.SetAssignmentActive(ctx, assignmentID, false); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "deactivate assignment")
	}
	return nil
}

// shiftsFor resolves the calendar scope. A named machine is constrained only
// by its own assignments; no assignments means it is never calendar-blocked.
// The blank machine id asks for the plant-wide calendar of every active
// shift. Either way an empty result reads as a round-the-clock calendar.
func (s *ShiftService) shiftsFor(ctx context.Context, machineID string) ([]models.Shift, error) {
	if machineID != "" {
		return s.repo.ListForMachine(ctx, machineID)
	}
	return s.repo.ListActive(ctx)
}

// IsWorkingTime reports whether the machine's calendar covers the given
// moment.
func (s *ShiftService) IsWorkingTime(ctx context.Context, machineID string, at time.Time) (bool, error) {
	shifts, err := s.shiftsFor(ctx, machineID)
	if err != nil {
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "load shifts")
	}
	return coveredBy(shifts, at.UTC()), nil
}

// NextWorkingTime returns the first covered moment at or after from,
// stepping the calendar one minute at a time.
func (s *ShiftService) NextWorkingTime(ctx context.Context, machineID string, from time.Time) (time.Time, error) {
	shifts, err := s.shiftsFor(ctx, machineID)
	if err != nil {
		return time.Time{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "load shifts")
	}

	at := from.UTC().Truncate(time.Minute)
	for i := 0; i < searchCapMinutes; i++ {
		if coveredBy(shifts, at) {
			return at, nil
		}
		at = at.Add(time.Minute)
	}
	// The calendar is a scheduling hint; an impossible one must not fail
	// the caller.
	s.logger.Warn("no working window found within the search horizon",
		zap.String("machine_id", machineID),
		zap.Time("from", from))
	return from, nil
}

// AddWorkingHours walks the calendar from the given start until the planned
// duration of working time has elapsed, and returns the resulting end.
func (s *ShiftService) AddWorkingHours(ctx context.Context, machineID string, from time.Time, hours float64) (time.Time, error) {
	shifts, err := s.shiftsFor(ctx, machineID)
	if err != nil {
		return time.Time{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "load shifts")
	}

	remaining := int(math.Ceil(hours * 60))
	at := from.UTC().Truncate(time.Minute)
	for i := 0; i < searchCapMinutes && remaining > 0; i++ {
		if coveredBy(shifts, at) {
			remaining--
		}
		at = at.Add(time.Minute)
	}
	if remaining > 0 {
		return time.Time{}, appErrors.Clone(appErrors.ErrPreconditionFailed, "duration does not fit inside the working calendar")
	}
	return at, nil
}

// coveredBy reports whether any shift covers the moment. No shifts at all
// means a round-the-clock calendar. The weekday flag of the instant itself
// decides, even inside a window that wrapped in from the previous evening.
func coveredBy(shifts []models.Shift, at time.Time) bool {
	if len(shifts) == 0 {
		return true
	}
	minute := at.Hour()*60 + at.Minute()
	for i := range shifts {
		sh := &shifts[i]
		if sh.Covers(minute) && sh.EnabledOn(at.Weekday()) {
			return true
		}
	}
	return false
}
