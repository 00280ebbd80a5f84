package service

import (
	"context"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plantctl/mes-api/internal/dto"
	"github.com/plantctl/mes-api/internal/models"
	appErrors "github.com/plantctl/mes-api/pkg/errors"
)

type shiftRepoStub struct {
	shifts      []models.Shift
	assigned    map[string][]models.Shift
	assignments []models.ShiftAssignment
}

func (s *shiftRepoStub) Create(ctx context.Context, shift *models.Shift) error {
	shift.ID = "shift-created"
	s.shifts = append(s.shifts, *shift)
	return nil
}

func (s *shiftRepoStub) GetByID(ctx context.Context, id string) (*models.Shift, error) {
	for _, shift := range s.shifts {
		if shift.ID == id {
			copied := shift
			return &copied, nil
		}
	}
	return nil, assert.AnError
}

func (s *shiftRepoStub) ListActive(ctx context.Context) ([]models.Shift, error) {
	return s.shifts, nil
}

func (s *shiftRepoStub) ListForMachine(ctx context.Context, machineID string) ([]models.Shift, error) {
	return s.assigned[machineID], nil
}

func (s *shiftRepoStub) Assign(ctx context.Context, assignment *models.ShiftAssignment) error {
	if assignment.ID == "" {
		assignment.ID = "assignment-1"
	}
	s.assignments = append(s.assignments, *assignment)
	return nil
}

func (s *shiftRepoStub) SetActive(ctx context.Context, id string, active bool) error {
	return nil
}

func (s *shiftRepoStub) SetAssignmentActive(ctx context.Context, assignmentID string, active bool) error {
	for i := range s.assignments {
		if s.assignments[i].ID == assignmentID {
			s.assignments[i].IsActive = active
			return nil
		}
	}
	return assert.AnError
}

// dayShift is Monday to Friday, 08:00-17:00 with a 12:00-13:00 break.
func dayShift() models.Shift {
	return models.Shift{
		ID: "shift-day", Name: "Day",
		StartMinute: 8 * 60, EndMinute: 17 * 60,
		BreakStart: intPtrSvc(12 * 60), BreakEnd: intPtrSvc(13 * 60),
		Monday: true, Tuesday: true, Wednesday: true, Thursday: true, Friday: true,
		IsActive: true,
	}
}

func intPtrSvc(v int) *int { return &v }

func newShiftService(repo *shiftRepoStub) *ShiftService {
	return NewShiftService(repo, validator.New(), nil)
}

func TestShiftIsWorkingTime(t *testing.T) {
	svc := newShiftService(&shiftRepoStub{shifts: []models.Shift{dayShift()}})
	ctx := context.Background()

	// 2026-03-03 is a Tuesday, 2026-03-07 a Saturday.
	cases := []struct {
		at   time.Time
		want bool
	}{
		{time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC), true},
		{time.Date(2026, 3, 3, 12, 30, 0, 0, time.UTC), false},
		{time.Date(2026, 3, 3, 18, 0, 0, 0, time.UTC), false},
		{time.Date(2026, 3, 7, 10, 0, 0, 0, time.UTC), false},
	}
	for _, tc := range cases {
		got, err := svc.IsWorkingTime(ctx, "", tc.at)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "at %s", tc.at)
	}
}

func TestShiftEmptyCalendarIsAlwaysWorking(t *testing.T) {
	svc := newShiftService(&shiftRepoStub{})
	got, err := svc.IsWorkingTime(context.Background(), "", time.Date(2026, 3, 7, 3, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, got, "no shifts means a round-the-clock calendar")
}

func TestShiftNextWorkingTimeSkipsNight(t *testing.T) {
	svc := newShiftService(&shiftRepoStub{shifts: []models.Shift{dayShift()}})

	got, err := svc.NextWorkingTime(context.Background(), "", time.Date(2026, 3, 3, 18, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 4, 8, 0, 0, 0, time.UTC), got, "next window opens Wednesday morning")
}

func TestShiftNextWorkingTimeInsideWindow(t *testing.T) {
	svc := newShiftService(&shiftRepoStub{shifts: []models.Shift{dayShift()}})

	from := time.Date(2026, 3, 3, 10, 15, 0, 0, time.UTC)
	got, err := svc.NextWorkingTime(context.Background(), "", from)
	require.NoError(t, err)
	assert.Equal(t, from, got)
}

func TestShiftNextWorkingTimeCapReturnsInput(t *testing.T) {
	dead := dayShift()
	dead.Monday, dead.Tuesday, dead.Wednesday, dead.Thursday, dead.Friday = false, false, false, false, false
	svc := newShiftService(&shiftRepoStub{shifts: []models.Shift{dead}})

	from := time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC)
	got, err := svc.NextWorkingTime(context.Background(), "", from)
	require.NoError(t, err, "an empty calendar must not fail the caller")
	assert.Equal(t, from, got)
}

func TestShiftAddWorkingHoursCrossesShiftBoundary(t *testing.T) {
	svc := newShiftService(&shiftRepoStub{shifts: []models.Shift{dayShift()}})

	got, err := svc.AddWorkingHours(context.Background(), "", time.Date(2026, 3, 3, 16, 0, 0, 0, time.UTC), 2)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC), got, "one hour today, one tomorrow morning")
}

func TestShiftMachineSpecificCalendarWins(t *testing.T) {
	night := models.Shift{
		ID: "shift-night", Name: "Night",
		StartMinute: 22 * 60, EndMinute: 6 * 60,
		Monday: true, Tuesday: true, Wednesday: true, Thursday: true, Friday: true,
		IsActive: true,
	}
	repo := &shiftRepoStub{
		shifts:   []models.Shift{dayShift()},
		assigned: map[string][]models.Shift{"m-night": {night}},
	}
	svc := newShiftService(repo)
	ctx := context.Background()

	at := time.Date(2026, 3, 3, 23, 0, 0, 0, time.UTC)
	gotNight, err := svc.IsWorkingTime(ctx, "m-night", at)
	require.NoError(t, err)
	assert.True(t, gotNight)

	gotPlant, err := svc.IsWorkingTime(ctx, "", at)
	require.NoError(t, err)
	assert.False(t, gotPlant, "the plant-wide calendar follows the day shift")
}

func TestShiftUnassignedMachineIsNeverBlocked(t *testing.T) {
	repo := &shiftRepoStub{shifts: []models.Shift{dayShift()}}
	svc := newShiftService(repo)
	ctx := context.Background()

	// Saturday 03:00, well outside the plant-wide day shift.
	at := time.Date(2026, 3, 7, 3, 0, 0, 0, time.UTC)
	got, err := svc.IsWorkingTime(ctx, "machine-77", at)
	require.NoError(t, err)
	assert.True(t, got, "a machine without assignments works around the clock")

	next, err := svc.NextWorkingTime(ctx, "machine-77", at)
	require.NoError(t, err)
	assert.Equal(t, at, next)
}

func TestShiftWrappedWindowUsesInstantWeekday(t *testing.T) {
	night := models.Shift{
		ID: "shift-night", StartMinute: 22 * 60, EndMinute: 6 * 60,
		Monday: true, IsActive: true,
	}
	svc := newShiftService(&shiftRepoStub{shifts: []models.Shift{night}})
	ctx := context.Background()

	// 2026-03-02 is a Monday. The window wraps into Tuesday, but Tuesday
	// is disabled, so only the Monday evening half counts.
	got, err := svc.IsWorkingTime(ctx, "", time.Date(2026, 3, 2, 23, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, got)

	got, err = svc.IsWorkingTime(ctx, "", time.Date(2026, 3, 3, 2, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.False(t, got, "Tuesday is not enabled for the night shift")

	// With Tuesday enabled the early-morning half is covered too.
	night.Tuesday = true
	svc = newShiftService(&shiftRepoStub{shifts: []models.Shift{night}})
	got, err = svc.IsWorkingTime(ctx, "", time.Date(2026, 3, 3, 2, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, got)
}

func TestShiftDeactivateAssignment(t *testing.T) {
	repo := &shiftRepoStub{shifts: []models.Shift{dayShift()}}
	svc := newShiftService(repo)
	ctx := context.Background()

	require.NoError(t, svc.AssignToMachine(ctx, "shift-day", "m-1"))
	require.Len(t, repo.assignments, 1)
	assert.True(t, repo.assignments[0].IsActive)

	require.NoError(t, svc.DeactivateAssignment(ctx, repo.assignments[0].ID))
	assert.False(t, repo.assignments[0].IsActive)
}

func TestCreateShiftValidatesBreak(t *testing.T) {
	svc := newShiftService(&shiftRepoStub{})

	_, err := svc.CreateShift(context.Background(), dto.CreateShiftRequest{
		Name: "Broken", StartMinute: 480, EndMinute: 1020, BreakStart: intPtrSvc(720),
	})
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrValidation))
}

func TestCreateShiftPersists(t *testing.T) {
	repo := &shiftRepoStub{}
	svc := newShiftService(repo)

	shift, err := svc.CreateShift(context.Background(), dto.CreateShiftRequest{
		Name: "Day", StartMinute: 480, EndMinute: 1020, Monday: true,
	})
	require.NoError(t, err)
	assert.True(t, shift.IsActive)
	require.Len(t, repo.shifts, 1)
}
