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

type executionWorld struct {
	svc      *ExecutionService
	stages   *stageRepoStub
	execs    *execRepoStub
	orders   *orderRepoStub
	machines *machineRepoStub
	now      time.Time
}

// newExecutionWorld builds a one-order plant: two lathe machines, one
// sub-batch with two operation stages, the first one ready.
func newExecutionWorld(t *testing.T) *executionWorld {
	t.Helper()
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	stages := newStageRepoStub()
	execs := newExecRepoStub()
	orders := newOrderRepoStub()
	machines := &machineRepoStub{
		machines: []models.Machine{
			{ID: "m-1", Name: "Lathe A", MachineTypeID: "mt-lathe", Priority: 1},
			{ID: "m-2", Name: "Lathe B", MachineTypeID: "mt-lathe", Priority: 2},
		},
		busy: map[string]bool{},
	}

	orders.orders["order-1"] = &models.ProductionOrder{ID: "order-1", Number: "PO-1", DetailID: "detail-1", Status: models.OrderCreated}
	orders.subBatches["sb-1"] = &models.SubBatch{ID: "sb-1", OrderID: "order-1", BatchNumber: 1, Quantity: 10, Status: models.SubBatchCreated}
	stages.orderIDs["sb-1"] = "order-1"
	stages.detailIDs["sb-1"] = "detail-1"

	stages.add(models.RouteStage{
		ID: "st-1", SubBatchID: "sb-1", Name: "010 Turning", StageType: models.StageTypeOperation,
		StageOrder: 1, Status: models.StageReady, PlannedHours: 2,
	}, "mt-lathe")
	stages.add(models.RouteStage{
		ID: "st-2", SubBatchID: "sb-1", Name: "020 Milling", StageType: models.StageTypeOperation,
		StageOrder: 2, Status: models.StagePending, PlannedHours: 1,
	}, "mt-lathe")

	svc := NewExecutionService(nil, stages, execs, orders, machines, validator.New(), nil)
	svc.runTx = passthroughTx
	svc.now = fixedClock(now)

	return &executionWorld{svc: svc, stages: stages, execs: execs, orders: orders, machines: machines, now: now}
}

func TestExecutionStartPicksFreeMachineByPriority(t *testing.T) {
	w := newExecutionWorld(t)

	exec, err := w.svc.Start(context.Background(), "st-1", dto.StartExecutionRequest{Operator: "ivanov"})
	require.NoError(t, err)

	assert.Equal(t, "m-1", exec.MachineID, "lowest priority value wins")
	assert.Equal(t, models.ExecutionStarted, exec.Status)
	assert.Equal(t, w.now, exec.StartedAt)

	stage := w.stages.stages["st-1"]
	assert.Equal(t, models.StageInProgress, stage.Status)
	require.NotNil(t, stage.MachineID)
	assert.Equal(t, "m-1", *stage.MachineID)

	assert.Equal(t, models.SubBatchInProgress, w.orders.subBatches["sb-1"].Status)
	assert.Equal(t, models.OrderInProgress, w.orders.orders["order-1"].Status)

	logs, err := w.svc.Logs(context.Background(), exec.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, models.LogStarted, logs[0].Action)
}

func TestExecutionStartRespectsPinnedMachine(t *testing.T) {
	w := newExecutionWorld(t)
	w.stages.stages["st-1"].MachineID = strPtr("m-2")

	exec, err := w.svc.Start(context.Background(), "st-1", dto.StartExecutionRequest{Operator: "ivanov"})
	require.NoError(t, err)
	assert.Equal(t, "m-2", exec.MachineID)
}

func TestExecutionStartRejectsOpenPredecessors(t *testing.T) {
	w := newExecutionWorld(t)
	w.stages.stages["st-2"].Status = models.StageReady

	_, err := w.svc.Start(context.Background(), "st-2", dto.StartExecutionRequest{Operator: "ivanov"})
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrStageNotReady))
}

func TestExecutionStartRejectsNonReadyStage(t *testing.T) {
	w := newExecutionWorld(t)
	w.stages.stages["st-1"].Status = models.StageWaiting

	_, err := w.svc.Start(context.Background(), "st-1", dto.StartExecutionRequest{Operator: "ivanov"})
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrStageNotReady))
}

func TestExecutionStartRejectsBusyPinnedMachine(t *testing.T) {
	w := newExecutionWorld(t)
	w.execs.execs["other"] = &models.StageExecution{ID: "other", StageID: "st-x", MachineID: "m-1", Status: models.ExecutionStarted}

	_, err := w.svc.Start(context.Background(), "st-1", dto.StartExecutionRequest{MachineID: "m-1", Operator: "ivanov"})
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrMachineBusy))
}

func TestExecutionStartRejectsWhenNoFreeMachine(t *testing.T) {
	w := newExecutionWorld(t)
	w.machines.busy["m-1"] = true
	w.machines.busy["m-2"] = true

	_, err := w.svc.Start(context.Background(), "st-1", dto.StartExecutionRequest{Operator: "ivanov"})
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrMachineBusy))
}

func TestExecutionPauseAndResume(t *testing.T) {
	w := newExecutionWorld(t)
	exec, err := w.svc.Start(context.Background(), "st-1", dto.StartExecutionRequest{Operator: "ivanov"})
	require.NoError(t, err)

	paused, err := w.svc.Pause(context.Background(), exec.ID, dto.PauseExecutionRequest{Operator: "ivanov", Note: "tool change"})
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionPaused, paused.Status)
	require.NotNil(t, paused.PausedAt)
	assert.Equal(t, models.StagePaused, w.stages.stages["st-1"].Status)

	resumed, err := w.svc.Resume(context.Background(), exec.ID, dto.ResumeExecutionRequest{Operator: "ivanov"})
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStarted, resumed.Status)
	assert.Nil(t, resumed.PausedAt)
	assert.Equal(t, models.StageInProgress, w.stages.stages["st-1"].Status)

	logs, err := w.svc.Logs(context.Background(), exec.ID)
	require.NoError(t, err)
	require.Len(t, logs, 3)
	assert.Equal(t, models.LogPaused, logs[1].Action)
	assert.Equal(t, models.LogResumed, logs[2].Action)
}

func TestExecutionCompletePromotesNextStage(t *testing.T) {
	w := newExecutionWorld(t)
	exec, err := w.svc.Start(context.Background(), "st-1", dto.StartExecutionRequest{Operator: "ivanov"})
	require.NoError(t, err)

	w.svc.now = fixedClock(w.now.Add(90 * time.Minute))
	done, err := w.svc.Complete(context.Background(), exec.ID, dto.CompleteExecutionRequest{Operator: "ivanov"})
	require.NoError(t, err)

	require.NotNil(t, done.ActualHours)
	assert.InDelta(t, 1.5, *done.ActualHours, 0.001, "elapsed time becomes the actual duration")
	assert.Nil(t, done.TimeExceededReason)

	assert.Equal(t, models.StageCompleted, w.stages.stages["st-1"].Status)
	assert.Equal(t, models.StageReady, w.stages.stages["st-2"].Status, "successor becomes ready")
	assert.Equal(t, models.SubBatchInProgress, w.orders.subBatches["sb-1"].Status, "open stages keep the sub-batch open")
}

func TestExecutionCompleteCascadesToOrder(t *testing.T) {
	w := newExecutionWorld(t)
	w.stages.stages["st-2"].Status = models.StageCompleted

	exec, err := w.svc.Start(context.Background(), "st-1", dto.StartExecutionRequest{Operator: "ivanov"})
	require.NoError(t, err)

	_, err = w.svc.Complete(context.Background(), exec.ID, dto.CompleteExecutionRequest{Operator: "ivanov", ActualHours: f64Ptr(2)})
	require.NoError(t, err)

	assert.Equal(t, models.SubBatchCompleted, w.orders.subBatches["sb-1"].Status)
	assert.Equal(t, models.OrderCompleted, w.orders.orders["order-1"].Status)
	require.NotNil(t, w.orders.orders["order-1"].CompletedAt)
}

func TestExecutionCompleteAppliesTimeFloor(t *testing.T) {
	w := newExecutionWorld(t)
	exec, err := w.svc.Start(context.Background(), "st-1", dto.StartExecutionRequest{Operator: "ivanov"})
	require.NoError(t, err)

	done, err := w.svc.Complete(context.Background(), exec.ID, dto.CompleteExecutionRequest{Operator: "ivanov", ActualHours: f64Ptr(0.004)})
	require.NoError(t, err)
	require.NotNil(t, done.ActualHours)
	assert.Equal(t, 0.01, *done.ActualHours)
}

func TestExecutionPauseTimeExcludedFromActual(t *testing.T) {
	w := newExecutionWorld(t)
	exec, err := w.svc.Start(context.Background(), "st-1", dto.StartExecutionRequest{Operator: "ivanov"})
	require.NoError(t, err)

	w.svc.now = fixedClock(w.now.Add(time.Hour))
	_, err = w.svc.Pause(context.Background(), exec.ID, dto.PauseExecutionRequest{Operator: "ivanov"})
	require.NoError(t, err)

	w.svc.now = fixedClock(w.now.Add(90 * time.Minute))
	resumed, err := w.svc.Resume(context.Background(), exec.ID, dto.ResumeExecutionRequest{Operator: "ivanov"})
	require.NoError(t, err)
	assert.InDelta(t, 0.5, resumed.PauseHours, 0.001)
	require.NotNil(t, resumed.ResumedAt)

	w.svc.now = fixedClock(w.now.Add(150 * time.Minute))
	done, err := w.svc.Complete(context.Background(), exec.ID, dto.CompleteExecutionRequest{Operator: "ivanov"})
	require.NoError(t, err)

	require.NotNil(t, done.ActualHours)
	assert.InDelta(t, 2.0, *done.ActualHours, 0.001, "pause time never counts as work")
}

func TestExecutionCompleteWhilePausedStopsClockAtPause(t *testing.T) {
	w := newExecutionWorld(t)
	exec, err := w.svc.Start(context.Background(), "st-1", dto.StartExecutionRequest{Operator: "ivanov"})
	require.NoError(t, err)

	w.svc.now = fixedClock(w.now.Add(time.Hour))
	_, err = w.svc.Pause(context.Background(), exec.ID, dto.PauseExecutionRequest{Operator: "ivanov"})
	require.NoError(t, err)

	w.svc.now = fixedClock(w.now.Add(2 * time.Hour))
	done, err := w.svc.Complete(context.Background(), exec.ID, dto.CompleteExecutionRequest{Operator: "ivanov"})
	require.NoError(t, err)

	require.NotNil(t, done.ActualHours)
	assert.InDelta(t, 1.0, *done.ActualHours, 0.001, "the hour spent paused is not worked time")
	assert.Equal(t, models.ExecutionCompleted, done.Status)
	assert.Nil(t, done.PausedAt)
}

func TestExecutionCompleteRecordsOverrunReason(t *testing.T) {
	w := newExecutionWorld(t)
	exec, err := w.svc.Start(context.Background(), "st-1", dto.StartExecutionRequest{Operator: "ivanov"})
	require.NoError(t, err)

	done, err := w.svc.Complete(context.Background(), exec.ID, dto.CompleteExecutionRequest{
		Operator: "ivanov", ActualHours: f64Ptr(3), TimeExceededReason: "hard material batch",
	})
	require.NoError(t, err)
	require.NotNil(t, done.TimeExceededReason)
	assert.Equal(t, "hard material batch", *done.TimeExceededReason)
}

func TestExecutionCompleteOverrunGetsDefaultReason(t *testing.T) {
	w := newExecutionWorld(t)
	exec, err := w.svc.Start(context.Background(), "st-1", dto.StartExecutionRequest{Operator: "ivanov"})
	require.NoError(t, err)

	w.svc.now = fixedClock(w.now.Add(5 * time.Hour))
	done, err := w.svc.Complete(context.Background(), exec.ID, dto.CompleteExecutionRequest{Operator: "ivanov"})
	require.NoError(t, err)
	require.NotNil(t, done.TimeExceededReason)
	assert.Equal(t, "actual time exceeded the planned duration", *done.TimeExceededReason)
}

func TestExecutionChangeoverCompletionRollsIntoOperation(t *testing.T) {
	w := newExecutionWorld(t)
	st1 := w.stages.stages["st-1"]
	st1.StageType = models.StageTypeChangeover
	st1.Name = "Changeover on Lathe A"
	st1.MachineID = strPtr("m-1")
	w.stages.stages["st-2"].MachineID = strPtr("m-1")

	exec, err := w.svc.Start(context.Background(), "st-1", dto.StartExecutionRequest{Operator: "ivanov"})
	require.NoError(t, err)

	_, err = w.svc.Complete(context.Background(), exec.ID, dto.CompleteExecutionRequest{Operator: "ivanov"})
	require.NoError(t, err)

	assert.Equal(t, models.StageInProgress, w.stages.stages["st-2"].Status, "prepared operation starts right away")
	var found bool
	for _, e := range w.execs.execs {
		if e.StageID == "st-2" && e.Status == models.ExecutionStarted {
			found = true
			assert.Equal(t, "m-1", e.MachineID)
			assert.Equal(t, "ivanov", e.Operator)
		}
	}
	assert.True(t, found, "continuation created an execution")
}

func TestExecutionUpdateActualTime(t *testing.T) {
	w := newExecutionWorld(t)
	exec, err := w.svc.Start(context.Background(), "st-1", dto.StartExecutionRequest{Operator: "ivanov"})
	require.NoError(t, err)
	_, err = w.svc.Complete(context.Background(), exec.ID, dto.CompleteExecutionRequest{Operator: "ivanov", ActualHours: f64Ptr(2)})
	require.NoError(t, err)

	updated, err := w.svc.UpdateActualTime(context.Background(), exec.ID, dto.UpdateActualTimeRequest{
		ActualHours: 3.5, Operator: "master", Note: "stopwatch audit",
	})
	require.NoError(t, err)
	require.NotNil(t, updated.ActualHours)
	assert.Equal(t, 3.5, *updated.ActualHours)

	stage := w.stages.stages["st-1"]
	require.NotNil(t, stage.ActualHours)
	assert.Equal(t, 3.5, *stage.ActualHours, "stage total follows the correction delta")

	logs, err := w.svc.Logs(context.Background(), exec.ID)
	require.NoError(t, err)
	last := logs[len(logs)-1]
	assert.Equal(t, models.LogTimeModified, last.Action)
	assert.Contains(t, last.Note, "2.00")
	assert.Contains(t, last.Note, "3.50")
}

func TestExecutionUpdateActualTimeRequiresCompleted(t *testing.T) {
	w := newExecutionWorld(t)
	exec, err := w.svc.Start(context.Background(), "st-1", dto.StartExecutionRequest{Operator: "ivanov"})
	require.NoError(t, err)

	_, err = w.svc.UpdateActualTime(context.Background(), exec.ID, dto.UpdateActualTimeRequest{ActualHours: 1, Operator: "master"})
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrInvalidState))
}

func TestExecutionReleaseMachine(t *testing.T) {
	w := newExecutionWorld(t)
	exec, err := w.svc.Start(context.Background(), "st-1", dto.StartExecutionRequest{Operator: "ivanov"})
	require.NoError(t, err)

	released, err := w.svc.ReleaseMachine(context.Background(), exec.MachineID, dto.ReleaseMachineRequest{Operator: "dispatcher", Note: "urgent job"})
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionPaused, released.Status)
	assert.Equal(t, models.StagePaused, w.stages.stages["st-1"].Status)

	logs, err := w.svc.Logs(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LogReleased, logs[len(logs)-1].Action)
}

func TestExecutionReleaseMachineForUrgentStage(t *testing.T) {
	w := newExecutionWorld(t)
	w.orders.orders["order-2"] = &models.ProductionOrder{ID: "order-2", Number: "PO-2", DetailID: "detail-2", Status: models.OrderCreated}
	w.orders.subBatches["sb-u"] = &models.SubBatch{ID: "sb-u", OrderID: "order-2", BatchNumber: 1, Quantity: 5, Status: models.SubBatchCreated}
	w.stages.orderIDs["sb-u"] = "order-2"
	w.stages.detailIDs["sb-u"] = "detail-2"
	w.stages.add(models.RouteStage{
		ID: "st-u", SubBatchID: "sb-u", Name: "010 Turning", StageType: models.StageTypeOperation,
		StageOrder: 1, Status: models.StagePending, PlannedHours: 1,
	}, "mt-lathe")

	exec, err := w.svc.Start(context.Background(), "st-1", dto.StartExecutionRequest{Operator: "ivanov"})
	require.NoError(t, err)
	require.Equal(t, "m-1", exec.MachineID)

	urgent, err := w.svc.ReleaseMachine(context.Background(), "m-1", dto.ReleaseMachineRequest{
		Operator: "dispatcher", Note: "rush order", UrgentStageID: "st-u",
	})
	require.NoError(t, err)

	assert.Equal(t, "st-u", urgent.StageID)
	assert.Equal(t, "m-1", urgent.MachineID)
	assert.Equal(t, models.ExecutionStarted, urgent.Status)
	assert.Equal(t, models.StagePaused, w.stages.stages["st-1"].Status, "displaced work is paused, not lost")
	assert.Equal(t, models.StageInProgress, w.stages.stages["st-u"].Status)
}

func TestExecutionReleaseIdleMachine(t *testing.T) {
	w := newExecutionWorld(t)

	_, err := w.svc.ReleaseMachine(context.Background(), "m-1", dto.ReleaseMachineRequest{Operator: "dispatcher"})
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrNotFound))
}
