package service

import (
	"context"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plantctl/mes-api/internal/dto"
	"github.com/plantctl/mes-api/internal/models"
	appErrors "github.com/plantctl/mes-api/pkg/errors"
)

type assignmentWorld struct {
	svc        *AssignmentService
	stages     *stageRepoStub
	execs      *execRepoStub
	changeover *changeoverRepoStub
	machineID  string
}

func newAssignmentWorld(t *testing.T) *assignmentWorld {
	t.Helper()

	stages := newStageRepoStub()
	execs := newExecRepoStub()
	orders := newOrderRepoStub()
	machineID := uuid.NewString()
	machines := &machineRepoStub{
		machines: []models.Machine{{ID: machineID, Name: "Lathe A", MachineTypeID: "mt-lathe", Priority: 1}},
		busy:     map[string]bool{},
	}
	changeover := &changeoverRepoStub{items: map[string]models.Changeover{}}

	orders.orders["order-1"] = &models.ProductionOrder{ID: "order-1", Number: "PO-1", DetailID: "detail-new", Status: models.OrderCreated}
	orders.subBatches["sb-1"] = &models.SubBatch{ID: "sb-1", OrderID: "order-1", BatchNumber: 1, Quantity: 5, Status: models.SubBatchCreated}
	stages.orderIDs["sb-1"] = "order-1"

	stages.add(models.RouteStage{
		ID: "st-1", SubBatchID: "sb-1", Name: "010 Turning", StageType: models.StageTypeOperation,
		StageOrder: 1, Status: models.StageReady, PlannedHours: 2,
	}, "mt-lathe")
	stages.add(models.RouteStage{
		ID: "st-2", SubBatchID: "sb-1", Name: "020 Milling", StageType: models.StageTypeOperation,
		StageOrder: 2, Status: models.StagePending, PlannedHours: 1,
	}, "mt-lathe")

	svc := NewAssignmentService(nil, stages, machines, orders, changeover, execs, validator.New(), nil)
	svc.runTx = passthroughTx

	return &assignmentWorld{svc: svc, stages: stages, execs: execs, changeover: changeover, machineID: machineID}
}

func TestAssignMachineWithoutChangeover(t *testing.T) {
	w := newAssignmentWorld(t)
	// Machine never produced anything, so no retooling is needed.
	resp, err := w.svc.AssignMachine(context.Background(), "st-1", dto.AssignMachineRequest{MachineID: w.machineID})
	require.NoError(t, err)

	assert.Nil(t, resp.Changeover)
	require.NotNil(t, resp.Stage.MachineID)
	assert.Equal(t, w.machineID, *resp.Stage.MachineID)
	assert.Equal(t, 1, resp.Stage.StageOrder)
	assert.Equal(t, models.StageReady, resp.Stage.Status)
}

func TestAssignMachineSameDetailSkipsChangeover(t *testing.T) {
	w := newAssignmentWorld(t)
	w.execs.lastDetail[w.machineID] = "detail-new"

	resp, err := w.svc.AssignMachine(context.Background(), "st-1", dto.AssignMachineRequest{MachineID: w.machineID})
	require.NoError(t, err)
	assert.Nil(t, resp.Changeover)
}

func TestAssignMachineInsertsChangeover(t *testing.T) {
	w := newAssignmentWorld(t)
	w.execs.lastDetail[w.machineID] = "detail-old"
	w.changeover.items[changeoverKey(w.machineID, "detail-old", "detail-new")] = models.Changeover{
		MachineID: w.machineID, FromDetailID: "detail-old", ToDetailID: "detail-new", ChangeoverHours: 0.5,
	}

	resp, err := w.svc.AssignMachine(context.Background(), "st-1", dto.AssignMachineRequest{MachineID: w.machineID})
	require.NoError(t, err)

	require.NotNil(t, resp.Changeover)
	assert.Equal(t, models.StageTypeChangeover, resp.Changeover.StageType)
	assert.Equal(t, 0.5, resp.Changeover.PlannedHours)
	assert.Equal(t, 1, resp.Changeover.StageOrder, "changeover takes the target's slot")
	assert.Equal(t, models.StageReady, resp.Changeover.Status, "changeover inherits the startable slot")

	assert.Equal(t, 2, resp.Stage.StageOrder, "target slides one slot down")
	assert.Equal(t, models.StagePending, resp.Stage.Status, "target waits behind its changeover")

	// The stage that used to be second moved to third.
	assert.Equal(t, 3, w.stages.stages["st-2"].StageOrder)
}

func TestAssignMachineChangeoverFallbackDuration(t *testing.T) {
	w := newAssignmentWorld(t)
	w.execs.lastDetail[w.machineID] = "detail-old"

	resp, err := w.svc.AssignMachine(context.Background(), "st-1", dto.AssignMachineRequest{MachineID: w.machineID})
	require.NoError(t, err)
	require.NotNil(t, resp.Changeover)
	assert.Equal(t, models.DefaultChangeoverHours, resp.Changeover.PlannedHours)
}

func TestAssignMachineRejectsTypeMismatch(t *testing.T) {
	w := newAssignmentWorld(t)
	w.stages.machineTypes["st-1"] = "mt-mill"

	_, err := w.svc.AssignMachine(context.Background(), "st-1", dto.AssignMachineRequest{MachineID: w.machineID})
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrMachineMismatch))
}

func TestAssignMachineRejectsRunningStage(t *testing.T) {
	w := newAssignmentWorld(t)
	w.stages.stages["st-1"].Status = models.StageInProgress

	_, err := w.svc.AssignMachine(context.Background(), "st-1", dto.AssignMachineRequest{MachineID: w.machineID})
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrInvalidState))
}
