package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/plantctl/mes-api/internal/dto"
	"github.com/plantctl/mes-api/internal/models"
	appErrors "github.com/plantctl/mes-api/pkg/errors"
)

// passthroughTx replaces the retried transaction runner in tests. The stubs
// below ignore the tx handle entirely.
func passthroughTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	return fn(nil)
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func strPtr(v string) *string   { return &v }
func f64Ptr(v float64) *float64 { return &v }

// stageRepoStub keeps route stages in memory. machineTypes maps a stage to
// the machine type it needs; orderIDs and detailIDs map a sub-batch to its
// order keys.
type stageRepoStub struct {
	stages       map[string]*models.RouteStage
	machineTypes map[string]string
	orderIDs     map[string]string
	detailIDs    map[string]string
	plannedDates map[string]time.Time
	nextID       int
}

func newStageRepoStub() *stageRepoStub {
	return &stageRepoStub{
		stages:       map[string]*models.RouteStage{},
		machineTypes: map[string]string{},
		orderIDs:     map[string]string{},
		detailIDs:    map[string]string{},
		plannedDates: map[string]time.Time{},
	}
}

func (s *stageRepoStub) add(stage models.RouteStage, machineTypeID string) *models.RouteStage {
	copied := stage
	s.stages[copied.ID] = &copied
	s.machineTypes[copied.ID] = machineTypeID
	return &copied
}

func (s *stageRepoStub) Create(ctx context.Context, q sqlx.ExtContext, stage *models.RouteStage) error {
	if stage.ID == "" {
		s.nextID++
		stage.ID = fmt.Sprintf("stage-gen-%d", s.nextID)
	}
	copied := *stage
	s.stages[stage.ID] = &copied
	return nil
}

func (s *stageRepoStub) GetByID(ctx context.Context, q sqlx.ExtContext, id string) (*models.RouteStage, error) {
	stage, ok := s.stages[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *stage
	return &copied, nil
}

func (s *stageRepoStub) entry(stage *models.RouteStage) models.StageQueueEntry {
	return models.StageQueueEntry{
		RouteStage:       *stage,
		MachineTypeID:    s.machineTypes[stage.ID],
		OrderID:          s.orderIDs[stage.SubBatchID],
		DetailID:         s.detailIDs[stage.SubBatchID],
		PlannedStartDate: s.plannedDates[stage.SubBatchID],
	}
}

func (s *stageRepoStub) GetQueueEntry(ctx context.Context, q sqlx.ExtContext, stageID string) (*models.StageQueueEntry, error) {
	stage, ok := s.stages[stageID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	entry := s.entry(stage)
	return &entry, nil
}

func (s *stageRepoStub) Update(ctx context.Context, q sqlx.ExtContext, stage *models.RouteStage) error {
	copied := *stage
	s.stages[stage.ID] = &copied
	return nil
}

func (s *stageRepoStub) SetStatus(ctx context.Context, q sqlx.ExtContext, id string, from, to models.StageStatus) (bool, error) {
	stage, ok := s.stages[id]
	if !ok || stage.Status != from {
		return false, nil
	}
	stage.Status = to
	return true, nil
}

func (s *stageRepoStub) ShiftOrders(ctx context.Context, q sqlx.ExtContext, subBatchID string, fromOrder int) error {
	for _, stage := range s.stages {
		if stage.SubBatchID == subBatchID && stage.StageOrder >= fromOrder {
			stage.StageOrder++
		}
	}
	return nil
}

func (s *stageRepoStub) NextPending(ctx context.Context, q sqlx.ExtContext, subBatchID string) (*models.RouteStage, error) {
	var next *models.RouteStage
	for _, stage := range s.stages {
		if stage.SubBatchID != subBatchID || stage.Status != models.StagePending {
			continue
		}
		if next == nil || stage.StageOrder < next.StageOrder {
			next = stage
		}
	}
	if next == nil {
		return nil, nil
	}
	copied := *next
	return &copied, nil
}

func (s *stageRepoStub) CountOpenPredecessors(ctx context.Context, q sqlx.ExtContext, subBatchID string, stageOrder int) (int, error) {
	count := 0
	for _, stage := range s.stages {
		if stage.SubBatchID == subBatchID && stage.StageOrder < stageOrder && !stage.Status.Terminal() {
			count++
		}
	}
	return count, nil
}

func (s *stageRepoStub) CountOpenOperationStages(ctx context.Context, q sqlx.ExtContext, subBatchID string) (int, error) {
	count := 0
	for _, stage := range s.stages {
		if stage.SubBatchID == subBatchID && stage.StageType == models.StageTypeOperation && !stage.Status.Terminal() {
			count++
		}
	}
	return count, nil
}

func (s *stageRepoStub) ListReady(ctx context.Context, limit int) ([]models.StageQueueEntry, error) {
	var entries []models.StageQueueEntry
	for _, stage := range s.stages {
		if stage.Status == models.StageReady {
			entries = append(entries, s.entry(stage))
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].PlannedStartDate.Equal(entries[j].PlannedStartDate) {
			return entries[i].PlannedStartDate.Before(entries[j].PlannedStartDate)
		}
		return entries[i].StageOrder < entries[j].StageOrder
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (s *stageRepoStub) ListWaiting(ctx context.Context) ([]models.StageQueueEntry, error) {
	var entries []models.StageQueueEntry
	for _, stage := range s.stages {
		if stage.Status == models.StageWaiting {
			entries = append(entries, s.entry(stage))
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		qi, qj := entries[i].QueuedAt, entries[j].QueuedAt
		switch {
		case qi == nil:
			return false
		case qj == nil:
			return true
		default:
			return qi.Before(*qj)
		}
	})
	return entries, nil
}

func (s *stageRepoStub) CountWaitingAhead(ctx context.Context, machineTypeID string, queuedAt time.Time) (int, error) {
	count := 0
	for _, stage := range s.stages {
		if stage.Status == models.StageWaiting && s.machineTypes[stage.ID] == machineTypeID &&
			stage.QueuedAt != nil && stage.QueuedAt.Before(queuedAt) {
			count++
		}
	}
	return count, nil
}

func (s *stageRepoStub) CountWaiting(ctx context.Context) (int, error) {
	count := 0
	for _, stage := range s.stages {
		if stage.Status == models.StageWaiting {
			count++
		}
	}
	return count, nil
}

func (s *stageRepoStub) CountActiveByOrder(ctx context.Context, q sqlx.ExtContext, orderID string) (int, error) {
	count := 0
	for _, stage := range s.stages {
		if s.orderIDs[stage.SubBatchID] != orderID {
			continue
		}
		if stage.Status == models.StageInProgress || stage.Status == models.StagePaused {
			count++
		}
	}
	return count, nil
}

func (s *stageRepoStub) CancelOpenByOrder(ctx context.Context, q sqlx.ExtContext, orderID string) error {
	for _, stage := range s.stages {
		if s.orderIDs[stage.SubBatchID] != orderID {
			continue
		}
		switch stage.Status {
		case models.StagePending, models.StageReady, models.StageWaiting:
			stage.Status = models.StageCancelled
		}
	}
	return nil
}

func (s *stageRepoStub) ListBySubBatch(ctx context.Context, subBatchID string) ([]models.RouteStage, error) {
	var stages []models.RouteStage
	for _, stage := range s.stages {
		if stage.SubBatchID == subBatchID {
			stages = append(stages, *stage)
		}
	}
	sort.Slice(stages, func(i, j int) bool { return stages[i].StageOrder < stages[j].StageOrder })
	return stages, nil
}

// execRepoStub keeps executions and their logs in memory. lastDetail maps a
// machine to the detail it last produced; loads feed the estimator.
type execRepoStub struct {
	execs      map[string]*models.StageExecution
	logs       []models.ExecutionLog
	lastDetail map[string]string
	loads      []models.ActiveMachineLoad
	occupancy  []models.MachineOccupancy
	nextID     int
}

func newExecRepoStub() *execRepoStub {
	return &execRepoStub{
		execs:      map[string]*models.StageExecution{},
		lastDetail: map[string]string{},
	}
}

func (s *execRepoStub) Create(ctx context.Context, q sqlx.ExtContext, exec *models.StageExecution) error {
	if exec.ID == "" {
		s.nextID++
		exec.ID = fmt.Sprintf("exec-%d", s.nextID)
	}
	copied := *exec
	s.execs[exec.ID] = &copied
	return nil
}

func (s *execRepoStub) GetByID(ctx context.Context, q sqlx.ExtContext, id string) (*models.StageExecution, error) {
	exec, ok := s.execs[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *exec
	return &copied, nil
}

func (s *execRepoStub) Update(ctx context.Context, q sqlx.ExtContext, exec *models.StageExecution) error {
	copied := *exec
	s.execs[exec.ID] = &copied
	return nil
}

func (s *execRepoStub) GetActiveByStage(ctx context.Context, q sqlx.ExtContext, stageID string) (*models.StageExecution, error) {
	for _, exec := range s.execs {
		if exec.StageID == stageID && exec.Status.Active() {
			copied := *exec
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *execRepoStub) GetRunningByMachine(ctx context.Context, q sqlx.ExtContext, machineID string) (*models.StageExecution, error) {
	for _, exec := range s.execs {
		if exec.MachineID == machineID && exec.Status == models.ExecutionStarted {
			copied := *exec
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *execRepoStub) LastCompletedDetailID(ctx context.Context, q sqlx.ExtContext, machineID string) (string, error) {
	return s.lastDetail[machineID], nil
}

func (s *execRepoStub) ListActiveLoadsByType(ctx context.Context, machineTypeID string) ([]models.ActiveMachineLoad, error) {
	return s.loads, nil
}

func (s *execRepoStub) ListOccupancies(ctx context.Context) ([]models.MachineOccupancy, error) {
	return s.occupancy, nil
}

func (s *execRepoStub) AddLog(ctx context.Context, q sqlx.ExtContext, log *models.ExecutionLog) error {
	s.logs = append(s.logs, *log)
	return nil
}

func (s *execRepoStub) ListLogs(ctx context.Context, executionID string) ([]models.ExecutionLog, error) {
	var logs []models.ExecutionLog
	for _, log := range s.logs {
		if log.ExecutionID == executionID {
			logs = append(logs, log)
		}
	}
	return logs, nil
}

// machineRepoStub serves machines from a slice; busy marks machines whose
// FindFree lookups should skip them.
type machineRepoStub struct {
	machines []models.Machine
	busy     map[string]bool
}

func (s *machineRepoStub) GetByID(ctx context.Context, id string) (*models.Machine, error) {
	for _, m := range s.machines {
		if m.ID == id {
			copied := m
			return &copied, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *machineRepoStub) List(ctx context.Context) ([]models.Machine, error) {
	return s.machines, nil
}

func (s *machineRepoStub) FindFree(ctx context.Context, q sqlx.ExtContext, machineTypeID string) (*models.Machine, error) {
	var best *models.Machine
	for i := range s.machines {
		m := &s.machines[i]
		if m.MachineTypeID != machineTypeID || s.busy[m.ID] {
			continue
		}
		if best == nil || m.Priority < best.Priority {
			best = m
		}
	}
	if best == nil {
		return nil, nil
	}
	copied := *best
	return &copied, nil
}

func (s *machineRepoStub) CountFreeByType(ctx context.Context, machineTypeID string) (int, error) {
	count := 0
	for _, m := range s.machines {
		if m.MachineTypeID == machineTypeID && !s.busy[m.ID] {
			count++
		}
	}
	return count, nil
}

// orderRepoStub keeps orders and sub-batches in memory.
type orderRepoStub struct {
	orders     map[string]*models.ProductionOrder
	subBatches map[string]*models.SubBatch
	nextID     int
}

func newOrderRepoStub() *orderRepoStub {
	return &orderRepoStub{
		orders:     map[string]*models.ProductionOrder{},
		subBatches: map[string]*models.SubBatch{},
	}
}

func (s *orderRepoStub) Create(ctx context.Context, q sqlx.ExtContext, order *models.ProductionOrder) error {
	if order.ID == "" {
		s.nextID++
		order.ID = fmt.Sprintf("order-%d", s.nextID)
	}
	copied := *order
	s.orders[order.ID] = &copied
	return nil
}

func (s *orderRepoStub) CreateSubBatch(ctx context.Context, q sqlx.ExtContext, sb *models.SubBatch) error {
	if sb.ID == "" {
		s.nextID++
		sb.ID = fmt.Sprintf("sb-%d", s.nextID)
	}
	copied := *sb
	s.subBatches[sb.ID] = &copied
	return nil
}

func (s *orderRepoStub) GetByID(ctx context.Context, q sqlx.ExtContext, id string) (*models.ProductionOrder, error) {
	order, ok := s.orders[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *order
	return &copied, nil
}

func (s *orderRepoStub) List(ctx context.Context, filter dto.OrderFilter) ([]models.ProductionOrder, int, error) {
	var orders []models.ProductionOrder
	for _, order := range s.orders {
		orders = append(orders, *order)
	}
	return orders, len(orders), nil
}

func (s *orderRepoStub) GetSubBatch(ctx context.Context, q sqlx.ExtContext, id string) (*models.SubBatch, error) {
	sb, ok := s.subBatches[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *sb
	return &copied, nil
}

func (s *orderRepoStub) ListSubBatches(ctx context.Context, orderID string) ([]models.SubBatch, error) {
	var batches []models.SubBatch
	for _, sb := range s.subBatches {
		if sb.OrderID == orderID {
			batches = append(batches, *sb)
		}
	}
	sort.Slice(batches, func(i, j int) bool { return batches[i].BatchNumber < batches[j].BatchNumber })
	return batches, nil
}

func (s *orderRepoStub) UpdateStatus(ctx context.Context, q sqlx.ExtContext, id string, status models.OrderStatus, startedAt, completedAt *time.Time) error {
	order, ok := s.orders[id]
	if !ok {
		return sql.ErrNoRows
	}
	order.Status = status
	if startedAt != nil {
		order.StartedAt = startedAt
	}
	if completedAt != nil {
		order.CompletedAt = completedAt
	}
	return nil
}

func (s *orderRepoStub) UpdateSubBatchStatus(ctx context.Context, q sqlx.ExtContext, id string, status models.SubBatchStatus, startedAt, completedAt *time.Time) error {
	sb, ok := s.subBatches[id]
	if !ok {
		return sql.ErrNoRows
	}
	sb.Status = status
	if startedAt != nil {
		sb.StartedAt = startedAt
	}
	if completedAt != nil {
		sb.CompletedAt = completedAt
	}
	return nil
}

func (s *orderRepoStub) CountOpenSubBatches(ctx context.Context, q sqlx.ExtContext, orderID string) (int, error) {
	count := 0
	for _, sb := range s.subBatches {
		if sb.OrderID == orderID && sb.Status != models.SubBatchCompleted && sb.Status != models.SubBatchCancelled {
			count++
		}
	}
	return count, nil
}

func (s *orderRepoStub) CancelOpenSubBatches(ctx context.Context, q sqlx.ExtContext, orderID string) error {
	for _, sb := range s.subBatches {
		if sb.OrderID == orderID && sb.Status != models.SubBatchCompleted && sb.Status != models.SubBatchCancelled {
			sb.Status = models.SubBatchCancelled
		}
	}
	return nil
}

// calendarStub answers working-time questions with canned values.
type calendarStub struct {
	working  bool
	nextTime time.Time
	err      error
}

func (s *calendarStub) IsWorkingTime(ctx context.Context, machineID string, at time.Time) (bool, error) {
	return s.working, s.err
}

func (s *calendarStub) NextWorkingTime(ctx context.Context, machineID string, from time.Time) (time.Time, error) {
	if s.err != nil {
		return time.Time{}, s.err
	}
	if s.nextTime.IsZero() {
		return from, nil
	}
	return s.nextTime, nil
}

// changeoverRepoStub resolves changeovers from a keyed map.
type changeoverRepoStub struct {
	items map[string]models.Changeover
}

func changeoverKey(machineID, from, to string) string {
	return machineID + "|" + from + "|" + to
}

func (s *changeoverRepoStub) Find(ctx context.Context, q sqlx.ExtContext, machineID, fromDetailID, toDetailID string) (*models.Changeover, error) {
	if co, ok := s.items[changeoverKey(machineID, fromDetailID, toDetailID)]; ok {
		return &co, nil
	}
	return nil, nil
}

// detailRepoStub serves one detail and its process plan.
type detailRepoStub struct {
	detail *models.Detail
	ops    []models.Operation
}

func (s *detailRepoStub) GetByID(ctx context.Context, id string) (*models.Detail, error) {
	if s.detail == nil || s.detail.ID != id {
		return nil, sql.ErrNoRows
	}
	copied := *s.detail
	return &copied, nil
}

func (s *detailRepoStub) ListOperations(ctx context.Context, detailID string) ([]models.Operation, error) {
	return s.ops, nil
}

// cacheStub is an in-memory boardCache.
type cacheStub struct {
	data map[string][]byte
	sets int
	hits int
}

func (s *cacheStub) Get(ctx context.Context, key string, dest interface{}) error {
	raw, ok := s.data[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	s.hits++
	return json.Unmarshal(raw, dest)
}

func (s *cacheStub) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if s.data == nil {
		s.data = map[string][]byte{}
	}
	s.data[key] = raw
	s.sets++
	return nil
}
