package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/plantctl/mes-api/internal/dto"
	"github.com/plantctl/mes-api/internal/models"
	"github.com/plantctl/mes-api/pkg/config"
	appErrors "github.com/plantctl/mes-api/pkg/errors"
)

const boardCacheKey = "board:machines"

type boardMachineRepository interface {
	List(ctx context.Context) ([]models.Machine, error)
}

type boardExecutionRepository interface {
	ListOccupancies(ctx context.Context) ([]models.MachineOccupancy, error)
}

type boardCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// BoardService renders the live shop-floor board: every machine with the
// work currently on it. The payload is cached briefly since dashboards poll
// it aggressively.
type BoardService struct {
	machines   boardMachineRepository
	executions boardExecutionRepository
	cache      boardCache
	metrics    *MetricsService
	cfg        config.BoardConfig
	logger     *zap.Logger
	now        func() time.Time
}

// NewBoardService constructs the service.
func NewBoardService(
	machines boardMachineRepository,
	executions boardExecutionRepository,
	cache boardCache,
	metrics *MetricsService,
	cfg config.BoardConfig,
	logger *zap.Logger,
) *BoardService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BoardService{
		machines:   machines,
		executions: executions,
		cache:      cache,
		metrics:    metrics,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
}

// Board returns the machine board, served from cache when fresh.
func (s *BoardService) Board(ctx context.Context) (*dto.MachineBoardResponse, error) {
	if s.cache != nil {
		var cached dto.MachineBoardResponse
		if err := s.cache.Get(ctx, boardCacheKey, &cached); err == nil {
			s.metrics.CacheHit()
			return &cached, nil
		} else if !appErrors.HasCode(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("board cache read failed", zap.Error(err))
		}
		s.metrics.CacheMiss()
	}

	machines, err := s.machines.List(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "list machines")
	}
	occupancies, err := s.executions.ListOccupancies(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "list occupancies")
	}

	// A running execution wins over a paused one left on the same machine.
	byMachine := make(map[string]models.MachineOccupancy, len(occupancies))
	for _, occ := range occupancies {
		current, seen := byMachine[occ.MachineID]
		if !seen || (current.Status != models.ExecutionStarted && occ.Status == models.ExecutionStarted) {
			byMachine[occ.MachineID] = occ
		}
	}

	resp := &dto.MachineBoardResponse{GeneratedAt: s.now().UTC()}
	for _, machine := range machines {
		entry := dto.MachineBoardEntry{Machine: machine}
		if occ, ok := byMachine[machine.ID]; ok {
			entry.Busy = occ.Status == models.ExecutionStarted
			entry.Status = &occ.Status
			entry.StageID = &occ.StageID
			entry.StageName = &occ.StageName
			entry.OrderNumber = &occ.OrderNumber
			entry.Operator = &occ.Operator
			entry.RunningSince = &occ.StartedAt
		}
		resp.Machines = append(resp.Machines, entry)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, boardCacheKey, resp, s.cfg.CacheTTL); err != nil {
			s.logger.Warn("board cache write failed", zap.Error(err))
		}
	}
	return resp, nil
}
