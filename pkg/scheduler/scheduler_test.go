package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSchedulerRunsAndStops(t *testing.T) {
	var runs int64
	s := New("test", func(ctx context.Context) error {
		atomic.AddInt64(&runs, 1)
		return nil
	}, Config{Period: 10 * time.Millisecond, Logger: zap.NewNop()})

	s.Start(context.Background())
	time.Sleep(60 * time.Millisecond)
	s.Stop()

	got := atomic.LoadInt64(&runs)
	require.GreaterOrEqual(t, got, int64(2))

	// No further iterations after Stop.
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, got, atomic.LoadInt64(&runs))
}

func TestSchedulerSurvivesFailingTask(t *testing.T) {
	var runs int64
	s := New("failing", func(ctx context.Context) error {
		atomic.AddInt64(&runs, 1)
		return errors.New("boom")
	}, Config{Period: 10 * time.Millisecond, Logger: zap.NewNop()})

	s.Start(context.Background())
	time.Sleep(50 * time.Millisecond)
	s.Stop()

	assert.GreaterOrEqual(t, atomic.LoadInt64(&runs), int64(2))
}

func TestSchedulerSurvivesPanickingTask(t *testing.T) {
	var runs int64
	s := New("panicking", func(ctx context.Context) error {
		atomic.AddInt64(&runs, 1)
		panic("boom")
	}, Config{Period: 10 * time.Millisecond, Logger: zap.NewNop()})

	s.Start(context.Background())
	time.Sleep(50 * time.Millisecond)
	s.Stop()

	assert.GreaterOrEqual(t, atomic.LoadInt64(&runs), int64(2))
}

func TestSchedulerStartIsIdempotent(t *testing.T) {
	s := New("idem", func(ctx context.Context) error { return nil }, Config{Period: time.Hour, Logger: zap.NewNop()})
	s.Start(context.Background())
	s.Start(context.Background())
	s.Stop()
}
