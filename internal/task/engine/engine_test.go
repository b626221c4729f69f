package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"learnbyemail/internal/eventbus"
	logx "learnbyemail/pkg/logx"
)

func startEngine(t *testing.T, cfg Config) (*Service, eventbus.Bus) {
	t.Helper()
	cfg.Enabled = true
	bus := eventbus.New()
	s := New(cfg, logx.Nop(), bus)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s, bus
}

func waitHistory(t *testing.T, s *Service, n int) []HistoryItem {
	t.Helper()
	require.Eventually(t, func() bool { return len(s.Snapshot().History) >= n }, 5*time.Second, 5*time.Millisecond)
	return s.Snapshot().History
}

func TestSkipIfRunningCoalescesSecondFire(t *testing.T) {
	t.Parallel()
	s, _ := startEngine(t, Config{Workers: 2})

	release := make(chan struct{})
	var runs atomic.Int32
	st := &RunState{}
	task := Task{
		Name:  "delivery.1",
		State: st,
		Opt:   TaskOptions{Overlap: OverlapSkipIfRunning},
		Run: func(ctx context.Context) error {
			runs.Add(1)
			<-release
			return nil
		},
	}
	require.NoError(t, s.Enqueue(task))
	require.Eventually(t, func() bool { return runs.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	require.ErrorIs(t, s.Enqueue(task), ErrOverlapSkip)
	assert.True(t, st.Busy())

	close(release)
	waitHistory(t, s, 1)
	require.Eventually(t, func() bool { return !st.Busy() }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), runs.Load())
	assert.Equal(t, uint64(1), s.Snapshot().SkippedOverlap)
}

func TestPanicIsRecoveredAndRecorded(t *testing.T) {
	t.Parallel()
	s, bus := startEngine(t, Config{Workers: 1})
	events, unsub := bus.Subscribe(8, "task.failed")
	defer unsub()

	require.NoError(t, s.Enqueue(Task{Name: "boom", Run: func(context.Context) error { panic("bad") }}))
	h := waitHistory(t, s, 1)
	assert.Contains(t, h[0].Error, "panic: bad")

	select {
	case e := <-events:
		assert.Equal(t, "boom", e.Data.(TaskEvent).Name)
	case <-time.After(2 * time.Second):
		t.Fatal("expected task.failed event")
	}

	// The worker survives.
	require.NoError(t, s.Enqueue(Task{Name: "after", Run: func(context.Context) error { return nil }}))
	h = waitHistory(t, s, 2)
	assert.Empty(t, h[1].Error)
}

func TestTimeoutCancelsTask(t *testing.T) {
	t.Parallel()
	s, _ := startEngine(t, Config{Workers: 1})
	require.NoError(t, s.Enqueue(Task{
		Name:    "slow",
		Timeout: 20 * time.Millisecond,
		Run: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	}))
	h := waitHistory(t, s, 1)
	assert.Contains(t, h[0].Error, context.DeadlineExceeded.Error())
}

func TestRetriesStopOnNoRetry(t *testing.T) {
	t.Parallel()
	s, _ := startEngine(t, Config{Workers: 1})

	var calls atomic.Int32
	require.NoError(t, s.Enqueue(Task{
		Name: "flaky",
		Opt:  TaskOptions{RetryMax: 3, RetryBase: time.Millisecond},
		Run: func(context.Context) error {
			if calls.Add(1) == 2 {
				return NoRetry(errors.New("permanent"))
			}
			return errors.New("transient")
		},
	}))
	h := waitHistory(t, s, 1)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, 2, h[0].Attempts)
	assert.Equal(t, "permanent", h[0].Error)
}

func TestEnqueueWhenDisabledOrStopped(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop(), nil)
	require.ErrorIs(t, s.Enqueue(Task{Name: "x", Run: func(context.Context) error { return nil }}), ErrDisabled)

	s = New(Config{Enabled: true}, logx.Nop(), nil)
	require.ErrorIs(t, s.Enqueue(Task{Name: "x", Run: func(context.Context) error { return nil }}), ErrStopped)
}

func TestQueueFullDrops(t *testing.T) {
	t.Parallel()
	s, _ := startEngine(t, Config{Workers: 1, QueueSize: 1})
	block := make(chan struct{})
	defer close(block)
	started := make(chan struct{})
	require.NoError(t, s.Enqueue(Task{Name: "hold", Run: func(context.Context) error {
		close(started)
		<-block
		return nil
	}}))
	<-started
	require.NoError(t, s.Enqueue(Task{Name: "q1", Run: func(context.Context) error { return nil }}))
	require.ErrorIs(t, s.Enqueue(Task{Name: "q2", Run: func(context.Context) error { return nil }}), ErrQueueFull)
	assert.Equal(t, uint64(1), s.Snapshot().DroppedQueueFull)
}
