package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestRunTicksUntilCancelled(t *testing.T) {
	s := New(Options{Interval: 10 * time.Millisecond}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var count int
	err := s.Run(ctx, func(ctx context.Context, at time.Time) error {
		count++
		if count == 3 {
			cancel()
		}
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("取消后应返回 context.Canceled, 实际 %v", err)
	}
	if count != 3 {
		t.Fatalf("期望执行 3 次, 实际 %d", count)
	}
}

func TestRunReArmsAfterCompletion(t *testing.T) {
	interval := 20 * time.Millisecond
	s := New(Options{Interval: interval}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu    sync.Mutex
		ends  []time.Time
		start []time.Time
	)
	_ = s.Run(ctx, func(ctx context.Context, at time.Time) error {
		mu.Lock()
		defer mu.Unlock()
		start = append(start, time.Now())
		// a slow tick must not make the next one fire early
		time.Sleep(30 * time.Millisecond)
		ends = append(ends, time.Now())
		if len(ends) == 2 {
			cancel()
		}
		return nil
	})

	if len(start) != 2 {
		t.Fatalf("期望执行 2 次, 实际 %d", len(start))
	}
	if gap := start[1].Sub(ends[0]); gap < interval-2*time.Millisecond {
		t.Fatalf("下一次 tick 应在上一次完成后至少间隔 %s, 实际 %s", interval, gap)
	}
}

func TestRunLogsTickErrorsAndContinues(t *testing.T) {
	s := New(Options{Interval: 5 * time.Millisecond}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var count int
	_ = s.Run(ctx, func(ctx context.Context, at time.Time) error {
		count++
		if count == 2 {
			cancel()
			return nil
		}
		return errors.New("boom")
	})
	if count != 2 {
		t.Fatalf("错误后应继续调度, 实际执行 %d 次", count)
	}
}

func TestAlignedNextTick(t *testing.T) {
	s := New(Options{Interval: time.Minute, AlignToStart: true}, zerolog.Nop())
	now := time.Date(2024, 5, 1, 12, 0, 30, 0, time.UTC)
	if got := s.nextTick(now); !got.Equal(time.Date(2024, 5, 1, 12, 1, 0, 0, time.UTC)) {
		t.Fatalf("对齐模式下一次应在整分钟, 实际 %s", got)
	}
	exact := time.Date(2024, 5, 1, 12, 1, 0, 0, time.UTC)
	if got := s.nextTick(exact); !got.Equal(exact.Add(time.Minute)) {
		t.Fatalf("恰好在边界时应取下一桶, 实际 %s", got)
	}
}

func TestStartupDelayHonoursCancel(t *testing.T) {
	s := New(Options{Interval: time.Millisecond, StartupDelay: time.Hour}, zerolog.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	called := false
	err := s.Run(ctx, func(context.Context, time.Time) error {
		called = true
		return nil
	})
	if !errors.Is(err, context.DeadlineExceeded) || called {
		t.Fatalf("启动延迟期间取消应直接返回, err=%v called=%v", err, called)
	}
}
