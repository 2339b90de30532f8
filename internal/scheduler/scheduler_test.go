package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestIntervalScheduleAligned(t *testing.T) {
	s := intervalSchedule{interval: 6 * time.Hour, align: true}
	now := time.Date(2024, 3, 1, 7, 15, 0, 0, time.UTC)

	next := s.Next(now)
	want := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("对齐后的下一次应为 %s, 实际 %s", want, next)
	}

	onBoundary := s.Next(want)
	if !onBoundary.Equal(want.Add(6 * time.Hour)) {
		t.Fatalf("边界时刻应推进一个周期, 实际 %s", onBoundary)
	}
}

func TestIntervalScheduleUnaligned(t *testing.T) {
	s := intervalSchedule{interval: time.Hour}
	now := time.Date(2024, 3, 1, 7, 15, 0, 0, time.UTC)
	if got := s.Next(now); !got.Equal(now.Add(time.Hour)) {
		t.Fatalf("未对齐应为 now+interval, 实际 %s", got)
	}
}

func TestNewCronSpec(t *testing.T) {
	s, err := New(Options{Cron: "0 */6 * * *"}, zerolog.Nop())
	if err != nil {
		t.Fatalf("cron 解析失败: %v", err)
	}
	now := time.Date(2024, 3, 1, 7, 15, 0, 0, time.UTC)
	want := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	if got := s.schedule.Next(now); !got.Equal(want) {
		t.Fatalf("cron 下一次应为 %s, 实际 %s", want, got)
	}
}

func TestNewRejectsInvalid(t *testing.T) {
	if _, err := New(Options{Cron: "not a cron"}, zerolog.Nop()); err == nil {
		t.Fatal("非法 cron 应报错")
	}
	if _, err := New(Options{}, zerolog.Nop()); err == nil {
		t.Fatal("缺少间隔与 cron 应报错")
	}
}

func TestRunInvokesTickUntilCancelled(t *testing.T) {
	s, err := New(Options{Interval: 20 * time.Millisecond}, zerolog.Nop())
	if err != nil {
		t.Fatalf("构造失败: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(context.Context, time.Time) error {
			if calls.Add(1) >= 2 {
				cancel()
			}
			return nil
		})
	}()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("应返回 context.Canceled, 实际 %v", err)
		}
	case <-time.After(2 * time.Second):
		cancel()
		t.Fatal("调度器未按时触发")
	}
	if calls.Load() < 2 {
		t.Fatalf("应至少执行两次, 实际 %d", calls.Load())
	}
}
