// Package scheduler 提供对齐 K 线边界的周期执行器。
package scheduler

import (
	"context"
	"time"

	"minfx/internal/logger"
)

// BarAligned 在每个 K 线周期边界之后（加上数据源出齐收盘足的缓冲）
// 执行一次任务。任务本身不并发：上一轮拖过边界时顺延到下一个边界。
type BarAligned struct {
	Name           string
	Interval       time.Duration
	Offset         time.Duration
	RunImmediately bool

	nowFn func() time.Time
}

func NewBarAligned(name string, interval, offset time.Duration) *BarAligned {
	return &BarAligned{
		Name:     name,
		Interval: interval,
		Offset:   offset,
		nowFn:    time.Now,
	}
}

// Start 阻塞运行，直到 ctx 取消。task 的错误由调用方自行记录，
// 返回错误不会中断调度。
func (s *BarAligned) Start(ctx context.Context, task func(now time.Time) error) error {
	if s.Interval <= 0 {
		logger.Warnf("scheduler[%s]: interval=%s 不合法，退出", s.Name, s.Interval)
		return nil
	}
	if s.Offset < 0 {
		s.Offset = 0
	}
	if s.nowFn == nil {
		s.nowFn = time.Now
	}

	if s.RunImmediately {
		if err := task(s.nowFn()); err != nil {
			logger.Errorf("scheduler[%s]: 任务失败: %v", s.Name, err)
		}
	}

	for {
		nextClose, runAt := s.nextRunAfter(s.nowFn())
		logger.Infof("scheduler[%s]: 次回実行 %s (K线收盘 %s)",
			s.Name, runAt.Format(time.RFC3339), nextClose.Format(time.RFC3339))

		if !waitUntil(ctx, runAt, s.nowFn) {
			return ctx.Err()
		}
		if err := task(s.nowFn()); err != nil {
			logger.Errorf("scheduler[%s]: 任务失败: %v", s.Name, err)
		}
	}
}

// nextRunAfter 返回 now 之后最近的一个周期边界及对应的执行时刻。
func (s *BarAligned) nextRunAfter(now time.Time) (nextClose, runAt time.Time) {
	nextClose = now.UTC().Truncate(s.Interval).Add(s.Interval)
	return nextClose, nextClose.Add(s.Offset)
}

func waitUntil(ctx context.Context, target time.Time, nowFn func() time.Time) bool {
	wait := target.Sub(nowFn().UTC())
	if wait <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
