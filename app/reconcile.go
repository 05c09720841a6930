package app

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Snapshotter 能把完整设备集合写回持久化
type Snapshotter interface {
	SaveAll(ctx context.Context) error
	Len() int
}

// Reconcile 整体重写一次快照，修复后台单条写入失败留下的差异
func Reconcile(ctx context.Context, src Snapshotter) error {
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	start := time.Now()
	if err := src.SaveAll(ctx); err != nil {
		zap.L().Error("reconcile failed", zap.Error(err))
		return err
	}
	zap.L().Info("reconcile done", zap.Int("records", src.Len()), zap.Duration("took", time.Since(start)))
	return nil
}

// StartJobs 启动定时任务：按 reconcileSpec 重写快照（为空或 off 时跳过），并定期清理限流表
func StartJobs(reconcileSpec string, src Snapshotter, rl *RateLimiter) (*cron.Cron, error) {
	sched := cron.New(cron.WithParser(cronParser), cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	if reconcileSpec != "" && reconcileSpec != "off" {
		if _, err := sched.AddFunc(reconcileSpec, func() {
			_ = Reconcile(context.Background(), src)
		}); err != nil {
			return nil, err
		}
	}
	if rl != nil {
		if _, err := sched.AddFunc("@every 5m", func() {
			if n := rl.Sweep(); n > 0 {
				zap.L().Debug("rate limiter sweep", zap.Int("removed", n))
			}
		}); err != nil {
			return nil, err
		}
	}
	sched.Start()
	return sched, nil
}
