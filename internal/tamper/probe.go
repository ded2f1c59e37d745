package tamper

import (
	"context"
	"time"

	"github.com/dohr-michael/taskgate/internal/scheduler"
)

// RunPauseProbe is the in-process counterpart of the browser debugger probe.
// It runs on expr's cadence and reports the gap between consecutive runs that
// exceeds the expected interval, which is what a process stopped under a
// debugger looks like. It returns when ctx is done or the lockout fires.
func (m *Monitor) RunPauseProbe(ctx context.Context, clock scheduler.Clock, expr *scheduler.CronExpr) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-m.lockout.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	prev := clock.Now()
	expected := expr.Next(prev).Sub(prev)
	scheduler.Every(ctx, clock, expr, func(now time.Time) {
		if gap := now.Sub(prev) - expected; gap > 0 {
			m.DebuggerProbe(gap)
		}
		prev = now
		expected = expr.Next(now).Sub(now)
	})
}
