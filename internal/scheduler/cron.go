package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

var specParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// CronExpr wraps a parsed schedule. Accepts 5 or 6 field cron expressions and
// descriptors such as "@every 1s".
type CronExpr struct {
	raw      string
	schedule cron.Schedule
}

// ParseCron parses a cron expression string.
func ParseCron(expr string) (*CronExpr, error) {
	schedule, err := specParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parse cron %q: %w", expr, err)
	}
	return &CronExpr{raw: expr, schedule: schedule}, nil
}

// Next returns the next activation time after t.
func (c *CronExpr) Next(t time.Time) time.Time {
	return c.schedule.Next(t)
}

// String returns the raw cron expression.
func (c *CronExpr) String() string {
	return c.raw
}

// Every calls fn at each activation of expr until ctx is done. fn runs on the
// calling goroutine; a slow fn delays later activations rather than stacking them.
func Every(ctx context.Context, clock Clock, expr *CronExpr, fn func(time.Time)) {
	for {
		now := clock.Now()
		next := expr.Next(now)
		if next.IsZero() {
			return
		}
		select {
		case <-ctx.Done():
			return
		case at := <-clock.After(next.Sub(now)):
			fn(at)
		}
	}
}
