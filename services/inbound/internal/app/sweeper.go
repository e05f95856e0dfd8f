package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"

	"storeops/internal/util"
)

// RunExpirySweeper materializes EXPIRED on schedule until ctx is done.
// Lookups already treat overdue actions as gone; the sweep only tidies rows.
func (a *App) RunExpirySweeper(ctx context.Context, schedule string) error {
	schedule = strings.TrimSpace(schedule)
	if schedule == "" {
		return nil
	}
	logger := util.LoggerFromContext(ctx).With("component", "expiry_sweeper")
	c := cron.New(cron.WithLocation(a.location))
	if _, err := c.AddFunc(schedule, func() {
		n, err := a.ExpirePending(ctx)
		if err != nil {
			logger.Error("expiry sweep failed", "err", err)
			return
		}
		if n > 0 {
			logger.Info("pending actions expired", "count", n)
		}
	}); err != nil {
		return fmt.Errorf("expiry schedule %q: %w", schedule, err)
	}
	c.Start()
	logger.Info("expiry sweeper started", "schedule", schedule)
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}
