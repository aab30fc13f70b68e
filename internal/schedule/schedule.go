// Package schedule runs periodic background jobs on a cron runner.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Every returns a cron.Schedule that fires at a fixed delay.
// Unlike cron.Every, it supports sub-second durations.
func Every(d time.Duration) cron.Schedule {
	return constantDelay{delay: d}
}

type constantDelay struct {
	delay time.Duration
}

func (d constantDelay) Next(t time.Time) time.Time {
	return t.Add(d.delay)
}

// Run calls job once right away and then every interval until ctx is
// cancelled. A run that is still busy when the next one is due causes that
// one to be skipped. Run waits for a running job before returning.
func Run(ctx context.Context, name string, interval time.Duration, job func(ctx context.Context)) error {
	if interval <= 0 {
		return fmt.Errorf("schedule: %s: interval must be > 0", name)
	}

	c := cron.New(cron.WithChain(
		cron.Recover(cron.DiscardLogger),
		cron.SkipIfStillRunning(cron.DiscardLogger),
	))
	c.Schedule(Every(interval), cron.FuncJob(func() {
		if ctx.Err() != nil {
			return
		}
		job(ctx)
	}))

	job(ctx)
	c.Start()
	slog.Debug("job scheduled", "job", name, "interval", interval)

	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}
