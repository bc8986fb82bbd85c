package app

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"breakout-radar/internal/scheduler"
	"breakout-radar/internal/service"
)

// maxTriggerDays bounds a manual date-range run.
const maxTriggerDays = 31

// Trigger runs the pipeline outside the schedule, for one category or all of them,
// over each day in [From, To].
func (a *App) Trigger(ctx context.Context, opts TriggerOptions) error {
	from, to := opts.From, opts.To
	if from.IsZero() {
		from = a.today()
	}
	if to.IsZero() {
		to = from
	}
	from, to = scheduler.RunDay(from), scheduler.RunDay(to)
	if to.Before(from) {
		return errors.New("empty date range, check --from/--to")
	}
	if days := int(to.Sub(from).Hours()/24) + 1; days > maxTriggerDays {
		return fmt.Errorf("date range of %d days exceeds %d", days, maxTriggerDays)
	}

	rt, err := a.build(ctx, false, false)
	if err != nil {
		return err
	}
	defer rt.Close()

	failedRuns := 0
	for day := from; !day.After(to); day = day.AddDate(0, 0, 1) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		var report service.RunReport
		if opts.CategoryID != "" {
			report, err = rt.service.RunCategory(ctx, opts.CategoryID, day)
		} else {
			report, err = rt.service.RunAll(ctx, day, service.TriggerManual)
		}
		if err != nil {
			return err
		}
		a.printReport(report)
		if report.Failed() > 0 {
			failedRuns++
		}
	}

	snap := rt.counter.Snapshot()
	a.Logger.Info().Int64("requests", snap.Total).Int("failed_runs", failedRuns).Msg("manual run complete")
	if failedRuns > 0 {
		return errors.New("some categories failed, check the logs")
	}
	return nil
}

func (a *App) printReport(report service.RunReport) {
	fmt.Fprintf(a.Out, "run %s  date %s  trigger %s  purged %d\n",
		report.RunID, report.Date.Format(time.DateOnly), report.Trigger, report.Purged)

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Category\tOutcome\tSource\tFetched\tQualified\tRanked\tDuration\tError")
	for _, res := range report.Results {
		errMsg := ""
		if res.Err != nil {
			errMsg = sanitizeInline(res.Err.Error())
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
			res.CategoryID,
			res.Outcome,
			res.Freshness,
			res.Fetched,
			res.Qualified,
			res.Ranked,
			res.Duration.Round(time.Millisecond),
			errMsg,
		)
	}
	writer.Flush()
}

// today is the current calendar day in the scheduler's timezone.
func (a *App) today() time.Time {
	now := time.Now()
	if loc, err := time.LoadLocation(a.Config.Scheduler.Timezone); err == nil {
		now = now.In(loc)
	}
	return scheduler.RunDay(now)
}
