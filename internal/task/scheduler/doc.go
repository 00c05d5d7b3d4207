// Package scheduler triggers named jobs on cron or interval schedules.
//
// Jobs run on cron's goroutines. A trigger that fires while the previous run
// of the same schedule is still going is skipped, not queued.
package scheduler
