// Package scheduler turns the task set into cron registrations and fires them.
//
// It is trigger-only: a fire hands the task to the execution engine, which
// applies the per-task overlap gate and runs it on its own goroutine. The
// registration set is always rebuilt in full from the current task list.
package scheduler
