// Package scheduler turns trigger rules into tasks on the task engine.
//
// It owns no workers. Rules are daily wall-clock times in a per-entry IANA
// timezone, fixed intervals (with a startup spread), or one-shot timers.
// When a rule fires the scheduler enqueues a task and returns immediately.
package scheduler
