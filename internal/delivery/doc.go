// Package delivery runs the per-subscription lesson pipeline.
//
// Workflow.Deliver performs one delivery attempt: it loads the subscription,
// applies the confirmation and dedup guards, generates the next lesson from
// the delivery history, sends it through the notifier and records it. Policy
// skips and failures come back as an Outcome; nothing here panics or stops
// the scheduler.
//
// Jobs is the job table. It keeps exactly one daily trigger per active
// subscription, keyed by subscription id, and feeds fires into the task
// engine so that at most one delivery per subscription runs at a time.
package delivery
