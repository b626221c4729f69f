// Package ops serves the operator HTTP surface: liveness and readiness,
// the delivery job table, manual delivery triggers, receipts, lesson
// previews and pprof.
//
// Every route except /healthz requires the bearer token when one is set.
package ops
