// Package notifier sends lesson emails through an ordered list of transports.
//
// Each Send tries the transports in order and stops at the first success.
// Every transport gets exactly one attempt per Send, bounded by a
// per-attempt timeout. When all of them fail the caller gets an
// *AllTransportsFailedError describing each attempt by error kind.
//
// # Logging
//
// Attempts are logged by transport name and error kind only. Message bodies,
// provider error bodies and credentials never reach the log.
//
// # History
//
// For operator visibility the service keeps a small in-memory history of
// recent sends, exposed through Snapshot.
package notifier
