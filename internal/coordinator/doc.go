// Package coordinator runs the per-entry polling loops of the departure,
// status, route and vehicles entries.
//
// A Coordinator[T] owns the last successfully fetched T for one entry.
// Refresh fetches once under a 10 second timeout; Run refreshes every
// interval and backs off exponentially (x2, ±25% jitter, capped at ten
// intervals) while fetches keep failing. When the entry names a gating
// binary_sensor whose state is not "on", Refresh is skipped and the previous
// data is kept.
package coordinator
