// Package worker owns the shared in-memory registries that several config
// entries subscribe to:
//
//   - rrkeys / rp3keys: one KeyRecord per API credential listing the stops
//     (deps, arrs) and "src-dst" trip pairs requested under it
//   - rrd, rra, rrr: Resrobot departure boards, arrival boards and trips as
//     Slots keyed by stop id or trip pair
//   - rp3: SL route planner trips (registered but not processed)
//   - fp: SL vehicle positions keyed by train type
//
// Assert* registers a subscription and creates the default Pending slot;
// Release* drops one subscription and deletes the slot once nothing
// references it. Process* runs one refresh pass: identifiers are deduplicated
// per key, fresh slots are skipped, and a failure on one stop is recorded on
// its slot without aborting the pass. Run ticks the passes and notifies
// OnUpdate subscribers after each one.
package worker
