// Package mailing implements the campaign core: the per-operator selection
// workflow, recipient resolution, and the broadcast executor.
//
// Concepts
//
// A campaign starts as an operator's selection session: pick a template,
// toggle destination groups, confirm. Confirmation shows a preview (resolved
// recipient count + truncated template text) without touching the database.
// Execute creates the durable Campaign record and hands it to the Executor,
// which re-resolves the recipient set, delivers the payload one destination
// at a time under a rate limit, isolates per-destination failures, reports
// periodic progress and persists the final counters.
//
// Delivery semantics
//
// Best-effort, no retries: a destination that fails is counted and not
// revisited within the same run. A reporting failure never stalls delivery.
// Once dispatch begins there is no cancellation; only process shutdown
// interrupts a run, which finalizes the campaign as failed with the
// counters collected so far.
package mailing
