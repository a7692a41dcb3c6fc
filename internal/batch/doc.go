// Package batch submits cases to an external batch queue.
//
// Cases are grouped per dependency level and per process count: every job
// of a submission requests the same number of processes. Within such a
// cell, cases are packed greedily into batches bounded by a case count and
// by a wall-clock budget (the sum of their expected times). Batches of
// level n are submitted with an "afterany" dependency on the jobs of their
// cases' parents, so the queue itself enforces execution order; the
// controller never waits for a job to finish.
//
// After every compute batch, one trailing batch depending on all of them
// runs the state report, comparisons and post-processing.
package batch
