// Package jobs turns raw mesh records fetched from the remote API into
// validated, immutable Job values and derives the on-disk paths the
// pipeline reads and writes for each job.
//
// Records are decoded leniently so that one malformed entry never breaks a
// batch; Validate is the single place that decides whether a record is
// processable.
package jobs
