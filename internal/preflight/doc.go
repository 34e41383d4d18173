// Package preflight provides readiness checks for the directories, the
// voxelise executable, and the remote API the worker depends on.
//
// The checks run in two contexts:
//   - The daemon runtime calls RunAll once at startup and logs each failure
//     as a warning; the poll loop still starts so transient outages recover.
//   - The CLI "voxeliser check" command renders the same results as a table
//     and exits non-zero when any check fails.
package preflight
