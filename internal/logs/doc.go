// Package logs reads the worker's log file for the CLI.
//
// Tail returns the last N lines (or everything after a byte offset) with
// bounded memory, optionally narrowed to a single job's lines, and Follow
// streams lines appended later until the context ends. `voxeliser logs`
// is the only caller.
package logs
