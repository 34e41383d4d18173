// Package daemon hosts the long-running voxeliser worker.
//
// A Daemon holds a file lock in the log directory so only one worker runs per
// host, starts the workflow poll loop, and optionally serves a small
// read-only HTTP status API.
package daemon
