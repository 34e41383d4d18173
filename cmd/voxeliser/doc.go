// Package main hosts the voxeliser CLI entrypoint and command graph.
//
// The Cobra-based command tree runs the poll loop in the foreground, drives a
// single cycle for ad-hoc processing, lists pending meshes, runs preflight
// checks, and talks to a running daemon over its local status API. Config
// resolution lives in commandContext so subcommands only deal with output.
//
// Keep this package lean: new behavior belongs in the internal packages and
// is surfaced here through dedicated commands or flags.
package main
