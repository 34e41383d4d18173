// Package voxelise wraps the external voxelise executable that converts an
// OBJ mesh into a dimension³ uint8 volume.
//
// EnsureTransformed is idempotent: an existing output file is trusted and the
// executable is not run again. Output is written to a temporary sibling and
// only renamed into place once its size matches the requested dimension, so
// a crash mid-run never leaves a file the idempotency check would accept.
package voxelise
