// Package config loads, normalizes, and validates voxeliser configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// VOXELISER_API_URL. The Config type centralizes every knob the poll loop,
// the pipeline, and the CLI need; it is built once at startup and passed by
// reference, never mutated afterwards.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, resolved thread counts, and clear validation errors.
package config
