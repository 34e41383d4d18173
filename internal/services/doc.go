// Package services defines shared utilities consumed by the pipeline stages
// and the remote integrations.
//
// Key responsibilities:
//   - Context helpers that stamp job IDs, stage names, and correlation
//     identifiers for logging.
//   - Structured error markers plus the Wrap helper that classify failures
//     (validation, transient, download, transform, upload, link) so the
//     orchestrator and the poll loop can decide between skipping a job,
//     skipping a cycle, and stopping.
//
// Use these helpers when wiring new stage logic so operational behaviour
// (error handling, observability, retries) stays uniform across the pipeline.
package services
