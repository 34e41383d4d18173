// Package notifications publishes job outcome events to an ntfy topic.
//
// NewService returns a no-op implementation when no topic is configured so
// callers never need to check.
package notifications
