// Package task implements the background document-analysis pipeline: the
// task store contract with atomic claim semantics, the dispatcher loop
// that schedules ready tasks under a hard concurrency bound, and the
// worker that runs a single task against the AI provider through the
// dedupe cache and the rate limiter.
package task
