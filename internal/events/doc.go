// Package events defines the analysis completion events emitted by the
// pipeline and the emitter/handler interfaces that connect it to the
// host's notification collaborator without a direct dependency.
package events
