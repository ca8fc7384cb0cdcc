// Package analysis defines the boundary between the document-analysis
// pipeline and its external collaborators: the AI provider that analyzes
// documents and the content store that serves their bytes. The pipeline
// core depends only on the interfaces and sentinel errors declared here,
// following the hexagonal architecture pattern; concrete implementations
// live under internal/platform.
package analysis
