// Package service exposes the pipeline's caller-facing operations:
// submitting documents for analysis and querying task status. It is the
// only surface the host application's request handlers touch.
package service
