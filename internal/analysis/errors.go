package analysis

import "errors"

// Common errors returned by Analyzer and ContentFetcher implementations.
// The worker classifies every provider and fetch failure through these
// sentinels; nothing else crosses the boundary.
var (
	// ErrRateLimited is returned when the provider rejects the call with a
	// rate-limit signal (HTTP 429 / RESOURCE_EXHAUSTED). Requeued without
	// consuming retry quota.
	ErrRateLimited = errors.New("analysis provider rate limited")

	// ErrTransient is returned for temporary failures (network, timeout,
	// 5xx) that might resolve on retry.
	ErrTransient = errors.New("transient analysis failure")

	// ErrContentRejected is returned when the document itself is
	// unsupported or corrupt. Terminal, never retried.
	ErrContentRejected = errors.New("document content rejected")

	// ErrPermanent is returned for account-level failures such as invalid
	// credentials or exhausted quota. Terminal and alert-worthy.
	ErrPermanent = errors.New("permanent analysis failure")

	// ErrInvalidResponse is returned when the provider response cannot be
	// decoded against the result schema.
	ErrInvalidResponse = errors.New("invalid response from analysis provider")

	// ErrContentNotFound is returned by ContentFetcher when the content
	// reference does not resolve to a document.
	ErrContentNotFound = errors.New("content not found")

	// ErrInvalidConfig is returned when an analyzer is constructed with
	// invalid configuration.
	ErrInvalidConfig = errors.New("invalid analyzer configuration")
)
