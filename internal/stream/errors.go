// Package stream implements the self-healing byte-range streaming engine
// (C5) described in spec.md §4.5: it turns a validated rangeparse.Range
// plus an upstream.Client into a sequence of exact-byte chunks, retrying
// transparently across FILE_REFERENCE_EXPIRED and transient network
// failures without ever handing the caller a partial, wrong-byte-count
// response.
package stream

import "errors"

// Sentinel errors classify every failure the engine and its callers
// (the HTTP surface) need to branch on. Callers use errors.Is against
// these, never string matching against upstream error text — upstream
// classification happens once, in internal/upstream, and crosses the
// package boundary as one of these values.
var (
	// ErrNotFound means the backing message/file no longer resolves to
	// any upstream content (deleted message, wrong channel). Maps to
	// HTTP 404.
	ErrNotFound = errors.New("stream: file not found")

	// ErrRangeNotSatisfiable means the requested byte range is invalid
	// for the file's current size. Maps to HTTP 416.
	ErrRangeNotSatisfiable = errors.New("stream: range not satisfiable")

	// ErrReferenceExpired means the upstream file reference expired
	// mid-fetch. The engine retries this internally by re-resolving the
	// locator; it only escapes to a caller if every retry attempt also
	// fails this way.
	ErrReferenceExpired = errors.New("stream: file reference expired")

	// ErrBlobTimeout means a single fetch attempt exceeded
	// config.BlobTimeoutSeconds. Counts as an exhausted attempt in the
	// self-heal loop.
	ErrBlobTimeout = errors.New("stream: blob fetch timed out")

	// ErrNetworkTransient covers connection resets, i/o timeouts, and
	// other errors worth retrying without re-resolving the locator.
	ErrNetworkTransient = errors.New("stream: transient network error")

	// ErrFloodLimited means the upstream rate limiter rejected the
	// request outright. Maps to HTTP 503 with Retry-After: 5.
	ErrFloodLimited = errors.New("stream: upstream flood limited")

	// ErrUnauthorized means the upstream credential/session is no
	// longer valid and cannot self-heal (operator intervention needed).
	ErrUnauthorized = errors.New("stream: upstream unauthorized")

	// ErrPrematureEOF means upstream closed the chunk stream before
	// delivering the full chunk plan's byte count, after all retries.
	ErrPrematureEOF = errors.New("stream: premature end of stream")

	// ErrStreamBroken is the catch-all for an exhausted self-heal
	// budget: every attempt failed and none of the more specific
	// sentinels applies cleanly. Maps to HTTP 503.
	ErrStreamBroken = errors.New("stream: broken after retries")
)

// retryable reports whether err is worth another self-heal attempt.
// ErrNotFound, ErrRangeNotSatisfiable and ErrUnauthorized are not:
// retrying them wastes the attempt budget on a failure mode no amount
// of re-resolution fixes.
func retryable(err error) bool {
	switch {
	case errors.Is(err, ErrReferenceExpired),
		errors.Is(err, ErrBlobTimeout),
		errors.Is(err, ErrNetworkTransient),
		errors.Is(err, ErrFloodLimited),
		errors.Is(err, ErrPrematureEOF):
		return true
	default:
		return false
	}
}
