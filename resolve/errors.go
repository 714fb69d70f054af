package resolve

import "errors"

// Sentinel errors implementing the taxonomy in spec.md §7. They are kinds,
// not types: adapters and the resolver wrap them with %w and context, and
// callers distinguish with errors.Is.
var (
	// ErrNotFound is returned by an Adapter when a requested package or
	// version does not exist in its index at all.
	ErrNotFound = errors.New("not found")

	// ErrRequestInvalid marks an unknown ecosystem or malformed name/version
	// in a PackageRequest. Always aborts the operation immediately.
	ErrRequestInvalid = errors.New("request invalid")

	// ErrNoCompatibleArtifact marks that no artifact satisfies the
	// platform.Profile. Aborts resolution for a root request; recorded as
	// a FailedPackage for a transitive dependency.
	ErrNoCompatibleArtifact = errors.New("no compatible artifact")

	// ErrIndexUnavailable marks repeated network failure talking to an
	// index, after the retry budget is exhausted. Handled identically to
	// ErrNoCompatibleArtifact.
	ErrIndexUnavailable = errors.New("index unavailable")

	// ErrFetchFailed marks a body stream failure beyond the retry budget,
	// a checksum mismatch, or a disk write error during Fetch.
	ErrFetchFailed = errors.New("fetch failed")

	// ErrCancelled marks that a session's cancellation token tripped.
	ErrCancelled = errors.New("cancelled")
)
