package cookbook

import "errors"

// Run-level errors abort a sync and leave the last committed version current.
var (
	ErrMalformedCatalog  = errors.New("malformed catalog")
	ErrRemoteUnreachable = errors.New("remote unreachable")
	ErrCommitFailed      = errors.New("commit failed")
	ErrSyncInProgress    = errors.New("sync already in progress for remote")
)

// Unit-level errors are recorded in the run report and never abort a run.
var (
	ErrUnresolvedSelection  = errors.New("unresolved selection")
	ErrArtifactFetchFailed  = errors.New("artifact fetch failed")
	ErrInvalidPathComponent = errors.New("invalid path component")
)

// ErrImmutableContentViolation is returned for any attempt to change a unit
// that has already been stored or committed.
var ErrImmutableContentViolation = errors.New("content is immutable")

// ErrDigestMismatch reports bytes that do not hash to the SHA256 content id
// they are stored under.
var ErrDigestMismatch = errors.New("content digest mismatch")

// ErrSignatureInvalid is returned when a catalog signature is missing or does
// not verify against the configured key. It aborts the run.
var ErrSignatureInvalid = errors.New("catalog signature invalid")
