package classify

import "errors"

// Sentinel errors shared across store and pipeline packages.
var (
	// ErrDuplicateRecord is returned by RecordStore.Create when the URL
	// already has a record. The loser of a create race receives this
	// deterministically and is expected to re-read.
	ErrDuplicateRecord = errors.New("record already exists")

	// ErrRecordNotFound is returned by RecordStore lookups for unknown URLs.
	ErrRecordNotFound = errors.New("record not found")

	// ErrJobNotFound is returned for unknown and expired job handles; the two
	// cases are indistinguishable by design.
	ErrJobNotFound = errors.New("job not found")

	// ErrModelUnavailable is returned by a Scorer whose artifact failed to
	// load. The first failed load is terminal for the process lifetime.
	ErrModelUnavailable = errors.New("model unavailable")
)
