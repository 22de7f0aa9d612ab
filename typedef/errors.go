package typedef

import "errors"

// Decode and dispatch failure taxonomy. Callers match with errors.Is;
// sites wrap these with fmt.Errorf("%w: ...") for context.
var (
	// ErrFormat: bad magic or unsupported format version on decode.
	ErrFormat = errors.New("unrecognized message format")

	// ErrTruncated: a declared count does not match the consumed byte
	// length. The whole message must be rejected, never partially applied.
	ErrTruncated = errors.New("truncated message")

	// ErrDictionary: an index field resolves outside the bounds of the
	// dictionary in force.
	ErrDictionary = errors.New("index outside dictionary bounds")

	// ErrWorkerUnavailable: the pool never became ready within the
	// dispatch retry budget, or has failed closed.
	ErrWorkerUnavailable = errors.New("worker pool unavailable")
)
