package exposure

import "errors"

var (
	// ErrMalformedCommand is returned for set payloads that cannot be parsed.
	ErrMalformedCommand = errors.New("exposure: malformed command")

	// ErrNotStarted is returned when commands arrive before Start.
	ErrNotStarted = errors.New("exposure: bridge not started")

	// ErrStopped is returned for commands that arrive after Stop.
	ErrStopped = errors.New("exposure: bridge stopped")

	// ErrMissingDependency is returned by New when a required option is nil.
	ErrMissingDependency = errors.New("exposure: missing dependency")
)
