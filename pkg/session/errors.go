package session

import (
	"errors"
	"fmt"
)

var (
	// ErrRemoteLengthLimited is matched by *LengthLimitedError.
	ErrRemoteLengthLimited = errors.New("remote reply was length limited")
	// ErrRemoteFailure wraps every remote error that eviction cannot recover from.
	ErrRemoteFailure = errors.New("remote failure")
	// ErrConcurrentUse is returned when a session is entered while another call is in flight.
	ErrConcurrentUse = errors.New("session is already in use")
	// ErrSessionShared is returned by SendAll for jobs that reuse a session from the same batch.
	ErrSessionShared = errors.New("session shared between jobs")
	// ErrNoSession is returned by SendAll for jobs without a session.
	ErrNoSession = errors.New("job has no session")
	// ErrInvalidRequest is returned when the window would produce a request no provider accepts.
	ErrInvalidRequest = errors.New("invalid completion request")
	// ErrInvalidDocument is returned when a session document cannot be restored.
	ErrInvalidDocument = errors.New("invalid session document")
)

// LengthLimitedError reports a reply cut off by the output token limit.
// Nothing is appended to the conversation and usage is not merged.
type LengthLimitedError struct {
	Partial string
	Usage   Usage
}

func (e *LengthLimitedError) Error() string {
	return fmt.Sprintf("%s after %d completion units", ErrRemoteLengthLimited, e.Usage.CompletionUnits)
}

// Is matches ErrRemoteLengthLimited.
func (e *LengthLimitedError) Is(target error) bool {
	return target == ErrRemoteLengthLimited
}
