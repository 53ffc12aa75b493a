package backend

import (
	"errors"
	"fmt"
)

// ErrMissingArtifact means the backend answered without a video file path.
// Clients match on this exact text.
var ErrMissingArtifact = errors.New("Inference did not return a video file path.")

// ParamError reports a required parameter that is absent or has the wrong type.
type ParamError struct {
	Key    string
	Reason string
}

func (e *ParamError) Error() string {
	return fmt.Sprintf("%s parameter %q", e.Reason, e.Key)
}

// InvocationError wraps a failure raised by the backend call. Its message is
// the backend's own message, unchanged.
type InvocationError struct {
	Err error
}

func (e *InvocationError) Error() string { return e.Err.Error() }

func (e *InvocationError) Unwrap() error { return e.Err }

// RelocationError wraps a failure to move the artifact to its final path.
// Its message is the underlying filesystem error's message.
type RelocationError struct {
	From string
	To   string
	Err  error
}

func (e *RelocationError) Error() string { return e.Err.Error() }

func (e *RelocationError) Unwrap() error { return e.Err }
