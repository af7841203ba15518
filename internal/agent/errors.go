package agent

import "errors"

var (
	// ErrAlreadyRunning is returned by Process while a run is active.
	ErrAlreadyRunning = errors.New("agent loop is already running")
	// ErrNotInitialized is returned by Process before Init.
	ErrNotInitialized = errors.New("agent loop is not initialized")
)

// StreamError reports an error chunk from the model stream. The run that
// saw it has already fired its Stop hook.
type StreamError struct {
	Err error
}

func (e *StreamError) Error() string {
	if e.Err == nil {
		return "model stream error"
	}
	return "model stream error: " + e.Err.Error()
}

func (e *StreamError) Unwrap() error { return e.Err }
