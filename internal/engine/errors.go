package engine

import "errors"

// Validation failures are rejected before any state mutation.
var (
	ErrAuthRequired     = errors.New("authenticated user context required")
	ErrMissingSection   = errors.New("section id required")
	ErrSessionClosed    = errors.New("editing session closed")
	ErrFileTooLarge     = errors.New("file exceeds the maximum upload size")
	ErrUploadInProgress = errors.New("an upload for this field is already in flight")
)

// RemoteError wraps a failure from the document store or object storage.
// Transient marks network-class failures that resolve on retry; the engine
// keeps the affected edits queued and stays quiet about them. Everything
// else surfaces a user-visible warning.
type RemoteError struct {
	Transient bool
	Err       error
}

func (e *RemoteError) Error() string {
	if e.Err == nil {
		return "remote operation failed"
	}
	return e.Err.Error()
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is a network-classified remote failure.
func IsTransient(err error) bool {
	var remote *RemoteError
	return errors.As(err, &remote) && remote.Transient
}
