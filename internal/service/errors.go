package service

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRequest is returned for requests rejected before anything is submitted.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrRunNotFound is returned when a generation run id is unknown.
	ErrRunNotFound = errors.New("generation run not found")

	// ErrStorageDisabled is returned when a result can only be kept by mirroring it.
	ErrStorageDisabled = errors.New("object storage is disabled")
)

// JobFailedError is returned when the external service finished the job with a
// failure status.
type JobFailedError struct {
	Provider string
	JobID    string
	Reason   string
}

func (e *JobFailedError) Error() string {
	return fmt.Sprintf("job %s on %s failed: %s", e.JobID, e.Provider, e.Reason)
}

func invalidf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}
