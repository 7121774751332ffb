package poller

import (
	"errors"
	"fmt"
	"time"

	"github.com/timmy/lookbook/internal/domain"
)

// ErrRejected marks a definitive rejection by the external service. Transports wrap
// it when a request can never succeed (bad input, bad credentials, unknown job).
var ErrRejected = errors.New("rejected by service")

// SubmissionError is returned when the service is unreachable or refuses a job at
// submit time. It is never retried automatically.
type SubmissionError struct {
	Provider string
	Err      error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submit to %s failed: %v", e.Provider, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// Rejected reports whether the service answered with a definitive refusal rather
// than being unreachable.
func (e *SubmissionError) Rejected() bool {
	return errors.Is(e.Err, ErrRejected)
}

// PollTransportError is returned when status queries failed at the transport
// level. Permanent is set when the service rejected the query and the loop stopped
// early; otherwise the attempt budget ran out on a transient failure.
type PollTransportError struct {
	JobID     string
	Attempts  int
	Permanent bool
	Err       error
}

func (e *PollTransportError) Error() string {
	if e.Permanent {
		return fmt.Sprintf("status of job %s rejected after %d attempts: %v", e.JobID, e.Attempts, e.Err)
	}
	return fmt.Sprintf("status of job %s unavailable after %d attempts: %v", e.JobID, e.Attempts, e.Err)
}

func (e *PollTransportError) Unwrap() error { return e.Err }

// PollTimeoutError is returned when the job was still pending after the whole
// attempt budget. The job may still complete on the external side.
type PollTimeoutError struct {
	JobID    string
	Attempts int
	Budget   time.Duration
	Last     domain.Job
}

func (e *PollTimeoutError) Error() string {
	return fmt.Sprintf("job %s still %s after %d attempts (%s budget)", e.JobID, e.Last.Status, e.Attempts, e.Budget)
}
