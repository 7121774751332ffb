package domain

import "time"

// JobStatus is the status of a job as reported by an external processing service.
// Values include JobStatusPending, JobStatusSucceeded, and JobStatusFailed.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// IsTerminal reports whether no further transition can follow s.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed
}

// Job is a snapshot of one in-flight request to an external generation service.
// Result is set only when Status is succeeded, FailureReason only when failed.
type Job struct {
	ID            string    `json:"id"`
	Status        JobStatus `json:"status"`
	SubmittedAt   time.Time `json:"submitted_at"`
	Result        string    `json:"result,omitempty"`
	FailureReason string    `json:"failure_reason,omitempty"`
}

// JobKind names the operation a job asks the external service to perform.
type JobKind string

const (
	JobKindGenerate         JobKind = "generate"
	JobKindEdit             JobKind = "edit"
	JobKindRecolor          JobKind = "recolor"
	JobKindUpscale          JobKind = "upscale"
	JobKindRemoveBackground JobKind = "remove_background"
	JobKindVariation        JobKind = "variation"
)

// Valid reports whether k is a known job kind.
func (k JobKind) Valid() bool {
	switch k {
	case JobKindGenerate, JobKindEdit, JobKindRecolor, JobKindUpscale, JobKindRemoveBackground, JobKindVariation:
		return true
	}
	return false
}

// NeedsSource reports whether the kind operates on an existing image.
func (k JobKind) NeedsSource() bool {
	return k != JobKindGenerate && k != ""
}

// JobRequest is the payload handed to a transport on submission.
// Input is passed through to the provider untouched.
type JobRequest struct {
	Kind      JobKind                `json:"kind"`
	Prompt    string                 `json:"prompt,omitempty"`
	SourceURL string                 `json:"source_url,omitempty"`
	Input     map[string]interface{} `json:"input,omitempty"`
}
