package domain

import "time"

// RunStatus represents the local status of a generation run.
// Values include RunStatusRunning, RunStatusSucceeded, RunStatusFailed,
// RunStatusTimedOut, and RunStatusCanceled.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
	RunStatusTimedOut  RunStatus = "timed_out"
	RunStatusCanceled  RunStatus = "canceled"
)

// GenerationRun records one user-triggered generation and its outcome.
// The external Job itself is not stored; only what the caller needs to follow up.
type GenerationRun struct {
	ID               string     `gorm:"type:text;primaryKey" json:"id"`
	WorkspaceID      string     `gorm:"type:text;not null;index:idx_runs_workspace" json:"workspace_id"`
	Provider         string     `gorm:"type:text;not null" json:"provider"`
	Kind             JobKind    `gorm:"type:text;not null" json:"kind"`
	Prompt           string     `gorm:"type:text" json:"prompt,omitempty"`
	ParentArtifactID string     `gorm:"type:text" json:"parent_artifact_id,omitempty"`
	ExternalJobID    string     `gorm:"type:text" json:"external_job_id,omitempty"`
	Status           RunStatus  `gorm:"type:text;index:idx_runs_status;default:running" json:"status"`
	ArtifactID       string     `gorm:"type:text" json:"artifact_id,omitempty"`
	Error            string     `gorm:"type:text" json:"error,omitempty"`
	Attempts         int        `json:"attempts,omitempty"`
	StartedAt        time.Time  `json:"started_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// TableName returns the database table name for GenerationRun.
func (GenerationRun) TableName() string {
	return "generation_runs"
}
