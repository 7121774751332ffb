package domain

import "time"

// Artifact is a generated image tracked by the studio.
// Records are never edited after creation; an edit produces a new Artifact whose
// DerivedFromID points at the source. The parent link is the only column a
// delete policy may rewrite.
type Artifact struct {
	ID            string  `gorm:"type:text;primaryKey" json:"id"`
	WorkspaceID   string  `gorm:"type:text;not null;index:idx_artifacts_workspace" json:"workspace_id"`
	Locator       string  `gorm:"type:text;not null" json:"locator"`
	DerivedFromID *string `gorm:"type:text;index:idx_artifacts_parent" json:"derived_from_id,omitempty"`

	// SourceArtifactID records a parent that lives in another workspace. It is
	// provenance only and does not take part in the derivation forest.
	SourceArtifactID string `gorm:"type:text" json:"source_artifact_id,omitempty"`

	Kind       JobKind   `gorm:"type:text" json:"kind,omitempty"`
	Prompt     string    `gorm:"type:text" json:"prompt,omitempty"`
	Provider   string    `gorm:"type:text" json:"provider,omitempty"`
	JobID      string    `gorm:"type:text" json:"job_id,omitempty"`
	StorageKey string    `gorm:"type:text" json:"storage_key,omitempty"`
	MimeType   string    `gorm:"type:text" json:"mime_type,omitempty"`
	Width      int       `json:"width,omitempty"`
	Height     int       `json:"height,omitempty"`
	FileSize   int64     `json:"file_size,omitempty"`
	CreatedAt  time.Time `gorm:"index:idx_artifacts_created" json:"created_at"`
}

// TableName returns the database table name for Artifact.
func (Artifact) TableName() string {
	return "artifacts"
}

// IsRoot reports whether the artifact was not derived from another artifact.
func (a Artifact) IsRoot() bool {
	return a.DerivedFromID == nil || *a.DerivedFromID == ""
}

// ParentID returns the parent id or "" for roots.
func (a Artifact) ParentID() string {
	if a.DerivedFromID == nil {
		return ""
	}
	return *a.DerivedFromID
}
