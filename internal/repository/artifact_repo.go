package repository

import (
	"context"
	"errors"

	"github.com/timmy/lookbook/internal/domain"
	"gorm.io/gorm"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("record not found")

func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// ArtifactRepository persists artifacts. Rows are immutable apart from the
// parent link, which delete policies rewrite.
type ArtifactRepository struct {
	db *gorm.DB
}

// NewArtifactRepository creates a new ArtifactRepository.
// Parameters:
//   - db: GORM database handle used for queries.
//
// Returns:
//   - *ArtifactRepository: repository instance bound to db.
func NewArtifactRepository(db *gorm.DB) *ArtifactRepository {
	return &ArtifactRepository{db: db}
}

// Create inserts a new artifact record.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - artifact: artifact record to persist.
//
// Returns:
//   - error: non-nil if the insert fails.
func (r *ArtifactRepository) Create(ctx context.Context, artifact *domain.Artifact) error {
	return r.db.WithContext(ctx).Create(artifact).Error
}

// GetByID retrieves an artifact in any workspace.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: artifact ID.
//
// Returns:
//   - *domain.Artifact: artifact record if found.
//   - error: ErrNotFound if no row matches.
func (r *ArtifactRepository) GetByID(ctx context.Context, id string) (*domain.Artifact, error) {
	var a domain.Artifact
	if err := r.db.WithContext(ctx).First(&a, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &a, nil
}

// ListByWorkspace returns every artifact of a workspace in creation order, so
// parents always precede their children.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - workspaceID: workspace to list.
//
// Returns:
//   - []domain.Artifact: artifacts ordered by created_at, then id.
//   - error: non-nil if the query fails.
func (r *ArtifactRepository) ListByWorkspace(ctx context.Context, workspaceID string) ([]domain.Artifact, error) {
	var out []domain.Artifact
	err := r.db.WithContext(ctx).
		Where("workspace_id = ?", workspaceID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&out).Error
	return out, err
}

// DeleteByIDs removes the given artifacts of a workspace.
func (r *ArtifactRepository) DeleteByIDs(ctx context.Context, workspaceID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Where("workspace_id = ? AND id IN ?", workspaceID, ids).
		Delete(&domain.Artifact{}).Error
}

// UpdateParent rewrites the parent link of one artifact; "" makes it a root.
func (r *ArtifactRepository) UpdateParent(ctx context.Context, id, parentID string) error {
	var parent *string
	if parentID != "" {
		parent = &parentID
	}
	res := r.db.WithContext(ctx).
		Model(&domain.Artifact{}).
		Where("id = ?", id).
		Update("derived_from_id", parent)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ApplyDeletion removes ids and rewrites the parent links of reparented in one
// transaction.
func (r *ArtifactRepository) ApplyDeletion(ctx context.Context, workspaceID string, ids []string, reparented []domain.Artifact) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txRepo := &ArtifactRepository{db: tx}
		for _, a := range reparented {
			if err := txRepo.UpdateParent(ctx, a.ID, a.ParentID()); err != nil {
				return err
			}
		}
		return txRepo.DeleteByIDs(ctx, workspaceID, ids)
	})
}

// CountByWorkspace returns the number of artifacts in a workspace.
func (r *ArtifactRepository) CountByWorkspace(ctx context.Context, workspaceID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.Artifact{}).Where("workspace_id = ?", workspaceID).Count(&count).Error
	return count, err
}
