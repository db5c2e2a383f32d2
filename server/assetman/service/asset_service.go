package service

import (
	"context"
	"strings"
	"time"

	"assethub/server/assetman/domain"
	"assethub/server/assetman/repository"
	"assethub/server/common/infra/object"
	"assethub/server/common/log"
)

type assetStore interface {
	Create(ctx context.Context, item domain.AssetRecord) (domain.AssetRecord, error)
	GetByID(ctx context.Context, id string) (domain.AssetRecord, error)
	Save(ctx context.Context, item domain.AssetRecord) (domain.AssetRecord, error)
	List(ctx context.Context, filter repository.ListFilter) ([]domain.AssetRecord, string, error)
	Categories(ctx context.Context, includeDeleted bool) ([]string, error)
}

type objectMover interface {
	Copy(ctx context.Context, srcLoc object.Location, srcKey string, dstLoc object.Location, dstKey string) error
	Delete(ctx context.Context, loc object.Location, key string) error
}

type AssetService struct {
	assets assetStore
	store  objectMover
	now    func() time.Time
}

func NewAssetService(assets assetStore, store objectMover) *AssetService {
	return &AssetService{assets: assets, store: store, now: time.Now}
}

type RegisterInput struct {
	OriginalFileName  string
	SanitizedFileName string
	StagingPath       string
	ContentType       string
	ByteSize          int64
	Category          string
	Description       string
	Tags              []string
}

// Register creates the record for a file the client has finished writing to
// the staging area. The record starts Staged; promotion is a separate,
// explicit step.
func (s *AssetService) Register(ctx context.Context, input RegisterInput, uploadedBy string) (domain.AssetRecord, error) {
	if strings.TrimSpace(input.StagingPath) == "" {
		return domain.AssetRecord{}, domain.NewValidationError("staging path is required")
	}
	if strings.Contains(input.StagingPath, "..") {
		return domain.AssetRecord{}, domain.NewValidationError("staging path must not contain path traversal")
	}
	if input.Category == "" || !strings.HasPrefix(input.StagingPath, input.Category+"/") {
		return domain.AssetRecord{}, domain.NewValidationError("staging path must belong to category %q", input.Category)
	}
	if input.ByteSize <= 0 {
		return domain.AssetRecord{}, domain.NewValidationError("byte size must be positive")
	}

	sanitized := input.SanitizedFileName
	if sanitized == "" {
		sanitized = SanitizeFileName(input.OriginalFileName)
	}
	item, err := s.assets.Create(ctx, domain.AssetRecord{
		OriginalFileName:  input.OriginalFileName,
		SanitizedFileName: sanitized,
		Category:          input.Category,
		ContentType:       input.ContentType,
		ByteSize:          input.ByteSize,
		StagingPath:       input.StagingPath,
		State:             domain.StateStaged,
		DerivativeState:   domain.DerivativeNotRequested,
		UploadedBy:        uploadedBy,
		Description:       input.Description,
		Tags:              input.Tags,
	})
	if err != nil {
		return domain.AssetRecord{}, err
	}
	log.Infof("asset registered id=%s category=%s staging_path=%s", item.ID, item.Category, item.StagingPath)
	return item, nil
}

// Promote copies the staged object to the permanent location, then flips the
// record. If the copy fails the record is untouched and the call is safely
// retryable. If only the staging delete fails, the promotion still counts:
// the permanent copy is authoritative and the stale staging object is left
// for the staging sweep. Duplication over data loss.
func (s *AssetService) Promote(ctx context.Context, id string) (domain.AssetRecord, error) {
	item, err := s.assets.GetByID(ctx, id)
	if err != nil {
		return domain.AssetRecord{}, err
	}
	if item.State != domain.StateStaged {
		return domain.AssetRecord{}, &domain.InvalidStateError{From: item.State, Op: "promote"}
	}

	permanentPath := item.StagingPath
	if err := s.store.Copy(ctx, object.LocationStaging, item.StagingPath, object.LocationPermanent, permanentPath); err != nil {
		return domain.AssetRecord{}, &domain.TransientStorageError{Op: "copy staging to permanent", Err: err}
	}
	if err := s.store.Delete(ctx, object.LocationStaging, item.StagingPath); err != nil {
		log.Warnf("asset %s: staging object %s not deleted after promote, leaving for sweep: %v", item.ID, item.StagingPath, err)
	}

	if err := item.Promote(permanentPath); err != nil {
		return domain.AssetRecord{}, err
	}
	saved, err := s.assets.Save(ctx, item)
	if err != nil {
		return domain.AssetRecord{}, err
	}
	log.Infof("asset promoted id=%s permanent_path=%s", saved.ID, saved.PermanentPath)
	return saved, nil
}

func (s *AssetService) SoftDelete(ctx context.Context, id, deletedBy string) (domain.AssetRecord, error) {
	item, err := s.assets.GetByID(ctx, id)
	if err != nil {
		return domain.AssetRecord{}, err
	}
	if err := item.SoftDelete(deletedBy, s.now().UTC()); err != nil {
		return domain.AssetRecord{}, err
	}
	saved, err := s.assets.Save(ctx, item)
	if err != nil {
		return domain.AssetRecord{}, err
	}
	log.Warnf("asset soft-deleted id=%s by=%s", saved.ID, deletedBy)
	return saved, nil
}

func (s *AssetService) Restore(ctx context.Context, id string) (domain.AssetRecord, error) {
	item, err := s.assets.GetByID(ctx, id)
	if err != nil {
		return domain.AssetRecord{}, err
	}
	if err := item.Restore(); err != nil {
		return domain.AssetRecord{}, err
	}
	saved, err := s.assets.Save(ctx, item)
	if err != nil {
		return domain.AssetRecord{}, err
	}
	log.Infof("asset restored id=%s", saved.ID)
	return saved, nil
}

type UpdateMetadataInput struct {
	Description *string
	Tags        []string
}

func (s *AssetService) UpdateMetadata(ctx context.Context, id string, input UpdateMetadataInput) (domain.AssetRecord, error) {
	item, err := s.assets.GetByID(ctx, id)
	if err != nil {
		return domain.AssetRecord{}, err
	}
	if item.IsDeleted() {
		return domain.AssetRecord{}, domain.NewValidationError("cannot update a deleted asset")
	}
	if input.Description != nil {
		item.Description = *input.Description
	}
	if input.Tags != nil {
		item.Tags = input.Tags
	}
	return s.assets.Save(ctx, item)
}

// Get returns an asset. Non-admin reads see only promoted, live assets.
func (s *AssetService) Get(ctx context.Context, id string, includeDeleted bool) (domain.AssetRecord, error) {
	item, err := s.assets.GetByID(ctx, id)
	if err != nil {
		return domain.AssetRecord{}, err
	}
	if !includeDeleted && (item.IsDeleted() || item.State == domain.StateStaged) {
		return domain.AssetRecord{}, &domain.NotFoundError{ID: id}
	}
	return item, nil
}

func (s *AssetService) List(ctx context.Context, filter repository.ListFilter) ([]domain.AssetRecord, string, error) {
	return s.assets.List(ctx, filter)
}

func (s *AssetService) Categories(ctx context.Context, includeDeleted bool) ([]string, error) {
	return s.assets.Categories(ctx, includeDeleted)
}
