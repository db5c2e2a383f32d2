package domain

import "time"

// State is the asset lifecycle state.
type State string

const (
	StateStaged      State = "staged"
	StatePromoted    State = "promoted"
	StateSoftDeleted State = "soft_deleted"
)

// DerivativeState tracks the derivative-generation outcome for an asset.
type DerivativeState string

const (
	DerivativeNotRequested DerivativeState = "not_requested"
	DerivativePending      DerivativeState = "pending"
	DerivativeCompleted    DerivativeState = "completed"
	DerivativeFailed       DerivativeState = "failed"
)

// DerivativeDescriptor describes one generated variant. Descriptors are
// created only by the derivative generator and replaced wholesale on
// regeneration, never mutated in place.
type DerivativeDescriptor struct {
	SizeName string `json:"size_name"`
	Path     string `json:"path"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	ByteSize int64  `json:"byte_size"`
	Format   string `json:"format"`
}

// AssetRecord is the persisted metadata for one uploaded file.
//
// Invariant: StagingPath and PermanentPath are never both empty; which one is
// authoritative follows from State. A soft-deleted asset keeps its last
// PermanentPath and DerivativeSet for audit and restore.
type AssetRecord struct {
	ID                string                          `json:"id"`
	OriginalFileName  string                          `json:"original_file_name"`
	SanitizedFileName string                          `json:"sanitized_file_name"`
	Category          string                          `json:"category"`
	ContentType       string                          `json:"content_type"`
	ByteSize          int64                           `json:"byte_size"`
	StagingPath       string                          `json:"staging_path,omitempty"`
	PermanentPath     string                          `json:"permanent_path,omitempty"`
	State             State                           `json:"state"`
	DerivativeState   DerivativeState                 `json:"derivative_state"`
	DerivativeError   string                          `json:"derivative_error,omitempty"`
	DerivativeSet     map[string]DerivativeDescriptor `json:"derivative_set,omitempty"`
	UploadedBy        string                          `json:"uploaded_by"`
	Description       string                          `json:"description,omitempty"`
	Tags              []string                        `json:"tags,omitempty"`
	CreatedAt         time.Time                       `json:"created_at"`
	UpdatedAt         time.Time                       `json:"updated_at"`
	DeletedAt         *time.Time                      `json:"deleted_at,omitempty"`
	DeletedBy         string                          `json:"deleted_by,omitempty"`
}

// Promote flips a staged asset to promoted. The object copy must already
// have landed in the permanent location before this is applied.
func (a *AssetRecord) Promote(permanentPath string) error {
	if a.State != StateStaged {
		return &InvalidStateError{From: a.State, Op: "promote"}
	}
	a.PermanentPath = permanentPath
	a.StagingPath = ""
	a.State = StatePromoted
	return nil
}

// SoftDelete marks a promoted asset deleted. Staged assets are abandoned,
// not soft-deleted, so the transition is rejected for them.
func (a *AssetRecord) SoftDelete(by string, at time.Time) error {
	if a.State != StatePromoted {
		return &InvalidStateError{From: a.State, Op: "soft-delete"}
	}
	a.State = StateSoftDeleted
	a.DeletedAt = &at
	a.DeletedBy = by
	return nil
}

// Restore reverses a soft delete. PermanentPath and DerivativeSet are
// untouched by both SoftDelete and Restore.
func (a *AssetRecord) Restore() error {
	if a.State != StateSoftDeleted {
		return &InvalidStateError{From: a.State, Op: "restore"}
	}
	a.State = StatePromoted
	a.DeletedAt = nil
	a.DeletedBy = ""
	return nil
}

// IsDeleted reports whether the asset is currently soft-deleted.
func (a *AssetRecord) IsDeleted() bool {
	return a.DeletedAt != nil
}
