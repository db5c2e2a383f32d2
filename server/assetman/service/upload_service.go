package service

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"assethub/server/assetman/domain"
	"assethub/server/common/infra/object"
)

const maxFileNameLength = 100

// CategoryLimit is the upload policy for one asset category. AllowedTypes
// may contain "*" to accept any content type.
type CategoryLimit struct {
	MaxBytes     int64    `json:"max_bytes"`
	AllowedTypes []string `json:"allowed_types"`
}

type UploadLimits struct {
	GlobalMaxBytes int64
	Default        CategoryLimit
	PerCategory    map[string]CategoryLimit
}

type UploadCredential struct {
	WriteURL    string    `json:"write_url"`
	ReadURL     string    `json:"read_url"`
	StagingPath string    `json:"staging_path"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type IssueUploadInput struct {
	FileName    string
	ContentType string
	ByteSize    int64
	Category    string
}

type presigner interface {
	PresignPut(ctx context.Context, loc object.Location, key string, ttl time.Duration) (string, error)
	PresignGet(ctx context.Context, loc object.Location, key string, ttl time.Duration) (string, error)
}

// UploadService issues short-lived write credentials for the staging area.
// It never touches the record store: registration is a separate step the
// caller takes once the upload itself succeeded.
type UploadService struct {
	store  presigner
	limits UploadLimits
	ttl    time.Duration
	now    func() time.Time
}

func NewUploadService(store presigner, limits UploadLimits, ttl time.Duration) *UploadService {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &UploadService{store: store, limits: limits, ttl: ttl, now: time.Now}
}

func (s *UploadService) IssueUploadCredential(ctx context.Context, input IssueUploadInput) (UploadCredential, error) {
	if err := s.validate(input); err != nil {
		return UploadCredential{}, err
	}

	stagingPath := s.stagingKey(input.Category, input.FileName)
	expiresAt := s.now().Add(s.ttl)

	writeURL, err := s.store.PresignPut(ctx, object.LocationStaging, stagingPath, s.ttl)
	if err != nil {
		return UploadCredential{}, &domain.TransientStorageError{Op: "presign put", Err: err}
	}
	readURL, err := s.store.PresignGet(ctx, object.LocationStaging, stagingPath, s.ttl)
	if err != nil {
		return UploadCredential{}, &domain.TransientStorageError{Op: "presign get", Err: err}
	}

	return UploadCredential{
		WriteURL:    writeURL,
		ReadURL:     readURL,
		StagingPath: stagingPath,
		ExpiresAt:   expiresAt,
	}, nil
}

func (s *UploadService) validate(input IssueUploadInput) error {
	if strings.TrimSpace(input.FileName) == "" {
		return domain.NewValidationError("file name is required")
	}
	if strings.TrimSpace(input.Category) == "" {
		return domain.NewValidationError("category is required")
	}
	if input.ByteSize <= 0 {
		return domain.NewValidationError("byte size must be positive")
	}
	if s.limits.GlobalMaxBytes > 0 && input.ByteSize > s.limits.GlobalMaxBytes {
		return domain.NewValidationError("byte size %d exceeds global limit %d", input.ByteSize, s.limits.GlobalMaxBytes)
	}

	limit := s.limitFor(input.Category)
	if !typeAllowed(limit.AllowedTypes, input.ContentType) {
		return domain.NewValidationError("content type %s is not allowed for category %s (allowed: %s)",
			input.ContentType, input.Category, strings.Join(limit.AllowedTypes, ", "))
	}
	if limit.MaxBytes > 0 && input.ByteSize > limit.MaxBytes {
		return domain.NewValidationError("byte size %d exceeds category %s limit %d", input.ByteSize, input.Category, limit.MaxBytes)
	}
	return nil
}

func (s *UploadService) limitFor(category string) CategoryLimit {
	if limit, ok := s.limits.PerCategory[category]; ok {
		return limit
	}
	return s.limits.Default
}

func typeAllowed(allowed []string, contentType string) bool {
	for _, t := range allowed {
		if t == "*" || t == contentType {
			return true
		}
	}
	return false
}

// stagingKey derives {category}/{yyyyMM}/{uuid}-{sanitized}. The UUID keeps
// concurrent uploads of identically named files from colliding.
func (s *UploadService) stagingKey(category, fileName string) string {
	return fmt.Sprintf("%s/%s/%s-%s", category, s.now().Format("200601"), uuid.NewString(), SanitizeFileName(fileName))
}

var (
	whitespaceRun   = regexp.MustCompile(`\s+`)
	hostileFileChar = regexp.MustCompile(`[^a-zA-Z0-9._-]`)
)

// SanitizeFileName makes a user-supplied name safe for use in an object key:
// path-traversal sequences removed, whitespace runs collapsed to a single
// underscore, anything outside [a-zA-Z0-9._-] replaced, length capped while
// keeping the extension. The result is never empty.
func SanitizeFileName(fileName string) string {
	name := strings.ReplaceAll(fileName, "..", "")
	name = strings.ReplaceAll(name, "/", "")
	name = strings.ReplaceAll(name, "\\", "")
	name = whitespaceRun.ReplaceAllString(strings.TrimSpace(name), "_")
	name = hostileFileChar.ReplaceAllString(name, "-")

	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	if base == "" {
		base = "file"
	}
	cut := maxFileNameLength - len(ext)
	if cut <= 0 {
		// Extension alone blows the cap: truncate the whole name instead
		// of preserving it.
		name = base + ext
		return name[:maxFileNameLength]
	}
	if len(base) > cut {
		base = base[:cut]
	}
	return base + ext
}
