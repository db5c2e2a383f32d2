package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"assethub/server/assetman/domain"
)

type AssetRepository struct {
	pool *pgxpool.Pool
}

func NewAssetRepository(pool *pgxpool.Pool) *AssetRepository {
	return &AssetRepository{pool: pool}
}

const assetColumns = `
	id, original_file_name, sanitized_file_name, category, content_type, byte_size,
	staging_path, permanent_path, state, derivative_state, derivative_error, derivative_set,
	uploaded_by, description, tags, created_at, updated_at, deleted_at, deleted_by`

func (r *AssetRepository) Create(ctx context.Context, item domain.AssetRecord) (domain.AssetRecord, error) {
	derivativeSet, err := marshalDerivativeSet(item.DerivativeSet)
	if err != nil {
		return domain.AssetRecord{}, err
	}
	err = r.pool.QueryRow(ctx, `
		INSERT INTO assets(
			original_file_name, sanitized_file_name, category, content_type, byte_size,
			staging_path, permanent_path, state, derivative_state, derivative_error, derivative_set,
			uploaded_by, description, tags)
		VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id, created_at, updated_at
	`, item.OriginalFileName, item.SanitizedFileName, item.Category, item.ContentType, item.ByteSize,
		item.StagingPath, item.PermanentPath, item.State, item.DerivativeState, item.DerivativeError, derivativeSet,
		item.UploadedBy, item.Description, item.Tags,
	).Scan(&item.ID, &item.CreatedAt, &item.UpdatedAt)
	return item, err
}

func (r *AssetRepository) GetByID(ctx context.Context, id string) (domain.AssetRecord, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+assetColumns+` FROM assets WHERE id=$1`, id)
	item, err := scanAsset(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.AssetRecord{}, &domain.NotFoundError{ID: id}
	}
	return item, err
}

func (r *AssetRepository) GetByPermanentPath(ctx context.Context, path string) (domain.AssetRecord, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+assetColumns+`
		FROM assets
		WHERE permanent_path=$1 AND deleted_at IS NULL
		ORDER BY created_at DESC
		LIMIT 1
	`, path)
	item, err := scanAsset(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.AssetRecord{}, &domain.NotFoundError{ID: path}
	}
	return item, err
}

// Save writes every mutable field of the record, guarded by an optimistic
// check on updated_at. The store offers no multi-field locking, so
// concurrent writers (promotion, ingress, soft-delete) are serialized here:
// a stale snapshot loses with ConflictError and must re-read.
func (r *AssetRepository) Save(ctx context.Context, item domain.AssetRecord) (domain.AssetRecord, error) {
	derivativeSet, err := marshalDerivativeSet(item.DerivativeSet)
	if err != nil {
		return domain.AssetRecord{}, err
	}
	var updatedAt time.Time
	err = r.pool.QueryRow(ctx, `
		UPDATE assets
		SET staging_path=$1, permanent_path=$2, state=$3,
		    derivative_state=$4, derivative_error=$5, derivative_set=$6,
		    description=$7, tags=$8, deleted_at=$9, deleted_by=$10,
		    updated_at=now()
		WHERE id=$11 AND updated_at=$12
		RETURNING updated_at
	`, item.StagingPath, item.PermanentPath, item.State,
		item.DerivativeState, item.DerivativeError, derivativeSet,
		item.Description, item.Tags, item.DeletedAt, nullableString(item.DeletedBy),
		item.ID, item.UpdatedAt,
	).Scan(&updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := r.GetByID(ctx, item.ID); getErr != nil {
			return domain.AssetRecord{}, getErr
		}
		return domain.AssetRecord{}, &domain.ConflictError{ID: item.ID}
	}
	if err != nil {
		return domain.AssetRecord{}, err
	}
	item.UpdatedAt = updatedAt
	return item, nil
}

type ListFilter struct {
	Category       string
	State          domain.State
	ContentType    string
	UploadedBy     string
	MinByteSize    int64
	MaxByteSize    int64
	IncludeDeleted bool
	Cursor         string
	Limit          int
}

// List pages newest-first with a keyset cursor of the form
// "<created_at RFC3339Nano>|<id>".
func (r *AssetRepository) List(ctx context.Context, filter ListFilter) ([]domain.AssetRecord, string, error) {
	base := `SELECT ` + assetColumns + ` FROM assets WHERE 1=1`
	args := []any{}
	idx := 1

	addClause := func(clause string, value any) {
		base += fmt.Sprintf(clause, idx)
		args = append(args, value)
		idx++
	}

	if !filter.IncludeDeleted {
		base += ` AND deleted_at IS NULL`
	}
	if filter.Category != "" {
		addClause(` AND category=$%d`, filter.Category)
	}
	if filter.State != "" {
		addClause(` AND state=$%d`, filter.State)
	}
	if filter.ContentType != "" {
		addClause(` AND content_type=$%d`, filter.ContentType)
	}
	if filter.UploadedBy != "" {
		addClause(` AND uploaded_by=$%d`, filter.UploadedBy)
	}
	if filter.MinByteSize > 0 {
		addClause(` AND byte_size>=$%d`, filter.MinByteSize)
	}
	if filter.MaxByteSize > 0 {
		addClause(` AND byte_size<=$%d`, filter.MaxByteSize)
	}
	if filter.Cursor != "" {
		cursorAt, cursorID, err := decodeCursor(filter.Cursor)
		if err != nil {
			return nil, "", domain.NewValidationError("malformed cursor")
		}
		base += fmt.Sprintf(` AND (created_at, id) < ($%d, $%d)`, idx, idx+1)
		args = append(args, cursorAt, cursorID)
		idx += 2
	}

	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	base += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d`, idx)
	args = append(args, limit+1)

	rows, err := r.pool.Query(ctx, base, args...)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()

	items := make([]domain.AssetRecord, 0, limit)
	for rows.Next() {
		item, err := scanAsset(rows)
		if err != nil {
			return nil, "", err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	nextCursor := ""
	if len(items) > limit {
		items = items[:limit]
		last := items[len(items)-1]
		nextCursor = encodeCursor(last.CreatedAt, last.ID)
	}
	return items, nextCursor, nil
}

func (r *AssetRepository) Categories(ctx context.Context, includeDeleted bool) ([]string, error) {
	query := `SELECT DISTINCT category FROM assets`
	if !includeDeleted {
		query += ` WHERE deleted_at IS NULL`
	}
	query += ` ORDER BY category`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	categories := make([]string, 0)
	for rows.Next() {
		var category string
		if err := rows.Scan(&category); err != nil {
			return nil, err
		}
		categories = append(categories, category)
	}
	return categories, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAsset(row rowScanner) (domain.AssetRecord, error) {
	var (
		item          domain.AssetRecord
		derivativeSet []byte
		deletedBy     *string
	)
	err := row.Scan(
		&item.ID, &item.OriginalFileName, &item.SanitizedFileName, &item.Category, &item.ContentType, &item.ByteSize,
		&item.StagingPath, &item.PermanentPath, &item.State, &item.DerivativeState, &item.DerivativeError, &derivativeSet,
		&item.UploadedBy, &item.Description, &item.Tags, &item.CreatedAt, &item.UpdatedAt, &item.DeletedAt, &deletedBy,
	)
	if err != nil {
		return domain.AssetRecord{}, err
	}
	if len(derivativeSet) > 0 {
		if err := json.Unmarshal(derivativeSet, &item.DerivativeSet); err != nil {
			return domain.AssetRecord{}, fmt.Errorf("decode derivative set for %s: %w", item.ID, err)
		}
	}
	if deletedBy != nil {
		item.DeletedBy = *deletedBy
	}
	return item, nil
}

func marshalDerivativeSet(set map[string]domain.DerivativeDescriptor) ([]byte, error) {
	if len(set) == 0 {
		return nil, nil
	}
	return json.Marshal(set)
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func encodeCursor(createdAt time.Time, id string) string {
	return createdAt.UTC().Format(time.RFC3339Nano) + "|" + id
}

func decodeCursor(cursor string) (time.Time, string, error) {
	at, id, ok := strings.Cut(cursor, "|")
	if !ok || id == "" {
		return time.Time{}, "", fmt.Errorf("malformed cursor")
	}
	createdAt, err := time.Parse(time.RFC3339Nano, at)
	if err != nil {
		return time.Time{}, "", err
	}
	return createdAt, id, nil
}
