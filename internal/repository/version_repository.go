package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"

	"docvault/internal/domain"
)

const versionColumns = `file_id, version_number, filename, category, s3_key, size_bytes,
        checksum, mime_type, tags, rolled_back_from, uploaded_by, uploaded_at`

// VersionRepository - журнал версий. Записи только добавляются.
type VersionRepository struct {
	db *sqlx.DB
}

func NewVersionRepository(db *sqlx.DB) *VersionRepository {
	return &VersionRepository{db: db}
}

type versionRow struct {
	FileID         uuid.UUID      `db:"file_id"`
	Version        int            `db:"version_number"`
	Filename       string         `db:"filename"`
	Category       string         `db:"category"`
	StoreKey       string         `db:"s3_key"`
	Size           int64          `db:"size_bytes"`
	Checksum       string         `db:"checksum"`
	MimeType       string         `db:"mime_type"`
	Tags           types.JSONText `db:"tags"`
	RolledBackFrom sql.NullInt64  `db:"rolled_back_from"`
	UploadedBy     string         `db:"uploaded_by"`
	UploadedAt     time.Time      `db:"uploaded_at"`
}

func (row versionRow) toDomain() (domain.FileVersion, error) {
	tags := []string{}
	if len(row.Tags) > 0 {
		if err := row.Tags.Unmarshal(&tags); err != nil {
			return domain.FileVersion{}, fmt.Errorf("failed to decode tags of %s v%d: %w", row.FileID, row.Version, err)
		}
	}

	v := domain.FileVersion{
		FileID:     row.FileID,
		Version:    row.Version,
		Filename:   row.Filename,
		Size:       row.Size,
		Checksum:   row.Checksum,
		StoreKey:   row.StoreKey,
		UploadedAt: row.UploadedAt.UTC(),
		UploadedBy: row.UploadedBy,
		Metadata: domain.VersionMetadata{
			Category: row.Category,
			Tags:     tags,
			MimeType: row.MimeType,
		},
	}
	if row.RolledBackFrom.Valid {
		from := int(row.RolledBackFrom.Int64)
		v.Metadata.RolledBackFrom = &from
	}
	return v, nil
}

// CountVersions возвращает число версий файла внутри транзакции записи
func (r *VersionRepository) CountVersions(ctx context.Context, tx *sqlx.Tx, fileID uuid.UUID) (int, error) {
	var count int
	query := r.db.Rebind(`SELECT COUNT(*) FROM file_versions WHERE file_id = ?`)
	if err := tx.GetContext(ctx, &count, query, fileID); err != nil {
		return 0, fmt.Errorf("failed to count versions of %s: %w", fileID, err)
	}
	return count, nil
}

func (r *VersionRepository) CreateFileVersion(ctx context.Context, tx *sqlx.Tx, v *domain.FileVersion) error {
	tags := v.Metadata.Tags
	if tags == nil {
		tags = []string{}
	}
	rawTags, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("failed to encode tags: %w", err)
	}

	var rolledBackFrom sql.NullInt64
	if v.Metadata.RolledBackFrom != nil {
		rolledBackFrom = sql.NullInt64{Int64: int64(*v.Metadata.RolledBackFrom), Valid: true}
	}

	query := r.db.Rebind(`
        INSERT INTO file_versions (` + versionColumns + `)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err = tx.ExecContext(ctx, query,
		v.FileID,
		v.Version,
		v.Filename,
		v.Metadata.Category,
		v.StoreKey,
		v.Size,
		v.Checksum,
		v.Metadata.MimeType,
		string(rawTags),
		rolledBackFrom,
		v.UploadedBy,
		v.UploadedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to append version %d of %s: %w", v.Version, v.FileID, err)
	}
	return nil
}

// GetFileVersions возвращает версии по возрастанию номера
func (r *VersionRepository) GetFileVersions(ctx context.Context, fileID uuid.UUID) ([]domain.FileVersion, error) {
	var rows []versionRow
	query := r.db.Rebind(`
        SELECT ` + versionColumns + `
        FROM file_versions
        WHERE file_id = ?
        ORDER BY version_number`)

	if err := r.db.SelectContext(ctx, &rows, query, fileID); err != nil {
		return nil, fmt.Errorf("failed to list versions of %s: %w", fileID, err)
	}

	versions := make([]domain.FileVersion, 0, len(rows))
	for _, row := range rows {
		v, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, nil
}

func (r *VersionRepository) GetFileVersion(ctx context.Context, fileID uuid.UUID, version int) (*domain.FileVersion, error) {
	return r.getFileVersion(ctx, r.db, fileID, version)
}

// GetFileVersionTx читает версию в транзакции, держащей блокировку файла
func (r *VersionRepository) GetFileVersionTx(ctx context.Context, tx *sqlx.Tx, fileID uuid.UUID, version int) (*domain.FileVersion, error) {
	return r.getFileVersion(ctx, tx, fileID, version)
}

func (r *VersionRepository) getFileVersion(ctx context.Context, q sqlx.QueryerContext, fileID uuid.UUID, version int) (*domain.FileVersion, error) {
	var row versionRow
	query := r.db.Rebind(`
        SELECT ` + versionColumns + `
        FROM file_versions
        WHERE file_id = ? AND version_number = ?`)

	if err := sqlx.GetContext(ctx, q, &row, query, fileID, version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s v%d", domain.ErrVersionNotFound, fileID, version)
		}
		return nil, err
	}

	v, err := row.toDomain()
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// GetLatestVersion возвращает последнюю версию или ErrFileNotFound, если версий нет
func (r *VersionRepository) GetLatestVersion(ctx context.Context, fileID uuid.UUID) (*domain.FileVersion, error) {
	var row versionRow
	query := r.db.Rebind(`
        SELECT ` + versionColumns + `
        FROM file_versions
        WHERE file_id = ?
        ORDER BY version_number DESC
        LIMIT 1`)

	if err := r.db.GetContext(ctx, &row, query, fileID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", domain.ErrFileNotFound, fileID)
		}
		return nil, err
	}

	v, err := row.toDomain()
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// HasKey сообщает, ссылается ли какая-либо версия на ключ хранилища
func (r *VersionRepository) HasKey(ctx context.Context, key string) (bool, error) {
	var count int
	query := r.db.Rebind(`SELECT COUNT(*) FROM file_versions WHERE s3_key = ?`)
	if err := r.db.GetContext(ctx, &count, query, key); err != nil {
		return false, fmt.Errorf("failed to look up key %s: %w", key, err)
	}
	return count > 0, nil
}
