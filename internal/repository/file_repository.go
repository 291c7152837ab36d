package repository

import (
	"context"
	"database/sql"
	"docvault/internal/domain"
	"errors"
	"fmt"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"time"
)

type FileRepository struct {
	db *sqlx.DB
}

func NewFileRepository(db *sqlx.DB) *FileRepository {
	return &FileRepository{db: db}
}

func (r *FileRepository) BeginTx(ctx context.Context) (*sqlx.Tx, error) {
	return r.db.BeginTxx(ctx, nil)
}

// LockFile сериализует запись версий файла между репликами.
// Блокировка держится до конца транзакции.
func (r *FileRepository) LockFile(ctx context.Context, tx *sqlx.Tx, fileID uuid.UUID) error {
	return lockFile(ctx, tx, fileID)
}

func (r *FileRepository) Create(ctx context.Context, tx *sqlx.Tx, file *domain.File) error {
	query := r.db.Rebind(`
        INSERT INTO files (file_id, category, created_by, created_at)
        VALUES (?, ?, ?, ?)`)

	_, err := tx.ExecContext(ctx, query, file.ID, file.Category, file.CreatedBy, file.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to create file %s: %w", file.ID, err)
	}
	return nil
}

// GetByID возвращает файл, включая помеченные на удаление
func (r *FileRepository) GetByID(ctx context.Context, fileID uuid.UUID) (*domain.File, error) {
	return r.getByID(ctx, r.db, fileID)
}

func (r *FileRepository) GetByIDTx(ctx context.Context, tx *sqlx.Tx, fileID uuid.UUID) (*domain.File, error) {
	return r.getByID(ctx, tx, fileID)
}

func (r *FileRepository) getByID(ctx context.Context, q sqlx.QueryerContext, fileID uuid.UUID) (*domain.File, error) {
	var file domain.File
	query := r.db.Rebind(`
        SELECT file_id, category, created_by, created_at, deleted_at
        FROM files WHERE file_id = ?`)

	if err := sqlx.GetContext(ctx, q, &file, query, fileID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", domain.ErrFileNotFound, fileID)
		}
		return nil, err
	}
	return &file, nil
}

// MarkDeleted ставит отметку удаления под блокировкой файла.
// Повторный вызов сохраняет первую отметку.
func (r *FileRepository) MarkDeleted(ctx context.Context, fileID uuid.UUID, at time.Time) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := lockFile(ctx, tx, fileID); err != nil {
		return err
	}

	query := r.db.Rebind(`UPDATE files SET deleted_at = ? WHERE file_id = ? AND deleted_at IS NULL`)
	if _, err := tx.ExecContext(ctx, query, at.UTC(), fileID); err != nil {
		return fmt.Errorf("failed to mark file %s deleted: %w", fileID, err)
	}

	return tx.Commit()
}

// ListDeleted возвращает файлы, удаление которых еще не завершено
func (r *FileRepository) ListDeleted(ctx context.Context, limit int) ([]domain.File, error) {
	var files []domain.File
	query := r.db.Rebind(`
        SELECT file_id, category, created_by, created_at, deleted_at
        FROM files
        WHERE deleted_at IS NOT NULL
        ORDER BY deleted_at
        LIMIT ?`)

	if err := r.db.SelectContext(ctx, &files, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list deleted files: %w", err)
	}
	return files, nil
}

// Purge удаляет файл вместе с версиями, аннотациями и правами в одной транзакции
func (r *FileRepository) Purge(ctx context.Context, fileID uuid.UUID) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"file_versions", "file_annotations", "file_permissions", "files"} {
		query := r.db.Rebind(fmt.Sprintf(`DELETE FROM %s WHERE file_id = ?`, table))
		if _, err := tx.ExecContext(ctx, query, fileID); err != nil {
			return fmt.Errorf("failed to purge %s for file %s: %w", table, fileID, err)
		}
	}

	return tx.Commit()
}
