package repository

import (
	"context"
	"docvault/internal/domain"
	"fmt"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type PermissionRepository struct {
	db *sqlx.DB
}

func NewPermissionRepository(db *sqlx.DB) *PermissionRepository {
	return &PermissionRepository{db: db}
}

const insertGrantQuery = `
        INSERT INTO file_permissions (file_id, user_id, capability, granted_at)
        VALUES (?, ?, ?, ?)
        ON CONFLICT DO NOTHING`

// CreateTx выдает права в транзакции создания файла
func (r *PermissionRepository) CreateTx(ctx context.Context, tx *sqlx.Tx, grants []domain.Grant) error {
	query := r.db.Rebind(insertGrantQuery)
	for _, g := range grants {
		if _, err := tx.ExecContext(ctx, query, g.FileID, g.UserID, g.Capability, g.GrantedAt.UTC()); err != nil {
			return fmt.Errorf("failed to grant %s on %s to %s: %w", g.Capability, g.FileID, g.UserID, err)
		}
	}
	return nil
}

// Create выдает право; повторная выдача ничего не меняет
func (r *PermissionRepository) Create(ctx context.Context, g domain.Grant) error {
	query := r.db.Rebind(insertGrantQuery)
	if _, err := r.db.ExecContext(ctx, query, g.FileID, g.UserID, g.Capability, g.GrantedAt.UTC()); err != nil {
		return fmt.Errorf("failed to grant %s on %s to %s: %w", g.Capability, g.FileID, g.UserID, err)
	}
	return nil
}

func (r *PermissionRepository) Delete(ctx context.Context, fileID uuid.UUID, userID string, c domain.Capability) (bool, error) {
	query := r.db.Rebind(`
        DELETE FROM file_permissions
        WHERE file_id = ? AND user_id = ? AND capability = ?`)

	result, err := r.db.ExecContext(ctx, query, fileID, userID, c)
	if err != nil {
		return false, fmt.Errorf("failed to revoke %s on %s from %s: %w", c, fileID, userID, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// ListByFile возвращает права в порядке выдачи
func (r *PermissionRepository) ListByFile(ctx context.Context, fileID uuid.UUID) ([]domain.Grant, error) {
	var grants []domain.Grant
	query := r.db.Rebind(`
        SELECT file_id, user_id, capability, granted_at
        FROM file_permissions
        WHERE file_id = ?
        ORDER BY granted_at, user_id, capability`)

	if err := r.db.SelectContext(ctx, &grants, query, fileID); err != nil {
		return nil, fmt.Errorf("failed to list permissions of %s: %w", fileID, err)
	}
	return grants, nil
}

func (r *PermissionRepository) Exists(ctx context.Context, fileID uuid.UUID, userID string, c domain.Capability) (bool, error) {
	var count int
	query := r.db.Rebind(`
        SELECT COUNT(*) FROM file_permissions
        WHERE file_id = ? AND user_id = ? AND capability = ?`)

	if err := r.db.GetContext(ctx, &count, query, fileID, userID, c); err != nil {
		return false, fmt.Errorf("failed to check permission: %w", err)
	}
	return count > 0, nil
}
