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

const annotationColumns = `id, file_id, seq, user_id, type, content,
        pos_x, pos_y, pos_w, pos_h, created_at, updated_at`

type AnnotationRepository struct {
	db *sqlx.DB
}

func NewAnnotationRepository(db *sqlx.DB) *AnnotationRepository {
	return &AnnotationRepository{db: db}
}

type annotationRow struct {
	ID        uuid.UUID       `db:"id"`
	FileID    uuid.UUID       `db:"file_id"`
	Seq       int64           `db:"seq"`
	UserID    string          `db:"user_id"`
	Type      string          `db:"type"`
	Content   types.JSONText  `db:"content"`
	PosX      sql.NullFloat64 `db:"pos_x"`
	PosY      sql.NullFloat64 `db:"pos_y"`
	PosW      sql.NullFloat64 `db:"pos_w"`
	PosH      sql.NullFloat64 `db:"pos_h"`
	CreatedAt time.Time       `db:"created_at"`
	UpdatedAt time.Time       `db:"updated_at"`
}

func (row annotationRow) toDomain() (domain.FileAnnotation, error) {
	content, err := domain.DecodeAnnotationContent(domain.AnnotationType(row.Type), row.Content)
	if err != nil {
		return domain.FileAnnotation{}, fmt.Errorf("annotation %s: %w", row.ID, err)
	}

	a := domain.FileAnnotation{
		ID:        row.ID,
		FileID:    row.FileID,
		UserID:    row.UserID,
		Content:   content,
		CreatedAt: row.CreatedAt.UTC(),
		UpdatedAt: row.UpdatedAt.UTC(),
	}
	if row.PosX.Valid && row.PosY.Valid {
		a.Position = &domain.Position{X: row.PosX.Float64, Y: row.PosY.Float64}
		if row.PosW.Valid {
			a.Position.Width = &row.PosW.Float64
		}
		if row.PosH.Valid {
			a.Position.Height = &row.PosH.Float64
		}
	}
	return a, nil
}

type positionColumns struct {
	x, y, w, h sql.NullFloat64
}

func toPositionColumns(p *domain.Position) positionColumns {
	var cols positionColumns
	if p == nil {
		return cols
	}
	cols.x = sql.NullFloat64{Float64: p.X, Valid: true}
	cols.y = sql.NullFloat64{Float64: p.Y, Valid: true}
	if p.Width != nil {
		cols.w = sql.NullFloat64{Float64: *p.Width, Valid: true}
	}
	if p.Height != nil {
		cols.h = sql.NullFloat64{Float64: *p.Height, Valid: true}
	}
	return cols
}

// Create добавляет аннотацию в конец списка файла
func (r *AnnotationRepository) Create(ctx context.Context, a *domain.FileAnnotation) error {
	content, err := json.Marshal(a.Content)
	if err != nil {
		return fmt.Errorf("failed to encode annotation content: %w", err)
	}
	pos := toPositionColumns(a.Position)

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := lockFile(ctx, tx, a.FileID); err != nil {
		return err
	}

	var seq int64
	seqQuery := r.db.Rebind(`SELECT COALESCE(MAX(seq), 0) + 1 FROM file_annotations WHERE file_id = ?`)
	if err := tx.GetContext(ctx, &seq, seqQuery, a.FileID); err != nil {
		return fmt.Errorf("failed to allocate annotation position: %w", err)
	}

	query := r.db.Rebind(`
        INSERT INTO file_annotations (` + annotationColumns + `)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err = tx.ExecContext(ctx, query,
		a.ID,
		a.FileID,
		seq,
		a.UserID,
		string(a.Type()),
		string(content),
		pos.x, pos.y, pos.w, pos.h,
		a.CreatedAt.UTC(),
		a.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create annotation: %w", err)
	}

	return tx.Commit()
}

// ListByFile возвращает аннотации в порядке добавления
func (r *AnnotationRepository) ListByFile(ctx context.Context, fileID uuid.UUID) ([]domain.FileAnnotation, error) {
	var rows []annotationRow
	query := r.db.Rebind(`
        SELECT ` + annotationColumns + `
        FROM file_annotations
        WHERE file_id = ?
        ORDER BY seq`)

	if err := r.db.SelectContext(ctx, &rows, query, fileID); err != nil {
		return nil, fmt.Errorf("failed to list annotations of %s: %w", fileID, err)
	}

	annotations := make([]domain.FileAnnotation, 0, len(rows))
	for _, row := range rows {
		a, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		annotations = append(annotations, a)
	}
	return annotations, nil
}

// Get возвращает nil без ошибки, если аннотации нет у этого файла
func (r *AnnotationRepository) Get(ctx context.Context, id, fileID uuid.UUID) (*domain.FileAnnotation, error) {
	var row annotationRow
	query := r.db.Rebind(`
        SELECT ` + annotationColumns + `
        FROM file_annotations
        WHERE id = ? AND file_id = ?`)

	if err := r.db.GetContext(ctx, &row, query, id, fileID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get annotation %s: %w", id, err)
	}

	a, err := row.toDomain()
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// Update сохраняет содержимое, позицию и время изменения
func (r *AnnotationRepository) Update(ctx context.Context, a *domain.FileAnnotation) (bool, error) {
	content, err := json.Marshal(a.Content)
	if err != nil {
		return false, fmt.Errorf("failed to encode annotation content: %w", err)
	}
	pos := toPositionColumns(a.Position)

	query := r.db.Rebind(`
        UPDATE file_annotations
        SET content = ?, pos_x = ?, pos_y = ?, pos_w = ?, pos_h = ?, updated_at = ?
        WHERE id = ? AND file_id = ?`)

	result, err := r.db.ExecContext(ctx, query,
		string(content),
		pos.x, pos.y, pos.w, pos.h,
		a.UpdatedAt.UTC(),
		a.ID,
		a.FileID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update annotation %s: %w", a.ID, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

func (r *AnnotationRepository) Delete(ctx context.Context, id, fileID uuid.UUID) (bool, error) {
	query := r.db.Rebind(`DELETE FROM file_annotations WHERE id = ? AND file_id = ?`)

	result, err := r.db.ExecContext(ctx, query, id, fileID)
	if err != nil {
		return false, fmt.Errorf("failed to delete annotation %s: %w", id, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}
