package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"docvault/internal/domain"
	"docvault/internal/repository"
)

// AnnotationService хранит аннотации файлов независимо от версий
type AnnotationService struct {
	annotationRepo *repository.AnnotationRepository
	files          *FileService
	logger         *zap.Logger
	now            func() time.Time
	newID          func() uuid.UUID
}

func NewAnnotationService(annotationRepo *repository.AnnotationRepository, files *FileService, logger *zap.Logger) *AnnotationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnnotationService{
		annotationRepo: annotationRepo,
		files:          files,
		logger:         logger,
		now:            time.Now,
		newID:          uuid.New,
	}
}

func (s *AnnotationService) AddAnnotation(
	ctx context.Context,
	fileID uuid.UUID,
	userID string,
	content domain.AnnotationContent,
	position *domain.Position,
) (*domain.FileAnnotation, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user is required", domain.ErrInvalidInput)
	}
	if content == nil {
		return nil, fmt.Errorf("%w: content is required", domain.ErrInvalidAnnotation)
	}
	if err := content.Validate(); err != nil {
		return nil, err
	}

	visible, err := s.files.isVisible(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if !visible {
		return nil, fmt.Errorf("%w: %s", domain.ErrFileNotFound, fileID)
	}

	now := s.now().UTC()
	annotation := &domain.FileAnnotation{
		ID:        s.newID(),
		FileID:    fileID,
		UserID:    userID,
		Content:   content,
		Position:  position,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.annotationRepo.Create(ctx, annotation); err != nil {
		return nil, err
	}

	s.logger.Debug("annotation added",
		zap.String("file_id", fileID.String()),
		zap.String("annotation_id", annotation.ID.String()),
		zap.String("type", string(content.Type())))
	return annotation, nil
}

// GetAnnotations возвращает аннотации в порядке добавления; для неизвестного файла - пустой список
func (s *AnnotationService) GetAnnotations(ctx context.Context, fileID uuid.UUID) ([]domain.FileAnnotation, error) {
	visible, err := s.files.isVisible(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if !visible {
		return []domain.FileAnnotation{}, nil
	}
	return s.annotationRepo.ListByFile(ctx, fileID)
}

// UpdateAnnotation меняет содержимое и/или позицию. Отсутствующая аннотация - nil без ошибки.
func (s *AnnotationService) UpdateAnnotation(
	ctx context.Context,
	annotationID uuid.UUID,
	fileID uuid.UUID,
	update domain.AnnotationUpdate,
) (*domain.FileAnnotation, error) {
	visible, err := s.files.isVisible(ctx, fileID)
	if err != nil || !visible {
		return nil, err
	}

	annotation, err := s.annotationRepo.Get(ctx, annotationID, fileID)
	if err != nil || annotation == nil {
		return nil, err
	}

	if update.Content != nil {
		if update.Content.Type() != annotation.Type() {
			return nil, fmt.Errorf("%w: cannot change %s annotation to %s",
				domain.ErrInvalidAnnotation, annotation.Type(), update.Content.Type())
		}
		if err := update.Content.Validate(); err != nil {
			return nil, err
		}
		annotation.Content = update.Content
	}
	if update.Position != nil {
		annotation.Position = update.Position
	}
	annotation.UpdatedAt = s.now().UTC()

	updated, err := s.annotationRepo.Update(ctx, annotation)
	if err != nil || !updated {
		return nil, err
	}
	return annotation, nil
}

// DeleteAnnotation возвращает false, если удалять было нечего
func (s *AnnotationService) DeleteAnnotation(ctx context.Context, annotationID, fileID uuid.UUID) (bool, error) {
	return s.annotationRepo.Delete(ctx, annotationID, fileID)
}
