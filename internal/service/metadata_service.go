package service

import (
	"context"

	"github.com/google/uuid"

	"docvault/internal/domain"
)

// MetadataService собирает полное представление файла для чтения
type MetadataService struct {
	files       *FileService
	annotations *AnnotationService
	permissions *PermissionService
	enforce     bool
}

func NewMetadataService(files *FileService, annotations *AnnotationService, permissions *PermissionService, enforce bool) *MetadataService {
	return &MetadataService{files: files, annotations: annotations, permissions: permissions, enforce: enforce}
}

// GetFileMetadata возвращает nil без ошибки, если у файла нет версий или он удален
func (s *MetadataService) GetFileMetadata(ctx context.Context, fileID uuid.UUID, userID string) (*domain.FileMetadata, error) {
	versions, err := s.files.GetFileVersions(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, nil
	}

	perms, err := s.permissions.Permissions(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if s.enforce {
		if err := s.permissions.Authorize(ctx, fileID, userID, domain.CapabilityRead); err != nil {
			return nil, err
		}
	}

	annotations, err := s.annotations.GetAnnotations(ctx, fileID)
	if err != nil {
		return nil, err
	}

	latest := versions[len(versions)-1]
	return &domain.FileMetadata{
		FileID:         fileID,
		Filename:       latest.Filename,
		Size:           latest.Size,
		Checksum:       latest.Checksum,
		Category:       latest.Metadata.Category,
		Tags:           latest.Metadata.Tags,
		MimeType:       latest.Metadata.MimeType,
		UploadedAt:     latest.UploadedAt,
		UploadedBy:     latest.UploadedBy,
		CurrentVersion: latest.Version,
		Versions:       versions,
		Annotations:    annotations,
		Permissions:    perms,
	}, nil
}
