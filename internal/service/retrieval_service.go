package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"docvault/internal/domain"
	"docvault/internal/service/s3"
)

const defaultSignedURLTTL = time.Hour

// RetrievalService выдает временные ссылки и содержимое версий
type RetrievalService struct {
	files   *FileService
	storage s3.Storage
	ttl     time.Duration
	logger  *zap.Logger
	now     func() time.Time
}

// NewRetrievalService создает сервис; срок жизни ссылок задается только конфигурацией
func NewRetrievalService(files *FileService, storage s3.Storage, ttl time.Duration, logger *zap.Logger) *RetrievalService {
	if ttl <= 0 {
		ttl = defaultSignedURLTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetrievalService{files: files, storage: storage, ttl: ttl, logger: logger, now: time.Now}
}

// resolve находит версию; 0 означает последнюю
func (s *RetrievalService) resolve(ctx context.Context, fileID uuid.UUID, version int) (*domain.FileVersion, error) {
	if version == 0 {
		return s.files.GetLatestVersion(ctx, fileID)
	}
	if version < 0 {
		return nil, fmt.Errorf("%w: %s v%d", domain.ErrVersionNotFound, fileID, version)
	}
	return s.files.GetFileVersion(ctx, fileID, version)
}

// GetSignedDownloadURL возвращает подписанную ссылку на версию файла
func (s *RetrievalService) GetSignedDownloadURL(ctx context.Context, fileID uuid.UUID, version int) (*domain.DownloadLink, error) {
	v, err := s.resolve(ctx, fileID, version)
	if err != nil {
		return nil, err
	}

	issued := s.now().UTC()
	url, err := s.storage.PresignGetObject(ctx, v.StoreKey, s.ttl)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStorageRead, err)
	}

	return &domain.DownloadLink{
		URL:       url,
		Version:   v.Version,
		ExpiresAt: issued.Add(s.ttl),
	}, nil
}

// Download читает содержимое версии целиком и сверяет контрольную сумму
func (s *RetrievalService) Download(ctx context.Context, fileID uuid.UUID, version int) (*domain.FileVersion, []byte, error) {
	v, err := s.resolve(ctx, fileID, version)
	if err != nil {
		return nil, nil, err
	}

	obj, err := s.storage.GetObject(ctx, v.StoreKey)
	if err != nil {
		if errors.Is(err, s3.ErrObjectNotFound) {
			s.logger.Error("ledger references missing object", zap.String("key", v.StoreKey))
		}
		return nil, nil, fmt.Errorf("%w: %v", domain.ErrStorageRead, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", domain.ErrStorageRead, err)
	}
	if sum := Checksum(data); sum != v.Checksum {
		return nil, nil, fmt.Errorf("%w: %s v%d stored %s, read %s", domain.ErrChecksumMismatch, fileID, v.Version, v.Checksum, sum)
	}
	return v, data, nil
}
