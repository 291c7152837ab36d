package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"docvault/internal/domain"
	"docvault/internal/metrics"
	"docvault/internal/repository"
	"docvault/internal/service/s3"
)

const (
	defaultWorkers   = 8
	purgeBatchSize   = 100
	versionKindNew   = "upload"
	versionKindAdd   = "version"
	versionKindRoll  = "rollback"
	deleteStatusOK   = "ok"
	deleteStatusPart = "incomplete"
)

// FileServiceConfig задает ограничения загрузки и режим проверки прав
type FileServiceConfig struct {
	Workers        int
	MaxFileSize    int64
	EnforceSharing bool
}

// FileService представляет сервис загрузки, версионирования и удаления файлов
type FileService struct {
	fileRepo    *repository.FileRepository
	versionRepo *repository.VersionRepository
	storage     s3.Storage
	permissions *PermissionService
	indexer     Indexer
	cfg         FileServiceConfig
	logger      *zap.Logger
	metrics     *metrics.Metrics
	locks       *fileLocks
	now         func() time.Time
	newID       func() uuid.UUID
}

func NewFileService(
	fileRepo *repository.FileRepository,
	versionRepo *repository.VersionRepository,
	storage s3.Storage,
	permissions *PermissionService,
	indexer Indexer,
	cfg FileServiceConfig,
	logger *zap.Logger,
	m *metrics.Metrics,
) *FileService {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if indexer == nil {
		indexer = NopIndexer{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileService{
		fileRepo:    fileRepo,
		versionRepo: versionRepo,
		storage:     storage,
		permissions: permissions,
		indexer:     indexer,
		cfg:         cfg,
		logger:      logger,
		metrics:     m,
		locks:       newFileLocks(),
		now:         time.Now,
		newID:       uuid.New,
	}
}

// versionBuilder записывает объект новой версии и возвращает ее описание.
// Для существующего файла вызывается под блокировкой файла внутри транзакции журнала,
// для нового файла - до начала транзакции, и tx тогда равен nil.
type versionBuilder func(ctx context.Context, tx *sqlx.Tx, file *domain.File, next int, now time.Time) (*domain.FileVersion, error)

type versionOp struct {
	fileID  uuid.UUID
	kind    string
	newFile *domain.File
	// missing возвращается, если файла нет или он удален
	missing error
	build   versionBuilder
}

// UploadFile создает новый файл с первой версией
func (s *FileService) UploadFile(ctx context.Context, in domain.UploadInput, userID, category string, tags []string) (*domain.FileVersion, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user is required", domain.ErrInvalidInput)
	}
	category, err := normalizeCategory(category)
	if err != nil {
		return nil, err
	}
	in, err = normalizeUpload(in, s.cfg.MaxFileSize)
	if err != nil {
		return nil, err
	}

	file := &domain.File{
		ID:        s.newID(),
		Category:  category,
		CreatedBy: userID,
		CreatedAt: s.now().UTC(),
	}

	return s.commitVersion(ctx, versionOp{
		fileID:  file.ID,
		kind:    versionKindNew,
		newFile: file,
		build:   s.putContent(in, userID, tags),
	})
}

// AddVersion загружает новое содержимое существующего файла
func (s *FileService) AddVersion(ctx context.Context, fileID uuid.UUID, in domain.UploadInput, userID string, tags []string) (*domain.FileVersion, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user is required", domain.ErrInvalidInput)
	}
	in, err := normalizeUpload(in, s.cfg.MaxFileSize)
	if err != nil {
		return nil, err
	}
	if s.cfg.EnforceSharing {
		if err := s.permissions.Authorize(ctx, fileID, userID, domain.CapabilityWrite); err != nil {
			return nil, err
		}
	}

	return s.commitVersion(ctx, versionOp{
		fileID:  fileID,
		kind:    versionKindAdd,
		missing: domain.ErrFileNotFound,
		build:   s.putContent(in, userID, tags),
	})
}

// RollbackToVersion копирует объект указанной версии в новую версию.
// История не меняется: откат всегда добавляет запись.
func (s *FileService) RollbackToVersion(ctx context.Context, fileID uuid.UUID, version int, userID string) (*domain.FileVersion, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user is required", domain.ErrInvalidInput)
	}
	if version < 1 {
		return nil, fmt.Errorf("%w: %s v%d", domain.ErrVersionNotFound, fileID, version)
	}
	if s.cfg.EnforceSharing {
		if err := s.permissions.Authorize(ctx, fileID, userID, domain.CapabilityWrite); err != nil {
			return nil, err
		}
	}

	return s.commitVersion(ctx, versionOp{
		fileID:  fileID,
		kind:    versionKindRoll,
		missing: domain.ErrVersionNotFound,
		build: func(ctx context.Context, tx *sqlx.Tx, file *domain.File, next int, now time.Time) (*domain.FileVersion, error) {
			target, err := s.versionRepo.GetFileVersionTx(ctx, tx, fileID, version)
			if err != nil {
				return nil, err
			}

			from := target.Version
			v := &domain.FileVersion{
				FileID:     fileID,
				Version:    next,
				Filename:   target.Filename,
				Size:       target.Size,
				Checksum:   target.Checksum,
				StoreKey:   ObjectKey(file.Category, fileID, next, target.Filename),
				UploadedAt: now,
				UploadedBy: userID,
				Metadata: domain.VersionMetadata{
					Category:       file.Category,
					Tags:           copyTags(target.Metadata.Tags),
					MimeType:       target.Metadata.MimeType,
					RolledBackFrom: &from,
				},
			}

			err = s.storage.CopyObject(ctx, target.StoreKey, v.StoreKey, v.Metadata.MimeType, objectMetadata(v))
			if err != nil {
				return nil, fmt.Errorf("%w: %v", domain.ErrStorageWrite, err)
			}
			return v, nil
		},
	})
}

func (s *FileService) putContent(in domain.UploadInput, userID string, tags []string) versionBuilder {
	checksum := Checksum(in.Content)
	tags = copyTags(tags)

	return func(ctx context.Context, _ *sqlx.Tx, file *domain.File, next int, now time.Time) (*domain.FileVersion, error) {
		v := &domain.FileVersion{
			FileID:     file.ID,
			Version:    next,
			Filename:   in.Filename,
			Size:       int64(len(in.Content)),
			Checksum:   checksum,
			StoreKey:   ObjectKey(file.Category, file.ID, next, in.Filename),
			UploadedAt: now,
			UploadedBy: userID,
			Metadata: domain.VersionMetadata{
				Category: file.Category,
				Tags:     tags,
				MimeType: in.MimeType,
			},
		}

		if err := s.storage.PutObject(ctx, v.StoreKey, in.Content, in.MimeType, objectMetadata(v)); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrStorageWrite, err)
		}
		return v, nil
	}
}

// commitVersion - единственная критическая секция журнала. Номер версии назначается,
// объект записывается и запись журнала фиксируется под одной блокировкой файла,
// поэтому номера идут без пропусков и повторов.
// Новый файл никому не виден до фиксации, поэтому его объект пишется до транзакции
// и соединение с базой не занято на время сетевого вызова.
func (s *FileService) commitVersion(ctx context.Context, op versionOp) (*domain.FileVersion, error) {
	unlock := s.locks.Lock(op.fileID)
	defer unlock()

	var (
		version   *domain.FileVersion
		committed bool
		err       error
	)
	// Объект уже записан: при любой ошибке ниже его нужно убрать
	defer func() {
		if version != nil && !committed {
			s.discardObject(version.StoreKey)
		}
	}()

	now := s.now().UTC()
	if op.newFile != nil {
		version, err = op.build(ctx, nil, op.newFile, 1, now)
		if err != nil {
			return nil, err
		}
	}

	tx, err := s.fileRepo.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.fileRepo.LockFile(ctx, tx, op.fileID); err != nil {
		return nil, err
	}

	if op.newFile != nil {
		if err := s.fileRepo.Create(ctx, tx, op.newFile); err != nil {
			return nil, err
		}
		if err := s.permissions.grantOwnerTx(ctx, tx, op.newFile.ID, op.newFile.CreatedBy, now); err != nil {
			return nil, err
		}
	} else {
		file, err := s.fileRepo.GetByIDTx(ctx, tx, op.fileID)
		if errors.Is(err, domain.ErrFileNotFound) || (err == nil && file.IsDeleted()) {
			return nil, fmt.Errorf("%w: %s", op.missing, op.fileID)
		}
		if err != nil {
			return nil, err
		}

		count, err := s.versionRepo.CountVersions(ctx, tx, op.fileID)
		if err != nil {
			return nil, err
		}
		built, err := op.build(ctx, tx, file, count+1, now)
		if err != nil {
			return nil, err
		}
		version = built
	}

	if err := s.versionRepo.CreateFileVersion(ctx, tx, version); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit version %d of %s: %w", version.Version, op.fileID, err)
	}
	committed = true

	s.metrics.VersionCreated(op.kind)
	s.logger.Info("file version created",
		zap.String("file_id", op.fileID.String()),
		zap.Int("version", version.Version),
		zap.String("kind", op.kind),
		zap.Int64("size", version.Size),
		zap.String("user_id", version.UploadedBy))

	if err := s.indexer.IndexVersion(ctx, *version); err != nil {
		s.logger.Warn("failed to index version", zap.String("file_id", op.fileID.String()), zap.Error(err))
	}
	return version, nil
}

// discardObject удаляет объект незафиксированной версии
func (s *FileService) discardObject(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.storage.DeleteObject(ctx, key); err != nil {
		s.logger.Error("failed to delete object after ledger error, left for orphan sweep",
			zap.String("key", key), zap.Error(err))
	}
}

func objectMetadata(v *domain.FileVersion) map[string]string {
	meta := map[string]string{
		"checksum":    v.Checksum,
		"version":     strconv.Itoa(v.Version),
		"uploaded-by": v.UploadedBy,
		"uploaded-at": v.UploadedAt.Format(time.RFC3339),
		"tags":        strings.Join(v.Metadata.Tags, ","),
	}
	if v.Metadata.RolledBackFrom != nil {
		meta["rolled-back-from"] = strconv.Itoa(*v.Metadata.RolledBackFrom)
	}
	return meta
}

// GetFileVersions возвращает историю версий; для удаленного или неизвестного файла она пуста
func (s *FileService) GetFileVersions(ctx context.Context, fileID uuid.UUID) ([]domain.FileVersion, error) {
	visible, err := s.isVisible(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if !visible {
		return []domain.FileVersion{}, nil
	}
	return s.versionRepo.GetFileVersions(ctx, fileID)
}

// GetFileVersion возвращает версию; ErrFileNotFound, если у файла нет версий
func (s *FileService) GetFileVersion(ctx context.Context, fileID uuid.UUID, version int) (*domain.FileVersion, error) {
	visible, err := s.isVisible(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if !visible {
		return nil, fmt.Errorf("%w: %s", domain.ErrFileNotFound, fileID)
	}
	return s.versionRepo.GetFileVersion(ctx, fileID, version)
}

// GetLatestVersion возвращает последнюю версию файла
func (s *FileService) GetLatestVersion(ctx context.Context, fileID uuid.UUID) (*domain.FileVersion, error) {
	visible, err := s.isVisible(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if !visible {
		return nil, fmt.Errorf("%w: %s", domain.ErrFileNotFound, fileID)
	}
	return s.versionRepo.GetLatestVersion(ctx, fileID)
}

func (s *FileService) isVisible(ctx context.Context, fileID uuid.UUID) (bool, error) {
	file, err := s.fileRepo.GetByID(ctx, fileID)
	if errors.Is(err, domain.ErrFileNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return !file.IsDeleted(), nil
}

// DeleteFile удаляет файл в несколько этапов: проверка права, пометка удаления,
// удаление объектов и только затем очистка журнала, аннотаций и прав.
// Если часть объектов удалить не удалось, возвращается *domain.IncompleteDeleteError,
// а журнал остается нетронутым до повторной попытки.
// Все этапы идут под блокировкой файла, как и очистка в PurgeDeleted.
func (s *FileService) DeleteFile(ctx context.Context, fileID uuid.UUID, userID string) (bool, error) {
	unlock := s.locks.Lock(fileID)
	defer unlock()

	versions, err := s.versionRepo.GetFileVersions(ctx, fileID)
	if err != nil {
		return false, err
	}
	if len(versions) == 0 {
		return false, nil
	}

	if err := s.permissions.Authorize(ctx, fileID, userID, domain.CapabilityDelete); err != nil {
		return false, err
	}

	category := versions[0].Metadata.Category
	if err := s.fileRepo.MarkDeleted(ctx, fileID, s.now()); err != nil {
		return false, err
	}

	// После пометки новых версий не появится; перечитываем окончательный список.
	// Он может оказаться пустым, если очистку уже довершил другой процесс.
	versions, err = s.versionRepo.GetFileVersions(ctx, fileID)
	if err != nil {
		return false, err
	}

	if err := s.purgeFile(ctx, fileID, category, versions); err != nil {
		return false, err
	}

	s.logger.Info("file deleted",
		zap.String("file_id", fileID.String()),
		zap.String("user_id", userID),
		zap.Int("versions", len(versions)))
	return true, nil
}

// purgeFile удаляет объекты файла и, если все удалены, его записи в базе
func (s *FileService) purgeFile(ctx context.Context, fileID uuid.UUID, category string, versions []domain.FileVersion) error {
	var errs []error
	remaining := []int{}
	known := make(map[string]struct{}, len(versions))

	for _, v := range versions {
		known[v.StoreKey] = struct{}{}
		if err := s.storage.DeleteObject(ctx, v.StoreKey); err != nil {
			remaining = append(remaining, v.Version)
			errs = append(errs, err)
		}
	}

	// Объекты, которые не попали в журнал (например, после сбоя компенсации)
	stray, err := s.storage.ListObjects(ctx, filePrefix(category, fileID))
	if err != nil {
		errs = append(errs, err)
	}
	for _, obj := range stray {
		if _, ok := known[obj.Key]; ok {
			continue
		}
		if err := s.storage.DeleteObject(ctx, obj.Key); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		s.metrics.Delete(deleteStatusPart)
		s.logger.Warn("file delete incomplete",
			zap.String("file_id", fileID.String()),
			zap.Ints("remaining_versions", remaining),
			zap.Error(errors.Join(errs...)))
		return &domain.IncompleteDeleteError{FileID: fileID, Remaining: remaining, Err: errors.Join(errs...)}
	}

	if err := s.fileRepo.Purge(ctx, fileID); err != nil {
		return fmt.Errorf("failed to purge records of %s: %w", fileID, err)
	}
	if err := s.indexer.RemoveFile(ctx, fileID); err != nil {
		s.logger.Warn("failed to remove file from index", zap.String("file_id", fileID.String()), zap.Error(err))
	}
	s.metrics.Delete(deleteStatusOK)
	return nil
}

// PurgeDeleted довершает удаление файлов, помеченных на удаление.
// Возвращает число полностью удаленных файлов.
func (s *FileService) PurgeDeleted(ctx context.Context) (int, error) {
	files, err := s.fileRepo.ListDeleted(ctx, purgeBatchSize)
	if err != nil {
		return 0, err
	}

	purged := 0
	for _, file := range files {
		if ctx.Err() != nil {
			return purged, ctx.Err()
		}

		done, err := s.purgeTombstoned(ctx, file.ID)
		if err != nil {
			var incomplete *domain.IncompleteDeleteError
			if errors.As(err, &incomplete) {
				continue
			}
			return purged, err
		}
		if done {
			purged++
		}
	}

	if purged > 0 {
		s.logger.Info("purged deleted files", zap.Int("count", purged))
	}
	return purged, nil
}

// purgeTombstoned довершает удаление одного помеченного файла под его блокировкой.
// false без ошибки означает, что файл уже очищен другим вызовом.
func (s *FileService) purgeTombstoned(ctx context.Context, fileID uuid.UUID) (bool, error) {
	unlock := s.locks.Lock(fileID)
	defer unlock()

	file, err := s.fileRepo.GetByID(ctx, fileID)
	if errors.Is(err, domain.ErrFileNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !file.IsDeleted() {
		return false, nil
	}

	versions, err := s.versionRepo.GetFileVersions(ctx, fileID)
	if err != nil {
		return false, err
	}
	if err := s.purgeFile(ctx, fileID, file.Category, versions); err != nil {
		return false, err
	}
	return true, nil
}

// SweepOrphans удаляет объекты с ключами версий, которых нет в журнале.
// Объекты моложе grace не трогаются: их загрузка может быть еще не зафиксирована.
func (s *FileService) SweepOrphans(ctx context.Context, grace time.Duration) (int, error) {
	objects, err := s.storage.ListObjects(ctx, "")
	if err != nil {
		return 0, err
	}

	cutoff := s.now().Add(-grace)
	removed := 0
	for _, obj := range objects {
		if _, _, ok := ParseObjectKey(obj.Key); !ok {
			continue
		}
		if obj.LastModified.After(cutoff) {
			continue
		}

		referenced, err := s.versionRepo.HasKey(ctx, obj.Key)
		if err != nil {
			return removed, err
		}
		if referenced {
			continue
		}

		if err := s.storage.DeleteObject(ctx, obj.Key); err != nil {
			s.logger.Warn("failed to delete orphan object", zap.String("key", obj.Key), zap.Error(err))
			continue
		}
		removed++
	}

	if removed > 0 {
		s.logger.Info("removed orphan objects", zap.Int("count", removed))
	}
	return removed, nil
}
