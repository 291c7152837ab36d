package service

import (
	"context"
	"docvault/internal/domain"
	"docvault/internal/repository"
	"errors"
	"fmt"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"time"
)

// Guard проверяет, обладает ли пользователь правом над файлом
type Guard interface {
	Authorize(ctx context.Context, fileID uuid.UUID, userID string, capability domain.Capability) error
}

// PermissionService представляет сервис для проверки и выдачи прав доступа
type PermissionService struct {
	permissionRepo *repository.PermissionRepository
	fileRepo       *repository.FileRepository
	logger         *zap.Logger
	now            func() time.Time
}

// NewPermissionService создает новый экземпляр PermissionService
func NewPermissionService(
	permissionRepo *repository.PermissionRepository,
	fileRepo *repository.FileRepository,
	logger *zap.Logger,
) *PermissionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PermissionService{
		permissionRepo: permissionRepo,
		fileRepo:       fileRepo,
		logger:         logger,
		now:            time.Now,
	}
}

// Authorize возвращает ErrPermissionDenied, если права нет.
// Для неизвестного файла права нет ни у кого.
func (s *PermissionService) Authorize(ctx context.Context, fileID uuid.UUID, userID string, capability domain.Capability) error {
	if userID == "" {
		return fmt.Errorf("%w: anonymous caller", domain.ErrPermissionDenied)
	}

	perms, err := s.Permissions(ctx, fileID)
	if err != nil {
		return fmt.Errorf("failed to load permissions: %w", err)
	}
	if !perms.Has(userID, capability) {
		s.logger.Debug("permission denied",
			zap.String("file_id", fileID.String()),
			zap.String("user_id", userID),
			zap.String("capability", string(capability)))
		return fmt.Errorf("%w: %s on file %s", domain.ErrPermissionDenied, capability, fileID)
	}
	return nil
}

// Permissions возвращает выданные права. Если записей нет, права выводятся из владельца файла.
func (s *PermissionService) Permissions(ctx context.Context, fileID uuid.UUID) (domain.Permissions, error) {
	grants, err := s.permissionRepo.ListByFile(ctx, fileID)
	if err != nil {
		return domain.Permissions{}, err
	}
	if len(grants) > 0 {
		return domain.PermissionsFromGrants(grants), nil
	}

	file, err := s.fileRepo.GetByID(ctx, fileID)
	if errors.Is(err, domain.ErrFileNotFound) {
		return domain.PermissionsFromGrants(nil), nil
	}
	if err != nil {
		return domain.Permissions{}, err
	}
	return domain.OwnerPermissions(file.CreatedBy), nil
}

// grantOwnerTx выдает загрузившему все права в транзакции создания файла
func (s *PermissionService) grantOwnerTx(ctx context.Context, tx *sqlx.Tx, fileID uuid.UUID, ownerID string, at time.Time) error {
	grants := make([]domain.Grant, 0, len(domain.AllCapabilities))
	for _, c := range domain.AllCapabilities {
		grants = append(grants, domain.Grant{FileID: fileID, UserID: ownerID, Capability: c, GrantedAt: at})
	}
	return s.permissionRepo.CreateTx(ctx, tx, grants)
}

// Grant выдает право другому пользователю. Выдавать может только обладатель права delete.
func (s *PermissionService) Grant(ctx context.Context, fileID uuid.UUID, granterID, userID string, capability domain.Capability) error {
	if _, err := s.checkSharing(ctx, fileID, granterID, userID, capability); err != nil {
		return err
	}

	grant := domain.Grant{FileID: fileID, UserID: userID, Capability: capability, GrantedAt: s.now().UTC()}
	if err := s.permissionRepo.Create(ctx, grant); err != nil {
		return err
	}

	s.logger.Info("permission granted",
		zap.String("file_id", fileID.String()),
		zap.String("granted_by", granterID),
		zap.String("user_id", userID),
		zap.String("capability", string(capability)))
	return nil
}

// Revoke отзывает право. Права создателя файла отозвать нельзя.
func (s *PermissionService) Revoke(ctx context.Context, fileID uuid.UUID, granterID, userID string, capability domain.Capability) (bool, error) {
	file, err := s.checkSharing(ctx, fileID, granterID, userID, capability)
	if err != nil {
		return false, err
	}
	if userID == file.CreatedBy {
		return false, fmt.Errorf("%w: owner permissions cannot be revoked", domain.ErrPermissionDenied)
	}

	removed, err := s.permissionRepo.Delete(ctx, fileID, userID, capability)
	if err != nil {
		return false, err
	}
	if removed {
		s.logger.Info("permission revoked",
			zap.String("file_id", fileID.String()),
			zap.String("revoked_by", granterID),
			zap.String("user_id", userID),
			zap.String("capability", string(capability)))
	}
	return removed, nil
}

func (s *PermissionService) checkSharing(ctx context.Context, fileID uuid.UUID, granterID, userID string, capability domain.Capability) (*domain.File, error) {
	if userID == "" || !capability.Valid() {
		return nil, fmt.Errorf("%w: user and a valid capability are required", domain.ErrInvalidInput)
	}

	file, err := s.fileRepo.GetByID(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if file.IsDeleted() {
		return nil, fmt.Errorf("%w: %s", domain.ErrFileNotFound, fileID)
	}

	if err := s.Authorize(ctx, fileID, granterID, domain.CapabilityDelete); err != nil {
		return nil, err
	}
	return file, nil
}
