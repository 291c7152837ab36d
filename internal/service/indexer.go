package service

import (
	"context"

	"github.com/google/uuid"

	"docvault/internal/domain"
)

// Indexer получает уведомления о новых версиях и удалениях для поискового индекса
type Indexer interface {
	IndexVersion(ctx context.Context, version domain.FileVersion) error
	RemoveFile(ctx context.Context, fileID uuid.UUID) error
}

// NopIndexer ничего не индексирует
type NopIndexer struct{}

func (NopIndexer) IndexVersion(context.Context, domain.FileVersion) error { return nil }

func (NopIndexer) RemoveFile(context.Context, uuid.UUID) error { return nil }
