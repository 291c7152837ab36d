package domain

import (
	"github.com/google/uuid"
	"time"
)

// File представляет логический файл, объединяющий все его версии
type File struct {
	ID        uuid.UUID  `json:"fileId" db:"file_id"`
	Category  string     `json:"category" db:"category"`
	CreatedBy string     `json:"createdBy" db:"created_by"`
	CreatedAt time.Time  `json:"createdAt" db:"created_at"`
	DeletedAt *time.Time `json:"deletedAt,omitempty" db:"deleted_at"`
}

// IsDeleted сообщает, что файл помечен на удаление и скрыт от чтения
func (f *File) IsDeleted() bool {
	return f.DeletedAt != nil
}

// UploadInput описывает один загружаемый документ
type UploadInput struct {
	Filename string
	Content  []byte
	MimeType string
}

// FileMetadata - составное представление файла для чтения
type FileMetadata struct {
	FileID         uuid.UUID        `json:"fileId"`
	Filename       string           `json:"filename"`
	Size           int64            `json:"size"`
	Checksum       string           `json:"checksum"`
	Category       string           `json:"category"`
	Tags           []string         `json:"tags"`
	MimeType       string           `json:"mimeType"`
	UploadedAt     time.Time        `json:"uploadedAt"`
	UploadedBy     string           `json:"uploadedBy"`
	CurrentVersion int              `json:"currentVersion"`
	Versions       []FileVersion    `json:"versions"`
	Annotations    []FileAnnotation `json:"annotations"`
	Permissions    Permissions      `json:"permissions"`
}

// DownloadLink - временная ссылка на скачивание версии
type DownloadLink struct {
	URL       string    `json:"url"`
	Version   int       `json:"version"`
	ExpiresAt time.Time `json:"expiresAt"`
}
