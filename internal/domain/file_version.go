// domain/file_version.go
package domain

import (
	"github.com/google/uuid"
	"time"
)

type FileVersion struct {
	FileID     uuid.UUID       `json:"fileId"`
	Version    int             `json:"version"`
	Filename   string          `json:"filename"`
	Size       int64           `json:"size"`
	Checksum   string          `json:"checksum"`
	StoreKey   string          `json:"-"`
	UploadedAt time.Time       `json:"uploadedAt"`
	UploadedBy string          `json:"uploadedBy"`
	Metadata   VersionMetadata `json:"metadata"`
}

type VersionMetadata struct {
	Category       string   `json:"category"`
	Tags           []string `json:"tags"`
	MimeType       string   `json:"mimeType"`
	RolledBackFrom *int     `json:"rolledBackFrom,omitempty"`
}

// BulkUploadFailure описывает файл, который не удалось загрузить в пакете
type BulkUploadFailure struct {
	Filename string `json:"filename"`
	Error    string `json:"error"`
	Err      error  `json:"-"`
}

// BulkUploadResult - итог пакетной загрузки, не является ошибкой
type BulkUploadResult struct {
	Success   []FileVersion       `json:"success"`
	Failed    []BulkUploadFailure `json:"failed"`
	Total     int                 `json:"total"`
	Processed int                 `json:"processed"`
}
