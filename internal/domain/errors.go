package domain

import (
	"errors"
	"fmt"
	"github.com/google/uuid"
)

var (
	ErrStorageWrite      = errors.New("object store write failed")
	ErrStorageRead       = errors.New("object store read failed")
	ErrVersionNotFound   = errors.New("version not found")
	ErrFileNotFound      = errors.New("file not found")
	ErrPermissionDenied  = errors.New("permission denied")
	ErrInvalidInput      = errors.New("invalid input")
	ErrFileTooLarge      = errors.New("file size exceeds maximum allowed size")
	ErrInvalidAnnotation = errors.New("invalid annotation")
	ErrChecksumMismatch  = errors.New("checksum mismatch")
)

// IncompleteDeleteError возвращается, когда часть объектов не удалось удалить.
// Файл остается помеченным на удаление, записи версий не тронуты.
type IncompleteDeleteError struct {
	FileID    uuid.UUID
	Remaining []int
	Err       error
}

func (e *IncompleteDeleteError) Error() string {
	return fmt.Sprintf("delete of file %s incomplete, versions %v remain in store: %v", e.FileID, e.Remaining, e.Err)
}

func (e *IncompleteDeleteError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrStorageWrite}
	}
	return []error{ErrStorageWrite, e.Err}
}
