// storage.go
package s3

import (
	"context"
	"errors"
	"io"
	"time"
)

var ErrObjectNotFound = errors.New("object not found")

// S3Object определяет интерфейс для объектов S3
type S3Object interface {
	io.ReadCloser
	ContentLength() int64
	ContentType() string
	Metadata() map[string]string
}

// s3Object реализует интерфейс S3Object
type s3Object struct {
	io.ReadCloser
	contentLength int64
	contentType   string
	metadata      map[string]string
}

func (o *s3Object) ContentLength() int64 {
	return o.contentLength
}

func (o *s3Object) ContentType() string {
	return o.contentType
}

func (o *s3Object) Metadata() map[string]string {
	return o.metadata
}

// NewObject оборачивает поток с атрибутами объекта
func NewObject(body io.ReadCloser, contentLength int64, contentType string, metadata map[string]string) S3Object {
	return &s3Object{
		ReadCloser:    body,
		contentLength: contentLength,
		contentType:   contentType,
		metadata:      metadata,
	}
}

// ObjectInfo - элемент листинга бакета
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// Storage определяет интерфейс для работы с S3-совместимым хранилищем
type Storage interface {
	PutObject(ctx context.Context, key string, data []byte, contentType string, metadata map[string]string) error
	GetObject(ctx context.Context, key string) (S3Object, error)
	DeleteObject(ctx context.Context, key string) error
	ListObjects(ctx context.Context, prefix string) ([]ObjectInfo, error)
	CopyObject(ctx context.Context, srcKey, dstKey, contentType string, metadata map[string]string) error
	PresignGetObject(ctx context.Context, key string, ttl time.Duration) (string, error)
}
