package service

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"mime"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"docvault/internal/domain"
)

const defaultContentType = "application/octet-stream"

var categoryPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,63}$`)

// Checksum возвращает hex-кодированный SHA-256 содержимого
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ObjectKey строит ключ хранилища {category}/{fileID}/v{version}/{filename}
func ObjectKey(category string, fileID uuid.UUID, version int, filename string) string {
	return fmt.Sprintf("%s/%s/v%d/%s", category, fileID, version, filename)
}

func filePrefix(category string, fileID uuid.UUID) string {
	return fmt.Sprintf("%s/%s/", category, fileID)
}

// ParseObjectKey разбирает ключ, построенный ObjectKey
func ParseObjectKey(key string) (fileID uuid.UUID, version int, ok bool) {
	parts := strings.SplitN(key, "/", 4)
	if len(parts) != 4 || parts[3] == "" || !strings.HasPrefix(parts[2], "v") {
		return uuid.Nil, 0, false
	}
	id, err := uuid.Parse(parts[1])
	if err != nil {
		return uuid.Nil, 0, false
	}
	n, err := strconv.Atoi(strings.TrimPrefix(parts[2], "v"))
	if err != nil || n < 1 {
		return uuid.Nil, 0, false
	}
	return id, n, true
}

func normalizeCategory(category string) (string, error) {
	category = strings.TrimSpace(category)
	if !categoryPattern.MatchString(category) {
		return "", fmt.Errorf("%w: invalid category %q", domain.ErrInvalidInput, category)
	}
	return category, nil
}

// normalizeUpload оставляет от имени файла только базовое имя и определяет MIME-тип
func normalizeUpload(in domain.UploadInput, maxSize int64) (domain.UploadInput, error) {
	name := strings.TrimSpace(strings.ReplaceAll(in.Filename, "\\", "/"))
	name = path.Base(name)
	if name == "" || name == "." || name == ".." || name == "/" {
		return in, fmt.Errorf("%w: filename is required", domain.ErrInvalidInput)
	}
	if maxSize > 0 && int64(len(in.Content)) > maxSize {
		return in, fmt.Errorf("%w: %s is %d bytes, max size is %d bytes", domain.ErrFileTooLarge, name, len(in.Content), maxSize)
	}

	contentType := strings.TrimSpace(in.MimeType)
	if contentType == "" {
		contentType = mime.TypeByExtension(path.Ext(name))
	}
	if contentType == "" {
		contentType = defaultContentType
	}

	return domain.UploadInput{Filename: name, Content: in.Content, MimeType: contentType}, nil
}

func copyTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}
