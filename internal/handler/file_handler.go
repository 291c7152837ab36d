package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"docvault/internal/auth"
	"docvault/internal/domain"
	"docvault/internal/service"
)

const (
	// multipartMemory - сколько формы держать в памяти, остальное уходит во временные файлы
	multipartMemory     = 32 << 20
	defaultMaxBulkFiles = 50
)

type FileHandler struct {
	files     *service.FileService
	retrieval *service.RetrievalService
	metadata  *service.MetadataService
	guard     service.Guard
	enforce   bool
	maxSize   int64
	maxBulk   int
	progress  *progressTracker
	logger    *zap.Logger
}

type rollbackRequest struct {
	Version int `json:"version"`
}

type deleteResponse struct {
	Deleted bool `json:"deleted"`
}

func NewFileHandler(
	files *service.FileService,
	retrieval *service.RetrievalService,
	metadata *service.MetadataService,
	guard service.Guard,
	enforce bool,
	maxSize int64,
	maxBulkFiles int,
	logger *zap.Logger,
) *FileHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxBulkFiles <= 0 {
		maxBulkFiles = defaultMaxBulkFiles
	}
	return &FileHandler{
		files:     files,
		retrieval: retrieval,
		metadata:  metadata,
		guard:     guard,
		enforce:   enforce,
		maxSize:   maxSize,
		maxBulk:   maxBulkFiles,
		progress:  newProgressTracker(),
		logger:    logger,
	}
}

// UploadFile создает новый файл из поля формы "file"
func (h *FileHandler) UploadFile(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	if !parseUploadForm(w, r, h.singleLimit()) {
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File["file"]
	if len(headers) != 1 {
		http.Error(w, "Exactly one file is required", http.StatusBadRequest)
		return
	}
	in, err := readUpload(headers[0])
	if err != nil {
		http.Error(w, "Failed to read file", http.StatusBadRequest)
		return
	}

	v, err := h.files.UploadFile(r.Context(), in, userID, r.FormValue("category"), formTags(r.MultipartForm))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

// BulkUpload загружает все файлы из полей "files"; частичный успех не является ошибкой
func (h *FileHandler) BulkUpload(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	var limit int64
	if h.maxSize > 0 {
		limit = h.maxSize*int64(h.maxBulk) + multipartMemory
	}
	if !parseUploadForm(w, r, limit) {
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		http.Error(w, "No files uploaded", http.StatusBadRequest)
		return
	}
	if len(headers) > h.maxBulk {
		http.Error(w, fmt.Sprintf("At most %d files per request", h.maxBulk), http.StatusRequestEntityTooLarge)
		return
	}
	// Размер части известен до чтения: слишком большие файлы в память не попадают
	for _, fh := range headers {
		if h.maxSize > 0 && fh.Size > h.maxSize {
			http.Error(w, fmt.Sprintf("File %s exceeds the size limit", fh.Filename), http.StatusRequestEntityTooLarge)
			return
		}
	}

	inputs := make([]domain.UploadInput, 0, len(headers))
	for _, fh := range headers {
		in, err := readUpload(fh)
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to read file %s", fh.Filename), http.StatusBadRequest)
			return
		}
		inputs = append(inputs, in)
	}

	total := len(inputs)
	h.progress.set(userID, UploadProgressEvent{Status: "uploading", Total: total})
	result := h.files.BulkUpload(r.Context(), inputs, userID, r.FormValue("category"), formTags(r.MultipartForm),
		func(percent float64) {
			h.progress.set(userID, UploadProgressEvent{Percentage: percent, Status: "uploading", Total: total})
		})
	h.progress.set(userID, UploadProgressEvent{
		Percentage: 100,
		Status:     "completed",
		Total:      total,
		Failed:     len(result.Failed),
	})

	h.logger.Info("bulk upload finished",
		zap.String("user_id", userID),
		zap.Int("total", result.Total),
		zap.Int("success", len(result.Success)),
		zap.Int("failed", len(result.Failed)))
	writeJSON(w, http.StatusOK, result)
}

// AddVersion загружает новое содержимое существующего файла
func (h *FileHandler) AddVersion(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	fileID, ok := fileIDParam(w, r)
	if !ok {
		return
	}
	if !parseUploadForm(w, r, h.singleLimit()) {
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File["file"]
	if len(headers) != 1 {
		http.Error(w, "Exactly one file is required", http.StatusBadRequest)
		return
	}
	in, err := readUpload(headers[0])
	if err != nil {
		http.Error(w, "Failed to read file", http.StatusBadRequest)
		return
	}

	v, err := h.files.AddVersion(r.Context(), fileID, in, userID, formTags(r.MultipartForm))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

// GetFileVersions возвращает все версии файла по возрастанию номера
func (h *FileHandler) GetFileVersions(w http.ResponseWriter, r *http.Request) {
	fileID, ok := fileIDParam(w, r)
	if !ok || !h.authorizeRead(w, r, fileID) {
		return
	}

	versions, err := h.files.GetFileVersions(r.Context(), fileID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if len(versions) == 0 {
		writeError(w, h.logger, fmt.Errorf("%w: %s", domain.ErrFileNotFound, fileID))
		return
	}
	writeJSON(w, http.StatusOK, versions)
}

func (h *FileHandler) GetFileVersion(w http.ResponseWriter, r *http.Request) {
	fileID, ok := fileIDParam(w, r)
	if !ok || !h.authorizeRead(w, r, fileID) {
		return
	}
	version, err := strconv.Atoi(chi.URLParam(r, "version"))
	if err != nil {
		http.Error(w, "Invalid version", http.StatusBadRequest)
		return
	}

	v, err := h.files.GetFileVersion(r.Context(), fileID, version)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// Rollback создает новую версию с содержимым указанной
func (h *FileHandler) Rollback(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	fileID, ok := fileIDParam(w, r)
	if !ok {
		return
	}

	var req rollbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	v, err := h.files.RollbackToVersion(r.Context(), fileID, req.Version, userID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

// GetDownloadURL выдает подписанную ссылку; без параметра version - на последнюю версию
func (h *FileHandler) GetDownloadURL(w http.ResponseWriter, r *http.Request) {
	fileID, ok := fileIDParam(w, r)
	if !ok || !h.authorizeRead(w, r, fileID) {
		return
	}
	version, ok := versionQuery(w, r)
	if !ok {
		return
	}

	link, err := h.retrieval.GetSignedDownloadURL(r.Context(), fileID, version)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, link)
}

// DownloadFile отдает содержимое версии через сервер с поддержкой Range
func (h *FileHandler) DownloadFile(w http.ResponseWriter, r *http.Request) {
	fileID, ok := fileIDParam(w, r)
	if !ok || !h.authorizeRead(w, r, fileID) {
		return
	}
	version, ok := versionQuery(w, r)
	if !ok {
		return
	}

	v, data, err := h.retrieval.Download(r.Context(), fileID, version)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	asciiName := strings.ReplaceAll(v.Filename, `"`, `\"`)
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="%s"; filename*=UTF-8''%s`, asciiName, url.PathEscape(v.Filename)))
	w.Header().Set("Content-Type", v.Metadata.MimeType)
	w.Header().Set("ETag", `"`+v.Checksum+`"`)
	http.ServeContent(w, r, v.Filename, v.UploadedAt, bytes.NewReader(data))
}

// GetMetadata возвращает составное представление файла
func (h *FileHandler) GetMetadata(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	fileID, ok := fileIDParam(w, r)
	if !ok {
		return
	}

	meta, err := h.metadata.GetFileMetadata(r.Context(), fileID, userID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if meta == nil {
		writeError(w, h.logger, fmt.Errorf("%w: %s", domain.ErrFileNotFound, fileID))
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

// DeleteFile удаляет файл со всеми версиями. Незавершенное удаление - 503, его можно повторить.
func (h *FileHandler) DeleteFile(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	fileID, ok := fileIDParam(w, r)
	if !ok {
		return
	}

	deleted, err := h.files.DeleteFile(r.Context(), fileID, userID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if !deleted {
		writeError(w, h.logger, fmt.Errorf("%w: %s", domain.ErrFileNotFound, fileID))
		return
	}
	writeJSON(w, http.StatusOK, deleteResponse{Deleted: true})
}

// authorizeRead проверяет право read, если включено разграничение доступа
func (h *FileHandler) authorizeRead(w http.ResponseWriter, r *http.Request, fileID uuid.UUID) bool {
	return authorize(w, r, h.guard, h.enforce, fileID, domain.CapabilityRead, h.logger)
}

func authorize(
	w http.ResponseWriter,
	r *http.Request,
	guard service.Guard,
	enforce bool,
	fileID uuid.UUID,
	capability domain.Capability,
	logger *zap.Logger,
) bool {
	if !enforce {
		return true
	}
	if err := guard.Authorize(r.Context(), fileID, auth.UserID(r.Context()), capability); err != nil {
		writeError(w, logger, err)
		return false
	}
	return true
}

func fileIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	fileID, err := uuid.Parse(chi.URLParam(r, "uuid"))
	if err != nil {
		http.Error(w, "Invalid UUID format", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return fileID, true
}

// versionQuery читает необязательный параметр version; 0 означает последнюю версию
func versionQuery(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("version")
	if raw == "" {
		return 0, true
	}
	version, err := strconv.Atoi(raw)
	if err != nil || version < 0 {
		http.Error(w, "Invalid version", http.StatusBadRequest)
		return 0, false
	}
	return version, true
}

func (h *FileHandler) singleLimit() int64 {
	if h.maxSize <= 0 {
		return 0
	}
	return h.maxSize + multipartMemory
}

// parseUploadForm ограничивает тело запроса и разбирает multipart-форму.
// При ошибке ответ уже записан.
func parseUploadForm(w http.ResponseWriter, r *http.Request, limit int64) bool {
	if limit > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, limit)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "Request body too large", http.StatusRequestEntityTooLarge)
			return false
		}
		http.Error(w, "Failed to parse form", http.StatusBadRequest)
		return false
	}
	return true
}

func readUpload(fh *multipart.FileHeader) (domain.UploadInput, error) {
	file, err := fh.Open()
	if err != nil {
		return domain.UploadInput{}, err
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return domain.UploadInput{}, err
	}
	mimeType := fh.Header.Get("Content-Type")
	if mimeType == "application/octet-stream" {
		// браузеры шлют octet-stream для неизвестных типов; пусть тип определит сервис
		mimeType = ""
	}
	return domain.UploadInput{Filename: fh.Filename, Content: data, MimeType: mimeType}, nil
}

// formTags собирает теги из полей "tags"; поле может содержать список через запятую
func formTags(form *multipart.Form) []string {
	var tags []string
	for _, value := range form.Value["tags"] {
		for _, tag := range strings.Split(value, ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				tags = append(tags, tag)
			}
		}
	}
	return tags
}
