package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"docvault/internal/auth"
	"docvault/internal/service"
)

var (
	errMissingFileService     = errors.New("file service dependency required")
	errMissingAnnotations     = errors.New("annotation service dependency required")
	errMissingPermissions     = errors.New("permission service dependency required")
	errMissingRetrieval       = errors.New("retrieval service dependency required")
	errMissingMetadataService = errors.New("metadata service dependency required")
)

// Pinger проверяет доступность базы данных
type Pinger interface {
	PingContext(ctx context.Context) error
}

type Dependencies struct {
	Files          *service.FileService
	Annotations    *service.AnnotationService
	Permissions    *service.PermissionService
	Retrieval      *service.RetrievalService
	Metadata       *service.MetadataService
	DB             Pinger
	Gatherer       prometheus.Gatherer
	Logger         *zap.Logger
	EnforceSharing bool
	MaxFileSize    int64
	MaxBulkFiles   int
	RateLimit      int
	RateBurst      int
}

// NewRouter собирает HTTP API сервиса
func NewRouter(deps Dependencies) (http.Handler, error) {
	switch {
	case deps.Files == nil:
		return nil, errMissingFileService
	case deps.Annotations == nil:
		return nil, errMissingAnnotations
	case deps.Permissions == nil:
		return nil, errMissingPermissions
	case deps.Retrieval == nil:
		return nil, errMissingRetrieval
	case deps.Metadata == nil:
		return nil, errMissingMetadataService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	fileHandler := NewFileHandler(deps.Files, deps.Retrieval, deps.Metadata, deps.Permissions,
		deps.EnforceSharing, deps.MaxFileSize, deps.MaxBulkFiles, logger)
	annotationHandler := NewAnnotationHandler(deps.Annotations, deps.Permissions, deps.EnforceSharing, logger)
	shareHandler := NewShareHandler(deps.Permissions, logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Range", auth.HeaderUserID},
		ExposedHeaders:   []string{"Content-Disposition", "Content-Range", "Accept-Ranges", "ETag"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", healthHandler(deps.DB))
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		r.Use(auth.Middleware)
		r.Use(RateLimit(deps.RateLimit, deps.RateBurst))

		r.Post("/files", fileHandler.UploadFile)
		r.Post("/files/bulk", fileHandler.BulkUpload)
		r.Get("/files/progress", fileHandler.GetUploadProgress)

		r.Route("/files/{uuid}", func(r chi.Router) {
			r.Get("/", fileHandler.GetMetadata)
			r.Delete("/", fileHandler.DeleteFile)
			r.Get("/content", fileHandler.DownloadFile)
			r.Get("/download-url", fileHandler.GetDownloadURL)
			r.Post("/rollback", fileHandler.Rollback)

			r.Get("/versions", fileHandler.GetFileVersions)
			r.Post("/versions", fileHandler.AddVersion)
			r.Get("/versions/{version}", fileHandler.GetFileVersion)

			r.Get("/annotations", annotationHandler.ListAnnotations)
			r.Post("/annotations", annotationHandler.AddAnnotation)
			r.Patch("/annotations/{annotationID}", annotationHandler.UpdateAnnotation)
			r.Delete("/annotations/{annotationID}", annotationHandler.DeleteAnnotation)

			r.Get("/permissions", shareHandler.GetPermissions)
			r.Post("/permissions", shareHandler.Grant)
			r.Delete("/permissions/{userID}/{capability}", shareHandler.Revoke)
		})
	})

	return r, nil
}

func healthHandler(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := db.PingContext(ctx); err != nil {
				http.Error(w, "database unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.Write([]byte("ok"))
	}
}

// requestLogger пишет в zap по одной записи на запрос
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			started := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			logger.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(started)),
				zap.String("request_id", middleware.GetReqID(r.Context())))
		})
	}
}
