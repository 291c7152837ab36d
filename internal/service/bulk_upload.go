package service

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"docvault/internal/domain"
)

type bulkOutcome struct {
	filename string
	version  *domain.FileVersion
	err      error
}

// BulkUpload загружает пакет файлов пулом из cfg.Workers воркеров.
// Ошибка одного файла не прерывает пакет. После отмены ctx новые файлы не запускаются
// и попадают в Failed, а уже начатые загрузки завершаются.
// onProgress вызывается из одной горутины после каждого завершения.
func (s *FileService) BulkUpload(
	ctx context.Context,
	files []domain.UploadInput,
	userID string,
	category string,
	tags []string,
	onProgress func(percent float64),
) *domain.BulkUploadResult {
	result := &domain.BulkUploadResult{
		Success: []domain.FileVersion{},
		Failed:  []domain.BulkUploadFailure{},
		Total:   len(files),
	}
	if len(files) == 0 {
		return result
	}

	jobs := make(chan domain.UploadInput)
	outcomes := make(chan bulkOutcome)
	uploadCtx := context.WithoutCancel(ctx)

	var wg sync.WaitGroup
	for i := 0; i < min(s.cfg.Workers, len(files)); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for in := range jobs {
				v, err := s.UploadFile(uploadCtx, in, userID, category, tags)
				outcomes <- bulkOutcome{filename: in.Filename, version: v, err: err}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for i, in := range files {
			if ctx.Err() == nil {
				select {
				case jobs <- in:
					continue
				case <-ctx.Done():
				}
			}
			for _, rest := range files[i:] {
				outcomes <- bulkOutcome{filename: rest.Filename, err: ctx.Err()}
			}
			return
		}
	}()

	go func() {
		wg.Wait()
		close(outcomes)
	}()

	for o := range outcomes {
		result.Processed++
		if o.err != nil {
			result.Failed = append(result.Failed, domain.BulkUploadFailure{
				Filename: o.filename,
				Error:    o.err.Error(),
				Err:      o.err,
			})
			s.metrics.BulkFile(false)
		} else {
			result.Success = append(result.Success, *o.version)
			s.metrics.BulkFile(true)
		}
		if onProgress != nil {
			onProgress(float64(result.Processed) / float64(result.Total) * 100)
		}
	}

	s.logger.Info("bulk upload finished",
		zap.String("user_id", userID),
		zap.String("category", category),
		zap.Int("total", result.Total),
		zap.Int("success", len(result.Success)),
		zap.Int("failed", len(result.Failed)))
	return result
}
