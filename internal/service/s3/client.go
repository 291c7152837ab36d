package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"docvault/internal/metrics"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"
)

const defaultTimeout = 30 * time.Second

// Client предоставляет методы для работы с S3-совместимым хранилищем
type Client struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
	timeout time.Duration
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewClient создает новый экземпляр клиента S3 и проверяет доступ к бакету
func NewClient(ctx context.Context, conf *Config, logger *zap.Logger, m *metrics.Metrics) (*Client, error) {
	if conf == nil {
		return nil, fmt.Errorf("configuration is required")
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	creds := aws.NewCredentialsCache(credentials.NewStaticCredentialsProvider(
		conf.AccessKeyID,
		conf.SecretAccessKey,
		"",
	))

	opts := s3.Options{
		Region:                     conf.Region,
		Credentials:                creds,
		RetryMode:                  aws.RetryModeAdaptive,
		RetryMaxAttempts:           3,
		UsePathStyle:               conf.UsePathStyle,
		RequestChecksumCalculation: aws.RequestChecksumCalculationWhenRequired,
		ResponseChecksumValidation: aws.ResponseChecksumValidationWhenRequired,
	}
	// Для S3-совместимых хранилищ задаем свой endpoint
	if conf.Endpoint != "" {
		opts.BaseEndpoint = aws.String(conf.Endpoint)
	}
	client := s3.New(opts)

	timeout := conf.RequestTimeout
	if timeout == 0 {
		timeout = defaultTimeout
	}

	s3Client := &Client{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  conf.Bucket,
		timeout: timeout,
		logger:  logger,
		metrics: m,
	}

	// Проверяем подключение к бакету
	headCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	_, err := s3Client.client.HeadBucket(headCtx, &s3.HeadBucketInput{
		Bucket: aws.String(conf.Bucket),
	})
	if err != nil {
		return nil, fmt.Errorf("unable to access bucket %s: %w", conf.Bucket, err)
	}

	return s3Client, nil
}

func (h *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, h.timeout)
}

// PutObject загружает объект вместе с пользовательскими метаданными
func (h *Client) PutObject(ctx context.Context, key string, data []byte, contentType string, metadata map[string]string) (err error) {
	if key == "" {
		return fmt.Errorf("key is required")
	}
	defer h.metrics.ObserveStore("put", time.Now(), &err)

	ctx, cancel := h.withTimeout(ctx)
	defer cancel()

	_, err = h.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(h.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentType),
		Metadata:      metadata,
	})
	if err != nil {
		return fmt.Errorf("failed to upload object %s: %w", key, err)
	}

	h.metrics.AddUploadedBytes(int64(len(data)))
	h.logger.Debug("object stored", zap.String("key", key), zap.Int("size", len(data)))
	return nil
}

// GetObject получает объект из S3. Вызывающий обязан закрыть поток.
func (h *Client) GetObject(ctx context.Context, key string) (obj S3Object, err error) {
	defer h.metrics.ObserveStore("get", time.Now(), &err)

	ctx, cancel := h.withTimeout(ctx)

	result, err := h.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(h.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		cancel()
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
		}
		return nil, fmt.Errorf("failed to get object from S3: %w", err)
	}

	return NewObject(
		&cancelOnClose{ReadCloser: result.Body, cancel: cancel},
		aws.ToInt64(result.ContentLength),
		aws.ToString(result.ContentType),
		result.Metadata,
	), nil
}

// DeleteObject удаляет объект из S3. Удаление отсутствующего ключа не ошибка.
func (h *Client) DeleteObject(ctx context.Context, key string) (err error) {
	if key == "" {
		return fmt.Errorf("key is required")
	}
	defer h.metrics.ObserveStore("delete", time.Now(), &err)

	ctx, cancel := h.withTimeout(ctx)
	defer cancel()

	_, err = h.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(h.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object %s from S3: %w", key, err)
	}

	return nil
}

// ListObjects возвращает все объекты с указанным префиксом, проходя по страницам
func (h *Client) ListObjects(ctx context.Context, prefix string) (objects []ObjectInfo, err error) {
	defer h.metrics.ObserveStore("list", time.Now(), &err)

	ctx, cancel := h.withTimeout(ctx)
	defer cancel()

	paginator := s3.NewListObjectsV2Paginator(h.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(h.bucket),
		Prefix: aws.String(prefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects with prefix %q: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			if obj.Key == nil {
				continue
			}
			objects = append(objects, ObjectInfo{
				Key:          aws.ToString(obj.Key),
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}
	}

	return objects, nil
}

// CopyObject копирует объект внутри бакета, заменяя метаданные
func (h *Client) CopyObject(ctx context.Context, srcKey, dstKey, contentType string, metadata map[string]string) (err error) {
	if srcKey == "" || dstKey == "" {
		return fmt.Errorf("source and destination keys are required")
	}
	defer h.metrics.ObserveStore("copy", time.Now(), &err)

	ctx, cancel := h.withTimeout(ctx)
	defer cancel()

	_, err = h.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:            aws.String(h.bucket),
		Key:               aws.String(dstKey),
		CopySource:        aws.String(copySource(h.bucket, srcKey)),
		ContentType:       aws.String(contentType),
		Metadata:          metadata,
		MetadataDirective: types.MetadataDirectiveReplace,
	})
	if err != nil {
		if isNotFound(err) {
			return fmt.Errorf("%w: %s", ErrObjectNotFound, srcKey)
		}
		return fmt.Errorf("failed to copy object %s to %s: %w", srcKey, dstKey, err)
	}

	return nil
}

// PresignGetObject выдает подписанную ссылку на скачивание с ограниченным сроком
func (h *Client) PresignGetObject(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		return "", fmt.Errorf("presign ttl must be positive")
	}

	req, err := h.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(h.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("failed to presign object %s: %w", key, err)
	}

	return req.URL, nil
}

// isNotFound распознает отсутствие ключа: CopyObject не моделирует NoSuchKey
func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "NoSuchKey"
}

// copySource кодирует каждый сегмент ключа, сохраняя разделители
func copySource(bucket, key string) string {
	segments := strings.Split(key, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return bucket + "/" + strings.Join(segments, "/")
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	defer c.cancel()
	return c.ReadCloser.Close()
}
